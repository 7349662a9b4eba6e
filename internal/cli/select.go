package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(selectCmd)
}

var selectCmd = &cobra.Command{
	Use:   "select <index>",
	Short: "Resolve the live selection prompt by index",
	Long: "Picks a candidate from the current selection prompt. Indexes are\n" +
		"1-based, matching the spoken announcement. Use `voxgate status` to\n" +
		"see the live request.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil || index < 1 {
			return fmt.Errorf("index must be a positive number, got %q", args[0])
		}

		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		id, err := liveRequestID(client)
		if err != nil {
			return err
		}
		if err := client.Select(id, index-1); err != nil {
			return err
		}
		fmt.Printf("selected %d\n", index)
		return nil
	},
}

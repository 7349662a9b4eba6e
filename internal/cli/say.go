package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var sayConfidence float64

func init() {
	rootCmd.AddCommand(sayCmd)
	sayCmd.Flags().Float64Var(&sayConfidence, "confidence", 1.0,
		"Confidence attached to the injected transcript")
}

var sayCmd = &cobra.Command{
	Use:   "say <text>...",
	Short: "Inject a transcript into the pipeline",
	Long: "Feeds the given text through the full command pipeline as a\n" +
		"replay-source transcript. Gating, rate limiting, and confirmation\n" +
		"apply exactly as for live speech.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		text := strings.Join(args, " ")
		if err := client.Say(text, sayConfidence); err != nil {
			return err
		}
		fmt.Println("accepted")
		return nil
	},
}

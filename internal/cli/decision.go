package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxgate/voxgate/internal/ipc"
)

func init() {
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(denyCmd)
}

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm the pending high-risk command",
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(true)
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny",
	Short: "Deny the pending high-risk command",
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(false)
	},
}

func decide(affirmative bool) error {
	client, err := dialDaemon()
	if err != nil {
		return err
	}
	defer client.Close()

	id, err := liveRequestID(client)
	if err != nil {
		return err
	}

	if affirmative {
		err = client.Confirm(id)
	} else {
		err = client.Deny(id)
	}
	if err != nil {
		return err
	}

	if affirmative {
		fmt.Println("confirmed")
	} else {
		fmt.Println("denied")
	}
	return nil
}

// liveRequestID fetches the current pending request from the daemon.
func liveRequestID(client *ipc.Client) (string, error) {
	st, err := client.Status()
	if err != nil {
		return "", err
	}
	if st.LiveRequestID == "" {
		return "", fmt.Errorf("no pending confirmation or selection")
	}
	return st.LiveRequestID, nil
}

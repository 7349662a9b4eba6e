package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/voxgate/voxgate/internal/systemd"
)

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	rootCmd.AddCommand(serviceCmd)
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the voxgate systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the voxgate daemon as a systemd user service",
	Long: `Writes a hardened systemd user unit for the voxgate daemon and records
its hash so later modifications are detected at startup.

After installing, enable and start the service with:

  systemctl --user enable --now voxgate.service`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runtime.GOOS != "linux" {
			return fmt.Errorf("service install is only supported on Linux")
		}

		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable path: %w", err)
		}

		path, err := systemd.Install(execPath)
		if err != nil {
			return err
		}

		fmt.Printf("Installed %s\n", path)
		fmt.Println("Enable with: systemctl --user enable --now voxgate.service")
		return nil
	},
}

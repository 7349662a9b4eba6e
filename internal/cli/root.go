// Package cli wires the voxgate subcommands.
package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/voxgate/voxgate/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "voxgate",
	Short: "Local voice-command gateway",
	Long: "Gates voice commands behind confidence, rate, entity, and confirmation\n" +
		"checks before anything executes, and keeps a tamper-evident audit log\n" +
		"of every decision.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// godotenv never overrides variables already set in the environment.
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(),
		"Path to config YAML")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxgate/voxgate/internal/audit"
	"github.com/voxgate/voxgate/internal/config"
)

var (
	tailLines   int
	tailOutcome string
	tailSource  string
	tailJSON    bool
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditTailCmd.Flags().StringVar(&tailOutcome, "outcome", "", "Filter by outcome (executed|rejected|denied|expired)")
	auditTailCmd.Flags().StringVar(&tailSource, "source", "", "Filter by source (live-mic|replay)")
	auditTailCmd.Flags().BoolVar(&tailJSON, "json", false, "Emit JSON instead of a timeline")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of the audit log",
	Long: "Walks the JSONL audit log and validates that every entry's prev_hash\n" +
		"matches the SHA-256 of the previous entry. Exits 0 if valid, 1 if tampered.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := auditPath(args)
		if err != nil {
			return err
		}
		result := audit.Verify(path)
		if result.Valid {
			fmt.Printf("OK: %d entries verified\n", result.Lines)
			return nil
		}
		fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
		os.Exit(1)
		return nil
	},
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit log entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := auditPath(args)
		if err != nil {
			return err
		}

		result, err := audit.Tail(path, audit.TailFilter{
			Outcome: tailOutcome,
			Source:  tailSource,
			Last:    tailLines,
		})
		if err != nil {
			return err
		}

		if tailJSON {
			out, err := audit.FormatJSON(result)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		}
		fmt.Print(audit.FormatTimeline(result))
		return nil
	},
}

// auditPath resolves the log location: explicit argument, else config.
func auditPath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return cfg.AuditLogPath, nil
}

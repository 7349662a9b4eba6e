package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/voxgate/voxgate/internal/model"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a TailResult as a human-readable text timeline.
func FormatTimeline(result *TailResult) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder

	// Header
	first := formatDateRange(result.Summary.FirstTimestamp)
	last := formatTimeOnly(result.Summary.LastTimestamp)
	b.WriteString(fmt.Sprintf("Audit log | %s–%s UTC\n", first, last))
	b.WriteString(separator + "\n")

	// Entries
	for _, e := range result.Entries {
		ts := formatTimeOnly(e.Timestamp)
		tier := fmt.Sprintf("T%d", e.Tier)
		outcome := strings.ToUpper(e.Outcome)
		command := truncate(e.Command, 18)
		text := truncate(e.Text, 34)

		tag := ""
		if e.Reason != "" {
			tag = "  [" + e.Reason + "]"
		}

		b.WriteString(fmt.Sprintf("%-10s %-3s %-9s %-4.2f %-8s %-18s %-34s%s\n",
			ts, tier, outcome, e.Confidence, e.Source, command, text, tag))
	}

	// Footer
	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))

	return b.String()
}

// FormatJSON renders a TailResult as indented JSON.
func FormatJSON(result *TailResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal tail result: %w", err)
	}
	return string(data), nil
}

func formatDateRange(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimeOnly(ts string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format("15:04:05")
}

func formatSummary(s TailSummary) string {
	parts := []string{}
	if s.ExecutedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d executed", s.ExecutedCount))
	}
	if s.RejectedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d rejected", s.RejectedCount))
	}
	if s.DeniedCount > 0 {
		parts = append(parts, fmt.Sprintf("%d denied", s.DeniedCount))
	}
	if s.ExpiredCount > 0 {
		parts = append(parts, fmt.Sprintf("%d expired", s.ExpiredCount))
	}
	if len(parts) == 0 {
		parts = append(parts, "0 entries")
	}

	tierLabel := model.RiskTier(s.MaxTier).String()
	return fmt.Sprintf("Summary: %s | Max tier: %d (%s)\n",
		strings.Join(parts, ", "), s.MaxTier, tierLabel)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

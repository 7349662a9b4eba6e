package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TailFilter holds filtering criteria for reading back the audit log.
type TailFilter struct {
	Outcome string    // empty = any outcome
	Source  string    // empty = any source
	From    time.Time // zero value = no lower bound
	To      time.Time // zero value = no upper bound
	Last    int       // keep only the last N matching entries; 0 = all
}

// TailSummary holds outcome counts and metadata for a tailed log.
type TailSummary struct {
	Total          int    `json:"total"`
	ExecutedCount  int    `json:"executed_count"`
	RejectedCount  int    `json:"rejected_count"`
	DeniedCount    int    `json:"denied_count"`
	ExpiredCount   int    `json:"expired_count"`
	FirstTimestamp string `json:"first_timestamp"`
	LastTimestamp  string `json:"last_timestamp"`
	MaxTier        int    `json:"max_tier"`
}

// TailResult holds filtered entries and their summary.
type TailResult struct {
	Entries []Entry     `json:"entries"`
	Summary TailSummary `json:"summary"`
}

// Tail reads the audit log and returns entries matching the filter.
func Tail(path string, filter TailFilter) (*TailResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &TailResult{}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue // skip malformed lines
		}

		if filter.Outcome != "" && entry.Outcome != filter.Outcome {
			continue
		}
		if filter.Source != "" && entry.Source != filter.Source {
			continue
		}

		if !filter.From.IsZero() || !filter.To.IsZero() {
			ts, err := time.Parse(TimestampFormat, entry.Timestamp)
			if err != nil {
				continue // skip unparseable timestamps
			}
			if !filter.From.IsZero() && ts.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && ts.After(filter.To) {
				continue
			}
		}

		result.Entries = append(result.Entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if filter.Last > 0 && len(result.Entries) > filter.Last {
		result.Entries = result.Entries[len(result.Entries)-filter.Last:]
	}
	for _, entry := range result.Entries {
		updateSummary(&result.Summary, entry)
	}

	return result, nil
}

func updateSummary(s *TailSummary, entry Entry) {
	s.Total++

	switch entry.Outcome {
	case "executed":
		s.ExecutedCount++
	case "rejected":
		s.RejectedCount++
	case "denied":
		s.DeniedCount++
	case "expired":
		s.ExpiredCount++
	}

	if entry.Tier > s.MaxTier {
		s.MaxTier = entry.Tier
	}

	if s.FirstTimestamp == "" {
		s.FirstTimestamp = entry.Timestamp
	}
	s.LastTimestamp = entry.Timestamp
}

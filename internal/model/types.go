package model

import "time"

// Source identifies where a transcript entered the pipeline.
type Source string

const (
	SourceLiveMic Source = "live-mic"
	SourceReplay  Source = "replay"
)

// Transcript is one timestamped, confidence-scored recognition result.
// Immutable once produced; the pipeline consumes each transcript exactly once.
type Transcript struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Source     Source    `json:"source"`
}

// RiskTier classifies how much gating an intent needs before execution.
// Higher tier = more restricted.
type RiskTier int

const (
	TierSafe     RiskTier = 0 // Execute, log
	TierNormal   RiskTier = 1 // Execute after validation, log
	TierHighRisk RiskTier = 2 // Require explicit confirmation
)

func (t RiskTier) String() string {
	switch t {
	case TierSafe:
		return "safe"
	case TierNormal:
		return "normal"
	case TierHighRisk:
		return "high_risk"
	default:
		return "unknown"
	}
}

// Intent is a structured command derived from a transcript.
// Never mutated after creation, only wrapped in derived records.
type Intent struct {
	Name       string            `json:"name"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Confidence float64           `json:"confidence"`
	Tier       RiskTier          `json:"tier"`
}

// Param returns the named parameter and whether it is present.
func (in *Intent) Param(key string) (string, bool) {
	if in.Parameters == nil {
		return "", false
	}
	v, ok := in.Parameters[key]
	return v, ok
}

// ValidationOutcome is the result of checking an intent's parameters
// against live external state.
type ValidationOutcome struct {
	OK bool
	// Param is the first offending parameter when OK is false.
	Param string
	// Suggestion is the closest known entity name, when one exists.
	Suggestion string
}

// Valid is the outcome for an intent whose parameters all resolved.
func Valid() ValidationOutcome {
	return ValidationOutcome{OK: true}
}

// Outcome is the terminal disposition of a processed command.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeRejected Outcome = "rejected"
	OutcomeDenied   Outcome = "denied"
	OutcomeExpired  Outcome = "expired"
)

package audit

// Entry is one line in the hash-chained JSONL audit log, recording a
// single command's journey through the pipeline.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp  string  `json:"ts"`
	Command    string  `json:"command"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	Tier       int     `json:"tier"`
	Outcome    string  `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
	PrevHash   string  `json:"prev_hash"`
}

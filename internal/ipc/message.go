// Package ipc is the local control channel of the daemon: a unix
// socket restricted to the owning user, carrying JSON-lines messages
// between the pipeline and GUI/CLI clients.
package ipc

import (
	"encoding/json"
	"time"
)

// MaxLineBytes caps one framed message. Longer lines are rejected and
// the connection dropped.
const MaxLineBytes = 4096

// Message types. Every inbound type has an explicit handler; an
// unrecognized type is answered with an error reply, never silently
// absorbed.
const (
	TypeHello      = "hello"
	TypeStatus     = "status"
	TypeTranscript = "transcript"
	TypeSelect     = "select"
	TypeConfirm    = "confirm"
	TypeDeny       = "deny"
	TypeAck        = "ack"
	TypeError      = "error"

	// Broker-originated types.
	TypeSelectionOffer = "selection_offer"
	TypePromptResult   = "prompt_result"
)

// Message is one line on the wire. Replay protection uses Seq when
// Nonce is empty: per-connection sequence IDs must increase by exactly
// one. A non-empty Nonce must be unseen within the replay window.
type Message struct {
	Seq     uint64          `json:"seq"`
	Nonce   string          `json:"nonce,omitempty"`
	Sender  string          `json:"sender"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      time.Time       `json:"ts"`
}

// HelloPayload registers a client. Kind "gui" subscribes the connection
// to selection offers and prompt results.
type HelloPayload struct {
	Kind string `json:"kind"` // "gui" or "cli"
}

// TranscriptPayload injects a replay-source transcript into the
// pipeline.
type TranscriptPayload struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SelectPayload resolves a live selection prompt by candidate index.
type SelectPayload struct {
	RequestID string `json:"request_id"`
	Index     int    `json:"index"`
}

// DecisionPayload resolves a live confirmation request (confirm/deny).
type DecisionPayload struct {
	RequestID string `json:"request_id"`
}

// StatusPayload is the reply to a status query.
type StatusPayload struct {
	Running       bool   `json:"running"`
	LiveRequestID string `json:"live_request_id,omitempty"`
	LiveKind      string `json:"live_kind,omitempty"`
	Clients       int    `json:"clients"`
	// AuditFailures counts audit entries that could not be written.
	AuditFailures int `json:"audit_failures,omitempty"`
}

// Candidate mirrors a selectable option in a selection offer.
type Candidate struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// SelectionOfferPayload announces a new selection prompt to GUI
// clients.
type SelectionOfferPayload struct {
	RequestID  string      `json:"request_id"`
	Intent     string      `json:"intent"`
	Candidates []Candidate `json:"candidates"`
	Deadline   time.Time   `json:"deadline"`
}

// PromptResultPayload announces the terminal state of a confirmation
// or selection request.
type PromptResultPayload struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	State     string `json:"state"`
	Chosen    int    `json:"chosen"`
	Via       string `json:"via"`
}

// AckPayload acknowledges the inbound message with the given sequence.
type AckPayload struct {
	AckSeq uint64          `json:"ack_seq"`
	Result json.RawMessage `json:"result,omitempty"`
}

// ErrorPayload rejects the inbound message with the given sequence.
type ErrorPayload struct {
	AckSeq uint64 `json:"ack_seq"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

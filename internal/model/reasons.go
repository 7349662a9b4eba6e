package model

// Reason identifies why a transcript or IPC message was not acted on.
// Every rejection path carries exactly one of these; no path discards
// an error without a record.
type Reason string

const (
	ReasonLowConfidence      Reason = "low_confidence"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonNoIntentMatched    Reason = "no_intent_matched"
	ReasonEntityNotFound     Reason = "entity_not_found"
	ReasonConfirmExpired     Reason = "confirmation_expired"
	ReasonConfirmDenied      Reason = "confirmation_denied"
	ReasonConfirmCancelled   Reason = "confirmation_cancelled"
	ReasonIPCReplayRejected  Reason = "ipc_replay_rejected"
	ReasonIPCRateLimited     Reason = "ipc_rate_limited"
	ReasonHandlerUnavailable Reason = "action_handler_unavailable"
	ReasonHandlerFailed      Reason = "action_handler_failed"
	ReasonAuditWriteFailed   Reason = "audit_write_failed"
	// ReasonUnhandledMessage marks an IPC variant with no explicit
	// transition. Unrecognized messages are recorded, never absorbed
	// by a default case.
	ReasonUnhandledMessage Reason = "unhandled_message"
)

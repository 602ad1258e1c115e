package domain

// JobStatus is the lifecycle state of a queued job.
type JobStatus string

// Job status constants
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusDone, JobStatusFailed:
		return true
	}
	return false
}

// Job types with a registered handler
const (
	JobTypeWhatsappSend     = "whatsapp_send"
	JobTypeAutomationAction = "automation_action"
)

// Failure reasons recorded in last_error
const (
	ReasonInvalidPayload = "invalid_payload"
	ReasonEmptyText      = "empty_text"
	ReasonInvalidPhone   = "invalid_phone"
	ReasonUnknownType    = "unknown_type"
	ReasonTimeout        = "timeout"
	ReasonHandlerPanic   = "handler_panic"
	ReasonStaleClaim     = "stale_claim"
	ReasonUnknownAction  = "unknown_action"
	ReasonInvalidParams  = "invalid_params"
	ReasonNotConfigured  = "action_not_configured"
)

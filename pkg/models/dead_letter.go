package models

// DeadLetterReason represents why a reconcile job was sent to the DLQ.
type DeadLetterReason string

const (
	DLQReasonMaxRetries DeadLetterReason = "max_retries_exceeded"
	DLQReasonInvalidJob DeadLetterReason = "invalid_job"
	DLQReasonNotLinked  DeadLetterReason = "entity_not_linked"
	DLQReasonTimeout    DeadLetterReason = "timeout"
	DLQReasonUnknown    DeadLetterReason = "unknown"
)

package enums

import "fmt"

// OutboxDLQErrorReason records why the publisher moved an event to the DLQ.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonDecodeFailed OutboxDLQErrorReason = "decode_failed"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonDecodeFailed:
		return true
	}
	return false
}

// ParseOutboxDLQErrorReason accepts "" as "any reason".
func ParseOutboxDLQErrorReason(value string) (OutboxDLQErrorReason, error) {
	reason := OutboxDLQErrorReason(value)
	if value == "" || reason.IsValid() {
		return reason, nil
	}
	return "", fmt.Errorf("invalid outbox dlq error reason %q", value)
}

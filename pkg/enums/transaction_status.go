package enums

import "fmt"

// TransactionStatus is the lifecycle of a per-seller ledger entry.
//
// Entries are created held. A payout claims them by flipping payed_out while the
// status stays put; a paid payout releases them and a failed payout puts them
// back on hold. Released, refunded, failed and disputed are terminal.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusHeld       TransactionStatus = "held"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusReleased   TransactionStatus = "released"
	TransactionStatusDisputed   TransactionStatus = "disputed"
	TransactionStatusRefunded   TransactionStatus = "refunded"
	TransactionStatusFailed     TransactionStatus = "failed"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusHeld,
	TransactionStatusProcessing,
	TransactionStatusReleased,
	TransactionStatusDisputed,
	TransactionStatusRefunded,
	TransactionStatusFailed,
}

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {
		TransactionStatusHeld,
		TransactionStatusProcessing,
		TransactionStatusReleased,
		TransactionStatusDisputed,
		TransactionStatusRefunded,
		TransactionStatusFailed,
	},
	TransactionStatusHeld: {
		TransactionStatusHeld,
		TransactionStatusProcessing,
		TransactionStatusReleased,
		TransactionStatusDisputed,
		TransactionStatusRefunded,
		TransactionStatusFailed,
	},
	TransactionStatusProcessing: {
		TransactionStatusHeld,
		TransactionStatusReleased,
		TransactionStatusFailed,
	},
}

// payableTransactionStatuses lists the statuses a payout may draw from.
var payableTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusHeld,
}

// String implements fmt.Stringer.
func (s TransactionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known TransactionStatus.
func (s TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	_, ok := transactionTransitions[s]
	return s.IsValid() && !ok
}

// IsPayable reports whether an entry in this status may be claimed by a payout.
func (s TransactionStatus) IsPayable() bool {
	for _, candidate := range payableTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo validates a status change against the transition table.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, candidate := range transactionTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// PayableTransactionStatuses returns the statuses eligible for payout.
func PayableTransactionStatuses() []TransactionStatus {
	out := make([]TransactionStatus, len(payableTransactionStatuses))
	copy(out, payableTransactionStatuses)
	return out
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}

package enums

import "fmt"

// PayoutStatus mirrors the provider's payout lifecycle.
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusInTransit PayoutStatus = "in_transit"
	PayoutStatusPaid      PayoutStatus = "paid"
	PayoutStatusFailed    PayoutStatus = "failed"
	PayoutStatusCanceled  PayoutStatus = "canceled"
)

var validPayoutStatuses = []PayoutStatus{
	PayoutStatusPending,
	PayoutStatusInTransit,
	PayoutStatusPaid,
	PayoutStatusFailed,
	PayoutStatusCanceled,
}

// The provider may skip in_transit, so pending can settle directly.
var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusPending: {
		PayoutStatusInTransit,
		PayoutStatusPaid,
		PayoutStatusFailed,
		PayoutStatusCanceled,
	},
	PayoutStatusInTransit: {
		PayoutStatusPaid,
		PayoutStatusFailed,
		PayoutStatusCanceled,
	},
}

// String implements fmt.Stringer.
func (p PayoutStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutStatus.
func (p PayoutStatus) IsValid() bool {
	for _, candidate := range validPayoutStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the payout has settled one way or another.
func (p PayoutStatus) IsTerminal() bool {
	_, ok := payoutTransitions[p]
	return p.IsValid() && !ok
}

// CanTransitionTo validates a status change against the transition table.
func (p PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	for _, candidate := range payoutTransitions[p] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	for _, candidate := range validPayoutStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout status %q", value)
}

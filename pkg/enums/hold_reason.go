package enums

import "fmt"

// HoldReason explains why funds are being held.
type HoldReason string

const (
	HoldReasonStandard     HoldReason = "standard"
	HoldReasonDispute      HoldReason = "dispute"
	HoldReasonManualReview HoldReason = "manual_review"
)

var validHoldReasons = []HoldReason{
	HoldReasonStandard,
	HoldReasonDispute,
	HoldReasonManualReview,
}

// String implements fmt.Stringer.
func (h HoldReason) String() string {
	return string(h)
}

// IsValid reports whether the value is a known HoldReason.
func (h HoldReason) IsValid() bool {
	for _, candidate := range validHoldReasons {
		if candidate == h {
			return true
		}
	}
	return false
}

// ParseHoldReason converts raw input into a HoldReason.
func ParseHoldReason(value string) (HoldReason, error) {
	for _, candidate := range validHoldReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid hold reason %q", value)
}

package enums

import "fmt"

// ChargeStatus is the lifecycle state of a terminal charge.
type ChargeStatus string

const (
	ChargeStatusPending   ChargeStatus = "pending"
	ChargeStatusApproved  ChargeStatus = "approved"
	ChargeStatusDeclined  ChargeStatus = "declined"
	ChargeStatusError     ChargeStatus = "error"
	ChargeStatusTimeout   ChargeStatus = "timeout"
	ChargeStatusReversed  ChargeStatus = "reversed"
	ChargeStatusCancelled ChargeStatus = "cancelled"
)

var validChargeStatuses = []ChargeStatus{
	ChargeStatusPending,
	ChargeStatusApproved,
	ChargeStatusDeclined,
	ChargeStatusError,
	ChargeStatusTimeout,
	ChargeStatusReversed,
	ChargeStatusCancelled,
}

// String implements fmt.Stringer.
func (c ChargeStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is known.
func (c ChargeStatus) IsValid() bool {
	for _, candidate := range validChargeStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (c ChargeStatus) IsTerminal() bool {
	return c.IsValid() && c != ChargeStatusPending
}

// Failed reports whether the charge ended without collecting money and the
// order may be retried.
func (c ChargeStatus) Failed() bool {
	switch c {
	case ChargeStatusDeclined, ChargeStatusError, ChargeStatusTimeout, ChargeStatusCancelled:
		return true
	}
	return false
}

// ParseChargeStatus converts raw input into a ChargeStatus.
func ParseChargeStatus(value string) (ChargeStatus, error) {
	for _, candidate := range validChargeStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid charge status %q", value)
}

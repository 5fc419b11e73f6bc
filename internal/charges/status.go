package charges

import (
	"strings"

	"github.com/angelmondragon/terminalpay/pkg/enums"
)

var providerStatuses = map[string]enums.ChargeStatus{
	"pending":    enums.ChargeStatusPending,
	"processing": enums.ChargeStatusPending,
	"approved":   enums.ChargeStatusApproved,
	"declined":   enums.ChargeStatusDeclined,
	"failed":     enums.ChargeStatusError,
	"cancelled":  enums.ChargeStatusCancelled,
	"canceled":   enums.ChargeStatusCancelled,
	"reversed":   enums.ChargeStatusReversed,
	"timeout":    enums.ChargeStatusTimeout,
}

// MapProviderStatus translates a gateway status into a charge status.
// Unrecognized values, including the empty string, map to error.
func MapProviderStatus(raw string) enums.ChargeStatus {
	if status, ok := providerStatuses[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return status
	}
	return enums.ChargeStatusError
}

// IsKnownProviderStatus reports whether raw is part of the gateway vocabulary.
func IsKnownProviderStatus(raw string) bool {
	_, ok := providerStatuses[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

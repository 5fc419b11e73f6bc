package bold

import (
	"strings"

	"github.com/angelmondragon/terminalpay/pkg/enums"
)

// Webhook event types delivered by the gateway.
const (
	EventPaymentApproved  = "payment.approved"
	EventPaymentDeclined  = "payment.declined"
	EventPaymentReversed  = "payment.reversed"
	EventPaymentCancelled = "payment.cancelled"
)

// MapTerminalStatus translates a device status into the service vocabulary.
// PROCESSING counts as busy since the device is mid-transaction.
func MapTerminalStatus(raw string) enums.TerminalStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ONLINE":
		return enums.TerminalStatusOnline
	case "OFFLINE":
		return enums.TerminalStatusOffline
	case "BUSY", "PROCESSING":
		return enums.TerminalStatusBusy
	}
	return enums.TerminalStatusUnknown
}

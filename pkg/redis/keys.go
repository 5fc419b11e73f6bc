package redis

import (
	"strconv"
	"strings"
)

// DefaultNamespace prefixes every key written by the service.
const DefaultNamespace = "tp"

const (
	httpPrefix        = "http"
	idempotencyPrefix = "idempotency"
	terminalPrefix    = "terminal"
	cronPrefix        = "cron"
)

// Keys builds namespaced keys, one method per concern, so that callers never
// assemble key strings by hand.
type Keys struct {
	namespace string
}

func NewKeys(namespace string) Keys {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Keys{namespace: namespace}
}

// ChargeIdempotency maps (reference, amount) to the charge created for it.
func (k Keys) ChargeIdempotency(reference string, amountCents int64) string {
	return k.build(idempotencyPrefix, "charge", reference, strconv.FormatInt(amountCents, 10))
}

// TerminalBusy is the short-lived lease marking a terminal as mid-payment.
func (k Keys) TerminalBusy(terminalID string) string {
	return k.build(terminalPrefix, "busy", terminalID)
}

// TerminalAssignment caches the active assignment of a user for an event.
func (k Keys) TerminalAssignment(userID, eventID string) string {
	return k.build(terminalPrefix, "assignment", userID, eventID)
}

// TerminalStatus caches the last status reported by the gateway.
func (k Keys) TerminalStatus(terminalID string) string {
	return k.build(terminalPrefix, "status", terminalID)
}

// RequestReplay stores the response of a request sent with an
// Idempotency-Key header. scope already carries the caller and route.
func (k Keys) RequestReplay(scope, key string) string {
	return k.build(httpPrefix, "idempotency", scope, key)
}

func (k Keys) CronLock(name string) string {
	return k.build(cronPrefix, "lock", name)
}

func (k Keys) build(parts ...string) string {
	ns := k.namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	clean := []string{ns}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		clean = append(clean, part)
	}
	return strings.Join(clean, ":")
}

// ConsumerProcessed marks an event as handled by a named consumer.
func (k Keys) ConsumerProcessed(consumer, eventID string) string {
	return k.build(idempotencyPrefix, "evt", "processed", consumer, eventID)
}

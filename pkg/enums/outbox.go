package enums

import "fmt"

// OutboxAggregateType identifies the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateCharge            OutboxAggregateType = "terminal_charge"
	AggregateTicketTransaction OutboxAggregateType = "ticket_transaction"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateCharge,
	AggregateTicketTransaction,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType names a domain event written to the outbox.
type OutboxEventType string

const (
	EventChargeInitiated OutboxEventType = "charge.initiated"
	EventChargeApproved  OutboxEventType = "charge.approved"
	EventChargeDeclined  OutboxEventType = "charge.declined"
	EventChargeError     OutboxEventType = "charge.error"
	EventChargeTimeout   OutboxEventType = "charge.timeout"
	EventChargeReversed  OutboxEventType = "charge.reversed"
	EventChargeCancelled OutboxEventType = "charge.cancelled"
	EventOrderPaid       OutboxEventType = "order.paid"
)

var validOutboxEventTypes = []OutboxEventType{
	EventChargeInitiated,
	EventChargeApproved,
	EventChargeDeclined,
	EventChargeError,
	EventChargeTimeout,
	EventChargeReversed,
	EventChargeCancelled,
	EventOrderPaid,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// ChargeEventFor returns the event emitted when a charge enters status.
func ChargeEventFor(status ChargeStatus) (OutboxEventType, bool) {
	switch status {
	case ChargeStatusApproved:
		return EventChargeApproved, true
	case ChargeStatusDeclined:
		return EventChargeDeclined, true
	case ChargeStatusError:
		return EventChargeError, true
	case ChargeStatusTimeout:
		return EventChargeTimeout, true
	case ChargeStatusReversed:
		return EventChargeReversed, true
	case ChargeStatusCancelled:
		return EventChargeCancelled, true
	}
	return "", false
}

// OutboxDLQErrorReason records why the publisher dead-lettered a row.
type OutboxDLQErrorReason string

const (
	// OutboxDLQReasonMaxAttempts: publish kept failing until the attempt cap.
	OutboxDLQReasonMaxAttempts OutboxDLQErrorReason = "max_attempts"
	// OutboxDLQReasonNonRetryable: the broker or routing rejected the message.
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	// OutboxDLQReasonUndecodable: the stored row does not match its schema.
	OutboxDLQReasonUndecodable OutboxDLQErrorReason = "undecodable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonUndecodable:
		return true
	}
	return false
}

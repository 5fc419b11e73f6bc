package registry

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
	"github.com/angelmondragon/terminalpay/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload schema.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	// MaxVersion is the newest envelope version this build can decode.
	MaxVersion int
	newPayload func() any
}

// ResolvedEvent is a decoded outbox row or Pub/Sub message.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	EventID    uuid.UUID
	Payload    any
}

// ChargeEventTypes lists every charge lifecycle event routed to the charges topic.
var ChargeEventTypes = []enums.OutboxEventType{
	enums.EventChargeInitiated,
	enums.EventChargeApproved,
	enums.EventChargeDeclined,
	enums.EventChargeError,
	enums.EventChargeTimeout,
	enums.EventChargeReversed,
	enums.EventChargeCancelled,
}

// catalog holds every descriptor without topic routing.
var catalog = buildCatalog()

func buildCatalog() map[enums.OutboxEventType]EventDescriptor {
	out := make(map[enums.OutboxEventType]EventDescriptor, len(ChargeEventTypes)+1)
	for _, eventType := range ChargeEventTypes {
		out[eventType] = EventDescriptor{
			EventType:     eventType,
			AggregateType: enums.AggregateCharge,
			MaxVersion:    outbox.CurrentVersion,
			newPayload:    func() any { return &payloads.ChargeEvent{} },
		}
	}
	out[enums.EventOrderPaid] = EventDescriptor{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateTicketTransaction,
		MaxVersion:    outbox.CurrentVersion,
		newPayload:    func() any { return &payloads.OrderPaidEvent{} },
	}
	return out
}

// EventRegistry routes outbox rows to their Pub/Sub topics.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewEventRegistry binds every catalogued event to the configured topics.
// Charge and order events share the charges topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.ChargesTopic == "" {
		return nil, fmt.Errorf("charges topic is required")
	}
	entries := make(map[enums.OutboxEventType]EventDescriptor, len(catalog))
	for eventType, desc := range catalog {
		desc.Topic = cfg.ChargesTopic
		entries[eventType] = desc
	}
	return &EventRegistry{entries: entries}, nil
}

// Resolve validates a stored row and decodes its typed payload. Every
// failure is non-retryable: a malformed row never becomes publishable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}
	resolved, err := decode(desc, event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return resolved, nil
}

// DecodeMessage decodes a published message body for eventType. It needs no
// topic configuration, so consumers call it directly.
func DecodeMessage(eventType enums.OutboxEventType, body []byte) (*ResolvedEvent, error) {
	desc, ok := catalog[eventType]
	if !ok {
		return nil, fmt.Errorf("unsupported event type %q", eventType)
	}
	return decode(desc, body)
}

func decode(desc EventDescriptor, raw []byte) (*ResolvedEvent, error) {
	envelope, eventID, err := outbox.DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if envelope.Version > desc.MaxVersion {
		return nil, fmt.Errorf("%s envelope version %d newer than supported %d", desc.EventType, envelope.Version, desc.MaxVersion)
	}
	payload := desc.newPayload()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", desc.EventType, err)
	}
	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		EventID:    eventID,
		Payload:    payload,
	}, nil
}

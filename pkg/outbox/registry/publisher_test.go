package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
	"github.com/angelmondragon/terminalpay/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	transactionID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.ChargeEvent{
		ChargeID:      "CHG_K1_ABC",
		TransactionID: transactionID,
		AmountCents:   15000,
		TerminalID:    "TERM-1",
		Status:        enums.ChargeStatusApproved,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventChargeApproved,
		AggregateType: enums.AggregateCharge,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "charges-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.ChargeEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.TransactionID != transactionID || payload.Status != enums.ChargeStatusApproved {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryCoversEveryChargeEvent(t *testing.T) {
	reg := newTestEventRegistry(t)
	for _, eventType := range ChargeEventTypes {
		desc, ok := reg.entries[eventType]
		if !ok {
			t.Fatalf("missing descriptor for %s", eventType)
		}
		if desc.AggregateType != enums.AggregateCharge {
			t.Fatalf("%s should belong to the charge aggregate", eventType)
		}
	}
}

func TestEventRegistryResolveFailuresAreNonRetryable(t *testing.T) {
	reg := newTestEventRegistry(t)

	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("charge.refunded"),
			AggregateType: enums.AggregateCharge,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventChargeApproved,
			AggregateType: enums.AggregateTicketTransaction,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventChargeApproved,
			AggregateType: enums.AggregateCharge,
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventChargeApproved,
			AggregateType: enums.AggregateCharge,
			AggregateID:   uuid.New(),
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"broken envelope": {
			EventType:     enums.EventChargeApproved,
			AggregateType: enums.AggregateCharge,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"data":`),
		},
	}

	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			if err == nil {
				t.Fatalf("expected error")
			}
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %T", err)
			}
		})
	}
}

func TestDecodeMessageWithoutTopics(t *testing.T) {
	txnID := uuid.New()
	body := mustEnvelope(t, mustMarshal(t, payloads.OrderPaidEvent{TransactionID: txnID, ChargeID: "CHG_9"}))

	resolved, err := DecodeMessage(enums.EventOrderPaid, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paid, ok := resolved.Payload.(*payloads.OrderPaidEvent)
	if !ok || paid.TransactionID != txnID {
		t.Fatalf("unexpected payload %+v", resolved.Payload)
	}
	if resolved.EventID == uuid.Nil || resolved.Descriptor.Topic != "" {
		t.Fatalf("unexpected resolution %+v", resolved)
	}

	if _, err := DecodeMessage(enums.OutboxEventType("charge.refunded"), body); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestDecodeRejectsNewerEnvelopeVersion(t *testing.T) {
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    outbox.CurrentVersion + 1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"chargeId":"CHG_1"}`),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := DecodeMessage(enums.EventChargeApproved, body); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatalf("expected error without charges topic")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{ChargesTopic: "charges-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

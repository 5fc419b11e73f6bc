package orders

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/terminalpay/pkg/enums"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/outbox/idempotency"
	"github.com/angelmondragon/terminalpay/pkg/outbox/payloads"
	"github.com/angelmondragon/terminalpay/pkg/outbox/registry"
)

const chargeEventsConsumer = "order-charge-events"

type chargeEventHandler interface {
	HandleChargeEvent(ctx context.Context, event payloads.ChargeEvent) error
}

// Consumer feeds charge lifecycle events from Pub/Sub into the order state
// machine.
type Consumer struct {
	handler      chargeEventHandler
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds the charge event consumer.
func NewConsumer(handler chargeEventHandler, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("charge event handler required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		handler:      handler,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return fmt.Errorf("charge events subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType == enums.EventChargeInitiated || eventType == enums.EventOrderPaid || !eventType.IsValid() {
		c.logg.Debug(logCtx, "skipping event not handled by orders")
		return processResult{ack: true}
	}

	resolved, err := registry.DecodeMessage(eventType, msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode charge event", err)
		return processResult{ack: true}
	}
	event, ok := resolved.Payload.(*payloads.ChargeEvent)
	if !ok || event.TransactionID == uuid.Nil {
		c.logg.Error(logCtx, "charge event without transaction", fmt.Errorf("payload %T", resolved.Payload))
		return processResult{ack: true}
	}
	eventID := resolved.EventID
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":  eventID.String(),
		"charge_id": event.ChargeID,
		"source":    resolved.Envelope.Source,
	})

	skipped, err := c.idempotency.Once(ctx, chargeEventsConsumer, eventID, func(ctx context.Context) error {
		return c.handler.HandleChargeEvent(ctx, *event)
	})
	switch {
	case errors.Is(err, idempotency.ErrStore):
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	case err != nil:
		c.logg.Error(logCtx, "charge event handling failed", err)
		return processResult{nack: true}
	case skipped:
		c.logg.Info(logCtx, "event already processed")
	}
	return processResult{ack: true}
}

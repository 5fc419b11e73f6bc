package reconciliation

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/pkg/bold"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Bold-Signature"

var handledWebhookEvents = map[string]bool{
	"payment.approved":  true,
	"payment.declined":  true,
	"payment.reversed":  true,
	"payment.cancelled": true,
}

// WebhookEvent is the body the gateway posts.
type WebhookEvent struct {
	EventType     string          `json:"event_type"`
	EventID       string          `json:"event_id"`
	TransactionID string          `json:"transaction_id"`
	Data          json.RawMessage `json:"data"`
}

// WebhookResult is acknowledged back to the gateway.
type WebhookResult struct {
	Processed bool   `json:"processed"`
	Duplicate bool   `json:"duplicate,omitempty"`
	ChargeID  string `json:"chargeId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// VerifySignature checks signature against the HMAC of body in constant time.
func VerifySignature(secret []byte, signature string, body []byte) bool {
	if len(secret) == 0 {
		return false
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// ProcessWebhook authenticates and applies a gateway notification. Only a bad
// signature is an error; unknown transactions and repeated event ids are
// acknowledged so the gateway stops redelivering.
func (s *Service) ProcessWebhook(ctx context.Context, signature string, rawBody []byte) (*WebhookResult, error) {
	if !VerifySignature(s.webhookSecret, signature, rawBody) {
		s.metrics.IncWebhook("invalid_signature")
		s.logg.Warn(ctx, "webhook signature verification failed")
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "Invalid webhook signature")
	}

	var event WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		s.metrics.IncWebhook("malformed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"webhook_event_type":      event.EventType,
		"webhook_event_id":        event.EventID,
		"provider_transaction_id": event.TransactionID,
	})
	s.logg.Info(ctx, "webhook received")

	charge, err := s.charges.FindByProviderTransactionID(ctx, event.TransactionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.metrics.IncWebhook("unknown_transaction")
		s.recordUnmatched(ctx, event, rawBody)
		return &WebhookResult{Processed: false, Reason: "Transaction not found"}, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load charge")
	}

	handled := handledWebhookEvents[strings.ToLower(event.EventType)]
	var payment bold.Payment
	if handled {
		if err := json.Unmarshal(event.Data, &payment); err != nil {
			s.metrics.IncWebhook("malformed")
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payment data")
		}
		payment.Raw = event.Data
	}

	duplicate := false
	_, err = s.mutate(ctx, charge.ChargeID, sourceWebhook, func(_ *gorm.DB, locked *models.TerminalCharge) (bool, error) {
		if !locked.AddWebhookEvent(event.EventType, event.EventID, handled, s.now()) {
			duplicate = true
			return false, nil
		}
		if handled {
			s.applyPayment(ctx, locked, payment)
		}
		return true, nil
	})
	if err != nil {
		s.metrics.IncWebhook("error")
		return nil, err
	}

	switch {
	case duplicate:
		s.metrics.IncWebhook("duplicate")
		s.logg.Info(ctx, "duplicate webhook event ignored")
		return &WebhookResult{Processed: true, Duplicate: true, ChargeID: charge.ChargeID}, nil
	case !handled:
		s.metrics.IncWebhook("ignored")
		s.logg.Info(ctx, "unhandled webhook event type")
	default:
		s.metrics.IncWebhook("processed")
	}
	return &WebhookResult{Processed: true, ChargeID: charge.ChargeID}, nil
}

// recordUnmatched keeps the notification for operator investigation. The
// body may carry card data, so it is stored but never logged.
func (s *Service) recordUnmatched(ctx context.Context, event WebhookEvent, rawBody []byte) {
	recorded, err := s.charges.RecordUnmatchedWebhook(ctx, &models.UnmatchedWebhook{
		ProviderEventID:       event.EventID,
		EventType:             event.EventType,
		ProviderTransactionID: event.TransactionID,
		Payload:               json.RawMessage(rawBody),
		ReceivedAt:            s.now().UTC(),
	})
	if err != nil {
		s.logg.Error(ctx, "failed to record unmatched webhook", err)
		return
	}
	if recorded {
		s.logg.Warn(ctx, "webhook received for unknown transaction; kept for investigation")
	}
}

package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/terminalpay/api/responses"
	"github.com/angelmondragon/terminalpay/internal/reconciliation"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

const maxWebhookBytes = 1 << 20

type webhookProcessor interface {
	ProcessWebhook(ctx context.Context, signature string, rawBody []byte) (*reconciliation.WebhookResult, error)
}

type webhookAck struct {
	Processed bool   `json:"processed"`
	Message   string `json:"message"`
}

// BoldWebhook receives gateway notifications. Only signature failures get a
// 401; every other outcome is acknowledged with 200 so the gateway does not
// redeliver.
func BoldWebhook(svc webhookProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
		if err != nil {
			logg.Error(ctx, "failed to read webhook body", err)
			responses.WriteJSON(w, http.StatusOK, webhookAck{Message: "Internal processing error"})
			return
		}

		result, err := svc.ProcessWebhook(ctx, r.Header.Get(reconciliation.SignatureHeader), body)
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized):
			responses.WriteJSON(w, http.StatusUnauthorized, webhookAck{Message: "Invalid signature"})
		case err != nil:
			logg.Error(ctx, "webhook processing failed", err)
			responses.WriteJSON(w, http.StatusOK, webhookAck{Message: "Internal processing error"})
		case result.Processed:
			responses.WriteJSON(w, http.StatusOK, webhookAck{Processed: true, Message: "Webhook processed successfully"})
		default:
			message := "Webhook acknowledged"
			if result.Reason != "" {
				message = result.Reason
			}
			responses.WriteJSON(w, http.StatusOK, webhookAck{Message: message})
		}
	}
}

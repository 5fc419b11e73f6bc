package reconciliation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/terminalpay/pkg/bold"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event_type":"payment.approved"}`)
	sig := sign(body)

	assert.True(t, VerifySignature([]byte(testWebhookSecret), sig, body))
	assert.True(t, VerifySignature([]byte(testWebhookSecret), " "+sig+" ", body))
	assert.False(t, VerifySignature([]byte(testWebhookSecret), sig[:len(sig)-2], body))
	assert.False(t, VerifySignature([]byte(testWebhookSecret), sig, append(body, ' ')))
	assert.False(t, VerifySignature([]byte("other"), sig, body))
	assert.False(t, VerifySignature(nil, sig, body))
	assert.False(t, VerifySignature([]byte(testWebhookSecret), "", body))
}

func TestWebhookApprovesChargeOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createCharge(t, "T1")
	providerID := "bold_" + view.ChargeID

	body := webhookBody(t, "payment.approved", "evt_1", providerID, bold.Payment{
		ID:                providerID,
		Status:            "approved",
		AuthorizationCode: "AUTH42",
		CardBrand:         "VISA",
		LastFour:          "4242",
	})

	first, err := f.service.ProcessWebhook(ctx, sign(body), body)
	require.NoError(t, err)
	assert.True(t, first.Processed)
	assert.False(t, first.Duplicate)
	assert.Equal(t, view.ChargeID, first.ChargeID)

	second, err := f.service.ProcessWebhook(ctx, sign(body), body)
	require.NoError(t, err)
	assert.True(t, second.Processed)
	assert.True(t, second.Duplicate)

	stored := f.charge(t, view.ChargeID)
	assert.Equal(t, enums.ChargeStatusApproved, stored.Status)
	assert.True(t, stored.Reconciled)
	require.Len(t, stored.StatusHistory, 2)
	require.Len(t, stored.WebhookEvents, 1)
	require.NotNil(t, stored.PaymentDetails)
	assert.Equal(t, "AUTH42", stored.PaymentDetails.AuthorizationCode)

	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventChargeApproved))
	assert.Equal(t, 1, f.subscriber.count())
	assert.False(t, f.busy(t, "T1"))
}

func TestWebhookDeclineRecordsUserMessage(t *testing.T) {
	f := newFixture(t)
	view := f.createCharge(t, "T1")
	providerID := "bold_" + view.ChargeID

	body := webhookBody(t, "payment.declined", "evt_1", providerID, bold.Payment{
		ID:          providerID,
		Status:      "declined",
		DeclineCode: "insufficient_funds",
		Message:     "Insufficient funds",
	})
	_, err := f.service.ProcessWebhook(context.Background(), sign(body), body)
	require.NoError(t, err)

	stored := f.charge(t, view.ChargeID)
	assert.Equal(t, enums.ChargeStatusDeclined, stored.Status)
	require.NotNil(t, stored.ErrorDetails)
	assert.Equal(t, "insufficient_funds", stored.ErrorDetails.Code)
	assert.Equal(t, "Pago rechazado: Fondos insuficientes", stored.ErrorDetails.Message)
	assert.Equal(t, "Insufficient funds", stored.StatusHistory[len(stored.StatusHistory)-1].Reason)

	got := NewChargeView(stored)
	assert.Nil(t, got.PaymentDetails)
	require.NotNil(t, got.ErrorDetails)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	view := f.createCharge(t, "T1")
	providerID := "bold_" + view.ChargeID
	body := webhookBody(t, "payment.approved", "evt_1", providerID, bold.Payment{ID: providerID, Status: "approved"})

	for _, sig := range []string{"", "deadbeef", sign(body)[:10], sign([]byte("other"))} {
		_, err := f.service.ProcessWebhook(context.Background(), sig, body)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	}
	assert.Equal(t, enums.ChargeStatusPending, f.charge(t, view.ChargeID).Status)
}

func TestWebhookUnknownTransactionAndEventTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unknown := webhookBody(t, "payment.approved", "evt_1", "bold_missing", bold.Payment{Status: "approved"})
	res, err := f.service.ProcessWebhook(ctx, sign(unknown), unknown)
	require.NoError(t, err)
	assert.False(t, res.Processed)
	assert.Equal(t, "Transaction not found", res.Reason)

	malformed := []byte(`{"event_type":`)
	_, err = f.service.ProcessWebhook(ctx, sign(malformed), malformed)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	view := f.createCharge(t, "T1")
	providerID := "bold_" + view.ChargeID
	other := webhookBody(t, "terminal.heartbeat", "evt_2", providerID, bold.Payment{Status: "approved"})
	res, err = f.service.ProcessWebhook(ctx, sign(other), other)
	require.NoError(t, err)
	assert.True(t, res.Processed)

	stored := f.charge(t, view.ChargeID)
	assert.Equal(t, enums.ChargeStatusPending, stored.Status)
	require.Len(t, stored.WebhookEvents, 1)
	assert.False(t, stored.WebhookEvents[0].Processed)
}

func TestWebhookForUnknownTransactionIsKeptForInvestigation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	body := webhookBody(t, "payment.approved", "evt_orphan", "bold_missing", bold.Payment{Status: "approved"})
	for i := 0; i < 2; i++ {
		res, err := f.service.ProcessWebhook(ctx, sign(body), body)
		require.NoError(t, err)
		assert.False(t, res.Processed)
	}

	var rows []models.UnmatchedWebhook
	require.NoError(t, f.db.Find(&rows).Error)
	require.Len(t, rows, 1, "redelivery of the same event is stored once")
	assert.Equal(t, "evt_orphan", rows[0].ProviderEventID)
	assert.Equal(t, "payment.approved", rows[0].EventType)
	assert.Equal(t, "bold_missing", rows[0].ProviderTransactionID)
	assert.JSONEq(t, string(body), string(rows[0].Payload))
	assert.Nil(t, rows[0].ResolvedAt)
}

func TestTerminalStatusIsFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createCharge(t, "T1")
	providerID := "bold_" + view.ChargeID

	approved, err := f.service.UpdateStatus(ctx, view.ChargeID, bold.Payment{ID: providerID, Status: "approved"})
	require.NoError(t, err)
	assert.Equal(t, enums.ChargeStatusApproved, approved.Status)

	for _, status := range []string{"declined", "pending", "reversed", "bogus"} {
		got, err := f.service.UpdateStatus(ctx, view.ChargeID, bold.Payment{ID: providerID, Status: status})
		require.NoError(t, err)
		assert.Equal(t, enums.ChargeStatusApproved, got.Status)
	}

	stored := f.charge(t, view.ChargeID)
	assert.Len(t, stored.StatusHistory, 2)
	assert.Equal(t, 1, f.subscriber.count())

	_, err = f.service.UpdateStatus(ctx, "CHG_MISSING", bold.Payment{Status: "approved"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestPendingToPendingIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	view := f.createCharge(t, "T1")

	got, err := f.service.UpdateStatus(context.Background(), view.ChargeID, bold.Payment{Status: "processing"})
	require.NoError(t, err)
	assert.Equal(t, enums.ChargeStatusPending, got.Status)
	assert.Len(t, f.charge(t, view.ChargeID).StatusHistory, 1)
	assert.True(t, f.busy(t, "T1"))
}

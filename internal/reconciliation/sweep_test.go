package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/terminalpay/pkg/bold"
	"github.com/angelmondragon/terminalpay/pkg/db/models"
	"github.com/angelmondragon/terminalpay/pkg/enums"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
)

func TestReconcileAllHonorsGraceAndTimeout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now
	view := f.createCharge(t, "T1")

	f.now = start.Add(60 * time.Second)
	res, err := f.service.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed, "webhook still has time to arrive")

	f.now = start.Add(100 * time.Second)
	res, err = f.service.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Processed: 1, Polled: 1}, res)
	assert.Equal(t, int32(1), f.gateway.polls.Load())
	stored := f.charge(t, view.ChargeID)
	assert.Equal(t, enums.ChargeStatusPending, stored.Status)
	assert.Equal(t, 1, stored.PollAttempts)
	require.NotNil(t, stored.LastPollAt)

	f.gateway.pollErr = pkgerrors.New(pkgerrors.CodeDependency, "Error de conexión con servicio de pago")
	f.now = start.Add(110 * time.Second)
	res, err = f.service.ReconcileAll(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, f.charge(t, view.ChargeID).PollAttempts)

	f.gateway.pollErr = nil
	f.now = start.Add(2*time.Minute + time.Second)
	res, err = f.service.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Processed: 1, TimedOut: 1, Updated: 1}, res)
	assert.Equal(t, int32(2), f.gateway.polls.Load(), "timed out charges are not polled")

	stored = f.charge(t, view.ChargeID)
	assert.Equal(t, enums.ChargeStatusTimeout, stored.Status)
	assert.True(t, stored.Reconciled)
	assert.Equal(t, timeoutReason, stored.StatusHistory[len(stored.StatusHistory)-1].Reason)
	assert.Equal(t, int64(1), f.outboxCount(t, enums.EventChargeTimeout))
	assert.False(t, f.busy(t, "T1"))

	res, err = f.service.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)
}

func TestReconcileAllSettlesFromPoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := f.now
	first := f.createCharge(t, "T1")
	second := f.createCharge(t, "T2")

	f.gateway.setPayment(bold.Payment{ID: "bold_" + first.ChargeID, Status: "approved", AuthorizationCode: "A1"})
	f.gateway.setPayment(bold.Payment{ID: "bold_" + second.ChargeID, Status: "failed", ErrorCode: "terminal_offline"})

	f.now = start.Add(95 * time.Second)
	res, err := f.service.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, ReconcileResult{Processed: 2, Polled: 2, Updated: 2}, res)

	assert.Equal(t, enums.ChargeStatusApproved, f.charge(t, first.ChargeID).Status)
	failed := f.charge(t, second.ChargeID)
	assert.Equal(t, enums.ChargeStatusError, failed.Status)
	require.NotNil(t, failed.ErrorDetails)
	assert.Equal(t, "Terminal desconectado. Verifique la conexión", failed.ErrorDetails.Message)
	assert.Equal(t, 2, f.subscriber.count())
}

func TestGetChargeStatusPollsInsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createCharge(t, "T1")

	got, err := f.service.GetChargeStatus(ctx, view.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, enums.ChargeStatusPending, got.Status)
	assert.Equal(t, int32(1), f.gateway.polls.Load())

	f.gateway.setPayment(bold.Payment{ID: "bold_" + view.ChargeID, Status: "approved", CardBrand: "MASTERCARD", LastFour: "5100"})
	got, err = f.service.GetChargeStatus(ctx, view.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, enums.ChargeStatusApproved, got.Status)
	require.NotNil(t, got.PaymentDetails)
	assert.Equal(t, "5100", got.PaymentDetails.LastFour)
	assert.Nil(t, got.ErrorDetails)

	_, err = f.service.GetChargeStatus(ctx, view.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.gateway.polls.Load(), "final charges are served from storage")

	f.gateway.pollErr = assert.AnError
	other := f.createCharge(t, "T2")
	got, err = f.service.GetChargeStatus(ctx, other.ChargeID)
	require.NoError(t, err, "a failed poll still answers with the stored state")
	assert.Equal(t, enums.ChargeStatusPending, got.Status)

	_, err = f.service.GetChargeStatus(ctx, "CHG_UNKNOWN")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	_, err = f.service.GetChargeStatus(ctx, " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestGetChargeStatusSkipsPollAfterWindow(t *testing.T) {
	f := newFixture(t)
	view := f.createCharge(t, "T1")

	f.now = f.now.Add(3 * time.Minute)
	got, err := f.service.GetChargeStatus(context.Background(), view.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, enums.ChargeStatusPending, got.Status)
	assert.Zero(t, f.gateway.polls.Load())
}

func TestReconcileCharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view := f.createCharge(t, "T1")

	f.gateway.setPayment(bold.Payment{ID: "bold_" + view.ChargeID, Status: "declined", DeclineCode: "expired_card"})
	got, err := f.service.ReconcileCharge(ctx, view.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, enums.ChargeStatusDeclined, got.Status)
	require.NotNil(t, got.ErrorDetails)
	assert.Equal(t, "Pago rechazado: Tarjeta expirada", got.ErrorDetails.Message)

	again, err := f.service.ReconcileCharge(ctx, view.ChargeID)
	require.NoError(t, err)
	assert.Equal(t, enums.ChargeStatusDeclined, again.Status)
	assert.Equal(t, int32(1), f.gateway.polls.Load())

	f.gateway.pollErr = pkgerrors.New(pkgerrors.CodeDependency, "Servicio de pago temporalmente no disponible")
	pending := f.createCharge(t, "T2")
	_, err = f.service.ReconcileCharge(ctx, pending.ChargeID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestNewChargeViewGatesDetails(t *testing.T) {
	details := &models.PaymentDetails{AuthorizationCode: "A1", LastFour: "1111"}
	failure := &models.ErrorDetails{Code: "card_declined", Message: "Pago rechazado: Tarjeta declinada"}

	cases := []struct {
		status      enums.ChargeStatus
		wantPayment bool
		wantError   bool
	}{
		{enums.ChargeStatusPending, false, false},
		{enums.ChargeStatusApproved, true, false},
		{enums.ChargeStatusDeclined, false, true},
		{enums.ChargeStatusError, false, true},
		{enums.ChargeStatusTimeout, false, false},
		{enums.ChargeStatusReversed, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.status.String(), func(t *testing.T) {
			view := NewChargeView(&models.TerminalCharge{
				ChargeID:       "CHG_1",
				Status:         tc.status,
				AmountCents:    5000,
				PaymentDetails: details,
				ErrorDetails:   failure,
			})
			assert.Equal(t, tc.wantPayment, view.PaymentDetails != nil)
			assert.Equal(t, tc.wantError, view.ErrorDetails != nil)
		})
	}
	assert.Nil(t, NewChargeView(nil))
}

func TestTimeoutKeepsLeaseOfNextChargeOnTerminal(t *testing.T) {
	f := newFixture(t)
	f.store.Now = func() time.Time { return f.now }
	ctx := context.Background()
	start := f.now
	first := f.createCharge(t, "T1")

	f.now = start.Add(f.service.PaymentWindow() + time.Second)
	second := f.createCharge(t, "T1")

	res, err := f.service.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TimedOut)
	assert.Equal(t, enums.ChargeStatusTimeout, f.charge(t, first.ChargeID).Status)
	assert.Equal(t, enums.ChargeStatusPending, f.charge(t, second.ChargeID).Status)

	holder, busy, err := f.leases.Holder(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, busy, "terminal stays busy while the second charge is in flight")
	assert.Equal(t, second.ChargeID, holder)

	acquired, err := f.leases.TryAcquireBusy(ctx, "T1", "CHG_THIRD", f.service.PaymentWindow())
	require.NoError(t, err)
	assert.False(t, acquired)
}

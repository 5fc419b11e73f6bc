package reconciliation

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/internal/charges"
	"github.com/angelmondragon/terminalpay/internal/idempotency"
	"github.com/angelmondragon/terminalpay/pkg/bold"
	pkgerrors "github.com/angelmondragon/terminalpay/pkg/errors"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/metrics"
	"github.com/angelmondragon/terminalpay/pkg/outbox"
	"github.com/angelmondragon/terminalpay/pkg/outbox/payloads"
)

const (
	DefaultPaymentWindow = 2 * time.Minute
	DefaultGraceWindow   = 90 * time.Second
	DefaultPollTimeout   = 10 * time.Second
	DefaultBatchSize     = 100
	DefaultCurrency      = "COP"
)

// Gateway is the subset of the payment provider the engine drives.
type Gateway interface {
	CreatePayment(ctx context.Context, req bold.PaymentRequest) (*bold.Payment, error)
	GetPayment(ctx context.Context, providerTransactionID string) (*bold.Payment, error)
}

// Subscriber reacts to a charge reaching a terminal status. Subscribers run
// after the status change is committed.
type Subscriber interface {
	HandleChargeEvent(ctx context.Context, event payloads.ChargeEvent) error
}

type leaseReleaser interface {
	ReleaseBusy(ctx context.Context, terminalID, owner string) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	DB            txRunner
	Charges       charges.Repository
	Ledger        *idempotency.Ledger
	Leases        leaseReleaser
	Gateway       Gateway
	Outbox        eventEmitter
	Logger        *logger.Logger
	Metrics       *metrics.ChargeMetrics
	Subscribers   []Subscriber
	WebhookSecret string
	Currency      string
	PaymentWindow time.Duration
	GraceWindow   time.Duration
	PollTimeout   time.Duration
	BatchSize     int
	Now           func() time.Time
}

// Service creates terminal charges and drives them to a terminal status from
// webhooks, polls and the reconciliation sweep.
type Service struct {
	tx            txRunner
	charges       charges.Repository
	ledger        *idempotency.Ledger
	leases        leaseReleaser
	gateway       Gateway
	outbox        eventEmitter
	logg          *logger.Logger
	metrics       *metrics.ChargeMetrics
	subscribers   []Subscriber
	webhookSecret []byte
	currency      string
	paymentWindow time.Duration
	graceWindow   time.Duration
	pollTimeout   time.Duration
	batchSize     int
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Charges == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "charge repository required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "idempotency ledger required")
	}
	if params.Leases == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "lease manager required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateway required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}

	svc := &Service{
		tx:            params.DB,
		charges:       params.Charges,
		ledger:        params.Ledger,
		leases:        params.Leases,
		gateway:       params.Gateway,
		outbox:        params.Outbox,
		logg:          params.Logger,
		metrics:       params.Metrics,
		subscribers:   params.Subscribers,
		webhookSecret: []byte(params.WebhookSecret),
		currency:      params.Currency,
		paymentWindow: params.PaymentWindow,
		graceWindow:   params.GraceWindow,
		pollTimeout:   params.PollTimeout,
		batchSize:     params.BatchSize,
		now:           params.Now,
	}
	if svc.currency == "" {
		svc.currency = DefaultCurrency
	}
	if svc.paymentWindow <= 0 {
		svc.paymentWindow = DefaultPaymentWindow
	}
	if svc.graceWindow <= 0 {
		svc.graceWindow = DefaultGraceWindow
	}
	if svc.graceWindow >= svc.paymentWindow {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "grace window must be shorter than the payment window")
	}
	if svc.pollTimeout <= 0 {
		svc.pollTimeout = DefaultPollTimeout
	}
	if svc.batchSize <= 0 {
		svc.batchSize = DefaultBatchSize
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	return svc, nil
}

// Subscribe registers an in-process subscriber. It must be called before the
// service starts handling traffic.
func (s *Service) Subscribe(sub Subscriber) {
	if sub == nil {
		return
	}
	s.subscribers = append(s.subscribers, sub)
}

// PaymentWindow is how long a charge may stay pending before it times out.
func (s *Service) PaymentWindow() time.Duration {
	return s.paymentWindow
}

package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/terminalpay/pkg/enums"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/metrics"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultRetentionEvery  = time.Hour
	outboxMinAttempts      = 10
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type dlqPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	CountByReason(ctx context.Context) (map[enums.OutboxDLQErrorReason]int64, error)
}

// OutboxRetentionJobParams configure the outbox cleanup. Outbox rows go once
// published or exhausted and older than Retention; dead letters go once older
// than DLQRetention.
type OutboxRetentionJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Outbox       outboxPruner
	DLQ          dlqPruner
	Metrics      *metrics.OutboxMetrics
	Retention    time.Duration
	DLQRetention time.Duration
	MinAttempts  int
	// Every spaces runs out; zero means hourly.
	Every time.Duration
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		outbox:       params.Outbox,
		dlq:          params.DLQ,
		metrics:      params.Metrics,
		retention:    params.Retention,
		dlqRetention: params.DLQRetention,
		minAttempts:  params.MinAttempts,
		every:        params.Every,
		now:          time.Now,
	}
	if job.every <= 0 {
		job.every = defaultRetentionEvery
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.dlqRetention <= 0 {
		job.dlqRetention = defaultDLQRetention
	}
	if job.minAttempts <= 0 {
		job.minAttempts = outboxMinAttempts
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	outbox       outboxPruner
	dlq          dlqPruner
	metrics      *metrics.OutboxMetrics
	retention    time.Duration
	dlqRetention time.Duration
	minAttempts  int
	every        time.Duration
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) MinInterval() time.Duration { return j.every }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var events, letters int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		events, err = j.outbox.DeletePublishedBefore(ctx, tx, now.Add(-j.retention), j.minAttempts)
		if err != nil {
			return fmt.Errorf("prune outbox_events: %w", err)
		}
		if j.dlq == nil {
			return nil
		}
		letters, err = j.dlq.DeleteFailedBefore(ctx, tx, now.Add(-j.dlqRetention))
		if err != nil {
			return fmt.Errorf("prune outbox_dlq: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	j.metrics.AddPruned("outbox_events", events)
	j.metrics.AddPruned("outbox_dlq", letters)

	// The gauge is best effort; a failed count must not fail a prune that
	// already committed.
	if gaugeErr := j.refreshDeadLetters(ctx); gaugeErr != nil {
		j.logg.Warn(j.logg.WithField(ctx, "error", gaugeErr.Error()), "dead letter count unavailable")
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"outbox_deleted": events,
		"dlq_deleted":    letters,
		"min_attempts":   j.minAttempts,
	}), "outbox retention cleanup complete")
	return nil
}

func (j *outboxRetentionJob) refreshDeadLetters(ctx context.Context) error {
	if j.dlq == nil {
		return nil
	}
	counts, err := j.dlq.CountByReason(ctx)
	if err != nil {
		return err
	}
	gauge := map[string]int64{}
	var unknown error
	for _, reason := range []enums.OutboxDLQErrorReason{
		enums.OutboxDLQReasonMaxAttempts,
		enums.OutboxDLQReasonNonRetryable,
		enums.OutboxDLQReasonUndecodable,
	} {
		gauge[string(reason)] = counts[reason]
		delete(counts, reason)
	}
	for reason := range counts {
		unknown = multierr.Append(unknown, fmt.Errorf("unknown dlq reason %q", reason))
	}
	j.metrics.SetDeadLetters(gauge)
	return unknown
}

package cron

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/metrics"
)

const (
	defaultInterval = 30 * time.Second
	cycleLabel      = "cycle"
)

// errLockLost cancels a cycle whose lease could not be renewed.
var errLockLost = errors.New("cron lock lost during cycle")

// ServiceParams configure the cron service. LockRefresh defaults to a third
// of DefaultLockTTL and must stay below the lock's TTL.
type ServiceParams struct {
	Logger      *logger.Logger
	Registry    *Registry
	Lock        Lock
	Metrics     *metrics.CronJobMetrics
	Interval    time.Duration
	LockRefresh time.Duration
}

// Service executes registered cron jobs on a fixed cadence. A tick is
// skipped while the previous cycle is still running in this process or when
// another instance holds the lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	refresh  time.Duration
	running  atomic.Bool
	now      func() time.Time

	// lastRun is only touched by the cycle goroutine; running orders access.
	lastRun map[string]time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	refresh := params.LockRefresh
	if refresh <= 0 {
		refresh = DefaultLockTTL / 3
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		refresh:  refresh,
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
	}, nil
}

// Run starts the cron loop until the context is canceled. Cycles run in
// their own goroutine so a slow cycle never delays the ticker.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.tick(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.IncSkipped(cycleLabel, "overlap")
		s.logg.Warn(ctx, "previous cron cycle still running; skipping tick")
		return
	}
	go func() {
		defer s.running.Store(false)
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
	}()
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.IncSkipped(cycleLabel, "locked")
		s.logg.Debug(ctx, "another cron instance is running; skipping this cycle")
		return nil
	}
	cycleCtx, cancel := context.WithCancelCause(ctx)
	held := make(chan struct{})
	go func() {
		defer close(held)
		s.holdLock(cycleCtx, cancel)
	}()
	defer func() {
		cancel(nil)
		<-held
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	now := s.now()
	for _, job := range s.registry.Jobs() {
		if cycleCtx.Err() != nil {
			return context.Cause(cycleCtx)
		}
		if !s.due(job, now) {
			continue
		}
		s.lastRun[job.Name()] = now
		s.runJob(cycleCtx, job)
	}
	return nil
}

// holdLock renews the lease until the cycle ends. When a renewal fails the
// cycle is canceled so another instance can take over without overlap.
func (s *Service) holdLock(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := s.lock.Refresh(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logg.Error(ctx, "cron lock refresh failed; stopping cycle", err)
			cancel(fmt.Errorf("%w: %v", errLockLost, err))
			return
		}
		if !ok {
			s.metrics.IncSkipped(cycleLabel, "lock_lost")
			s.logg.Warn(ctx, "cron lock taken over; stopping cycle")
			cancel(errLockLost)
			return
		}
	}
}

func (s *Service) due(job Job, now time.Time) bool {
	every := minInterval(job)
	if every <= 0 {
		return true
	}
	last, ok := s.lastRun[job.Name()]
	return !ok || now.Sub(last) >= every
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	s.logg.Debug(jobCtx, "job start")
	start := s.now()
	err := job.Run(jobCtx)
	duration := s.now().Sub(start)
	s.metrics.ObserveRun(job.Name(), duration, err)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Debug(jobCtx, "job completed")
}

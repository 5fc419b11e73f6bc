package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/terminalpay/pkg/logger"
)

type okPinger struct{ err error }

func (p okPinger) Ping(context.Context) error { return p.err }

type blockingConsumer struct{}

func (blockingConsumer) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

type failingConsumer struct{ err error }

func (c failingConsumer) Run(context.Context) error { return c.err }

func newWorker(t *testing.T, redis okPinger, consumers map[string]consumer) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:    logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		DB:        okPinger{},
		Redis:     redis,
		PubSub:    okPinger{},
		Consumers: consumers,
	})
	require.NoError(t, err)
	return svc
}

func TestWorkerStopsOnCancel(t *testing.T) {
	svc := newWorker(t, okPinger{}, map[string]consumer{"orders": blockingConsumer{}})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := svc.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerSurfacesConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc := newWorker(t, okPinger{}, map[string]consumer{"orders": failingConsumer{err: boom}})

	err := svc.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestWorkerRequiresReadyDependencies(t *testing.T) {
	svc := newWorker(t, okPinger{err: errors.New("connection refused")}, map[string]consumer{"orders": blockingConsumer{}})

	err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestNewServiceRequiresConsumers(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger: logger.New(logger.Options{Output: io.Discard}),
		DB:     okPinger{},
		Redis:  okPinger{},
		PubSub: okPinger{},
	})
	assert.Error(t, err)
}

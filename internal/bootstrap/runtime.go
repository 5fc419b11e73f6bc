package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/db"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/migrate"
	"github.com/angelmondragon/terminalpay/pkg/redis"
)

const metricsShutdownTimeout = 5 * time.Second

// LoadConfig reads .env and the TP_* environment for one binary and returns
// a logger configured from it. The returned logger is usable even when
// loading fails.
func LoadConfig(kind string) (*config.Config, *logger.Logger, error) {
	logg := logger.New(logger.Options{ServiceName: kind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, logg, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = kind
	logg = logger.New(logger.Options{
		ServiceName: kind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	return cfg, logg, nil
}

// Infra holds the connections a binary opened. Close releases them in
// reverse order.
type Infra struct {
	DB    *db.Client
	Redis *redis.Client

	logg    *logger.Logger
	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func() error
}

// OpenInfra connects to Postgres, applies dev migrations and, when
// withRedis is set, connects to Redis.
func OpenInfra(ctx context.Context, cfg *config.Config, logg *logger.Logger, withRedis bool) (*Infra, error) {
	infra := &Infra{logg: logg}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	infra.DB = dbClient
	infra.closers = append(infra.closers, namedCloser{"database", dbClient.Close})

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		infra.Close(ctx)
		return nil, fmt.Errorf("dev migrations: %w", err)
	}

	if withRedis {
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		infra.Redis = redisClient
		infra.closers = append(infra.closers, namedCloser{"redis", redisClient.Close})
	}
	return infra, nil
}

// Track registers an extra resource to release with the rest.
func (i *Infra) Track(name string, fn func() error) {
	i.closers = append(i.closers, namedCloser{name, fn})
}

func (i *Infra) Close(ctx context.Context) {
	for n := len(i.closers) - 1; n >= 0; n-- {
		c := i.closers[n]
		if err := c.fn(); err != nil {
			i.logg.Error(ctx, "error closing "+c.name, err)
		}
	}
	i.closers = nil
}

// ServeMetrics exposes gatherer on :port/metrics until ctx is done. An empty
// port disables the listener.
func ServeMetrics(ctx context.Context, port string, gatherer prometheus.Gatherer, logg *logger.Logger) {
	if port == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	go func() {
		logg.Info(logg.WithField(ctx, "addr", server.Addr), "metrics listener started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener stopped", err)
		}
	}()
}

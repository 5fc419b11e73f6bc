package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/terminalpay/api/routes"
	"github.com/angelmondragon/terminalpay/internal/bootstrap"
	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

const (
	serviceKind       = "api"
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	cfg, logg, err := bootstrap.LoadConfig(serviceKind)
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		stop()
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

// listenAddr honors PORT, which Cloud Run injects, over the configured port.
func listenAddr(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	return ":" + cfg.App.Port
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	infra, err := bootstrap.OpenInfra(ctx, cfg, logg, true)
	if err != nil {
		return err
	}
	defer infra.Close(context.WithoutCancel(ctx))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	services, err := bootstrap.Build(ctx, bootstrap.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         infra.DB,
		Redis:      infra.Redis,
		Registerer: reg,
	})
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}

	server := &http.Server{
		Addr: listenAddr(cfg),
		Handler: routes.NewRouter(routes.Deps{
			Config:    cfg,
			Logger:    logg,
			DB:        infra.DB,
			Redis:     infra.Redis,
			Gatherer:  reg,
			Charges:   services.Charges,
			Terminals: services.Terminals,
			POS:       services.POS,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()
	logg.Info(logg.WithField(ctx, "addr", server.Addr), "starting api server")

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

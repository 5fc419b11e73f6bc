package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/db"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

// MaybeRunDev applies the embedded migrations on startup when running in dev
// with TP_AUTO_MIGRATE set. Elsewhere it only warns about pending versions.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	sqlDB, err := client.SQL()
	if err != nil {
		return err
	}
	runner, err := NewRunner(sqlDB, DefaultDir)
	if err != nil {
		return err
	}
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		pending, err := runner.HasPending(ctx)
		if err != nil {
			logg.Warn(ctx, fmt.Sprintf("could not check pending migrations: %v", err))
			return nil
		}
		if pending {
			logg.Warn(ctx, "database schema has pending migrations; run cmd/migrate")
		}
		return nil
	}

	applied, err := runner.Up(ctx)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", applied), "migrations applied (dev auto-run)")
	return nil
}

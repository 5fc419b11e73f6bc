package bootstrap

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/logger"
)

func TestInfraCloseRunsInReverseOrder(t *testing.T) {
	var order []string
	infra := &Infra{logg: logger.New(logger.Options{ServiceName: "test", Output: io.Discard})}
	infra.Track("database", func() error { order = append(order, "database"); return nil })
	infra.Track("redis", func() error { order = append(order, "redis"); return errors.New("already closed") })
	infra.Track("pubsub", func() error { order = append(order, "pubsub"); return nil })

	infra.Close(context.Background())
	infra.Close(context.Background())

	if got := strings.Join(order, ","); got != "pubsub,redis,database" {
		t.Fatalf("unexpected close order %q", got)
	}
}

func TestLoadConfigFailsWithoutRequiredEnv(t *testing.T) {
	t.Setenv(config.EnvAppEnv, "test")
	if err := os.Unsetenv(config.EnvAppEnv); err != nil {
		t.Fatalf("unset: %v", err)
	}
	cfg, logg, err := LoadConfig("test")
	if err == nil {
		t.Fatalf("expected missing env to fail, got %+v", cfg)
	}
	if logg == nil {
		t.Fatalf("logger must be usable after a failed load")
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/terminalpay/pkg/config"
	"github.com/angelmondragon/terminalpay/pkg/db"
	"github.com/angelmondragon/terminalpay/pkg/logger"
	"github.com/angelmondragon/terminalpay/pkg/migrate"
)

type options struct {
	dir     string
	name    string
	version string
}

// offline commands work on the migrations directory alone.
var offline = map[string]func(opts options) (string, error){
	"create": func(opts options) (string, error) {
		if opts.name == "" {
			return "", fmt.Errorf("missing -name for create")
		}
		if err := migrate.CreateSQLMigration(opts.dir, opts.name); err != nil {
			return "", err
		}
		return fmt.Sprintf("created migration %q in %s", opts.name, opts.dir), nil
	},
	"validate": func(opts options) (string, error) {
		if err := migrate.ValidateDir(opts.dir); err != nil {
			return "", err
		}
		return "migration validation passed", nil
	},
}

// online commands run goose against the configured database.
var online = map[string]func(ctx context.Context, runner *migrate.Runner, opts options) (string, error){
	"up": func(ctx context.Context, runner *migrate.Runner, _ options) (string, error) {
		applied, err := runner.Up(ctx)
		return fmt.Sprintf("applied %v", applied), err
	},
	"down": func(ctx context.Context, runner *migrate.Runner, _ options) (string, error) {
		version, err := runner.Down(ctx)
		return fmt.Sprintf("rolled back %d", version), err
	},
	"status": func(ctx context.Context, runner *migrate.Runner, _ options) (string, error) {
		rows, err := runner.Status(ctx)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, row := range rows {
			state := "pending"
			if row.Applied {
				state = "applied " + row.AppliedAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(&b, "%d  %-40s %s\n", row.Version, row.Path, state)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	},
	"version": func(ctx context.Context, runner *migrate.Runner, opts options) (string, error) {
		if opts.version == "" {
			return "", fmt.Errorf("missing -version for version command")
		}
		moved, err := runner.ToVersion(ctx, opts.version)
		return fmt.Sprintf("migrated through %v", moved), err
	},
}

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	var opts options
	flag.StringVar(&opts.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	flag.StringVar(&opts.name, "name", "", "migration name (for create)")
	flag.StringVar(&opts.version, "version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	if run, ok := offline[*cmd]; ok {
		out, err := run(opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", *cmd, err)
			os.Exit(1)
		}
		fmt.Println(out)
		return
	}
	run, ok := online[*cmd]
	if !ok {
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": opts.dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.SQL()
	requireResource(ctx, logg, "sql database", err)
	runner, err := migrate.NewRunner(sqlDB, opts.dir)
	requireResource(ctx, logg, "migration source", err)

	out, err := run(ctx, runner, opts)
	if err != nil {
		logg.Error(ctx, "migration command failed", err)
		dbClient.Close()
		os.Exit(1)
	}
	fmt.Println(out)
	logg.Info(ctx, "migration command completed")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}

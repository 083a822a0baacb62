package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/pressly/goose/v3"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/resilience/classify"
	"github.com/vietddude/resilience/config"
	"github.com/vietddude/resilience/database"
	"github.com/vietddude/resilience/retry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(
		&tint.Options{
			Level:      slogLevel,
			TimeFormat: time.RFC3339,
		})
	slog.Info("Logger initialized", "level", slogLevel.String())

	table, err := cfg.PolicyTable()
	if err != nil {
		slog.Error("Invalid policy configuration", "error", err)
		os.Exit(1)
	}

	svc := retry.NewService(
		retry.WithPolicies(table),
		retry.WithLogger(slog.Default()),
	)

	ctx := context.Background()

	runFlakyDemo(ctx, svc)

	if cfg.Database.URL != "" {
		if err := runDatabaseDemo(ctx, svc, cfg); err != nil {
			slog.Error("Database demo failed", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Info("No database URL configured, skipping database demo")
	}

	for key, snap := range svc.Breakers().Snapshots() {
		slog.Info("Breaker state",
			"key", key,
			"state", snap.State.String(),
			"consecutive_failures", snap.ConsecutiveFailures)
	}
}

// runFlakyDemo retries a simulated provider call that fails twice before
// succeeding.
func runFlakyDemo(ctx context.Context, svc *retry.Service) {
	calls := 0
	res := retry.Execute(ctx, svc, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("503 Service Unavailable")
		}
		return "embedding-vector", nil
	}, retry.WithCategory(classify.Transient), retry.WithKey("embeddings"))

	slog.Info("Flaky call finished",
		"execution_id", res.ID,
		"succeeded", res.Succeeded,
		"attempts", len(res.Attempts),
		"elapsed", res.Elapsed)
}

// runDatabaseDemo migrates the demo table and exercises the transaction and
// batch adapters against a live database.
func runDatabaseDemo(ctx context.Context, svc *retry.Service, cfg *config.AppConfig) error {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db.DB.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}

	txRes := database.WithTransaction(ctx, svc, db, func(ctx context.Context, tx *database.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO demo_jobs (name, status) VALUES ($1, $2)`, "transaction-demo", "pending")
		return err
	})
	slog.Info("Transaction finished", "succeeded", txRes.Succeeded, "attempts", len(txRes.Attempts))

	items := []string{"alpha", "beta", "gamma"}
	batch := database.WithBatch(ctx, svc, items, func(ctx context.Context, item string) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO demo_jobs (name, status) VALUES ($1, $2)`, item, "queued")
		return err
	}, database.BatchOptions{ContinueOnError: true, Concurrency: 2})

	slog.Info("Batch finished",
		"succeeded", batch.Succeeded,
		"failed", batch.Failed,
		"skipped", batch.Skipped)
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/courier/internal/api"
	"github.com/mattjoyce/courier/internal/breaker"
	"github.com/mattjoyce/courier/internal/config"
	"github.com/mattjoyce/courier/internal/dedupe"
	"github.com/mattjoyce/courier/internal/dispatch"
	"github.com/mattjoyce/courier/internal/events"
	"github.com/mattjoyce/courier/internal/lock"
	"github.com/mattjoyce/courier/internal/log"
	"github.com/mattjoyce/courier/internal/provider"
	"github.com/mattjoyce/courier/internal/queue"
	"github.com/mattjoyce/courier/internal/ratelimit"
	"github.com/mattjoyce/courier/internal/storage"
	"github.com/mattjoyce/courier/internal/store"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "version", "--version":
		fmt.Printf("courier %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `courier - resilient message dispatch service

Usage:
  courier start [--config <path>]   Start the service
  courier version                   Print version
  courier help                      Show this help

The service reads its configuration from --config, or falls back to
./courier.yaml when the flag is omitted and that file exists. Without a
config file it runs on built-in defaults.
`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	var cfg *config.Config
	switch {
	case *configPath != "":
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		cfg = loaded
	default:
		if _, err := os.Stat("./courier.yaml"); err == nil {
			loaded, err := config.Load("./courier.yaml")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
				return 1
			}
			cfg = loaded
			fmt.Fprintln(os.Stderr, "Using discovered config: ./courier.yaml")
		} else {
			cfg = config.Defaults()
		}
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("courier starting", "version", version)

	pidLockPath := filepath.Join(filepath.Dir(cfg.State.Path), "courier.lock")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	st := store.New(db)
	hub := events.NewHub(256)
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
	}, st)
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		RecoveryTimeout:  cfg.CircuitBreaker.RecoveryTimeout,
	})

	providers := provider.FromConfig(cfg.Providers)

	engine := dispatch.NewEngine(providers, st, dedupe.NewGuard(st), limiter, breakers, dispatch.RetryConfig{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}, hub)

	q := queue.New(cfg.Queue.MaxSize)
	worker := queue.NewWorker(queue.Config{
		BatchSize:          cfg.Queue.BatchSize,
		ProcessingInterval: cfg.Queue.ProcessingInterval,
		RedriveAfter:       cfg.Queue.RedriveAfter,
		WorkerConcurrency:  cfg.Queue.WorkerConcurrency,
		RetryMaxAttempts:   cfg.Retry.MaxAttempts,
	}, q, engine, st)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	workerDone := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(workerDone)
	}()

	go runRetentionSweep(ctx, st, cfg.Service.Retention, logger)

	apiServer := api.New(api.Config{
		Listen: cfg.API.Listen,
		APIKey: cfg.API.Auth.APIKey,
	}, engine, q, worker, limiter, breakers, hub, log.WithComponent("api"))
	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("fatal component error", "error", err)
		cancel()
		<-workerDone
		return 1
	}

	cancel()
	<-workerDone
	logger.Info("courier stopped")
	return 0
}

// runRetentionSweep deletes attempt rows older than the retention horizon
// once a day.
func runRetentionSweep(ctx context.Context, st *store.Store, retention time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			n, err := st.DeleteCreatedBefore(ctx, cutoff)
			if err != nil {
				logger.Error("retention sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("retention sweep removed old attempts", "count", n)
			}
		}
	}
}

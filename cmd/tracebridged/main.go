// Tracebridged bridges a conversational-agent host to Langfuse.
//
// The daemon serves the feedback-correlation HTTP endpoint and owns the
// shared Langfuse client used for score forwarding. The trace lifecycle
// connector in internal/tracing is wired into the host's hook registry
// by the embedding process; this binary covers the out-of-band half of
// the system, which outlives individual conversation turns.
//
// Usage:
//
//	# Start with defaults
//	tracebridged
//
//	# Load a config file, override via environment
//	TRACEBRIDGE_TRACING_SECRET_KEY=sk-... tracebridged -config /etc/tracebridge.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracebridge/internal/config"
	"github.com/fyrsmithlabs/tracebridge/internal/feedback"
	httpserver "github.com/fyrsmithlabs/tracebridge/internal/http"
	"github.com/fyrsmithlabs/tracebridge/internal/logging"
	"github.com/fyrsmithlabs/tracebridge/internal/qdrant"
	"github.com/fyrsmithlabs/tracebridge/internal/telemetry"
	"github.com/fyrsmithlabs/tracebridge/internal/tracing"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  tracebridged           Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  tracebridged version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("tracebridged\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	logger.Info("starting tracebridged",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("tracing_enabled", cfg.Tracing.Active()),
	)

	otel, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := otel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	store, err := qdrant.NewGRPCClient(&qdrant.ClientConfig{
		Host:           cfg.Qdrant.Host,
		Port:           cfg.Qdrant.Port,
		UseTLS:         cfg.Qdrant.UseTLS,
		APIKey:         cfg.Qdrant.APIKey,
		DialTimeout:    cfg.Qdrant.DialTimeout,
		RequestTimeout: cfg.Qdrant.RequestTimeout,
		RetryAttempts:  cfg.Qdrant.RetryAttempts,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("qdrant close failed", zap.Error(err))
		}
	}()

	factory := tracing.NewFactory(cfg.Tracing, logger)
	if factory.Enabled() {
		// Surfaces credential problems at startup instead of on the
		// first feedback submission.
		factory.Shared(ctx)
	}

	feedbackSvc := feedback.NewService(store, cfg.Qdrant.Collection, factory, logger)

	srv, err := httpserver.NewServer(feedbackSvc, otel, logger, cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}

	// Drain any pending trace events before the process exits.
	factory.Deactivate(shutdownCtx)

	return nil
}

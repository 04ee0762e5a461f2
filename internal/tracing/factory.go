package tracing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tracebridge/internal/config"
	"github.com/fyrsmithlabs/tracebridge/internal/langfuse"
)

// Factory constructs Langfuse clients from configuration and owns the one
// process-wide shared client.
//
// AcquireClient never fails loudly: a disabled configuration, missing
// credentials, or a construction error all reduce to a nil client plus a
// log line, so the hook sequence is never aborted by the tracing backend.
type Factory struct {
	cfg    config.TracingConfig
	logger *zap.Logger

	mu         sync.Mutex
	shared     *langfuse.Client
	sharedInit bool
}

// NewFactory creates a factory.
func NewFactory(cfg config.TracingConfig, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger.Named("tracing"),
	}
}

// Enabled reports whether tracing is switched on and credentialed.
func (f *Factory) Enabled() bool {
	return f.cfg.Active()
}

// Config returns the tracing configuration the factory was built from.
func (f *Factory) Config() config.TracingConfig {
	return f.cfg
}

// AcquireClient constructs a fresh client for one turn. Returns nil when
// tracing is disabled, credentials are absent, or construction fails.
func (f *Factory) AcquireClient(ctx context.Context) *langfuse.Client {
	if !f.cfg.Active() {
		return nil
	}
	client, err := langfuse.NewClient(langfuse.Config{
		Host:      f.cfg.Host,
		PublicKey: f.cfg.PublicKey,
		SecretKey: f.cfg.SecretKey,
	}, f.logger)
	if err != nil {
		f.logger.Error("failed to construct tracing client", zap.Error(err))
		return nil
	}
	return client
}

// Shared returns the process-wide client, constructing it on first call.
// Initialization happens at most once, even when it fails; the client is
// write-once and safe for concurrent readers afterwards. An auth-check
// failure is logged but the client is still returned, degraded.
func (f *Factory) Shared(ctx context.Context) *langfuse.Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sharedInit {
		return f.shared
	}
	f.sharedInit = true

	if !f.cfg.Active() {
		return nil
	}

	client, err := langfuse.NewClient(langfuse.Config{
		Host:      f.cfg.Host,
		PublicKey: f.cfg.PublicKey,
		SecretKey: f.cfg.SecretKey,
	}, f.logger)
	if err != nil {
		f.logger.Error("failed to construct shared tracing client", zap.Error(err))
		return nil
	}

	if err := client.AuthCheck(ctx); err != nil {
		f.logger.Warn("tracing backend auth check failed", zap.Error(err))
	}

	f.shared = client
	return f.shared
}

// Deactivate flushes and drops the shared client. A later Shared call
// re-initializes it.
func (f *Factory) Deactivate(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shared != nil {
		fctx, cancel := context.WithTimeout(ctx, flushTimeout(f.cfg))
		defer cancel()
		if err := f.shared.Flush(fctx); err != nil {
			f.logger.Error("flush on deactivation failed", zap.Error(err))
		}
	}
	f.shared = nil
	f.sharedInit = false
}

// flushTimeout bounds synchronous flushes, falling back to a sane default
// for zero-valued configs.
func flushTimeout(cfg config.TracingConfig) time.Duration {
	if cfg.FlushTimeout > 0 {
		return cfg.FlushTimeout
	}
	return 10 * time.Second
}

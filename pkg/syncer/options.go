package syncer

import (
	"log/slog"
	"time"

	"github.com/jdziat/durable-outbox/pkg/security"
)

// DefaultCallTimeout bounds a single backend call during replay.
const DefaultCallTimeout = 30 * time.Second

// Option configures an Engine.
type Option interface {
	ApplyEngine(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) ApplyEngine(c *Config) { f(c) }

// Config holds engine configuration.
type Config struct {
	// MaxAttempts dead-letters a job after this many consecutive
	// application-classified failures. 0 keeps failing jobs at the head.
	MaxAttempts int
	// CallTimeout bounds each backend call. 0 disables the bound.
	CallTimeout time.Duration
	// StorageRetry governs retries of Remove and failure bookkeeping.
	StorageRetry *RetryConfig
	Logger       *slog.Logger
}

// MaxAttempts enables dead-lettering after n consecutive application
// failures. Values are clamped to [0, security.MaxAttempts].
func MaxAttempts(n int) Option {
	return optionFunc(func(c *Config) {
		c.MaxAttempts = security.ClampAttempts(n)
	})
}

// CallTimeout sets the per-call bound. A negative value disables it.
func CallTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) {
		c.CallTimeout = max(d, 0)
	})
}

// WithStorageRetry sets the retry configuration for store writes.
func WithStorageRetry(cfg RetryConfig) Option {
	return optionFunc(func(c *Config) {
		c.StorageRetry = &cfg
	})
}

// DisableRetry makes every store write a single attempt.
func DisableRetry() Option {
	return optionFunc(func(c *Config) {
		cfg := DefaultRetryConfig()
		cfg.MaxAttempts = 1
		c.StorageRetry = &cfg
	})
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Config) {
		c.Logger = l
	})
}

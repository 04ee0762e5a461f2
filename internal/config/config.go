// Package config provides configuration loading for tracebridge.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. See Load for precedence rules.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete tracebridge configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Tracing   TracingConfig   `koanf:"tracing"`
	Qdrant    QdrantConfig    `koanf:"qdrant"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// AuthToken, when set, is required as a bearer token on the feedback
	// endpoint. Empty disables authentication (the host gateway is expected
	// to enforce access in that case).
	AuthToken string `koanf:"auth_token"`
}

// TracingConfig holds the Langfuse connection settings.
//
// Tracing is disabled when Enabled is false or when either key is empty.
// A disabled configuration is not an error: every remote call degrades to
// a no-op while local feedback correlation keeps working.
type TracingConfig struct {
	Enabled   bool   `koanf:"enabled"`
	PublicKey string `koanf:"public_key"`
	SecretKey string `koanf:"secret_key"`
	Host      string `koanf:"host"`

	// FlushTimeout bounds the synchronous flush performed by the
	// short-circuit and finalization paths.
	FlushTimeout time.Duration `koanf:"flush_timeout"`
}

// Credentialed reports whether both Langfuse keys are present.
func (c *TracingConfig) Credentialed() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Active reports whether remote tracing calls should be attempted at all.
func (c *TracingConfig) Active() bool {
	return c.Enabled && c.Credentialed()
}

// QdrantConfig holds the turn-record store connection settings.
type QdrantConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	UseTLS         bool          `koanf:"use_tls"`
	APIKey         string        `koanf:"api_key"`
	Collection     string        `koanf:"collection"`
	DialTimeout    time.Duration `koanf:"dial_timeout"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	RetryAttempts  int           `koanf:"retry_attempts"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry self-instrumentation settings for
// the daemon itself. This is unrelated to the Langfuse product traces the
// connector produces.
type TelemetryConfig struct {
	Enabled        bool    `koanf:"enabled"`
	Endpoint       string  `koanf:"endpoint"`
	Protocol       string  `koanf:"protocol"`
	Insecure       bool    `koanf:"insecure"`
	ServiceName    string  `koanf:"service_name"`
	ServiceVersion string  `koanf:"service_version"`
	SampleRate     float64 `koanf:"sample_rate"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            9095,
			ShutdownTimeout: 10 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Host:         "https://cloud.langfuse.com",
			FlushTimeout: 10 * time.Second,
		},
		Qdrant: QdrantConfig{
			Host:           "localhost",
			Port:           6334,
			Collection:     "episodic_memory",
			DialTimeout:    5 * time.Second,
			RequestTimeout: 30 * time.Second,
			RetryAttempts:  3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			Insecure:       true,
			ServiceName:    "tracebridge",
			ServiceVersion: "dev",
			SampleRate:     1.0,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	if err := c.Qdrant.Validate(); err != nil {
		return fmt.Errorf("qdrant: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// Validate validates the tracing configuration.
func (c *TracingConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.FlushTimeout <= 0 {
		return fmt.Errorf("flush_timeout must be positive, got %s", c.FlushTimeout)
	}
	return nil
}

// Validate validates the store configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	return nil
}

// Validate validates the telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when telemetry is enabled")
	}
	switch c.Protocol {
	case "", "grpc", "http/protobuf":
	default:
		return fmt.Errorf("unknown protocol %q (want grpc or http/protobuf)", c.Protocol)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample_rate must be in [0,1], got %v", c.SampleRate)
	}
	return nil
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://cloud.langfuse.com", cfg.Tracing.Host)
	assert.Equal(t, "episodic_memory", cfg.Qdrant.Collection)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestTracingConfig_Active(t *testing.T) {
	tests := []struct {
		name string
		cfg  TracingConfig
		want bool
	}{
		{"disabled", TracingConfig{Enabled: false, PublicKey: "pk", SecretKey: "sk"}, false},
		{"missing public key", TracingConfig{Enabled: true, SecretKey: "sk"}, false},
		{"missing secret key", TracingConfig{Enabled: true, PublicKey: "pk"}, false},
		{"enabled with keys", TracingConfig{Enabled: true, PublicKey: "pk", SecretKey: "sk"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Active())
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad server port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"bad shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"empty tracing host", func(c *Config) { c.Tracing.Host = "" }, "tracing"},
		{"bad flush timeout", func(c *Config) { c.Tracing.FlushTimeout = -time.Second }, "flush_timeout"},
		{"empty qdrant host", func(c *Config) { c.Qdrant.Host = "" }, "qdrant"},
		{"bad qdrant port", func(c *Config) { c.Qdrant.Port = 70000 }, "qdrant"},
		{"empty collection", func(c *Config) { c.Qdrant.Collection = "" }, "collection"},
		{"bad telemetry protocol", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Protocol = "udp"
		}, "protocol"},
		{"bad sample rate", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.SampleRate = 1.5
		}, "sample_rate"},
		{"telemetry disabled skips checks", func(c *Config) {
			c.Telemetry.Enabled = false
			c.Telemetry.Endpoint = ""
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

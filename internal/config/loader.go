package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	envPrefix = "TRACEBRIDGE_"
)

// Load loads configuration with the following precedence (highest first):
//
//  1. Environment variables (TRACEBRIDGE_TRACING_PUBLIC_KEY, ...)
//  2. YAML config file (configPath, skipped when empty or absent)
//  3. Defaults from Default()
//
// Environment variables map to config keys by stripping the TRACEBRIDGE_
// prefix, lowercasing, and replacing the first underscore with a dot:
//
//	TRACEBRIDGE_SERVER_PORT          -> server.port
//	TRACEBRIDGE_TRACING_SECRET_KEY   -> tracing.secret_key
//	TRACEBRIDGE_QDRANT_REQUEST_TIMEOUT -> qdrant.request_timeout
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envTransform maps TRACEBRIDGE_SECTION_SOME_KEY to section.some_key.
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// readConfigFile reads the config file, returning nil content when the file
// does not exist. Files larger than maxConfigFileSize are rejected.
func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

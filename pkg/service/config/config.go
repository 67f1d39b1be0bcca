// Package config loads service configuration from the environment, with an
// optional .env file layered underneath via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Azure/containerization-assist/pkg/domain/errors"
)

// Config is the full service configuration.
type Config struct {
	// StorePath is the bbolt database file for session persistence.
	StorePath string
	// SnapshotPath, when set, is imported on start and written periodically
	// and on shutdown.
	SnapshotPath string
	// SnapshotInterval controls how often the snapshot is rewritten.
	SnapshotInterval time.Duration

	SessionTTL      time.Duration
	CompletedTTL    time.Duration
	MaxSessions     int
	CleanupInterval time.Duration

	LogLevel  string
	LogFormat string

	RegistryURL   string
	RegistryAuth  string
	Namespace     string
	ProbeInterval time.Duration

	// WorkflowMode selects the default failure policy: "interactive" halts
	// on the first failure, "automated" continues and aggregates.
	WorkflowMode string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		StorePath:        "sessions.db",
		SnapshotInterval: 5 * time.Minute,
		SessionTTL:       24 * time.Hour,
		CompletedTTL:     72 * time.Hour,
		MaxSessions:      100,
		CleanupInterval:  10 * time.Minute,
		LogLevel:         "info",
		LogFormat:        "json",
		Namespace:        "default",
		ProbeInterval:    5 * time.Minute,
		WorkflowMode:     "interactive",
	}
}

// Load builds the configuration from defaults, an optional .env file, and
// MCP_* environment variables, in increasing precedence.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, errors.New(errors.CodeConfigurationInvalid, "config",
				"failed to load env file "+envFile, err)
		}
	} else {
		// Best effort; a missing .env is the normal case.
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	cfg.StorePath = envString("MCP_STORE_PATH", cfg.StorePath)
	cfg.SnapshotPath = envString("MCP_SNAPSHOT_PATH", cfg.SnapshotPath)
	cfg.LogLevel = strings.ToLower(envString("MCP_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(envString("MCP_LOG_FORMAT", cfg.LogFormat))
	cfg.RegistryURL = envString("MCP_REGISTRY_URL", cfg.RegistryURL)
	cfg.RegistryAuth = envString("MCP_REGISTRY_AUTH", cfg.RegistryAuth)
	cfg.Namespace = envString("MCP_NAMESPACE", cfg.Namespace)
	cfg.WorkflowMode = strings.ToLower(envString("MCP_WORKFLOW_MODE", cfg.WorkflowMode))

	var err error
	if cfg.SessionTTL, err = envDuration("MCP_SESSION_TTL", cfg.SessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.CompletedTTL, err = envDuration("MCP_COMPLETED_TTL", cfg.CompletedTTL); err != nil {
		return Config{}, err
	}
	if cfg.CleanupInterval, err = envDuration("MCP_CLEANUP_INTERVAL", cfg.CleanupInterval); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotInterval, err = envDuration("MCP_SNAPSHOT_INTERVAL", cfg.SnapshotInterval); err != nil {
		return Config{}, err
	}
	if cfg.ProbeInterval, err = envDuration("MCP_PROBE_INTERVAL", cfg.ProbeInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxSessions, err = envInt("MCP_MAX_SESSIONS", cfg.MaxSessions); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.StorePath == "" {
		return errors.New(errors.CodeConfigurationInvalid, "config", "store path must not be empty", nil)
	}
	if c.SessionTTL <= 0 {
		return errors.New(errors.CodeConfigurationInvalid, "config", "session TTL must be positive", nil)
	}
	if c.SnapshotPath != "" && c.SnapshotInterval <= 0 {
		return errors.New(errors.CodeConfigurationInvalid, "config", "snapshot interval must be positive", nil)
	}
	if c.MaxSessions < 0 {
		return errors.New(errors.CodeConfigurationInvalid, "config", "max sessions must not be negative", nil)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New(errors.CodeConfigurationInvalid, "config",
			"log level must be one of debug, info, warn, error: "+c.LogLevel, nil)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return errors.New(errors.CodeConfigurationInvalid, "config",
			"log format must be json or text: "+c.LogFormat, nil)
	}
	switch c.WorkflowMode {
	case "interactive", "automated":
	default:
		return errors.New(errors.CodeConfigurationInvalid, "config",
			"workflow mode must be interactive or automated: "+c.WorkflowMode, nil)
	}
	return nil
}

// Automated reports whether the default failure policy continues past
// failing steps.
func (c Config) Automated() bool {
	return c.WorkflowMode == "automated"
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.New(errors.CodeConfigurationInvalid, "config",
			fmt.Sprintf("%s is not a valid duration: %q", key, v), err)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(errors.CodeConfigurationInvalid, "config",
			fmt.Sprintf("%s is not a valid integer: %q", key, v), err)
	}
	return n, nil
}

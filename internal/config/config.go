// Package config loads engine configuration: a YAML file for wiring
// choices plus environment variables for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"

	// DefaultSecretEnv names the env var holding the checkpoint
	// encryption secret. The secret itself never appears in the file.
	DefaultSecretEnv = "RAGLINE_CHECKPOINT_SECRET"

	// Env vars recognized by ApplyEnvOverrides.
	EnvLLMTimeoutSeconds = "RAGLINE_LLM_TIMEOUT_SECONDS"
	EnvRetentionDays     = "RAGLINE_RETENTION_DAYS"
	EnvOTel              = "RAGLINE_OTEL"
)

type Config struct {
	Store     StoreConfig     `yaml:"store"`
	LLM       LLMConfig       `yaml:"llm"`
	Retention RetentionConfig `yaml:"retention"`
	Observe   ObserveConfig   `yaml:"observe"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlitePath"`
	RedisAddr  string `yaml:"redisAddr"`
	RedisDB    int    `yaml:"redisDb"`
	// RedisPrefix namespaces keys when several engines share a server.
	RedisPrefix string `yaml:"redisPrefix"`
	SecretEnv   string `yaml:"secretEnv"`
}

type LLMConfig struct {
	TimeoutSeconds int `yaml:"timeoutSeconds"`
}

type RetentionConfig struct {
	SQLitePath           string `yaml:"sqlitePath"`
	DefaultDays          int    `yaml:"defaultDays"`
	SweepSchedule        string `yaml:"sweepSchedule"`
	CheckpointMaxAgeDays int    `yaml:"checkpointMaxAgeDays"`
}

type ObserveConfig struct {
	// EventsPath, when set, persists engine events to a sqlite file.
	EventsPath string `yaml:"eventsPath"`
	OTel       bool   `yaml:"otel"`
}

// Default is the zero-file configuration: sqlite everywhere under dataDir.
func Default(dataDir string) Config {
	return Config{
		Store: StoreConfig{
			Backend:    BackendSQLite,
			SQLitePath: filepath.Join(dataDir, "checkpoints.db"),
			SecretEnv:  DefaultSecretEnv,
		},
		LLM: LLMConfig{TimeoutSeconds: 15},
		Retention: RetentionConfig{
			SQLitePath:           filepath.Join(dataDir, "retention.db"),
			DefaultDays:          30,
			SweepSchedule:        "0 * * * *",
			CheckpointMaxAgeDays: 30,
		},
	}
}

// Load reads a YAML config file and fills unset fields from Default.
func Load(path string) (Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Config{}, fmt.Errorf("config path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve config path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %q: %w", absPath, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config file %q as YAML: %w", absPath, err)
	}
	cfg.applyDefaults(filepath.Dir(absPath))
	cfg.ApplyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults(dataDir string) {
	base := Default(dataDir)
	if c.Store.Backend == "" {
		c.Store.Backend = base.Store.Backend
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = base.Store.SQLitePath
	}
	if c.Store.SecretEnv == "" {
		c.Store.SecretEnv = base.Store.SecretEnv
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = base.LLM.TimeoutSeconds
	}
	if c.Retention.SQLitePath == "" {
		c.Retention.SQLitePath = base.Retention.SQLitePath
	}
	if c.Retention.DefaultDays <= 0 {
		c.Retention.DefaultDays = base.Retention.DefaultDays
	}
	if c.Retention.SweepSchedule == "" {
		c.Retention.SweepSchedule = base.Retention.SweepSchedule
	}
	if c.Retention.CheckpointMaxAgeDays <= 0 {
		c.Retention.CheckpointMaxAgeDays = base.Retention.CheckpointMaxAgeDays
	}
}

// ApplyEnvOverrides lets the environment win over file values for the
// knobs that vary per deployment. Load calls it; callers building a
// Config without a file apply it themselves.
func (c *Config) ApplyEnvOverrides() {
	c.LLM.TimeoutSeconds = ParseIntEnv(EnvLLMTimeoutSeconds, c.LLM.TimeoutSeconds)
	c.Retention.DefaultDays = ParseIntEnv(EnvRetentionDays, c.Retention.DefaultDays)
	c.Observe.OTel = ParseBoolEnv(EnvOTel, c.Observe.OTel)
}

func (c Config) validate() error {
	switch c.Store.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store.redisAddr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// Secret reads the encryption secret from the configured env var.
func (c Config) Secret() ([]byte, error) {
	raw := os.Getenv(c.Store.SecretEnv)
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("encryption secret env %s is not set", c.Store.SecretEnv)
	}
	return []byte(raw), nil
}

func (c Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c Config) DefaultRetention() time.Duration {
	return time.Duration(c.Retention.DefaultDays) * 24 * time.Hour
}

func (c Config) CheckpointMaxAge() time.Duration {
	return time.Duration(c.Retention.CheckpointMaxAgeDays) * 24 * time.Hour
}

// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends for failure artifacts.
const (
	StorageMemory = "memory"
	StorageLocal  = "local"
	StorageGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Automation AutomationConfig `mapstructure:"automation"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Vault      VaultConfig      `mapstructure:"vault"`
	DB         DBConfig         `mapstructure:"db"`
	Storage    StorageConfig    `mapstructure:"storage"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig holds the shared secrets guarding the API.
type AuthConfig struct {
	APIKey       string `mapstructure:"api_key"`
	RunnerSecret string `mapstructure:"runner_secret"`
}

// AutomationConfig configures the headless browser driver.
type AutomationConfig struct {
	BaseURL          string  `mapstructure:"base_url"`
	TimeoutMs        int     `mapstructure:"timeout_ms"`
	LookupTimeoutMs  int     `mapstructure:"lookup_timeout_ms"`
	Headless         bool    `mapstructure:"headless"`
	NoSandbox        bool    `mapstructure:"no_sandbox"`
	UserAgent        string  `mapstructure:"user_agent"`
	MaxParallel      int     `mapstructure:"max_parallel"`
	PublishQPS       float64 `mapstructure:"publish_qps"`
	PublishBurst     int     `mapstructure:"publish_burst"`
	CaptureArtifacts bool    `mapstructure:"capture_artifacts"`
}

// WorkerConfig governs the polling loop and retry budget.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Concurrency   int  `mapstructure:"concurrency"`
	IdleDelayMs   int  `mapstructure:"idle_delay_ms"`
	ActiveDelayMs int  `mapstructure:"active_delay_ms"`
	MaxAttempts   int  `mapstructure:"max_attempts"`
	JobDeadlineMs int  `mapstructure:"job_deadline_ms"`
}

// VaultConfig carries the session-token encryption key.
type VaultConfig struct {
	Key string `mapstructure:"key"`
}

// DBConfig controls access to the relational database. An empty DSN selects the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeSeconds int    `mapstructure:"max_conn_lifetime_seconds"`
	Migrate                bool   `mapstructure:"migrate"`
}

// StorageConfig selects where failure artifacts are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for job event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUTOPUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("auth.runner_secret", "")
	v.SetDefault("automation.base_url", "https://note.com")
	v.SetDefault("automation.timeout_ms", 60000)
	v.SetDefault("automation.lookup_timeout_ms", 5000)
	v.SetDefault("automation.headless", true)
	v.SetDefault("automation.no_sandbox", false)
	v.SetDefault("automation.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("automation.max_parallel", 2)
	v.SetDefault("automation.publish_qps", 0)
	v.SetDefault("automation.publish_burst", 1)
	v.SetDefault("automation.capture_artifacts", true)
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.idle_delay_ms", 5000)
	v.SetDefault("worker.active_delay_ms", 500)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.job_deadline_ms", 300000)
	v.SetDefault("vault.key", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_seconds", 1800)
	v.SetDefault("db.migrate", false)
	v.SetDefault("storage.backend", StorageMemory)
	v.SetDefault("storage.local_dir", "artifacts")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "automation-failures")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Automation.TimeoutMs <= 0 {
		return fmt.Errorf("automation.timeout_ms must be > 0")
	}
	if c.Automation.MaxParallel < 0 {
		return fmt.Errorf("automation.max_parallel must be >= 0")
	}
	if c.Automation.PublishQPS < 0 {
		return fmt.Errorf("automation.publish_qps must be >= 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.IdleDelayMs <= 0 || c.Worker.ActiveDelayMs <= 0 {
		return fmt.Errorf("worker delays must be > 0")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be >= 1")
	}
	if c.Worker.JobDeadlineMs < 0 {
		return fmt.Errorf("worker.job_deadline_ms must be >= 0")
	}
	if strings.TrimSpace(c.Vault.Key) == "" {
		return fmt.Errorf("vault.key must be set")
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not one of memory, local, gcs", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// AutomationTimeout is the per-step navigation timeout.
func (c Config) AutomationTimeout() time.Duration {
	return time.Duration(c.Automation.TimeoutMs) * time.Millisecond
}

// LookupTimeout bounds each selector candidate lookup.
func (c Config) LookupTimeout() time.Duration {
	return time.Duration(c.Automation.LookupTimeoutMs) * time.Millisecond
}

// IdleDelay is slept after an empty cycle.
func (c Config) IdleDelay() time.Duration {
	return time.Duration(c.Worker.IdleDelayMs) * time.Millisecond
}

// ActiveDelay is slept after a cycle that processed a job.
func (c Config) ActiveDelay() time.Duration {
	return time.Duration(c.Worker.ActiveDelayMs) * time.Millisecond
}

// JobDeadline bounds a whole publish attempt. Zero disables it.
func (c Config) JobDeadline() time.Duration {
	return time.Duration(c.Worker.JobDeadlineMs) * time.Millisecond
}

// RequestTimeout bounds the job API routes.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// MaxConnLifetime is the pool connection lifetime.
func (c Config) MaxConnLifetime() time.Duration {
	return time.Duration(c.DB.MaxConnLifetimeSeconds) * time.Second
}

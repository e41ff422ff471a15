package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  api_key: secret
  runner_secret: trigger
automation:
  timeout_ms: 45000
  headless: false
  user_agent: real-agent
  publish_qps: 0.5
  capture_artifacts: false
worker:
  concurrency: 3
  idle_delay_ms: 7000
  active_delay_ms: 250
  max_attempts: 5
  job_deadline_ms: 120000
vault:
  key: ` + testKey + `
db:
  dsn: postgres://localhost/autopub
  max_conns: 8
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: failures
pubsub:
  project_id: proj
  topic_name: jobs
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Auth.APIKey != "secret" || cfg.Auth.RunnerSecret != "trigger" {
		t.Fatalf("expected auth secrets to load: %+v", cfg.Auth)
	}
	if cfg.Automation.Headless || cfg.Automation.UserAgent != "real-agent" || cfg.Automation.CaptureArtifacts {
		t.Fatalf("expected automation overrides to apply: %+v", cfg.Automation)
	}
	if cfg.Automation.BaseURL != "https://note.com" {
		t.Fatalf("expected default base url, got %q", cfg.Automation.BaseURL)
	}
	if got := cfg.AutomationTimeout(); got != 45*time.Second {
		t.Fatalf("expected automation timeout 45s, got %v", got)
	}
	if cfg.Worker.Concurrency != 3 || cfg.Worker.MaxAttempts != 5 {
		t.Fatalf("expected worker overrides to apply: %+v", cfg.Worker)
	}
	if cfg.IdleDelay() != 7*time.Second || cfg.ActiveDelay() != 250*time.Millisecond {
		t.Fatalf("unexpected delays %v / %v", cfg.IdleDelay(), cfg.ActiveDelay())
	}
	if cfg.JobDeadline() != 2*time.Minute {
		t.Fatalf("expected 2m job deadline, got %v", cfg.JobDeadline())
	}
	if cfg.DB.MaxConns != 8 || cfg.MaxConnLifetime() != 30*time.Minute {
		t.Fatalf("unexpected db config: %+v", cfg.DB)
	}
	if cfg.Storage.Backend != StorageGCS || cfg.PubSub.TopicName != "jobs" {
		t.Fatalf("unexpected storage/pubsub config: %+v %+v", cfg.Storage, cfg.PubSub)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
}

func TestLoadDefaultsFromEnv(t *testing.T) {
	t.Setenv("AUTOPUB_VAULT_KEY", testKey)
	t.Setenv("AUTOPUB_WORKER_CONCURRENCY", "2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Vault.Key != testKey {
		t.Fatalf("expected vault key from env")
	}
	if cfg.Worker.Concurrency != 2 {
		t.Fatalf("expected concurrency 2 from env, got %d", cfg.Worker.Concurrency)
	}
	if cfg.IdleDelay() != 5*time.Second || cfg.ActiveDelay() != 500*time.Millisecond {
		t.Fatalf("unexpected default delays %v / %v", cfg.IdleDelay(), cfg.ActiveDelay())
	}
	if cfg.Worker.MaxAttempts != 3 || !cfg.Automation.Headless || !cfg.Automation.CaptureArtifacts {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Worker, cfg.Automation)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Fatalf("expected memory storage by default, got %q", cfg.Storage.Backend)
	}
	if cfg.RequestTimeout() != 30*time.Second {
		t.Fatalf("expected 30s request timeout, got %v", cfg.RequestTimeout())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Port: 8080},
		Automation: AutomationConfig{TimeoutMs: 60000},
		Worker:     WorkerConfig{Concurrency: 1, IdleDelayMs: 5000, ActiveDelayMs: 500, MaxAttempts: 3},
		Vault:      VaultConfig{Key: testKey},
		Storage:    StorageConfig{Backend: StorageMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Automation.TimeoutMs = 0 }, want: "automation.timeout_ms"},
		{name: "negative qps", mutate: func(c *Config) { c.Automation.PublishQPS = -1 }, want: "automation.publish_qps"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Worker.Concurrency = 0 }, want: "worker.concurrency"},
		{name: "invalid delay", mutate: func(c *Config) { c.Worker.IdleDelayMs = 0 }, want: "worker delays"},
		{name: "invalid attempts", mutate: func(c *Config) { c.Worker.MaxAttempts = 0 }, want: "worker.max_attempts"},
		{name: "missing vault key", mutate: func(c *Config) { c.Vault.Key = " " }, want: "vault.key"},
		{name: "gcs without bucket", mutate: func(c *Config) { c.Storage.Backend = StorageGCS }, want: "storage.gcs_bucket"},
		{name: "local without dir", mutate: func(c *Config) { c.Storage.Backend = StorageLocal }, want: "storage.local_dir"},
		{name: "unknown backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, want: "storage.backend"},
		{name: "topic without project", mutate: func(c *Config) { c.PubSub.TopicName = "jobs" }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for explicitly named missing file")
	}

	// Without an explicit path a missing file falls back to defaults.
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.PubSubSystem != "channel" {
		t.Errorf("default transport = %q, want channel", cfg.PubSubSystem)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("default heartbeat interval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.HeartbeatTTL != 90*time.Second {
		t.Errorf("default heartbeat TTL = %v, want 90s", cfg.HeartbeatTTL)
	}
	if cfg.BreakerFailureThreshold != 5 {
		t.Errorf("default failure threshold = %d, want 5", cfg.BreakerFailureThreshold)
	}
	if cfg.BreakerMinimumThroughput != 10 {
		t.Errorf("default minimum throughput = %d, want 10", cfg.BreakerMinimumThroughput)
	}
	if cfg.QueueMaxRetries != 3 {
		t.Errorf("default queue max retries = %d, want 3", cfg.QueueMaxRetries)
	}
	if cfg.TraceSampleRate != 1.0 {
		t.Errorf("default sample rate = %v, want 1.0", cfg.TraceSampleRate)
	}
	if cfg.APIPort != 8081 {
		t.Errorf("default api port = %d, want 8081", cfg.APIPort)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshkit.yaml")
	yaml := `
service:
  name: orders
  version: 1.2.3
pubsub:
  system: kafka
kafka:
  brokers:
    - broker-1:9092
    - broker-2:9092
  consumer_group: orders-group
breaker:
  failure_threshold: 7
queue:
  workers: 8
  default_timeout: 45s
tracing:
  sample_rate: 0.5
api:
  enabled: true
  port: 9999
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.ServiceName != "orders" {
		t.Errorf("service name = %q, want orders", cfg.ServiceName)
	}
	if cfg.ServiceVersion != "1.2.3" {
		t.Errorf("service version = %q, want 1.2.3", cfg.ServiceVersion)
	}
	if cfg.PubSubSystem != "kafka" {
		t.Errorf("transport = %q, want kafka", cfg.PubSubSystem)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "broker-1:9092" {
		t.Errorf("kafka brokers = %v", cfg.KafkaBrokers)
	}
	if cfg.KafkaConsumerGroup != "orders-group" {
		t.Errorf("consumer group = %q", cfg.KafkaConsumerGroup)
	}
	if cfg.BreakerFailureThreshold != 7 {
		t.Errorf("failure threshold = %d, want 7", cfg.BreakerFailureThreshold)
	}
	if cfg.QueueWorkers != 8 {
		t.Errorf("queue workers = %d, want 8", cfg.QueueWorkers)
	}
	if cfg.QueueDefaultTimeout != 45*time.Second {
		t.Errorf("queue timeout = %v, want 45s", cfg.QueueDefaultTimeout)
	}
	if cfg.TraceSampleRate != 0.5 {
		t.Errorf("sample rate = %v, want 0.5", cfg.TraceSampleRate)
	}
	if !cfg.APIEnabled || cfg.APIPort != 9999 {
		t.Errorf("api config = (%v, %d), want (true, 9999)", cfg.APIEnabled, cfg.APIPort)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshkit.yaml")
	yaml := `
pubsub:
  system: kafka
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for kafka without brokers")
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("MESHKIT_SERVICE_NAME", "billing")
	t.Setenv("MESHKIT_PUBSUB_SYSTEM", "nats")
	t.Setenv("MESHKIT_NATS_URL", "nats://localhost:4222")

	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServiceName != "billing" {
		t.Errorf("service name = %q, want billing", cfg.ServiceName)
	}
	if cfg.PubSubSystem != "nats" {
		t.Errorf("transport = %q, want nats", cfg.PubSubSystem)
	}
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("nats url = %q", cfg.NATSURL)
	}
}

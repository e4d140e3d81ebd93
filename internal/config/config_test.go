package config

import (
	"testing"
	"time"
)

func TestDefault_PassesValidation(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"keep threshold too high", func(c *Config) { c.Scoring.KeepThreshold = 1.5 }, true},
		{"negative confidence", func(c *Config) { c.Inference.MinConfidence = -0.1 }, true},
		{"zero window", func(c *Config) { c.Inference.ContextWindowSize = 0 }, true},
		{"bad overflow policy", func(c *Config) { c.Pipeline.OverflowPolicy = "drop" }, true},
		{"block policy ok", func(c *Config) { c.Pipeline.OverflowPolicy = "block" }, false},
		{"zero workers", func(c *Config) { c.Pipeline.WorkerCount = 0 }, true},
		{"timeout shorter than interval", func(c *Config) { c.Realtime.HeartbeatTimeout = time.Second }, true},
		{"zero rate limit", func(c *Config) { c.Notify.RateLimitPerHour = 0 }, true},
		{"bad notify driver", func(c *Config) { c.Storage.NotifyDriver = "mysql" }, true},
		{"sqlite driver ok", func(c *Config) { c.Storage.NotifyDriver = "sqlite" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEVLENS_KEEP_THRESHOLD", "0.45")
	t.Setenv("DEVLENS_WORKER_COUNT", "8")
	t.Setenv("DEVLENS_HEARTBEAT_INTERVAL", "15s")
	t.Setenv("DEVLENS_STORE_ALL_EVENTS", "false")
	t.Setenv("NEO4J_URI", "bolt://graph:7687")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.Scoring.KeepThreshold != 0.45 {
		t.Errorf("keep threshold = %v, want 0.45", cfg.Scoring.KeepThreshold)
	}
	if cfg.Pipeline.WorkerCount != 8 {
		t.Errorf("worker count = %d, want 8", cfg.Pipeline.WorkerCount)
	}
	if cfg.Realtime.HeartbeatInterval != 15*time.Second {
		t.Errorf("heartbeat interval = %v, want 15s", cfg.Realtime.HeartbeatInterval)
	}
	if cfg.Pipeline.StoreAllEvents {
		t.Error("store_all_events should be overridden to false")
	}
	if cfg.Storage.Neo4jURI != "bolt://graph:7687" {
		t.Errorf("neo4j uri = %s", cfg.Storage.Neo4jURI)
	}
}

func TestEnvOverrides_IgnoresMalformedValues(t *testing.T) {
	t.Setenv("DEVLENS_WORKER_COUNT", "many")
	t.Setenv("DEVLENS_KEEP_THRESHOLD", "high")

	cfg := Default()
	applyEnvOverrides(cfg)

	if cfg.Pipeline.WorkerCount != Default().Pipeline.WorkerCount {
		t.Error("malformed int should keep default")
	}
	if cfg.Scoring.KeepThreshold != Default().Scoring.KeepThreshold {
		t.Error("malformed float should keep default")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Replay.BufferSize != 10000 {
		t.Errorf("BufferSize = %d, want 10000", cfg.Replay.BufferSize)
	}
	if cfg.Coordinator.SampleQueueDepth != 2 || cfg.Coordinator.ReplayQueueDepth != 4 {
		t.Errorf("queue depths = %d/%d, want 2/4",
			cfg.Coordinator.SampleQueueDepth, cfg.Coordinator.ReplayQueueDepth)
	}
	if cfg.Coordinator.LearnerQueueSize != 16 {
		t.Errorf("LearnerQueueSize = %d, want 16", cfg.Coordinator.LearnerQueueSize)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
replay:
  buffer_size: 2048
  num_shards: 4
  alpha: 0.5
coordinator:
  max_weight_sync_delay: 100
  staleness_warn_after: 5s
checkpoint:
  enabled: true
  backend: local
  dir: /tmp/ckpt
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Replay.BufferSize != 2048 || cfg.Replay.NumShards != 4 {
		t.Errorf("replay = %+v, want buffer 2048 across 4 shards", cfg.Replay)
	}
	if cfg.Replay.Alpha != 0.5 {
		t.Errorf("Alpha = %v, want 0.5", cfg.Replay.Alpha)
	}
	if cfg.Coordinator.MaxWeightSyncDelay != 100 {
		t.Errorf("MaxWeightSyncDelay = %d, want 100", cfg.Coordinator.MaxWeightSyncDelay)
	}
	if cfg.Coordinator.StalenessWarnAfter.Std() != 5*time.Second {
		t.Errorf("StalenessWarnAfter = %v, want 5s", cfg.Coordinator.StalenessWarnAfter.Std())
	}
	// Unset file fields keep defaults.
	if cfg.Replay.TrainBatchSize != 512 {
		t.Errorf("TrainBatchSize = %d, want default 512", cfg.Replay.TrainBatchSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BUFFER_SIZE", "4096")
	t.Setenv("NUM_REPLAY_SHARDS", "2")
	t.Setenv("CHECKPOINT_BACKEND", "gs")
	t.Setenv("CHECKPOINT_BUCKET", "replay-ckpts")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Replay.BufferSize != 4096 || cfg.Replay.NumShards != 2 {
		t.Errorf("env overrides not applied: %+v", cfg.Replay)
	}
	if cfg.Checkpoint.Backend != "gs" || cfg.Checkpoint.Bucket != "replay-ckpts" {
		t.Errorf("checkpoint overrides not applied: %+v", cfg.Checkpoint)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero buffer", func(c *Config) { c.Replay.BufferSize = 0 }},
		{"zero shards", func(c *Config) { c.Replay.NumShards = 0 }},
		{"buffer smaller than shards", func(c *Config) { c.Replay.BufferSize = 1; c.Replay.NumShards = 2 }},
		{"negative alpha", func(c *Config) { c.Replay.Alpha = -1 }},
		{"beta above one", func(c *Config) { c.Replay.Beta = 1.5 }},
		{"zero eps", func(c *Config) { c.Replay.Eps = 0 }},
		{"zero sync delay", func(c *Config) { c.Coordinator.MaxWeightSyncDelay = 0 }},
		{"unknown backend", func(c *Config) { c.Checkpoint.Backend = "ftp" }},
		{"blob backend without bucket", func(c *Config) { c.Checkpoint.Backend = "s3"; c.Checkpoint.Bucket = "" }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: Validate accepted invalid config", tc.name)
		}
	}
}

// Package config loads coordinator configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apexrl/replay-coordinator/internal/logging"
	"github.com/apexrl/replay-coordinator/internal/metrics"
)

// Config is the root configuration.
type Config struct {
	Logging     logging.Config    `yaml:"logging"`
	Metrics     metrics.Config    `yaml:"metrics"`
	Replay      ReplayConfig      `yaml:"replay"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Workers     WorkersConfig     `yaml:"workers"`
	Checkpoint  CheckpointConfig  `yaml:"checkpoint"`
}

// ReplayConfig sizes the sharded prioritized replay buffers.
type ReplayConfig struct {
	LearningStarts int     `yaml:"learning_starts"`
	BufferSize     int     `yaml:"buffer_size"`
	TrainBatchSize int     `yaml:"train_batch_size"`
	NumShards      int     `yaml:"num_shards"`
	Alpha          float64 `yaml:"alpha"`
	Beta           float64 `yaml:"beta"`
	Eps            float64 `yaml:"eps"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// CoordinatorConfig tunes the control loop.
type CoordinatorConfig struct {
	MaxWeightSyncDelay int      `yaml:"max_weight_sync_delay"`
	SampleQueueDepth   int      `yaml:"sample_queue_depth"`
	ReplayQueueDepth   int      `yaml:"replay_queue_depth"`
	LearnerQueueSize   int      `yaml:"learner_queue_size"`
	StalenessWarnAfter Duration `yaml:"staleness_warn_after"`
	Debug              bool     `yaml:"debug"`
}

// WorkersConfig configures the in-process reference rollout workers.
type WorkersConfig struct {
	Num             int   `yaml:"num"`
	SampleBatchSize int   `yaml:"sample_batch_size"`
	Seed            int64 `yaml:"seed"`
}

// CheckpointConfig configures sample checkpoint persistence.
type CheckpointConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Backend  string `yaml:"backend"` // "local" | "gs" | "s3" | "file"
	Dir      string `yaml:"dir"`     // local directory for backend=local
	Bucket   string `yaml:"bucket"`  // bucket name for blob backends
	Prefix   string `yaml:"prefix"`
	Compress bool   `yaml:"compress"` // write .tsv.zst instead of .tsv
	Every    int    `yaml:"every"`    // save every N coordinator ticks; 0 = manual only

	// ArchiveOnExit writes a parquet export of the buffer contents during
	// shutdown, alongside the sample checkpoints.
	ArchiveOnExit bool `yaml:"archive_on_exit"`
}

// Default returns the baseline configuration before file and env overrides.
func Default() Config {
	return Config{
		Logging: logging.Config{Format: "text", Level: "info"},
		Metrics: metrics.Config{Enabled: false, Address: ":9090"},
		Replay: ReplayConfig{
			LearningStarts: 1000,
			BufferSize:     10000,
			TrainBatchSize: 512,
			NumShards:      1,
			Alpha:          0.6,
			Beta:           0.4,
			Eps:            1e-6,
		},
		Coordinator: CoordinatorConfig{
			MaxWeightSyncDelay: 400,
			SampleQueueDepth:   2,
			ReplayQueueDepth:   4,
			LearnerQueueSize:   16,
			StalenessWarnAfter: Duration(30 * time.Second),
		},
		Workers: WorkersConfig{
			Num:             2,
			SampleBatchSize: 50,
			Seed:            1,
		},
		Checkpoint: CheckpointConfig{
			Backend: "local",
			Dir:     "./checkpoints",
		},
	}
}

// Load reads configuration: defaults, then the YAML file at path (if any),
// then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays the subset of settings commonly tweaked per deployment.
func applyEnv(cfg *Config) {
	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)

	if v := os.Getenv("METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = v
	}

	cfg.Replay.BufferSize = getenvInt("BUFFER_SIZE", cfg.Replay.BufferSize)
	cfg.Replay.LearningStarts = getenvInt("LEARNING_STARTS", cfg.Replay.LearningStarts)
	cfg.Replay.TrainBatchSize = getenvInt("TRAIN_BATCH_SIZE", cfg.Replay.TrainBatchSize)
	cfg.Replay.NumShards = getenvInt("NUM_REPLAY_SHARDS", cfg.Replay.NumShards)

	cfg.Coordinator.MaxWeightSyncDelay = getenvInt("MAX_WEIGHT_SYNC_DELAY", cfg.Coordinator.MaxWeightSyncDelay)
	cfg.Workers.Num = getenvInt("NUM_WORKERS", cfg.Workers.Num)

	cfg.Checkpoint.Backend = getenvDefault("CHECKPOINT_BACKEND", cfg.Checkpoint.Backend)
	cfg.Checkpoint.Dir = getenvDefault("CHECKPOINT_DIR", cfg.Checkpoint.Dir)
	cfg.Checkpoint.Bucket = getenvDefault("CHECKPOINT_BUCKET", cfg.Checkpoint.Bucket)
	if os.Getenv("CHECKPOINT_ENABLED") == "true" {
		cfg.Checkpoint.Enabled = true
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Replay.BufferSize <= 0 {
		return errors.New("replay.buffer_size must be greater than zero")
	}
	if c.Replay.NumShards <= 0 {
		return errors.New("replay.num_shards must be greater than zero")
	}
	if c.Replay.BufferSize < c.Replay.NumShards {
		return fmt.Errorf("replay.buffer_size %d smaller than num_shards %d", c.Replay.BufferSize, c.Replay.NumShards)
	}
	if c.Replay.TrainBatchSize <= 0 {
		return errors.New("replay.train_batch_size must be greater than zero")
	}
	if c.Replay.Alpha < 0 {
		return errors.New("replay.alpha must be non-negative")
	}
	if c.Replay.Beta < 0 || c.Replay.Beta > 1 {
		return errors.New("replay.beta must be in [0, 1]")
	}
	if c.Replay.Eps <= 0 {
		return errors.New("replay.eps must be positive")
	}
	if c.Coordinator.SampleQueueDepth <= 0 || c.Coordinator.ReplayQueueDepth <= 0 {
		return errors.New("coordinator queue depths must be positive")
	}
	if c.Coordinator.MaxWeightSyncDelay <= 0 {
		return errors.New("coordinator.max_weight_sync_delay must be positive")
	}
	switch c.Checkpoint.Backend {
	case "", "local", "file", "gs", "s3":
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.Backend != "local" && c.Checkpoint.Backend != "" && c.Checkpoint.Backend != "file" && c.Checkpoint.Bucket == "" {
		return fmt.Errorf("checkpoint backend %q requires a bucket", c.Checkpoint.Backend)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

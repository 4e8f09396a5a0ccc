package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apexrl/replay-coordinator/internal/checkpoint"
	"github.com/apexrl/replay-coordinator/internal/config"
	"github.com/apexrl/replay-coordinator/internal/coordinator"
	"github.com/apexrl/replay-coordinator/internal/learner"
	"github.com/apexrl/replay-coordinator/internal/logging"
	"github.com/apexrl/replay-coordinator/internal/metrics"
	"github.com/apexrl/replay-coordinator/internal/shard"
	"github.com/apexrl/replay-coordinator/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging)
	log := logging.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metrics.Init("replay_coordinator")
		go func() {
			log.Info("metrics server listening", "address", cfg.Metrics.Address)
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	// Replay shards split the buffer evenly.
	shards := make([]*shard.ReplayShard, cfg.Replay.NumShards)
	for i := range shards {
		s, err := shard.New(shard.Config{
			ID:           i,
			Capacity:     cfg.Replay.BufferSize / cfg.Replay.NumShards,
			ReplayStarts: cfg.Replay.LearningStarts / cfg.Replay.NumShards,
			BatchSize:    cfg.Replay.TrainBatchSize,
			Alpha:        cfg.Replay.Alpha,
			Beta:         cfg.Replay.Beta,
			Eps:          cfg.Replay.Eps,
			Seed:         cfg.Workers.Seed + int64(i),
		})
		if err != nil {
			log.Error("failed to create replay shard", "shard_id", i, "error", err)
			os.Exit(1)
		}
		shards[i] = s
	}

	evaluator := worker.NewLocalEvaluator(worker.EvaluatorConfig{})
	learn := learner.New(evaluator, cfg.Coordinator.LearnerQueueSize)

	workers := make([]coordinator.RolloutWorker, cfg.Workers.Num)
	for i := range workers {
		workers[i] = worker.NewRollout(worker.Config{
			ID:        i,
			BatchSize: cfg.Workers.SampleBatchSize,
			Seed:      cfg.Workers.Seed + int64(100+i),
		})
	}

	var store checkpoint.Store
	if cfg.Checkpoint.Enabled {
		store, err = checkpoint.NewStore(ctx, checkpoint.Config{
			Backend: cfg.Checkpoint.Backend,
			Dir:     cfg.Checkpoint.Dir,
			Bucket:  cfg.Checkpoint.Bucket,
			Prefix:  cfg.Checkpoint.Prefix,
		})
		if err != nil {
			log.Error("failed to create checkpoint store", "error", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	coord, err := coordinator.New(ctx, coordinator.Config{
		MaxWeightSyncDelay: cfg.Coordinator.MaxWeightSyncDelay,
		SampleQueueDepth:   cfg.Coordinator.SampleQueueDepth,
		ReplayQueueDepth:   cfg.Coordinator.ReplayQueueDepth,
		StalenessWarnAfter: cfg.Coordinator.StalenessWarnAfter.Std(),
		Seed:               cfg.Workers.Seed,
		Debug:              cfg.Coordinator.Debug,
		Store:              store,
		Compress:           cfg.Checkpoint.Compress,
		CheckpointEvery:    cfg.Checkpoint.Every,
	}, workers, shards, evaluator, learn)
	if err != nil {
		log.Error("failed to create coordinator", "error", err)
		os.Exit(1)
	}

	if store != nil {
		switch err := coord.Restore(ctx); {
		case err == nil:
			log.Info("resumed from checkpoint", "steps_sampled", coord.StepsSampled())
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			log.Info("no checkpoint found, starting fresh")
		default:
			log.Error("checkpoint restore failed", "error", err)
			os.Exit(1)
		}
	}

	learn.Start()

	// Periodic stats reporting.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info("pipeline stats", "stats", coord.Stats(ctx))
			}
		}
	}()

	err = coord.Run(ctx)

	if store != nil && cfg.Checkpoint.ArchiveOnExit {
		exportCtx, exportCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, aerr := coord.ExportArchive(exportCtx); aerr != nil {
			log.Error("archive export failed", "error", aerr)
		}
		exportCancel()
	}
	coord.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("coordinator failed", "error", err)
		os.Exit(1)
	}
	log.Info("replay coordinator stopped cleanly",
		"steps_sampled", coord.StepsSampled(),
		"steps_trained", coord.StepsTrained())
}

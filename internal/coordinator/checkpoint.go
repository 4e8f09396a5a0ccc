package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/apexrl/replay-coordinator/internal/actor"
	"github.com/apexrl/replay-coordinator/internal/archive"
	"github.com/apexrl/replay-coordinator/internal/checkpoint"
	"github.com/apexrl/replay-coordinator/internal/logging"
	"github.com/apexrl/replay-coordinator/internal/metrics"
	"github.com/apexrl/replay-coordinator/internal/replay"
)

// SaveCheckpoint drains every shard into a sample file and writes the
// progress manifest. Shards keep serving replay traffic while the save runs;
// one GetData request per shard is kept in flight so no shard's mailbox is
// flooded. Returns the sample file name.
func (c *Coordinator) SaveCheckpoint(ctx context.Context) (string, error) {
	if c.cfg.Store == nil {
		return "", errors.New("no checkpoint store configured")
	}

	start := time.Now()
	stepsSampled := c.StepsSampled()
	name := checkpoint.SampleFileName(stepsSampled, c.cfg.Compress)
	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	log := logging.CheckpointLogger(logging.CorrelationID(ctx), name, stepsSampled)

	lengths := make([]int, len(c.shards))
	for i, s := range c.shards {
		n, err := s.BufferLength().Wait(ctx)
		if err != nil {
			return "", fmt.Errorf("read shard %d length: %w", s.ID(), err)
		}
		lengths[i] = n
		if mt := metrics.Get(); mt != nil {
			mt.ShardBufferFill.WithLabelValues(strconv.Itoa(s.ID())).Set(float64(n))
		}
	}

	w, err := c.cfg.Store.NewWriter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create sample file %s: %w", name, err)
	}
	enc, err := checkpoint.NewSampleEncoder(w, name)
	if err != nil {
		w.Close()
		return "", err
	}

	total, err := c.drainShards(ctx, lengths, enc)
	if err != nil {
		enc.Close()
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("commit sample file %s: %w", name, err)
	}

	m := &checkpoint.Manifest{
		RunID:        c.runID,
		StepsSampled: stepsSampled,
		StepsTrained: c.StepsTrained(),
		SampleFile:   name,
		ShardLengths: lengths,
		CreatedAt:    time.Now().UTC(),
	}
	if err := checkpoint.SaveManifest(ctx, c.cfg.Store, m); err != nil {
		return "", err
	}

	if mt := metrics.Get(); mt != nil {
		mt.CheckpointDuration.Observe(time.Since(start).Seconds())
	}
	log.Info("checkpoint saved", "transitions", total, "duration", time.Since(start).Round(time.Millisecond).String())
	return name, nil
}

// drainShards streams every shard's contents into the encoder via chunked
// GetData calls, one outstanding request per shard.
func (c *Coordinator) drainShards(ctx context.Context, lengths []int, enc *checkpoint.SampleEncoder) (int, error) {
	pool := actor.NewTaskPool[int, []replay.Transition]()
	cursors := make([]int, len(c.shards))
	for i, s := range c.shards {
		if lengths[i] > 0 {
			pool.Add(i, s.GetData(0, checkpoint.RestoreChunkSize))
			cursors[i] = checkpoint.RestoreChunkSize
		}
	}

	var total int
	for pool.Count() > 0 {
		completions := pool.Completed()
		if len(completions) == 0 {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(time.Millisecond):
			}
			continue
		}
		for _, done := range completions {
			if done.Err != nil {
				return total, fmt.Errorf("drain shard %d: %w", done.Actor, done.Err)
			}
			for _, t := range done.Value {
				if err := enc.Write(t); err != nil {
					return total, fmt.Errorf("write transition: %w", err)
				}
				total++
			}
			i := done.Actor
			if cursors[i] < lengths[i] {
				pool.Add(i, c.shards[i].GetData(cursors[i], checkpoint.RestoreChunkSize))
				cursors[i] += checkpoint.RestoreChunkSize
			}
		}
	}
	return total, nil
}

// Restore reloads the latest checkpoint: transitions stream out of the
// sample file in chunks and round-robin across the shards, and the step
// counters resume from the manifest. checkpoint.ErrNoCheckpoint means a
// fresh start.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.cfg.Store == nil {
		return errors.New("no checkpoint store configured")
	}

	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	m, err := checkpoint.LoadManifest(ctx, c.cfg.Store)
	if err != nil {
		return err
	}
	log := logging.CheckpointLogger(logging.CorrelationID(ctx), m.SampleFile, m.StepsSampled)

	r, err := c.cfg.Store.NewReader(ctx, m.SampleFile)
	if err != nil {
		return fmt.Errorf("open sample file %s: %w", m.SampleFile, err)
	}
	dec, err := checkpoint.NewSampleDecoder(r, m.SampleFile)
	if err != nil {
		r.Close()
		return err
	}
	defer dec.Close()

	var (
		total int
		next  int
		chunk []replay.Transition
	)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		s := c.shards[next%len(c.shards)]
		next++
		if _, err := s.AddBatch(replay.FromTransitions(chunk)).Wait(ctx); err != nil {
			return fmt.Errorf("restore into shard %d: %w", s.ID(), err)
		}
		total += len(chunk)
		chunk = chunk[:0]
		return nil
	}

	for {
		t, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read sample file %s: %w", m.SampleFile, err)
		}
		chunk = append(chunk, t)
		if len(chunk) == checkpoint.RestoreChunkSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	c.stepsSampled.Store(m.StepsSampled)
	c.stepsTrained.Store(m.StepsTrained)
	log.Info("checkpoint restored", "transitions", total, "run_id", m.RunID)
	return nil
}

// ExportArchive writes the current buffer contents as a parquet file in the
// checkpoint store, for offline analysis. Returns the file name.
func (c *Coordinator) ExportArchive(ctx context.Context) (string, error) {
	if c.cfg.Store == nil {
		return "", errors.New("no checkpoint store configured")
	}

	name := fmt.Sprintf("archive-%d.parquet", c.StepsSampled())
	exportedAt := time.Now().UTC()

	var rows []archive.TransitionRow
	for _, s := range c.shards {
		n, err := s.BufferLength().Wait(ctx)
		if err != nil {
			return "", fmt.Errorf("read shard %d length: %w", s.ID(), err)
		}
		for start := 0; start < n; start += checkpoint.RestoreChunkSize {
			data, err := s.GetData(start, checkpoint.RestoreChunkSize).Wait(ctx)
			if err != nil {
				return "", fmt.Errorf("export shard %d: %w", s.ID(), err)
			}
			rows = append(rows, archive.Rows(s.ID(), start, data, c.runID, exportedAt)...)
		}
	}

	w, err := c.cfg.Store.NewWriter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("create archive file %s: %w", name, err)
	}
	if err := archive.Write(w, rows); err != nil {
		w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("commit archive file %s: %w", name, err)
	}

	c.log.Info("archive exported", "file", name, "transitions", len(rows))
	return name, nil
}

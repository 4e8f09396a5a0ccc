package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/apexrl/replay-coordinator/internal/checkpoint"
	"github.com/apexrl/replay-coordinator/internal/learner"
	"github.com/apexrl/replay-coordinator/internal/metrics"
	"github.com/apexrl/replay-coordinator/internal/replay"
	"github.com/apexrl/replay-coordinator/internal/shard"
)

// fakeWorker produces fixed-size batches of synthetic transitions and
// records every weight push.
type fakeWorker struct {
	id        int
	batchSize int
	seq       atomic.Int64
	setCalls  atomic.Int64
	sampleErr error
}

func (f *fakeWorker) ID() int { return f.id }

func (f *fakeWorker) Sample(ctx context.Context) (*replay.SampleBatch, error) {
	if f.sampleErr != nil {
		return nil, f.sampleErr
	}
	rows := make([]replay.Transition, f.batchSize)
	for i := range rows {
		v := float64(f.seq.Add(1))
		rows[i] = replay.Transition{
			Obs:    []float64{v, 0, 0, 0},
			Action: []float64{0},
			Reward: v,
			NewObs: []float64{v + 1, 0, 0, 0},
			Done:   false,
			Weight: 1,
		}
	}
	return replay.FromTransitions(rows), nil
}

func (f *fakeWorker) SetWeights(ctx context.Context, weights []float64) error {
	f.setCalls.Add(1)
	return nil
}

// stubEvaluator echoes the batch rewards as TD errors.
type stubEvaluator struct {
	applies atomic.Int64
}

func (s *stubEvaluator) ComputeApply(batch *replay.SampleBatch) ([]float64, error) {
	s.applies.Add(1)
	td := make([]float64, batch.Count())
	copy(td, batch.Rewards)
	return td, nil
}

func (s *stubEvaluator) GetWeights() []float64 {
	return []float64{1, 2, 3}
}

func newShards(t *testing.T, n, capacity, replayStarts, batchSize int) []*shard.ReplayShard {
	t.Helper()
	shards := make([]*shard.ReplayShard, n)
	for i := range shards {
		s, err := shard.New(shard.Config{
			ID:           i,
			Capacity:     capacity,
			ReplayStarts: replayStarts,
			BatchSize:    batchSize,
			Alpha:        0.6,
			Beta:         0.4,
			Eps:          1e-6,
			Seed:         int64(i + 1),
		})
		if err != nil {
			t.Fatalf("shard.New failed: %v", err)
		}
		shards[i] = s
	}
	return shards
}

// stepUntil runs Step until cond holds or the deadline passes.
func stepUntil(t *testing.T, c *Coordinator, cond func() bool) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, err := c.Step(ctx); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestNewRejectsMissingCapabilities(t *testing.T) {
	eval := &stubEvaluator{}
	learn := learner.New(eval, 0)
	shards := newShards(t, 1, 100, 10, 4)
	defer shards[0].Close()

	cfg := Config{MaxWeightSyncDelay: 5}
	if _, err := New(context.Background(), cfg, nil, shards, eval, learn); !errors.Is(err, ErrUnsupportedCapability) {
		t.Fatalf("New without workers = %v, want ErrUnsupportedCapability", err)
	}
	w := &fakeWorker{id: 0, batchSize: 3}
	if _, err := New(context.Background(), cfg, []RolloutWorker{w}, nil, eval, learn); !errors.Is(err, ErrUnsupportedCapability) {
		t.Fatalf("New without shards = %v, want ErrUnsupportedCapability", err)
	}
	if _, err := New(context.Background(), cfg, []RolloutWorker{w}, shards, nil, learn); !errors.Is(err, ErrUnsupportedCapability) {
		t.Fatalf("New without evaluator = %v, want ErrUnsupportedCapability", err)
	}
}

func TestWeightSyncAfterDelay(t *testing.T) {
	eval := &stubEvaluator{}
	learn := learner.New(eval, 0)
	shards := newShards(t, 1, 1000, 500, 4)
	w := &fakeWorker{id: 0, batchSize: 3}

	c, err := New(context.Background(), Config{
		MaxWeightSyncDelay: 5,
		SampleQueueDepth:   1,
	}, []RolloutWorker{w}, shards, eval, learn)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Stop()

	initial := w.setCalls.Load()
	if initial == 0 {
		t.Fatal("no initial weight broadcast")
	}

	// Two 3-row batches cross the delay of 5; the counter resets, so the
	// third batch must not trigger another sync.
	stepUntil(t, c, func() bool { return c.StepsSampled() >= 9 })

	if got := c.NumWeightSyncs(); got != 1 {
		t.Fatalf("weight syncs after 9 sampled steps = %d, want 1", got)
	}
	waitFor(t, func() bool { return w.setCalls.Load() == initial+1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestPipelineTrainsAndUpdatesPriorities(t *testing.T) {
	eval := &stubEvaluator{}
	learn := learner.New(eval, 0)
	learn.Start()
	shards := newShards(t, 2, 200, 10, 4)
	workers := []RolloutWorker{
		&fakeWorker{id: 0, batchSize: 5},
		&fakeWorker{id: 1, batchSize: 5},
	}

	c, err := New(context.Background(), Config{
		MaxWeightSyncDelay: 1000,
	}, workers, shards, eval, learn)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Stop()

	stepUntil(t, c, func() bool { return c.StepsTrained() >= 32 })

	if eval.applies.Load() == 0 {
		t.Fatal("evaluator never ran")
	}

	st := c.Stats(context.Background())
	for _, key := range []string{"steps_sampled", "steps_trained", "sample_throughput", "timing_ms", "pending_sample_tasks", "pending_replay_tasks"} {
		if _, ok := st[key]; !ok {
			t.Errorf("Stats missing %q", key)
		}
	}
	if st["steps_trained"].(int64) < 32 {
		t.Errorf("stats steps_trained = %v, want >= 32", st["steps_trained"])
	}
}

func TestStepRecordsStageDurations(t *testing.T) {
	m := metrics.Init("replay_coordinator")

	eval := &stubEvaluator{}
	learn := learner.New(eval, 0)
	shards := newShards(t, 1, 100, 50, 4)
	w := &fakeWorker{id: 0, batchSize: 2}

	c, err := New(context.Background(), Config{
		MaxWeightSyncDelay: 1000,
		SampleQueueDepth:   1,
	}, []RolloutWorker{w}, shards, eval, learn)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Stop()

	stepUntil(t, c, func() bool { return c.StepsSampled() >= 4 })

	// Every tick observes all three stages.
	if n := testutil.CollectAndCount(m.StageDuration); n != 3 {
		t.Fatalf("stage duration series = %d, want 3 (sample/replay/train)", n)
	}
}

func TestFailedSampleTasksAreReplenished(t *testing.T) {
	eval := &stubEvaluator{}
	learn := learner.New(eval, 0)
	shards := newShards(t, 1, 100, 50, 4)
	good := &fakeWorker{id: 0, batchSize: 2}
	bad := &fakeWorker{id: 1, batchSize: 2, sampleErr: errors.New("actor lost")}

	c, err := New(context.Background(), Config{
		MaxWeightSyncDelay: 1000,
		SampleQueueDepth:   1,
	}, []RolloutWorker{good, bad}, shards, eval, learn)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Stop()

	// The failing worker keeps failing; sampling must continue regardless
	// and the pool depth must hold steady.
	stepUntil(t, c, func() bool { return c.StepsSampled() >= 20 })
	if n := c.samplePool.Count(); n != 2 {
		t.Fatalf("pending sample tasks = %d, want 2 (one per worker)", n)
	}
}

func TestCheckpointSaveRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := checkpoint.NewStore(ctx, checkpoint.Config{Backend: "local", Dir: dir})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	eval := &stubEvaluator{}
	learn := learner.New(eval, 0)
	shards := newShards(t, 2, 500, 400, 4)
	w := &fakeWorker{id: 0, batchSize: 7}

	c, err := New(ctx, Config{
		MaxWeightSyncDelay: 1000,
		Store:              store,
	}, []RolloutWorker{w}, shards, eval, learn)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	stepUntil(t, c, func() bool { return c.StepsSampled() >= 70 })
	sampledAtSave := c.StepsSampled()

	name, err := c.SaveCheckpoint(ctx)
	if err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if !strings.HasPrefix(name, "samples-") {
		t.Fatalf("sample file name = %q", name)
	}
	savedRows := collectRows(t, shards)

	archiveName, err := c.ExportArchive(ctx)
	if err != nil {
		t.Fatalf("ExportArchive failed: %v", err)
	}
	if fi, err := os.Stat(filepath.Join(dir, archiveName)); err != nil || fi.Size() == 0 {
		t.Fatalf("archive file %s missing or empty: %v", archiveName, err)
	}
	c.Stop()

	// Fresh pipeline restores the saved contents round-robin.
	learn2 := learner.New(eval, 0)
	shards2 := newShards(t, 2, 500, 400, 4)
	w2 := &fakeWorker{id: 0, batchSize: 7, sampleErr: errors.New("idle")}
	c2, err := New(ctx, Config{
		MaxWeightSyncDelay: 1000,
		Store:              store,
	}, []RolloutWorker{w2}, shards2, eval, learn2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c2.Stop()

	if err := c2.Restore(ctx); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if c2.StepsSampled() != sampledAtSave {
		t.Errorf("restored steps_sampled = %d, want %d", c2.StepsSampled(), sampledAtSave)
	}

	restoredRows := collectRows(t, shards2)
	if len(restoredRows) != len(savedRows) {
		t.Fatalf("restored %d transitions, want %d", len(restoredRows), len(savedRows))
	}
	// Shard routing differs between runs; compare as multisets.
	sort.Strings(savedRows)
	sort.Strings(restoredRows)
	for i := range savedRows {
		if savedRows[i] != restoredRows[i] {
			t.Fatalf("row %d = %q, want %q", i, restoredRows[i], savedRows[i])
		}
	}
}

func TestRestoreWithoutCheckpoint(t *testing.T) {
	ctx := context.Background()
	store, err := checkpoint.NewStore(ctx, checkpoint.Config{Backend: "local", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer store.Close()

	eval := &stubEvaluator{}
	learn := learner.New(eval, 0)
	shards := newShards(t, 1, 100, 50, 4)
	w := &fakeWorker{id: 0, batchSize: 2, sampleErr: errors.New("idle")}
	c, err := New(ctx, Config{MaxWeightSyncDelay: 10, Store: store}, []RolloutWorker{w}, shards, eval, learn)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Stop()

	if err := c.Restore(ctx); !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		t.Fatalf("Restore on empty store = %v, want ErrNoCheckpoint", err)
	}
}

// collectRows drains every shard's contents into printable keys.
func collectRows(t *testing.T, shards []*shard.ReplayShard) []string {
	t.Helper()
	ctx := context.Background()
	var rows []string
	for _, s := range shards {
		n, err := s.BufferLength().Wait(ctx)
		if err != nil {
			t.Fatalf("BufferLength failed: %v", err)
		}
		for start := 0; start < n; start += checkpoint.RestoreChunkSize {
			data, err := s.GetData(start, checkpoint.RestoreChunkSize).Wait(ctx)
			if err != nil {
				t.Fatalf("GetData failed: %v", err)
			}
			for _, tr := range data {
				rows = append(rows, fmt.Sprintf("%v|%v|%v|%v|%v", tr.Obs, tr.Action, tr.Reward, tr.NewObs, tr.Done))
			}
		}
	}
	return rows
}

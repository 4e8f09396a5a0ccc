package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// manifestName is the fixed key of the progress manifest inside a store.
const manifestName = "manifest.json"

// Manifest records the coordinator's progress alongside the sample file so
// a restart can resume its counters and find the latest samples.
type Manifest struct {
	RunID        string    `json:"run_id"`
	StepsSampled int64     `json:"steps_sampled"`
	StepsTrained int64     `json:"steps_trained"`
	SampleFile   string    `json:"sample_file"`
	ShardLengths []int     `json:"shard_lengths"`
	CreatedAt    time.Time `json:"created_at"`
}

// SaveManifest writes the manifest to the store.
func SaveManifest(ctx context.Context, store Store, m *Manifest) error {
	w, err := store.NewWriter(ctx, manifestName)
	if err != nil {
		return fmt.Errorf("create manifest writer: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		w.Close()
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	return w.Close()
}

// LoadManifest reads the manifest from the store; ErrNoCheckpoint when no
// checkpoint has been saved yet.
func LoadManifest(ctx context.Context, store Store) (*Manifest, error) {
	r, err := store.NewReader(ctx, manifestName)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

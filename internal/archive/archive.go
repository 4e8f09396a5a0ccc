// Package archive exports replay buffer contents as parquet for offline
// analysis. The TSV checkpoint remains the canonical restore format; this
// is a one-way export.
package archive

import (
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/apexrl/replay-coordinator/internal/replay"
)

// SchemaVersion is the version of the export schema.
// Increment this when making breaking changes.
const SchemaVersion = "1.0.0"

// TransitionRow is a single exported transition.
type TransitionRow struct {
	ShardID int32     `parquet:"shard_id"`
	Slot    int32     `parquet:"slot"`
	Obs     []float64 `parquet:"obs"`
	Action  []float64 `parquet:"action"`
	Reward  float64   `parquet:"reward"`
	NewObs  []float64 `parquet:"new_obs"`
	Done    bool      `parquet:"done"`
	Weight  float64   `parquet:"weight"`

	// Export metadata
	RunID      string    `parquet:"run_id"`
	ExportedAt time.Time `parquet:"exported_at,timestamp(millisecond)"`
}

// Rows converts one shard's transitions into export rows.
func Rows(shardID int, startSlot int, ts []replay.Transition, runID string, exportedAt time.Time) []TransitionRow {
	rows := make([]TransitionRow, len(ts))
	for i, t := range ts {
		rows[i] = TransitionRow{
			ShardID:    int32(shardID),
			Slot:       int32(startSlot + i),
			Obs:        t.Obs,
			Action:     t.Action,
			Reward:     t.Reward,
			NewObs:     t.NewObs,
			Done:       t.Done,
			Weight:     t.Weight,
			RunID:      runID,
			ExportedAt: exportedAt,
		}
	}
	return rows
}

// Write writes the rows as a parquet file.
func Write(w io.Writer, rows []TransitionRow) error {
	pw := parquet.NewGenericWriter[TransitionRow](w)
	for off := 0; off < len(rows); {
		n, err := pw.Write(rows[off:])
		if err != nil {
			pw.Close()
			return fmt.Errorf("write parquet rows: %w", err)
		}
		off += n
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// Read reads all rows back from a parquet file. Used by tests and ad-hoc
// inspection tools.
func Read(r io.ReaderAt, size int64) ([]TransitionRow, error) {
	pr := parquet.NewGenericReader[TransitionRow](io.NewSectionReader(r, 0, size))
	defer pr.Close()

	out := make([]TransitionRow, 0, pr.NumRows())
	buf := make([]TransitionRow, 64)
	for {
		n, err := pr.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read parquet rows: %w", err)
		}
	}
}

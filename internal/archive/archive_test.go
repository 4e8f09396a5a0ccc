package archive

import (
	"bytes"
	"testing"
	"time"

	"github.com/apexrl/replay-coordinator/internal/replay"
)

func TestParquetRoundTrip(t *testing.T) {
	ts := []replay.Transition{
		{
			Obs:    []float64{0.1, 0.2},
			Action: []float64{1},
			Reward: 1,
			NewObs: []float64{0.3, 0.4},
			Done:   false,
			Weight: 1,
		},
		{
			Obs:    []float64{-0.5, 2},
			Action: []float64{0},
			Reward: -1,
			NewObs: []float64{-0.4, 2.1},
			Done:   true,
			Weight: 0.5,
		},
	}
	exportedAt := time.Now().Truncate(time.Millisecond)
	rows := Rows(3, 10, ts, "run-42", exportedAt)

	var buf bytes.Buffer
	if err := Write(&buf, rows); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("read %d rows, want %d", len(got), len(rows))
	}
	for i, row := range got {
		if row.ShardID != 3 || row.Slot != int32(10+i) {
			t.Errorf("row %d shard/slot = %d/%d, want 3/%d", i, row.ShardID, row.Slot, 10+i)
		}
		if row.Reward != ts[i].Reward || row.Done != ts[i].Done || row.Weight != ts[i].Weight {
			t.Errorf("row %d = %+v, want transition %+v", i, row, ts[i])
		}
		if row.RunID != "run-42" {
			t.Errorf("row %d run_id = %q, want run-42", i, row.RunID)
		}
		for j := range ts[i].Obs {
			if row.Obs[j] != ts[i].Obs[j] {
				t.Errorf("row %d obs[%d] = %v, want %v", i, j, row.Obs[j], ts[i].Obs[j])
			}
		}
	}
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, nil); err != nil {
		t.Fatalf("Write of empty rows failed: %v", err)
	}
	got, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("read %d rows from empty file, want 0", len(got))
	}
}

package checkpoint

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/apexrl/replay-coordinator/internal/replay"
	"github.com/apexrl/replay-coordinator/internal/util"
)

// RestoreChunkSize is the number of lines batched together when feeding a
// restored checkpoint back into the shards.
const RestoreChunkSize = 16

// SampleFileName returns the canonical sample file name for a run that has
// sampled the given number of steps. compressed selects the zstd variant.
func SampleFileName(stepsSampled int64, compressed bool) string {
	name := fmt.Sprintf("samples-%d.tsv", stepsSampled)
	if compressed {
		name += ".zst"
	}
	return name
}

// SampleEncoder streams transitions into the tab-separated checkpoint
// format: obs_csv \t action_csv \t reward \t nextObs_csv \t done \t weight.
type SampleEncoder struct {
	w    *bufio.Writer
	zw   *zstd.Encoder
	base io.WriteCloser
}

// NewSampleEncoder wraps the store writer. When name ends in .zst the
// stream is zstd-compressed.
func NewSampleEncoder(w io.WriteCloser, name string) (*SampleEncoder, error) {
	enc := &SampleEncoder{base: w}
	if strings.HasSuffix(name, ".zst") {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		enc.zw = zw
		enc.w = bufio.NewWriter(zw)
	} else {
		enc.w = bufio.NewWriter(w)
	}
	return enc, nil
}

// Write appends one transition line.
func (e *SampleEncoder) Write(t replay.Transition) error {
	_, err := fmt.Fprintf(e.w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		util.JoinFloats(t.Obs),
		util.JoinFloats(t.Action),
		strconv.FormatFloat(t.Reward, 'g', -1, 64),
		util.JoinFloats(t.NewObs),
		strconv.FormatBool(t.Done),
		strconv.FormatFloat(t.Weight, 'g', -1, 64),
	)
	return err
}

// Close flushes and commits the underlying object.
func (e *SampleEncoder) Close() error {
	if err := e.w.Flush(); err != nil {
		e.base.Close()
		return err
	}
	if e.zw != nil {
		if err := e.zw.Close(); err != nil {
			e.base.Close()
			return err
		}
	}
	return e.base.Close()
}

// SampleDecoder streams transitions out of a checkpoint file, decompressing
// transparently when the name ends in .zst.
type SampleDecoder struct {
	sc   *bufio.Scanner
	zr   *zstd.Decoder
	base io.ReadCloser
	line int
}

// NewSampleDecoder wraps the store reader.
func NewSampleDecoder(r io.ReadCloser, name string) (*SampleDecoder, error) {
	dec := &SampleDecoder{base: r}
	if strings.HasSuffix(name, ".zst") {
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		dec.zr = zr
		dec.sc = bufio.NewScanner(zr.IOReadCloser())
	} else {
		dec.sc = bufio.NewScanner(r)
	}
	dec.sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return dec, nil
}

// Next returns the next transition, or io.EOF after the last line.
func (d *SampleDecoder) Next() (replay.Transition, error) {
	for d.sc.Scan() {
		d.line++
		line := strings.TrimSpace(d.sc.Text())
		if line == "" {
			continue
		}
		t, err := parseLine(line)
		if err != nil {
			return replay.Transition{}, fmt.Errorf("line %d: %w", d.line, err)
		}
		return t, nil
	}
	if err := d.sc.Err(); err != nil {
		return replay.Transition{}, err
	}
	return replay.Transition{}, io.EOF
}

// Close releases the reader.
func (d *SampleDecoder) Close() error {
	if d.zr != nil {
		d.zr.Close()
	}
	return d.base.Close()
}

func parseLine(line string) (replay.Transition, error) {
	cols := strings.Split(line, "\t")
	if len(cols) != 6 {
		return replay.Transition{}, fmt.Errorf("expected 6 columns, got %d", len(cols))
	}

	obs, err := util.ParseFloats(cols[0])
	if err != nil {
		return replay.Transition{}, fmt.Errorf("obs: %w", err)
	}
	action, err := util.ParseFloats(cols[1])
	if err != nil {
		return replay.Transition{}, fmt.Errorf("action: %w", err)
	}
	reward, err := strconv.ParseFloat(cols[2], 64)
	if err != nil {
		return replay.Transition{}, fmt.Errorf("reward: %w", err)
	}
	newObs, err := util.ParseFloats(cols[3])
	if err != nil {
		return replay.Transition{}, fmt.Errorf("next obs: %w", err)
	}
	done, err := strconv.ParseBool(cols[4])
	if err != nil {
		return replay.Transition{}, fmt.Errorf("done: %w", err)
	}
	weight, err := strconv.ParseFloat(cols[5], 64)
	if err != nil {
		return replay.Transition{}, fmt.Errorf("weight: %w", err)
	}

	return replay.Transition{
		Obs:    obs,
		Action: action,
		Reward: reward,
		NewObs: newObs,
		Done:   done,
		Weight: weight,
	}, nil
}

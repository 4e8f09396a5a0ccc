// Package stats provides rolling timing and window statistics for the
// coordinator's stats surface. Prometheus covers the operational export;
// these accumulators back the in-process Stats() map.
package stats

import (
	"math"
	"sync"
	"time"
)

const defaultWindow = 10

// TimerStat tracks a rolling mean duration plus units processed for
// throughput. The window keeps only the most recent samples so the mean
// follows the current steady state rather than the whole run.
type TimerStat struct {
	mu     sync.Mutex
	window int

	samples []float64 // seconds
	units   []float64

	count      int64
	totalTime  float64
	totalUnits float64
}

// NewTimerStat creates a timer with the default rolling window.
func NewTimerStat() *TimerStat {
	return &TimerStat{window: defaultWindow}
}

// Time runs fn and records its wall-clock duration.
func (t *TimerStat) Time(fn func()) {
	start := time.Now()
	fn()
	t.Push(time.Since(start).Seconds())
}

// Push records one duration sample in seconds.
func (t *TimerStat) Push(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = append(t.samples, seconds)
	if len(t.samples) > t.window {
		t.samples = t.samples[1:]
	}
	t.count++
	t.totalTime += seconds
}

// PushUnits records the number of units processed during the most recent
// timed interval, for throughput reporting.
func (t *TimerStat) PushUnits(n float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.units = append(t.units, n)
	if len(t.units) > t.window {
		t.units = t.units[1:]
	}
	t.totalUnits += n
}

// Mean returns the rolling mean duration in seconds.
func (t *TimerStat) Mean() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range t.samples {
		sum += s
	}
	return sum / float64(len(t.samples))
}

// MeanMillis returns the rolling mean duration in milliseconds, rounded
// to three decimals as reported on the stats surface.
func (t *TimerStat) MeanMillis() float64 {
	return math.Round(1000*t.Mean()*1000) / 1000
}

// MeanThroughput returns units per second over the rolling window.
func (t *TimerStat) MeanThroughput() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var timeSum, unitSum float64
	for _, s := range t.samples {
		timeSum += s
	}
	for _, u := range t.units {
		unitSum += u
	}
	if timeSum == 0 {
		return 0
	}
	return unitSum / timeSum
}

// Count returns the total number of samples pushed.
func (t *TimerStat) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// WindowStat tracks summary statistics over the most recent n values,
// used for the learner queue depth distribution.
type WindowStat struct {
	mu    sync.Mutex
	name  string
	items []float64
	size  int
	count int64
}

// NewWindowStat creates a window statistic with the given name and size.
func NewWindowStat(name string, size int) *WindowStat {
	if size < 1 {
		size = 1
	}
	return &WindowStat{name: name, size: size}
}

// Push records one value.
func (w *WindowStat) Push(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.items = append(w.items, v)
	if len(w.items) > w.size {
		w.items = w.items[1:]
	}
	w.count++
}

// Stats returns the window summary keyed by the stat name.
func (w *WindowStat) Stats() map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := map[string]float64{
		w.name + "_count": float64(w.count),
	}
	if len(w.items) == 0 {
		return out
	}

	mean := 0.0
	minV := w.items[0]
	maxV := w.items[0]
	for _, v := range w.items {
		mean += v
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	mean /= float64(len(w.items))

	var variance float64
	for _, v := range w.items {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(w.items))

	out[w.name+"_mean"] = mean
	out[w.name+"_min"] = minV
	out[w.name+"_max"] = maxV
	out[w.name+"_std"] = math.Sqrt(variance)
	return out
}

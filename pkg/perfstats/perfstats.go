// Package perfstats records how long the stages of frame processing take,
// so that it's easy to compare detector backends and hardware.
package perfstats

import (
	"sync/atomic"
	"time"
)

// Accumulate samples of how long something took.
// Not safe for concurrent use.
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// MovingAverage is an exponential moving average of durations, safe for concurrent use.
// Each new sample has a weight of 1/64.
type MovingAverage struct {
	nanoseconds atomic.Uint64
	samples     atomic.Int64
}

func (m *MovingAverage) AddSample(v time.Duration) {
	vu := uint64(max(v, 0))
	// We don't bother about strict correctness here, with CompareAndSwap,
	// because this is just sampled stats, and it's OK to miss one or two samples.
	if m.samples.Add(1) == 1 {
		m.nanoseconds.Store(vu)
	} else {
		m.nanoseconds.Store((m.nanoseconds.Load()*63 + vu) >> 6)
	}
}

// Time a function and add it as a sample
func (m *MovingAverage) Measure(f func()) {
	start := time.Now()
	f()
	m.AddSample(time.Since(start))
}

func (m *MovingAverage) Average() time.Duration {
	return time.Duration(m.nanoseconds.Load())
}

package monitor

import (
	"sync/atomic"

	"github.com/cyclopcam/firewatch/pkg/perfstats"
)

// Counters are cumulative since the monitor was created
type Counters struct {
	TicksProcessed atomic.Int64 // Ticks whose score reached the incident machine
	TicksSkipped   atomic.Int64 // Refreshes dropped because a tick was still in flight
	TicksIdle      atomic.Int64 // Refreshes with no new frame to look at
	TicksFailed    atomic.Int64 // Detector errors
	TicksPaused    atomic.Int64 // Refreshes ignored while paused
	AlertsSent     atomic.Int64
	AlertsFailed   atomic.Int64
	AlertsSkipped  atomic.Int64 // Backend already knew about the fire

	DetectTime perfstats.MovingAverage
	FuseTime   perfstats.MovingAverage
}

// SYNC-FIREWATCH-COUNTERS-JSON
type CounterSnapshot struct {
	TicksProcessed int64   `json:"ticksProcessed"`
	TicksSkipped   int64   `json:"ticksSkipped"`
	TicksIdle      int64   `json:"ticksIdle"`
	TicksFailed    int64   `json:"ticksFailed"`
	TicksPaused    int64   `json:"ticksPaused"`
	AlertsSent     int64   `json:"alertsSent"`
	AlertsFailed   int64   `json:"alertsFailed"`
	AlertsSkipped  int64   `json:"alertsSkipped"`
	DetectMS       float64 `json:"detectMS"` // Moving average of detector time
	FuseMS         float64 `json:"fuseMS"`   // Moving average of fusion time
}

func (c *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		TicksProcessed: c.TicksProcessed.Load(),
		TicksSkipped:   c.TicksSkipped.Load(),
		TicksIdle:      c.TicksIdle.Load(),
		TicksFailed:    c.TicksFailed.Load(),
		TicksPaused:    c.TicksPaused.Load(),
		AlertsSent:     c.AlertsSent.Load(),
		AlertsFailed:   c.AlertsFailed.Load(),
		AlertsSkipped:  c.AlertsSkipped.Load(),
		DetectMS:       float64(c.DetectTime.Average().Microseconds()) / 1000,
		FuseMS:         float64(c.FuseTime.Average().Microseconds()) / 1000,
	}
}

package monitor

import (
	"sync"
	"time"
)

// Refresher is the pacing signal of the sampling loop.
// Every value received from C is one opportunity to run a tick.
type Refresher interface {
	C() <-chan time.Time
	Stop()
}

type tickerRefresher struct {
	ticker *time.Ticker
}

// NewTickerRefresher fires hz times per second
func NewTickerRefresher(hz float64) Refresher {
	period := time.Duration(float64(time.Second) / max(hz, 0.01))
	return &tickerRefresher{
		ticker: time.NewTicker(period),
	}
}

func (t *tickerRefresher) C() <-chan time.Time {
	return t.ticker.C
}

func (t *tickerRefresher) Stop() {
	t.ticker.Stop()
}

// ManualRefresher fires only when told to. It is used by tests to step the sampling loop.
type ManualRefresher struct {
	ch       chan time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func NewManualRefresher() *ManualRefresher {
	return &ManualRefresher{
		ch:   make(chan time.Time),
		stop: make(chan struct{}),
	}
}

func (r *ManualRefresher) C() <-chan time.Time {
	return r.ch
}

func (r *ManualRefresher) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
	})
}

// Fire blocks until the sampling loop has received the refresh, or the refresher is stopped.
// Returns false if the refresher was stopped.
func (r *ManualRefresher) Fire() bool {
	select {
	case r.ch <- time.Now():
		return true
	case <-r.stop:
		return false
	}
}

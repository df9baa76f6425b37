package incident

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// DispatchResult is the outcome of one debounced alert
type DispatchResult struct {
	Alert    AlertContext
	Attempts int
	Skipped  bool  // The dispatcher reported ErrAlreadyActive
	Err      error // nil on success
}

// Debouncer coalesces alert requests into single notifications.
//
// A request opens a window of length delay. A request that arrives while the
// window is open replaces the pending one and restarts the window. When the
// window closes, the pending alert is dispatched on its own goroutine, so a slow
// or failing Dispatcher never blocks callers of Request.
type Debouncer struct {
	log        logs.Log
	delay      time.Duration
	retry      RetryPolicy
	dispatcher Dispatcher

	// Prepare, if set, is called on the dispatch goroutine just before the
	// first attempt, and may enrich the alert (eg with a snapshot URL).
	Prepare func(ctx context.Context, alert *AlertContext)

	// OnResult, if set, is called on the dispatch goroutine after the final attempt
	OnResult func(result DispatchResult)

	lock      sync.Mutex
	pending   *AlertContext
	deadline  time.Time
	stopRetry chan struct{} // Closed by StopRetries. Replaced after every close.

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	loopDone  chan struct{}
	inFlight  sync.WaitGroup
	closeOnce sync.Once
}

func NewDebouncer(log logs.Log, delay time.Duration, retry RetryPolicy, dispatcher Dispatcher) *Debouncer {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Debouncer{
		log:        logs.NewPrefixLogger(log, "Alert"),
		delay:      max(delay, 0),
		retry:      retry,
		dispatcher: dispatcher,
		wake:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		loopDone:   make(chan struct{}),
		stopRetry:  make(chan struct{}),
	}
	go d.loop()
	return d
}

// Request schedules an alert, replacing any alert that is still waiting for its window to close
func (d *Debouncer) Request(alert AlertContext) {
	d.lock.Lock()
	if d.pending != nil {
		d.log.Infof("Alert for incident %v replaces pending alert for incident %v", alert.IncidentID, d.pending.IncidentID)
	}
	d.pending = &alert
	d.deadline = time.Now().Add(d.delay)
	d.lock.Unlock()
	d.poke()
}

// StopRetries ends the backoff loop of every alert that is already being dispatched.
// An attempt that is in progress runs to completion, and a pending alert is still
// dispatched when its window closes. Only Close aborts an attempt.
func (d *Debouncer) StopRetries() {
	d.lock.Lock()
	close(d.stopRetry)
	d.stopRetry = make(chan struct{})
	d.lock.Unlock()
}

// Pending returns true if an alert is waiting for its window to close
func (d *Debouncer) Pending() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.pending != nil
}

// Close stops the timer, aborts in-flight dispatches, and waits for them to exit.
// A pending alert is discarded.
func (d *Debouncer) Close() {
	d.closeOnce.Do(func() {
		d.cancel()
		<-d.loopDone
		d.inFlight.Wait()
	})
}

func (d *Debouncer) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Debouncer) loop() {
	defer close(d.loopDone)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		d.lock.Lock()
		pending := d.pending
		wait := time.Until(d.deadline)
		if pending != nil && wait <= 0 {
			d.pending = nil
			stopRetry := d.stopRetry
			// Add before unlocking, so that Close cannot miss this dispatch
			d.inFlight.Add(1)
			d.lock.Unlock()
			go d.dispatch(stopRetry, *pending)
			continue
		}
		d.lock.Unlock()

		if pending != nil {
			timer.Reset(wait)
		}
		select {
		case <-d.wake:
			timer.Stop()
		case <-timer.C:
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Debouncer) dispatch(stopRetry <-chan struct{}, alert AlertContext) {
	defer d.inFlight.Done()
	ctx := d.ctx

	if d.Prepare != nil {
		d.Prepare(ctx, &alert)
	}

	result := DispatchResult{Alert: alert}
	maxAttempts := d.retry.Attempts()
attempts:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		result.Err = d.dispatcher.Notify(ctx, alert)
		if errors.Is(result.Err, ErrAlreadyActive) {
			d.log.Infof("Alert for incident %v skipped: %v", alert.IncidentID, result.Err)
			result.Skipped = true
			result.Err = nil
			break
		}
		if result.Err == nil {
			d.log.Infof("Alert for incident %v sent", alert.IncidentID)
			break
		}
		d.log.Errorf("Alert for incident %v failed (attempt %v of %v): %v", alert.IncidentID, attempt, maxAttempts, result.Err)
		if attempt == maxAttempts {
			break
		}
		pause := d.retry.Backoff(attempt)
		select {
		case <-time.After(pause):
		case <-stopRetry:
			d.log.Infof("No more retries of alert for incident %v, because the incident was reset", alert.IncidentID)
			break attempts
		case <-ctx.Done():
			d.log.Infof("Giving up on alert for incident %v: %v", alert.IncidentID, ctx.Err())
			break attempts
		}
	}

	if d.OnResult != nil {
		d.OnResult(result)
	}
}

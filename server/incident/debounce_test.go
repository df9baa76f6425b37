package incident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	lock     sync.Mutex
	alerts   []AlertContext
	failures atomic.Int32 // Number of calls that will fail before we start succeeding
}

func (f *fakeDispatcher) Notify(ctx context.Context, alert AlertContext) error {
	f.lock.Lock()
	f.alerts = append(f.alerts, alert)
	f.lock.Unlock()
	if f.failures.Add(-1) >= 0 {
		return errors.New("backend unreachable")
	}
	return nil
}

func (f *fakeDispatcher) sent() []AlertContext {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]AlertContext(nil), f.alerts...)
}

func collectResults(d *Debouncer) chan DispatchResult {
	results := make(chan DispatchResult, 10)
	d.OnResult = func(r DispatchResult) {
		results <- r
	}
	return results
}

func TestDebounceCoalesces(t *testing.T) {
	fd := &fakeDispatcher{}
	d := NewDebouncer(logs.NewTestingLog(t), 50*time.Millisecond, DefaultRetryPolicy(), fd)
	defer d.Close()
	results := collectResults(d)

	d.Request(AlertContext{IncidentID: "a"})
	d.Request(AlertContext{IncidentID: "b"})
	require.True(t, d.Pending())
	d.Request(AlertContext{IncidentID: "c"})

	r := <-results
	require.NoError(t, r.Err)
	require.Equal(t, 1, r.Attempts)
	require.Equal(t, "c", r.Alert.IncidentID)
	require.False(t, d.Pending())

	time.Sleep(100 * time.Millisecond)
	require.Len(t, fd.sent(), 1)
}

func TestDebounceWindowRestarts(t *testing.T) {
	fd := &fakeDispatcher{}
	d := NewDebouncer(logs.NewTestingLog(t), 100*time.Millisecond, DefaultRetryPolicy(), fd)
	defer d.Close()

	start := time.Now()
	d.Request(AlertContext{IncidentID: "a"})
	time.Sleep(60 * time.Millisecond)
	d.Request(AlertContext{IncidentID: "b"})
	require.Eventually(t, func() bool { return len(fd.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(start), 160*time.Millisecond)
	require.Equal(t, "b", fd.sent()[0].IncidentID)
}

func TestDebounceZeroDelay(t *testing.T) {
	fd := &fakeDispatcher{}
	d := NewDebouncer(logs.NewTestingLog(t), 0, DefaultRetryPolicy(), fd)
	defer d.Close()
	d.Request(AlertContext{IncidentID: "now"})
	require.Eventually(t, func() bool { return len(fd.sent()) == 1 }, 2*time.Second, time.Millisecond)
}

func TestStopRetriesKeepsPendingAlert(t *testing.T) {
	fd := &fakeDispatcher{}
	d := NewDebouncer(logs.NewTestingLog(t), 50*time.Millisecond, DefaultRetryPolicy(), fd)
	defer d.Close()

	d.Request(AlertContext{IncidentID: "a"})
	d.StopRetries()
	require.True(t, d.Pending())
	require.Eventually(t, func() bool { return len(fd.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "a", fd.sent()[0].IncidentID)
}

func TestStopRetriesEndsBackoff(t *testing.T) {
	fd := &fakeDispatcher{}
	fd.failures.Store(100)
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	d := NewDebouncer(logs.NewTestingLog(t), 0, policy, fd)
	defer d.Close()
	results := collectResults(d)

	d.Request(AlertContext{IncidentID: "a"})
	require.Eventually(t, func() bool { return len(fd.sent()) == 1 }, 2*time.Second, time.Millisecond)
	d.StopRetries()

	select {
	case r := <-results:
		require.Error(t, r.Err)
		require.Equal(t, 1, r.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("StopRetries did not end the backoff")
	}

	// Later alerts get their full retry budget
	fd.failures.Store(1)
	policy.InitialBackoff = time.Millisecond
	d2 := NewDebouncer(logs.NewTestingLog(t), 0, policy, fd)
	defer d2.Close()
	results2 := collectResults(d2)
	d2.StopRetries()
	d2.Request(AlertContext{IncidentID: "b"})
	r := <-results2
	require.NoError(t, r.Err)
	require.Equal(t, 2, r.Attempts)
}

// blockingDispatcher holds every Notify until release is closed, and reports
// whether the context it was given had been cancelled by then.
type blockingDispatcher struct {
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (b *blockingDispatcher) Notify(ctx context.Context, alert AlertContext) error {
	close(b.started)
	<-b.release
	b.ctxErr <- ctx.Err()
	return nil
}

func TestStopRetriesDoesNotAbortAttempt(t *testing.T) {
	bd := &blockingDispatcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
	d := NewDebouncer(logs.NewTestingLog(t), 0, DefaultRetryPolicy(), bd)
	defer d.Close()
	results := collectResults(d)

	d.Request(AlertContext{IncidentID: "a"})
	<-bd.started
	d.StopRetries()
	close(bd.release)
	require.NoError(t, <-bd.ctxErr)
	r := <-results
	require.NoError(t, r.Err)
}

func TestDispatchFailureIsNotRetriedByDefault(t *testing.T) {
	fd := &fakeDispatcher{}
	fd.failures.Store(100)
	d := NewDebouncer(logs.NewTestingLog(t), 0, DefaultRetryPolicy(), fd)
	defer d.Close()
	results := collectResults(d)

	d.Request(AlertContext{IncidentID: "a"})
	r := <-results
	require.Error(t, r.Err)
	require.Equal(t, 1, r.Attempts)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, fd.sent(), 1)
}

func TestDispatchRetryWithBackoff(t *testing.T) {
	fd := &fakeDispatcher{}
	fd.failures.Store(2)
	policy := RetryPolicy{MaxAttempts: 4, InitialBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	d := NewDebouncer(logs.NewTestingLog(t), 0, policy, fd)
	defer d.Close()
	results := collectResults(d)

	d.Request(AlertContext{IncidentID: "a"})
	r := <-results
	require.NoError(t, r.Err)
	require.Equal(t, 3, r.Attempts)
	require.Len(t, fd.sent(), 3)
}

func TestCloseAbortsRetries(t *testing.T) {
	fd := &fakeDispatcher{}
	fd.failures.Store(100)
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	d := NewDebouncer(logs.NewTestingLog(t), 0, policy, fd)
	results := collectResults(d)

	d.Request(AlertContext{IncidentID: "a"})
	require.Eventually(t, func() bool { return len(fd.sent()) == 1 }, 2*time.Second, time.Millisecond)

	done := make(chan bool)
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not abort the retry loop")
	}
	r := <-results
	require.Error(t, r.Err)
	require.Equal(t, 1, r.Attempts)
}

func TestPrepareEnrichesAlert(t *testing.T) {
	fd := &fakeDispatcher{}
	d := NewDebouncer(logs.NewTestingLog(t), 0, DefaultRetryPolicy(), fd)
	defer d.Close()
	d.Prepare = func(ctx context.Context, alert *AlertContext) {
		alert.SnapshotURL = "https://example.com/" + alert.IncidentID + ".jpg"
	}
	results := collectResults(d)

	d.Request(AlertContext{IncidentID: "x"})
	r := <-results
	require.Equal(t, "https://example.com/x.jpg", r.Alert.SnapshotURL)
	require.Equal(t, "https://example.com/x.jpg", fd.sent()[0].SnapshotURL)
}

func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	require.Equal(t, 1, p.Attempts())
	require.Equal(t, time.Second, p.Backoff(1))
	require.Equal(t, 2*time.Second, p.Backoff(2))
	require.Equal(t, 16*time.Second, p.Backoff(5))
	require.Equal(t, 30*time.Second, p.Backoff(6))
	require.Equal(t, 30*time.Second, p.Backoff(60))
	require.Equal(t, 1, RetryPolicy{MaxAttempts: -3}.Attempts())
}

// Scenario A, with the real debouncer between the machine and the dispatcher
func TestMachineWithDebouncerAlertsOnce(t *testing.T) {
	fd := &fakeDispatcher{}
	d := NewDebouncer(logs.NewTestingLog(t), 20*time.Millisecond, DefaultRetryPolicy(), fd)
	defer d.Close()
	m := NewMachine(logs.NewTestingLog(t), 5, d)

	feed(m, 0.9, 50)
	require.Eventually(t, func() bool { return len(fd.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	require.Len(t, fd.sent(), 1)

	// Scenario D through the debouncer
	m.Reset()
	feed(m, 0.9, 5)
	require.Eventually(t, func() bool { return len(fd.sent()) == 2 }, 2*time.Second, 5*time.Millisecond)
}

// A reset inside the debounce window must not swallow the alert of the confirmed incident
func TestResetDuringWindowStillAlerts(t *testing.T) {
	fd := &fakeDispatcher{}
	d := NewDebouncer(logs.NewTestingLog(t), 50*time.Millisecond, DefaultRetryPolicy(), fd)
	defer d.Close()
	m := NewMachine(logs.NewTestingLog(t), 5, d)

	feed(m, 0.9, 5)
	incidentID := m.Snapshot().ID
	require.True(t, d.Pending())
	m.Reset()
	require.Equal(t, Incident{State: StateIdle}, m.Snapshot())

	require.Eventually(t, func() bool { return len(fd.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, incidentID, fd.sent()[0].IncidentID)
	time.Sleep(100 * time.Millisecond)
	require.Len(t, fd.sent(), 1)
}

type activeDispatcher struct {
	calls atomic.Int32
}

func (a *activeDispatcher) Notify(ctx context.Context, alert AlertContext) error {
	a.calls.Add(1)
	return fmt.Errorf("backend says: %w", ErrAlreadyActive)
}

func TestAlreadyActiveIsNotAFailure(t *testing.T) {
	ad := &activeDispatcher{}
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond}
	d := NewDebouncer(logs.NewTestingLog(t), 0, policy, ad)
	defer d.Close()
	results := collectResults(d)

	d.Request(AlertContext{IncidentID: "a"})
	r := <-results
	require.NoError(t, r.Err)
	require.True(t, r.Skipped)
	require.EqualValues(t, 1, ad.calls.Load())
}

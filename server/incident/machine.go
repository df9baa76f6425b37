package incident

import (
	"sync"
	"time"

	"github.com/cyclopcam/firewatch/server/fusion"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
)

type Config struct {
	ConfirmThreshold int           // Consecutive positive ticks needed to confirm an incident
	DebounceDelay    time.Duration // Window over which alert requests are coalesced
	Retry            RetryPolicy
}

func DefaultConfig() Config {
	return Config{
		ConfirmThreshold: 5,
		DebounceDelay:    5 * time.Second,
		Retry:            DefaultRetryPolicy(),
	}
}

// Machine owns the live Incident, and is safe for concurrent use.
type Machine struct {
	log       logs.Log
	threshold int
	alerts    AlertRequester
	now       func() time.Time

	lock sync.Mutex
	inc  Incident
}

func NewMachine(log logs.Log, confirmThreshold int, alerts AlertRequester) *Machine {
	return &Machine{
		log:       logs.NewPrefixLogger(log, "Incident"),
		threshold: max(confirmThreshold, 1),
		alerts:    alerts,
		now:       time.Now,
	}
}

// Threshold is the number of consecutive positive ticks needed to confirm an incident
func (m *Machine) Threshold() int {
	return m.threshold
}

// Snapshot returns a copy of the live incident
func (m *Machine) Snapshot() Incident {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.inc
}

// Apply feeds one tick's fused score into the machine
func (m *Machine) Apply(score fusion.FusedScore) Transition {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	t := Transition{From: m.inc.State}
	enter := func(s State) {
		m.inc.State = s
		t.Path = append(t.Path, s)
	}

	m.inc.LastConfidence = score.CombinedConfidence

	switch m.inc.State {
	case StateIdle, StateControlled:
		if score.IsPositive {
			m.inc.ID = uuid.NewString()
			m.inc.SuspectedAt = now
			m.inc.ConsecutivePositiveCount = 1
			enter(StateSuspected)
		}
	case StateSuspected:
		if score.IsPositive {
			m.inc.ConsecutivePositiveCount++
		} else {
			m.log.Debugf("Incident %v dropped after %v positive ticks", m.inc.ID, m.inc.ConsecutivePositiveCount)
			m.inc.ID = ""
			m.inc.SuspectedAt = time.Time{}
			m.inc.ConsecutivePositiveCount = 0
			enter(StateIdle)
		}
	case StateAlerted:
		// Display only, until Reset
	}

	if m.inc.State == StateSuspected && m.inc.ConsecutivePositiveCount >= m.threshold {
		m.inc.ConfirmedAt = now
		enter(StateConfirmed)
	}

	if m.inc.State == StateConfirmed {
		if !m.inc.AlertDispatched {
			m.inc.AlertDispatched = true
			t.DispatchRequested = true
			m.log.Infof("Incident %v confirmed at %.0f%% confidence. Requesting alert", m.inc.ID, score.CombinedConfidence*100)
			if m.alerts != nil {
				m.alerts.Request(AlertContext{
					IncidentID:   m.inc.ID,
					Confidence:   score.CombinedConfidence,
					DetectedAt:   now,
					AutoDetected: true,
				})
			}
		}
		m.inc.AlertedAt = now
		enter(StateAlerted)
	}

	t.To = m.inc.State
	t.Incident = m.inc
	return t
}

// Reset is the operator's "fire is under control" command.
// It is the only way out of Alerted. Calling it while Idle does nothing.
func (m *Machine) Reset() Transition {
	m.lock.Lock()
	defer m.lock.Unlock()

	t := Transition{From: m.inc.State}
	if m.inc.State == StateIdle {
		t.To = StateIdle
		t.Incident = m.inc
		return t
	}

	m.log.Infof("Incident %v reset from %v", m.inc.ID, m.inc.State)
	// An alert that was already requested still goes out. Reset only stops it from
	// retrying, because the operator is evidently aware of the fire.
	if m.alerts != nil {
		m.alerts.StopRetries()
	}
	t.Path = append(t.Path, StateControlled)
	m.inc = Incident{State: StateIdle}
	t.Path = append(t.Path, StateIdle)
	t.To = StateIdle
	t.Incident = m.inc
	return t
}

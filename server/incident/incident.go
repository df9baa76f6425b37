// Package incident decides when a run of positive frames becomes an alert.
//
// There is exactly one live Incident. It is owned by a Machine, which is the
// only thing allowed to mutate it, and the only authority on whether an alert
// must be sent. Alert requests leave the Machine through an AlertRequester
// (normally a Debouncer), which coalesces them and talks to the Dispatcher.
package incident

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type State int

const (
	StateIdle State = iota
	StateSuspected
	StateConfirmed
	StateAlerted
	StateControlled
)

var stateNames = []string{"idle", "suspected", "confirmed", "alerted", "controlled"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("Unknown incident state '%v'", string(b))
}

// Incident is the single live fire incident.
// Copies of it are handed out to observers. Only Machine mutates the original.
type Incident struct {
	ID                       string    `json:"id"` // Assigned when leaving Idle, cleared by Reset
	State                    State     `json:"state"`
	ConsecutivePositiveCount int       `json:"consecutivePositiveCount"`
	AlertDispatched          bool      `json:"alertDispatched"`
	LastConfidence           float64   `json:"lastConfidence"`
	SuspectedAt              time.Time `json:"suspectedAt"`
	ConfirmedAt              time.Time `json:"confirmedAt"`
	AlertedAt                time.Time `json:"alertedAt"`
}

// AlertContext is everything the outside world is told about an alert
type AlertContext struct {
	IncidentID   string    `json:"incidentID"`
	Confidence   float64   `json:"confidence"`
	DetectedAt   time.Time `json:"detectedAt"`
	AutoDetected bool      `json:"autoDetected"`          // False for an operator-triggered emergency
	SnapshotURL  string    `json:"snapshotURL,omitempty"` // Filled in just before dispatch, if snapshots are enabled
}

// Dispatcher sends one notification to the outside world.
// Notify may return an error wrapping ErrAlreadyActive, which means the
// recipient already knows about the emergency. That counts as delivered.
type Dispatcher interface {
	Notify(ctx context.Context, alert AlertContext) error
}

var ErrAlreadyActive = errors.New("Emergency is already active")

// AlertRequester receives alert requests from the Machine.
// Both methods must return quickly, because they are called on the sampling path.
// A request that has been accepted is always delivered (subject to the retry policy),
// even if the incident is reset before the notification goes out.
type AlertRequester interface {
	Request(alert AlertContext)
	StopRetries()
}

// Transition describes the effect of one Apply or Reset
type Transition struct {
	From              State    `json:"from"`
	To                State    `json:"to"`
	Path              []State  `json:"path"` // Every state entered during this step, in order (excludes From)
	DispatchRequested bool     `json:"dispatchRequested"`
	Incident          Incident `json:"incident"` // Copy of the incident after the step
}

func (t *Transition) Changed() bool {
	return len(t.Path) != 0
}

// Entered returns true if state s was entered during this step
func (t *Transition) Entered(s State) bool {
	for _, p := range t.Path {
		if p == s {
			return true
		}
	}
	return false
}

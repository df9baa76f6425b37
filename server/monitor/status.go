package monitor

import (
	"time"

	"github.com/cyclopcam/firewatch/server/fusion"
	"github.com/cyclopcam/firewatch/server/incident"
)

type ModelState string

const (
	ModelStateLoading ModelState = "loading"
	ModelStateReady   ModelState = "ready"
	ModelStateError   ModelState = "error"
)

// ConfidenceLevel is a coarse band of the combined confidence, for display
type ConfidenceLevel string

const (
	ConfidenceNormal   ConfidenceLevel = "normal"   // 0..40
	ConfidenceElevated ConfidenceLevel = "elevated" // 41..65
	ConfidenceHigh     ConfidenceLevel = "high"     // 66..80
	ConfidenceCritical ConfidenceLevel = "critical" // 81..100
)

func LevelOf(percent int) ConfidenceLevel {
	switch {
	case percent > 80:
		return ConfidenceCritical
	case percent > 65:
		return ConfidenceHigh
	case percent > 40:
		return ConfidenceElevated
	}
	return ConfidenceNormal
}

// Status is everything an operator's screen needs to show.
// SYNC-FIREWATCH-STATUS-JSON
type Status struct {
	State                    incident.State    `json:"state"`
	IncidentID               string            `json:"incidentID,omitempty"`
	Confidence               int               `json:"confidence"` // Combined confidence of the latest tick, 0..100
	ConfidenceLevel          ConfidenceLevel   `json:"confidenceLevel"`
	ColorConfidence          int               `json:"colorConfidence"`
	ObjectConfidence         int               `json:"objectConfidence"`
	ConsecutivePositiveCount int               `json:"consecutivePositiveCount"`
	ConfirmThreshold         int               `json:"confirmThreshold"`
	AlertSent                bool              `json:"alertSent"`      // An alert has been requested for this incident
	AlertDelivered           bool              `json:"alertDelivered"` // The most recent dispatch succeeded
	AlertPending             bool              `json:"alertPending"`   // A request is waiting out the debounce delay
	LastDispatchError        string            `json:"lastDispatchError,omitempty"`
	StreamActive             bool              `json:"streamActive"`
	SamplingActive           bool              `json:"samplingActive"`
	Paused                   bool              `json:"paused"`
	ModelState               ModelState        `json:"modelState"`
	ModelReady               bool              `json:"modelReady"`
	ModelError               string            `json:"modelError,omitempty"`
	CameraError              string            `json:"cameraError,omitempty"`
	FrameWidth               int               `json:"frameWidth"`
	FrameHeight              int               `json:"frameHeight"`
	FPS                      float64           `json:"fps"`
	Counters                 CounterSnapshot   `json:"counters"`
	History                  []HistorySample   `json:"history,omitempty"`
	Incident                 incident.Incident `json:"incident"`
}

// HistorySample is one processed tick, for the confidence chart
type HistorySample struct {
	Time       time.Time `json:"time"`
	Confidence int       `json:"confidence"` // 0..100
	Positive   bool      `json:"positive"`
}

// TickResult is sent to watchers after every tick that reached the detector
type TickResult struct {
	FrameID    int64
	Time       time.Time
	Score      fusion.FusedScore
	Transition incident.Transition
	Err        error // Detector error. Score and Transition are empty.
}

// Status returns a consistent picture of the monitor.
// The confidence chart is only included when withHistory is true.
func (m *Monitor) Status(withHistory bool) *Status {
	inc := m.machine.Snapshot()
	modelState, modelErr := m.ModelState()
	confidence := fusion.Percent(inc.LastConfidence)

	s := &Status{
		State:                    inc.State,
		IncidentID:               inc.ID,
		Confidence:               confidence,
		ConfidenceLevel:          LevelOf(confidence),
		ConsecutivePositiveCount: inc.ConsecutivePositiveCount,
		ConfirmThreshold:         m.machine.Threshold(),
		AlertSent:                inc.AlertDispatched,
		AlertPending:             m.alerts.Pending(),
		SamplingActive:           m.sampling.Load(),
		Paused:                   m.paused.Load() > 0,
		ModelState:               modelState,
		ModelReady:               modelState == ModelStateReady,
		ModelError:               modelErr,
		Counters:                 m.Counters.Snapshot(),
		Incident:                 inc,
	}

	if stream := m.camera.Stream(); stream != nil {
		s.FrameWidth = stream.Width()
		s.FrameHeight = stream.Height()
		s.FPS = stream.FPS()
		select {
		case <-stream.Done():
		default:
			s.StreamActive = true
		}
	}

	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	if m.latest != nil {
		s.ColorConfidence = fusion.Percent(m.latest.score.ColorConfidence)
		s.ObjectConfidence = fusion.Percent(m.latest.score.ObjectConfidence)
	}
	if m.lastDispatch != nil {
		s.AlertDelivered = m.lastDispatch.Err == nil
		if m.lastDispatch.Err != nil {
			s.LastDispatchError = m.lastDispatch.Err.Error()
		}
	}
	s.CameraError = m.lastCameraErr
	if s.CameraError == "" {
		if err := m.camera.Err(); err != nil {
			s.CameraError = err.Error()
		}
	}
	if withHistory {
		s.History = make([]HistorySample, 0, m.history.Len())
		for i := 0; i < m.history.Len(); i++ {
			s.History = append(s.History, m.history.Peek(i))
		}
	}
	return s
}

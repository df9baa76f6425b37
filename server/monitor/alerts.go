package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/cyclopcam/firewatch/server/camera"
	"github.com/cyclopcam/firewatch/server/eventdb"
	"github.com/cyclopcam/firewatch/server/incident"
)

var ErrNoFrame = errors.New("No frame has been processed yet")

// prepareAlert runs on the dispatch goroutine, just before the first attempt.
// It stores an annotated snapshot of the evidence, and puts its URL into the alert.
func (m *Monitor) prepareAlert(ctx context.Context, alert *incident.AlertContext) {
	if m.snapshots == nil {
		return
	}
	m.stateLock.Lock()
	var rec *tickRecord
	switch {
	case m.alertEvidence != nil && m.alertEvidence.incidentID == alert.IncidentID:
		rec = m.alertEvidence
	case m.evidence != nil && m.evidence.incidentID == alert.IncidentID:
		rec = m.evidence
	default:
		rec = m.latest
	}
	m.stateLock.Unlock()
	if rec == nil {
		return
	}

	img := m.engine.Annotate(rec.frame.Image, rec.detections, rec.score)
	jpeg, err := camera.EncodeJPEG(img, m.snapshots.Quality())
	if err != nil {
		m.Log.Errorf("Failed to encode snapshot of incident %v: %v", alert.IncidentID, err)
		return
	}
	_, url, err := m.snapshots.Save(ctx, alert.IncidentID, alert.DetectedAt, jpeg)
	if err != nil {
		m.Log.Errorf("Failed to save snapshot of incident %v: %v", alert.IncidentID, err)
		return
	}
	alert.SnapshotURL = url
}

func (m *Monitor) onDispatchResult(r incident.DispatchResult) {
	detail := &eventdb.EventDetail{
		Attempts:    r.Attempts,
		SnapshotURL: r.Alert.SnapshotURL,
	}
	eventType := eventdb.EventTypeAlertSent
	counter := &m.Counters.AlertsSent
	switch {
	case r.Err != nil:
		eventType = eventdb.EventTypeAlertFailed
		counter = &m.Counters.AlertsFailed
		detail.Error = r.Err.Error()
	case r.Skipped:
		eventType = eventdb.EventTypeAlertSkipped
		counter = &m.Counters.AlertsSkipped
	}

	m.stateLock.Lock()
	m.lastDispatch = &r
	m.stateLock.Unlock()

	m.journal(eventType, r.Alert.IncidentID, r.Alert.Confidence, detail)

	// Counters are bumped last, so that an observer of the counter also sees the journal entry
	counter.Add(1)
}

// journal records an incident event, if the event database is enabled.
// Journal failures are logged and otherwise ignored.
func (m *Monitor) journal(eventType eventdb.EventType, incidentID string, confidence float64, detail *eventdb.EventDetail) {
	if m.events == nil {
		return
	}
	if err := m.events.AddEvent(eventType, incidentID, confidence, detail); err != nil {
		m.Log.Warnf("Failed to record %v event: %v", eventType, err)
	}
}

// LatestAnnotatedJPEG returns the most recently processed frame, with the
// detections and the fire box drawn on it. Before the first tick, the latest
// raw camera frame is returned instead.
func (m *Monitor) LatestAnnotatedJPEG(quality int) ([]byte, error) {
	m.stateLock.Lock()
	rec := m.latest
	m.stateLock.Unlock()
	if rec == nil {
		jpeg, err := m.camera.LatestImage(quality)
		if errors.Is(err, camera.ErrNotStarted) {
			return nil, ErrNoFrame
		}
		return jpeg, err
	}
	return camera.EncodeJPEG(m.engine.Annotate(rec.frame.Image, rec.detections, rec.score), quality)
}

// LastTickAge returns the time since the most recently processed frame was captured,
// or zero if no frame has been processed.
func (m *Monitor) LastTickAge() time.Duration {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	if m.latest == nil {
		return 0
	}
	return time.Since(m.latest.frame.CaptureTime)
}

package eventdb

import (
	"github.com/cyclopcam/dbh"
)

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

type EventType string

const (
	EventTypeSuspected     EventType = "suspected"      // Incident opened on the first positive frame
	EventTypeConfirmed     EventType = "confirmed"      // Enough consecutive positive frames
	EventTypeAlertSent     EventType = "alert_sent"     // Backend accepted the alert
	EventTypeAlertFailed   EventType = "alert_failed"   // All dispatch attempts failed
	EventTypeAlertSkipped  EventType = "alert_skipped"  // Backend already had an active fire
	EventTypeManualTrigger EventType = "manual_trigger" // Operator pressed "Trigger Emergency"
	EventTypeReset         EventType = "reset"          // Operator declared the fire under control
	EventTypeCameraError   EventType = "camera_error"   // Camera could not be started
)

// An Event is one entry in the incident journal
type Event struct {
	BaseModel
	Time       dbh.IntTime                 `json:"time"`
	EventType  EventType                   `json:"eventType"`
	IncidentID string                      `json:"incidentID"` // Empty for events outside of an incident
	Confidence float64                     `json:"confidence"` // Combined fire confidence (0..1) when the event happened
	Detail     *dbh.JSONField[EventDetail] `json:"detail"`
}

// EventDetail holds the fields that only some event types use
type EventDetail struct {
	ColorConfidence  float64 `json:"colorConfidence,omitempty"`
	ObjectConfidence float64 `json:"objectConfidence,omitempty"`
	FromState        string  `json:"fromState,omitempty"`   // For reset
	Attempts         int     `json:"attempts,omitempty"`    // For alert_sent, alert_failed
	Error            string  `json:"error,omitempty"`       // For alert_failed, camera_error
	SnapshotURL      string  `json:"snapshotURL,omitempty"` // For confirmed, alert_sent
}

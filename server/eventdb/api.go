package eventdb

import (
	"time"

	"github.com/cyclopcam/dbh"
)

// Purging is relatively expensive, so we only check the table size every N inserts
const purgeInterval = 5

func (e *EventDB) AddEvent(eventType EventType, incidentID string, confidence float64, detail *EventDetail) error {
	e.purgeOldRecords()

	event := &Event{
		Time:       dbh.MakeIntTime(time.Now()),
		EventType:  eventType,
		IncidentID: incidentID,
		Confidence: confidence,
	}
	if detail != nil {
		event.Detail = &dbh.JSONField[EventDetail]{Data: *detail}
	}
	return e.DB.Create(event).Error
}

// RecentEvents returns up to limit events, newest first
func (e *EventDB) RecentEvents(limit int) ([]*Event, error) {
	var events []*Event
	if err := e.DB.Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// IncidentEvents returns every event of one incident, oldest first
func (e *EventDB) IncidentEvents(incidentID string) ([]*Event, error) {
	var events []*Event
	if err := e.DB.Where("incident_id = ?", incidentID).Order("id").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (e *EventDB) purgeOldRecords() {
	e.purgeLock.Lock()
	defer e.purgeLock.Unlock()
	e.nSincePurge++
	if e.maxEventCount <= 0 || e.nSincePurge < purgeInterval {
		return
	}
	e.nSincePurge = 0

	count := int64(0)
	if err := e.DB.Model(&Event{}).Count(&count).Error; err != nil {
		e.log.Errorf("Failed to count events: %v", err)
		return
	}
	if count <= e.maxEventCount {
		return
	}
	excess := count - e.maxEventCount
	if err := e.DB.Exec("DELETE FROM event WHERE id IN (SELECT id FROM event ORDER BY id LIMIT ?)", excess).Error; err != nil {
		e.log.Errorf("Failed to purge old events: %v", err)
		return
	}
	e.log.Infof("Purged %v old events", excess)
}

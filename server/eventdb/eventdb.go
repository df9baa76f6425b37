package eventdb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// EventDB is the incident journal.
// It records every step of every incident, so that an operator can
// review what the detector saw, and when the fire station was told.
type EventDB struct {
	log           logs.Log
	DB            *gorm.DB
	maxEventCount int64

	purgeLock   sync.Mutex
	nSincePurge int
}

const DefaultMaxEventCount = 10000

// Open or create an event DB
func NewEventDB(log logs.Log, dbFilename string) (*EventDB, error) {
	log = logs.NewPrefixLogger(log, "EventDB")
	if dir := filepath.Dir(dbFilename); dir != "." {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, fmt.Errorf("Failed to create event DB path '%v': %w", dir, err)
		}
	}
	log.Infof("Opening event DB at '%v'", dbFilename)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbFilename), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open database %v: %w", dbFilename, err)
	}
	return &EventDB{
		log:           log,
		DB:            db,
		maxEventCount: DefaultMaxEventCount,
	}, nil
}

// SetMaxEventCount changes the number of events that are retained (zero means unlimited)
func (e *EventDB) SetMaxEventCount(n int64) {
	e.purgeLock.Lock()
	defer e.purgeLock.Unlock()
	e.maxEventCount = n
}

func (e *EventDB) Close() {
	if sqlDB, err := e.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

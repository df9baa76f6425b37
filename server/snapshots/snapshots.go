package snapshots

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
)

type Kind string

const (
	KindNone Kind = ""    // Snapshots are not stored
	KindFS   Kind = "fs"  // Local directory
	KindGCS  Kind = "gcs" // Google Cloud Storage bucket
)

type Config struct {
	Kind          Kind
	Root          string // Directory, for KindFS
	PublicBaseURL string // Where KindFS files are reachable from outside, if anywhere
	Bucket        string // Bucket name, for KindGCS
	Public        bool   // The GCS bucket is publicly readable
	Quality       int    // JPEG quality
}

// Store names and saves incident snapshots
type Store struct {
	log     logs.Log
	storage Storage
	quality int
}

// Open the storage described by cfg. Returns nil, nil when snapshots are disabled.
func Open(ctx context.Context, log logs.Log, cfg Config) (*Store, error) {
	log = logs.NewPrefixLogger(log, "Snapshots")
	var storage Storage
	var err error
	switch cfg.Kind {
	case KindNone:
		return nil, nil
	case KindFS:
		storage, err = NewStorageFS(log, cfg.Root, cfg.PublicBaseURL)
	case KindGCS:
		storage, err = NewStorageGCS(ctx, log, cfg.Bucket, cfg.Public)
	default:
		err = fmt.Errorf("Unknown snapshot storage '%v'", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return NewStore(log, storage, cfg.Quality), nil
}

func NewStore(log logs.Log, storage Storage, quality int) *Store {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Store{
		log:     log,
		storage: storage,
		quality: quality,
	}
}

// Quality is the JPEG quality that snapshots should be encoded with
func (s *Store) Quality() int {
	return s.quality
}

// Name returns the blob name of the snapshot of an incident
func Name(incidentID string, at time.Time) string {
	return path.Join("incidents", at.UTC().Format("2006-01-02"), incidentID+".jpg")
}

// Save writes a JPEG snapshot of an incident.
// url is empty if the storage has no public URL.
func (s *Store) Save(ctx context.Context, incidentID string, at time.Time, jpeg []byte) (name, url string, err error) {
	name = Name(incidentID, at)
	if err = WriteFile(ctx, s.storage, name, bytes.NewReader(jpeg)); err != nil {
		return "", "", fmt.Errorf("Failed to save snapshot %v: %w", name, err)
	}
	url, err = s.storage.URL(name)
	if errors.Is(err, ErrNoPublicUrl) {
		return name, "", nil
	}
	return name, url, err
}

// Load reads a snapshot previously written by Save
func (s *Store) Load(ctx context.Context, name string) ([]byte, error) {
	return ReadFile(ctx, s.storage, name)
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".jpg"), strings.HasSuffix(name, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(name, ".png"):
		return "image/png"
	}
	return "application/octet-stream"
}

package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cyclopcam/logs"
)

// Source is something that can produce a Stream of frames, such as a webcam snapshot URL.
type Source interface {
	// Start acquires the source and begins producing frames.
	// An error means the source could not be acquired, and no Stream exists.
	// The stream stops when ctx is cancelled, or when Stream.Stop is called.
	Start(ctx context.Context) (*Stream, error)
}

type SourceKind string

const (
	SourceKindHTTP  SourceKind = "http"  // Poll a JPEG/PNG snapshot URL
	SourceKindDir   SourceKind = "dir"   // Replay the images in a directory
	SourceKindONVIF SourceKind = "onvif" // Discover the snapshot URL with ONVIF, then poll it
)

type Config struct {
	Kind      SourceKind
	URL       string        // Snapshot URL, for SourceKindHTTP. With Brand, the camera's root URL. For SourceKindONVIF, host[:port].
	Brand     CameraBrand   // Optional, for SourceKindHTTP. Derives the snapshot URL from URL.
	Username  string        // Optional basic auth, for SourceKindHTTP
	Password  string        // Optional basic auth, for SourceKindHTTP
	Dir       string        // Image directory, for SourceKindDir
	Loop      bool          // Restart from the first image when the directory is exhausted
	Interval  time.Duration // Time between frames
	MaxWidth  int           // Larger frames are scaled down to fit
	MaxHeight int
}

func DefaultConfig() Config {
	return Config{
		Kind:      SourceKindHTTP,
		Interval:  100 * time.Millisecond,
		MaxWidth:  IdealWidth,
		MaxHeight: IdealHeight,
	}
}

// NewSource builds the Source described by cfg
func NewSource(log logs.Log, cfg Config) (Source, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("Camera frame interval must be positive")
	}
	switch cfg.Kind {
	case SourceKindHTTP:
		if cfg.URL == "" {
			return nil, errors.New("Camera URL is empty")
		}
		if cfg.Brand != CameraBrandUnknown {
			snapshotURL, err := SnapshotURL(cfg.Brand, cfg.URL, cfg.Username, cfg.Password)
			if err != nil {
				return nil, err
			}
			cfg.URL = snapshotURL
		}
		return NewHTTPSource(log, cfg), nil
	case SourceKindDir:
		if cfg.Dir == "" {
			return nil, errors.New("Camera image directory is empty")
		}
		return NewDirSource(log, cfg), nil
	case SourceKindONVIF:
		if cfg.URL == "" {
			return nil, errors.New("Camera ONVIF address is empty")
		}
		return NewOnvifSource(log, cfg), nil
	}
	return nil, fmt.Errorf("Unknown camera source kind '%v'", cfg.Kind)
}

// runPoller calls produce once per interval until ctx is cancelled or produce returns errStopPolling.
// Repeated errors are logged at most once every 15 seconds.
func runPoller(ctx context.Context, stream *Stream, interval time.Duration, produce func(ctx context.Context) error) {
	defer stream.ProducerDone()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastErrAt := time.Time{}
	nErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := produce(ctx)
		if errors.Is(err, errStopPolling) {
			return
		} else if err != nil && ctx.Err() == nil {
			stream.SetError(err)
			nErrors++
			if time.Since(lastErrAt) > 15*time.Second {
				stream.Log.Errorf("Stream %v: %v (%v errors since last report)", stream.Ident, err, nErrors)
				lastErrAt = time.Now()
				nErrors = 0
			}
		}
	}
}

var errStopPolling = errors.New("stop polling")

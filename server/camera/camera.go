package camera

import (
	"context"
	"errors"
	"sync"

	"github.com/cyclopcam/logs"
)

var ErrNotStarted = errors.New("Camera is not started")

// Camera owns the live Stream of one Source, and can restart it.
type Camera struct {
	Name   string
	Log    logs.Log
	source Source

	lock   sync.Mutex
	stream *Stream
	err    error // Most recent acquisition error
}

func NewCamera(log logs.Log, name string, source Source) *Camera {
	return &Camera{
		Name:   name,
		Log:    logs.NewPrefixLogger(log, "Camera "+name),
		source: source,
	}
}

// Start acquires the source. If a stream is already running, it is stopped first.
func (c *Camera) Start(ctx context.Context) (*Stream, error) {
	c.Stop()

	c.Log.Infof("Starting")
	stream, err := c.source.Start(ctx)

	c.lock.Lock()
	defer c.lock.Unlock()
	c.stream = stream
	c.err = err
	if err != nil {
		c.Log.Errorf("Failed to start: %v", err)
		return nil, err
	}
	return stream, nil
}

// Stop the stream, if any
func (c *Camera) Stop() {
	c.lock.Lock()
	stream := c.stream
	c.stream = nil
	c.lock.Unlock()
	if stream != nil {
		stream.Stop()
	}
}

// Stream returns the live stream, or nil
func (c *Camera) Stream() *Stream {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.stream
}

// Err returns the acquisition error, or the most recent frame error of a running stream
func (c *Camera) Err() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.stream != nil {
		return c.stream.Err()
	}
	return nil
}

// LatestImage returns the most recent frame, compressed as a JPEG
func (c *Camera) LatestImage(quality int) ([]byte, error) {
	stream := c.Stream()
	if stream == nil {
		return nil, ErrNotStarted
	}
	frame := stream.LastFrame()
	if frame == nil {
		return nil, ErrNotStarted
	}
	return EncodeJPEG(frame.Image, quality)
}

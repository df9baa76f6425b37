package camera

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
)

const frameIntervalHistory = 30

// Stream is a live sequence of frames from one Source.
// The producer calls PushFrame. Any number of consumers may call LastFrame concurrently.
type Stream struct {
	Log   logs.Log
	Ident string // Identity of the stream, with any credentials stripped out

	cancel   context.CancelFunc
	done     chan struct{} // Closed when the producer goroutine exits
	stopOnce sync.Once

	metadataReady     chan struct{}
	metadataReadyOnce sync.Once

	lock          sync.Mutex
	width         int
	height        int
	lastID        int64
	last          *Frame
	lastErr       error
	intervals     ringbuffer.RingP[time.Duration]
	lastFrameTime time.Time
}

// NewStream creates a stream whose producer is bound to ctx.
// The producer must call ProducerDone when it exits.
func NewStream(ctx context.Context, log logs.Log, ident string) (*Stream, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		Log:           log,
		Ident:         ident,
		cancel:        cancel,
		done:          make(chan struct{}),
		metadataReady: make(chan struct{}),
		intervals:     ringbuffer.NewRingP[time.Duration](frameIntervalHistory),
	}, ctx
}

// PushFrame publishes a new frame. The stream takes ownership of img.
// The first frame fixes the stream dimensions and signals MetadataReady.
func (s *Stream) PushFrame(img *image.RGBA, captureTime time.Time) *Frame {
	s.lock.Lock()
	s.lastID++
	f := &Frame{
		ID:          s.lastID,
		Image:       img,
		CaptureTime: captureTime,
	}
	if s.width == 0 {
		s.width = img.Rect.Dx()
		s.height = img.Rect.Dy()
	}
	if !s.lastFrameTime.IsZero() {
		s.intervals.Add(captureTime.Sub(s.lastFrameTime))
	}
	s.lastFrameTime = captureTime
	s.last = f
	s.lastErr = nil
	s.lock.Unlock()

	s.metadataReadyOnce.Do(func() {
		s.Log.Infof("Stream %v is %v x %v", s.Ident, img.Rect.Dx(), img.Rect.Dy())
		close(s.metadataReady)
	})
	return f
}

// SetError records a producer error, which is reported by Err until the next successful frame
func (s *Stream) SetError(err error) {
	s.lock.Lock()
	s.lastErr = err
	s.lock.Unlock()
}

func (s *Stream) Err() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.lastErr
}

// ProducerDone must be called by the producer goroutine when it exits
func (s *Stream) ProducerDone() {
	close(s.done)
}

// MetadataReady is closed once the stream dimensions are known
func (s *Stream) MetadataReady() <-chan struct{} {
	return s.metadataReady
}

// Done is closed when the producer has exited
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) Width() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.width
}

func (s *Stream) Height() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.height
}

// LastFrame returns the most recent frame, or nil if no frame has arrived yet
func (s *Stream) LastFrame() *Frame {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.last
}

// LastFrameIfDifferent returns the most recent frame, or nil if its ID is lastID
func (s *Stream) LastFrameIfDifferent(lastID int64) *Frame {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.last == nil || s.last.ID == lastID {
		return nil
	}
	return s.last
}

// FPS estimates the frame rate from recent frame intervals
func (s *Stream) FPS() float64 {
	s.lock.Lock()
	intervals := make([]time.Duration, 0, s.intervals.Len())
	for i := 0; i < s.intervals.Len(); i++ {
		intervals = append(intervals, s.intervals.Peek(i))
	}
	s.lock.Unlock()
	return EstimateFPS(intervals)
}

// Stop the producer and wait for it to exit. Safe to call more than once.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		s.Log.Infof("Closing stream %v", s.Ident)
		s.cancel()
		<-s.done
	})
}

package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

// StaticSource repeats one image, which can be swapped at any time.
// It stands in for a real camera in tests and demos.
type StaticSource struct {
	log      logs.Log
	interval time.Duration

	lock    sync.Mutex
	img     *image.RGBA
	failErr error // If not nil, Start fails with this error
}

func NewStaticSource(log logs.Log, img *image.RGBA, interval time.Duration) *StaticSource {
	return &StaticSource{
		log:      log,
		img:      img,
		interval: interval,
	}
}

// SetImage replaces the image that is emitted on every interval
func (s *StaticSource) SetImage(img *image.RGBA) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.img = img
}

// SetStartError makes subsequent calls to Start fail with err (nil to succeed again)
func (s *StaticSource) SetStartError(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failErr = err
}

func (s *StaticSource) current() (*image.RGBA, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.failErr != nil {
		return nil, s.failErr
	}
	if s.img == nil {
		return nil, errors.New("No image")
	}
	return s.img, nil
}

func (s *StaticSource) Start(ctx context.Context) (*Stream, error) {
	img, err := s.current()
	if err != nil {
		return nil, err
	}
	stream, ctx := NewStream(ctx, s.log, "static")
	stream.PushFrame(img, time.Now())
	go runPoller(ctx, stream, s.interval, func(ctx context.Context) error {
		s.lock.Lock()
		img := s.img
		s.lock.Unlock()
		stream.PushFrame(img, time.Now())
		return nil
	})
	return stream, nil
}

package camera

import (
	"image"
	"time"
)

// Frame is a single decoded image from a camera.
// Frames are immutable once they leave the Stream. Consumers must not write to Image.
type Frame struct {
	ID          int64 // Monotonically increasing per Stream, starting at 1
	Image       *image.RGBA
	CaptureTime time.Time
}

func (f *Frame) Width() int {
	return f.Image.Rect.Dx()
}

func (f *Frame) Height() int {
	return f.Image.Rect.Dy()
}

package fusion

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/cyclopcam/firewatch/pkg/nn"
	"github.com/stretchr/testify/require"
)

var fireColor = color.RGBA{R: 240, G: 100, B: 20, A: 255}

// Create a black frame, where the first nFire pixels (in raster order) are fire-colored
func makeFrame(width, height, nFire int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		c := color.RGBA{A: 255}
		if i < nFire {
			c = fireColor
		}
		img.SetRGBA(i%width, i/width, c)
	}
	return img
}

func TestColorRule(t *testing.T) {
	rule := DefaultConfig().Color
	require.True(t, rule.IsFire(201, 61, 59))
	require.True(t, rule.IsFire(255, 149, 0))
	require.False(t, rule.IsFire(200, 100, 10)) // red bound is exclusive
	require.False(t, rule.IsFire(255, 60, 10))
	require.False(t, rule.IsFire(255, 150, 10))
	require.False(t, rule.IsFire(255, 100, 60))
}

func TestColorConfidence(t *testing.T) {
	e := NewEngine(DefaultConfig())

	conf, fire, sampled := e.ColorConfidence(makeFrame(640, 480, 0))
	require.Equal(t, 0.0, conf)
	require.Equal(t, 0, fire)
	require.Equal(t, 30720, sampled)

	// 1536 sampled fire pixels out of a 3072 pixel saturation point
	conf, fire, _ = e.ColorConfidence(makeFrame(640, 480, 15360))
	require.Equal(t, 1536, fire)
	require.InDelta(t, 0.5, conf, 1e-9)

	conf, _, _ = e.ColorConfidence(makeFrame(640, 480, 640*480))
	require.Equal(t, 1.0, conf)

	conf, _, _ = e.ColorConfidence(nil)
	require.Equal(t, 0.0, conf)
	conf, _, _ = e.ColorConfidence(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	require.Equal(t, 0.0, conf)
}

func TestColorConfidenceSubImage(t *testing.T) {
	e := NewEngine(DefaultConfig())
	big := makeFrame(200, 100, 0)
	// Paint the right half of the frame with fire
	for y := 0; y < 100; y++ {
		for x := 100; x < 200; x++ {
			big.SetRGBA(x, y, fireColor)
		}
	}
	right := big.SubImage(image.Rect(100, 0, 200, 100)).(*image.RGBA)
	conf, fire, sampled := e.ColorConfidence(right)
	require.Equal(t, 1000, sampled)
	require.Equal(t, 1000, fire)
	require.Equal(t, 1.0, conf)

	left := big.SubImage(image.Rect(0, 0, 100, 100)).(*image.RGBA)
	conf, _, _ = e.ColorConfidence(left)
	require.Equal(t, 0.0, conf)
}

func TestFusionRule(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Object signal below the gate is ignored
	require.Equal(t, 0.6, e.Combine(0.6, 0.5))
	// Above the gate, signals are blended
	require.InDelta(t, 0.7*0.5+0.3*0.9, e.Combine(0.5, 0.9), 1e-9)
	// The object signal alone can never cross the positive threshold
	require.InDelta(t, 0.3, e.Combine(0, 1), 1e-9)
}

func TestFuse(t *testing.T) {
	e := NewEngine(DefaultConfig())
	frame := makeFrame(640, 480, 15360) // color confidence 0.5

	score := e.Fuse(frame, nil)
	require.InDelta(t, 0.5, score.CombinedConfidence, 1e-9)
	require.Equal(t, 0.0, score.ObjectConfidence)
	require.False(t, score.IsPositive)

	dets := []nn.Detection{
		{Class: "person", Confidence: 0.9},
		{Class: "car", Confidence: 0.99}, // not a context class
	}
	score = e.Fuse(frame, dets)
	require.InDelta(t, 0.9, score.ObjectConfidence, 1e-6)
	require.InDelta(t, 0.62, score.CombinedConfidence, 1e-6)
	require.False(t, score.IsPositive)

	hot := makeFrame(640, 480, 24576) // color confidence ~0.8
	score = e.Fuse(hot, dets)
	require.InDelta(t, 0.83, score.CombinedConfidence, 1e-3)
	require.True(t, score.IsPositive)

	score = e.Fuse(hot, []nn.Detection{{Class: "car", Confidence: 0.99}})
	require.InDelta(t, 0.8, score.CombinedConfidence, 1e-3)
	require.True(t, score.IsPositive)
}

func TestPositiveThresholdIsExclusive(t *testing.T) {
	e := NewEngine(DefaultConfig())
	// 100x100 frame saturates at 100 fire pixels, and we sample 1000 pixels
	score := e.Fuse(makeFrame(100, 100, 650), nil)
	require.Equal(t, 65, score.FirePixels)
	require.Equal(t, 0.65, score.CombinedConfidence)
	require.False(t, score.IsPositive)

	score = e.Fuse(makeFrame(100, 100, 660), nil)
	require.True(t, score.IsPositive)
	require.Equal(t, 66, Percent(score.CombinedConfidence))
}

func TestAnnotate(t *testing.T) {
	e := NewEngine(DefaultConfig())
	frame := makeFrame(640, 480, 0)
	before := bytes.Clone(frame.Pix)
	dets := []nn.Detection{{Class: "person", Confidence: 0.9, Box: nn.Rect{X: 10, Y: 20, Width: 100, Height: 200}}}

	out := e.Annotate(frame, dets, FusedScore{IsPositive: true, CombinedConfidence: 0.9})
	require.Equal(t, before, frame.Pix)
	require.Equal(t, frame.Rect, out.Rect)

	// Left edge of the centered fire box
	p := out.RGBAAt(220, 240)
	require.Greater(t, p.R, uint8(200))
	require.Less(t, p.G, uint8(50))

	// Left edge of the person box is cyan
	p = out.RGBAAt(10, 120)
	require.Greater(t, p.G, uint8(200))
	require.Greater(t, p.B, uint8(200))

	// Nothing drawn in the middle of the frame when the score is negative
	out = e.Annotate(frame, nil, FusedScore{})
	require.Equal(t, before, out.Pix)

	require.Nil(t, e.Annotate(nil, nil, FusedScore{}))
}

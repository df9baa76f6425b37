package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRectGeometry(t *testing.T) {
	a := Rect{X: 0, Y: 0, Width: 10, Height: 10}
	b := Rect{X: 5, Y: 5, Width: 10, Height: 10}
	require.Equal(t, Rect{X: 5, Y: 5, Width: 5, Height: 5}, a.Intersection(b))
	require.Equal(t, Rect{X: 10, Y: 10, Width: 0, Height: 0}, a.Intersection(Rect{X: 10, Y: 10, Width: 3, Height: 3}))

	clipped := Rect{X: -5, Y: 400, Width: 20, Height: 100}.ClipTo(640, 480)
	require.Equal(t, Rect{X: 0, Y: 400, Width: 15, Height: 80}, clipped)

	c := CenteredRect(640, 480, 200)
	require.Equal(t, Rect{X: 220, Y: 140, Width: 200, Height: 200}, c)
	require.Equal(t, Rect{X: -30, Y: -30, Width: 100, Height: 100}, CenteredRect(40, 40, 100))
}

func TestCOCOCategoryName(t *testing.T) {
	require.Equal(t, "person", COCOCategoryName(1))
	require.Equal(t, "stop sign", COCOCategoryName(13))
	require.Equal(t, "cell phone", COCOCategoryName(77))
	require.Equal(t, "toothbrush", COCOCategoryName(90))
	require.Equal(t, "unknown", COCOCategoryName(0))
	require.Equal(t, "unknown", COCOCategoryName(12))
	require.Equal(t, "unknown", COCOCategoryName(91))
}

func TestMaxConfidence(t *testing.T) {
	dets := []Detection{
		{Class: "person", Confidence: 0.4},
		{Class: "car", Confidence: 0.99},
		{Class: "cell phone", Confidence: 0.7},
	}
	ctx := map[string]bool{"person": true, "cell phone": true}
	require.Equal(t, float32(0.7), MaxConfidence(dets, ctx))
	require.Equal(t, float32(0), MaxConfidence(nil, ctx))
}

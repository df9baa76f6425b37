package camera

import (
	"math"
	"slices"
	"time"
)

// EstimateFPS returns the frame rate implied by the median of a set of frame intervals.
// Snapshot cameras are usually polled slower than 1 FPS, at arbitrary periods
// such as every 3 seconds, so slow rates are rounded to two decimal places instead
// of to whole frames. Returns 0 if the rate is unknown.
func EstimateFPS(frameIntervals []time.Duration) float64 {
	if len(frameIntervals) == 0 {
		return 0
	}
	sorted := slices.Clone(frameIntervals)
	slices.Sort(sorted)
	median := sorted[len(sorted)/2]
	if median <= 0 {
		return 0
	}
	fps := float64(time.Second) / float64(median)
	if fps >= 0.95 {
		return math.Round(fps)
	}
	return math.Round(fps*100) / 100
}

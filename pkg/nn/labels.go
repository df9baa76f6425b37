package nn

import "github.com/chewxy/math32"

// Detection is an object that a neural network has found in an image
type Detection struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"` // 0..1
	Box        Rect    `json:"box"`        // In frame pixel coordinates
}

// MaxConfidence returns the highest confidence of any detection whose class is in classes.
// Returns zero if there is no such detection.
func MaxConfidence(detections []Detection, classes map[string]bool) float32 {
	best := float32(0)
	for _, d := range detections {
		if classes[d.Class] {
			best = math32.Max(best, d.Confidence)
		}
	}
	return best
}

package nn

import (
	"context"
	"errors"
	"image"
)

// Package nn is a Neural Network interface layer
// To load a model, use the nnload package.

const DefaultProbabilityThreshold = 0.5

var ErrNotReady = errors.New("Object detector is not ready")

// NN object detection parameters
type DetectionParams struct {
	ProbabilityThreshold float32 // Value between 0 and 1. Lower values will find more objects. Zero value will use the default.
}

// Create a default DetectionParams object
func NewDetectionParams() *DetectionParams {
	return &DetectionParams{
		ProbabilityThreshold: DefaultProbabilityThreshold,
	}
}

// ObjectDetector is given an image, and returns zero or more detected objects.
// Load must succeed before DetectObjects is called.
type ObjectDetector interface {
	// Load the model. This may download files, or wait for a remote service.
	// If Load fails, the detector is unusable for the lifetime of the process.
	Load(ctx context.Context) error

	// DetectObjects returns a list of objects detected in the image.
	// The image is not retained after the call returns.
	DetectObjects(ctx context.Context, img *image.RGBA, params *DetectionParams) ([]Detection, error)

	// Close releases any resources held by the detector
	Close()
}

// ClassName returns the name of class index idx, or "unknown" if idx is out of range
func ClassName(classes []string, idx int) string {
	if idx < 0 || idx >= len(classes) {
		return "unknown"
	}
	return classes[idx]
}

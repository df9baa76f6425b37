// Package fusion turns one frame plus the object detections on that frame
// into a single fire confidence score.
//
// Two independent signals are combined. The color signal counts fire-colored
// pixels on a sparse grid. The object signal is the best detection score among
// a small set of context classes (people, phones) that tend to be present when
// someone is standing near a real fire. The object signal can only raise the
// confidence of a scene that already has fire colors; on its own it can never
// produce a positive.
package fusion

import (
	"image"

	"github.com/cyclopcam/firewatch/pkg/nn"
)

// ColorRule decides whether a single pixel is fire-colored.
// All bounds are exclusive.
type ColorRule struct {
	RedAbove   uint8 `json:"redAbove"`
	GreenAbove uint8 `json:"greenAbove"`
	GreenBelow uint8 `json:"greenBelow"`
	BlueBelow  uint8 `json:"blueBelow"`
}

func (c ColorRule) IsFire(r, g, b uint8) bool {
	return r > c.RedAbove && g > c.GreenAbove && g < c.GreenBelow && b < c.BlueBelow
}

type Config struct {
	Color             ColorRule `json:"color"`
	SampleStride      int       `json:"sampleStride"`      // Inspect every Nth pixel, in raster order
	AreaFraction      float64   `json:"areaFraction"`      // Fraction of the frame area that saturates the color signal
	ContextClasses    []string  `json:"contextClasses"`    // Detection classes that feed the object signal
	ObjectGate        float64   `json:"objectGate"`        // Object signal must exceed this to take part in fusion
	ColorWeight       float64   `json:"colorWeight"`       // Weight of the color signal when the gate is open
	ObjectWeight      float64   `json:"objectWeight"`      // Weight of the object signal when the gate is open
	PositiveThreshold float64   `json:"positiveThreshold"` // Combined confidence must exceed this to count as a positive
}

func DefaultConfig() Config {
	return Config{
		Color: ColorRule{
			RedAbove:   200,
			GreenAbove: 60,
			GreenBelow: 150,
			BlueBelow:  60,
		},
		SampleStride:      10,
		AreaFraction:      0.01,
		ContextClasses:    []string{"person", "cell phone"},
		ObjectGate:        0.5,
		ColorWeight:       0.7,
		ObjectWeight:      0.3,
		PositiveThreshold: 0.65,
	}
}

// FusedScore is the result of fusing one frame. It is never persisted.
type FusedScore struct {
	ColorConfidence    float64 `json:"colorConfidence"`
	ObjectConfidence   float64 `json:"objectConfidence"`
	CombinedConfidence float64 `json:"combinedConfidence"`
	IsPositive         bool    `json:"isPositive"`
	FirePixels         int     `json:"firePixels"`
	SampledPixels      int     `json:"sampledPixels"`
}

// Engine is stateless after construction, and safe for concurrent use.
type Engine struct {
	cfg            Config
	contextClasses map[string]bool
}

func NewEngine(cfg Config) *Engine {
	if cfg.SampleStride < 1 {
		cfg.SampleStride = 1
	}
	e := &Engine{
		cfg:            cfg,
		contextClasses: map[string]bool{},
	}
	for _, c := range cfg.ContextClasses {
		e.contextClasses[c] = true
	}
	return e
}

func (e *Engine) Config() Config {
	return e.cfg
}

// IsContextClass returns true if detections of this class feed the object signal
func (e *Engine) IsContextClass(class string) bool {
	return e.contextClasses[class]
}

// Fuse computes the fused score for one frame and its detections.
// detections may be nil, which yields an object confidence of zero.
func (e *Engine) Fuse(img *image.RGBA, detections []nn.Detection) FusedScore {
	color, firePixels, sampled := e.ColorConfidence(img)
	object := e.ObjectConfidence(detections)
	combined := e.Combine(color, object)
	return FusedScore{
		ColorConfidence:    color,
		ObjectConfidence:   object,
		CombinedConfidence: combined,
		IsPositive:         combined > e.cfg.PositiveThreshold,
		FirePixels:         firePixels,
		SampledPixels:      sampled,
	}
}

// ColorConfidence returns min(firePixels / (width*height*AreaFraction), 1).
// Pixels are visited in raster order, skipping SampleStride-1 pixels between samples,
// but the denominator is based on the full frame area.
func (e *Engine) ColorConfidence(img *image.RGBA) (confidence float64, firePixels, sampled int) {
	if img == nil {
		return 0, 0, 0
	}
	width := img.Rect.Dx()
	height := img.Rect.Dy()
	total := width * height
	if total == 0 {
		return 0, 0, 0
	}
	rule := e.cfg.Color
	pix := img.Pix
	for p := 0; p < total; p += e.cfg.SampleStride {
		x := p % width
		y := p / width
		i := y*img.Stride + x*4
		sampled++
		if rule.IsFire(pix[i], pix[i+1], pix[i+2]) {
			firePixels++
		}
	}
	threshold := float64(total) * e.cfg.AreaFraction
	if threshold <= 0 {
		return 0, firePixels, sampled
	}
	return min(float64(firePixels)/threshold, 1), firePixels, sampled
}

// ObjectConfidence is the maximum score among detections in the context classes, or zero.
func (e *Engine) ObjectConfidence(detections []nn.Detection) float64 {
	return float64(nn.MaxConfidence(detections, e.contextClasses))
}

// Combine applies the fusion rule. When the object signal does not exceed the gate,
// the combined confidence equals the color confidence.
func (e *Engine) Combine(color, object float64) float64 {
	if object > e.cfg.ObjectGate {
		return e.cfg.ColorWeight*color + e.cfg.ObjectWeight*object
	}
	return color
}

// Percent converts a confidence in [0,1] to the 0..100 integer that operators see
func Percent(confidence float64) int {
	return int(confidence*100 + 0.5)
}

package fusion

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/cyclopcam/firewatch/pkg/nn"
	"github.com/fogleman/gg"
)

// Size of the square that marks a positive frame
const fireBoxSize = 200

// Annotate returns a copy of img with the context-class detections outlined,
// and when score is positive, a centered box labelled with the fire confidence.
// img is not modified.
func (e *Engine) Annotate(img *image.RGBA, detections []nn.Detection, score FusedScore) *image.RGBA {
	if img == nil {
		return nil
	}
	bounds := img.Rect
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Rect, img, bounds.Min, draw.Src)

	dc := gg.NewContextForRGBA(out)

	dc.SetRGB(0, 1, 1)
	dc.SetLineWidth(2)
	for _, d := range detections {
		if !e.IsContextClass(d.Class) {
			continue
		}
		b := d.Box
		dc.DrawRectangle(float64(b.X), float64(b.Y), float64(b.Width), float64(b.Height))
		dc.Stroke()
		dc.DrawString(fmt.Sprintf("%v (%v%%)", d.Class, Percent(float64(d.Confidence))), float64(b.X), float64(b.Y-5))
	}

	if score.IsPositive {
		box := nn.CenteredRect(out.Rect.Dx(), out.Rect.Dy(), fireBoxSize)
		dc.SetRGB(1, 0, 0)
		dc.SetLineWidth(3)
		dc.DrawRectangle(float64(box.X), float64(box.Y), float64(box.Width), float64(box.Height))
		dc.Stroke()
		dc.DrawString(fmt.Sprintf("FIRE! (%v%%)", Percent(score.CombinedConfidence)), float64(box.X), float64(box.Y-10))
	}

	return out
}

//go:build gocv

// Package gocvssd runs an SSD MobileNet COCO model with the OpenCV DNN module.
// It needs OpenCV, so it is only built with the 'gocv' build tag.
package gocvssd

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/cyclopcam/firewatch/pkg/nn"
	"github.com/cyclopcam/logs"
	"gocv.io/x/gocv"
)

type Config struct {
	ModelFile  string // eg frozen_inference_graph.pb
	ConfigFile string // eg ssd_mobilenet_v2_coco.pbtxt
	InputSize  int    // Network input is InputSize x InputSize. Default 300.
}

// Detector implements nn.ObjectDetector. The network is not safe for concurrent
// use, so calls to DetectObjects are serialized.
type Detector struct {
	log logs.Log
	cfg Config

	lock   sync.Mutex
	net    gocv.Net
	loaded bool
}

func NewDetector(log logs.Log, cfg Config) *Detector {
	if cfg.InputSize <= 0 {
		cfg.InputSize = 300
	}
	return &Detector{
		log: logs.NewPrefixLogger(log, "gocvssd"),
		cfg: cfg,
	}
}

func (d *Detector) Load(ctx context.Context) error {
	for _, f := range []string{d.cfg.ModelFile, d.cfg.ConfigFile} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("Model file not found: %w", err)
		}
	}
	net := gocv.ReadNet(d.cfg.ModelFile, d.cfg.ConfigFile)
	if net.Empty() {
		return fmt.Errorf("Failed to load network from %v", d.cfg.ModelFile)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return err
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return err
	}

	d.lock.Lock()
	defer d.lock.Unlock()
	d.net = net
	d.loaded = true
	d.log.Infof("Loaded %v", d.cfg.ModelFile)
	return nil
}

func (d *Detector) DetectObjects(ctx context.Context, img *image.RGBA, params *nn.DetectionParams) ([]nn.Detection, error) {
	if params == nil {
		params = nn.NewDetectionParams()
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if !d.loaded {
		return nil, nn.ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("Failed to convert frame: %w", err)
	}
	defer mat.Close()

	size := image.Pt(d.cfg.InputSize, d.cfg.InputSize)
	blob := gocv.BlobFromImage(mat, 1.0/127.5, size, gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// Each row of the output is [batch, categoryID, score, x1, y1, x2, y2], with coordinates in 0..1
	rows := output.Reshape(1, output.Total()/7)
	defer rows.Close()

	width := float32(img.Rect.Dx())
	height := float32(img.Rect.Dy())
	detections := []nn.Detection{}
	for i := 0; i < rows.Rows(); i++ {
		score := rows.GetFloatAt(i, 2)
		if score < params.ProbabilityThreshold {
			continue
		}
		x1 := int(rows.GetFloatAt(i, 3) * width)
		y1 := int(rows.GetFloatAt(i, 4) * height)
		x2 := int(rows.GetFloatAt(i, 5) * width)
		y2 := int(rows.GetFloatAt(i, 6) * height)
		box := nn.Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
		detections = append(detections, nn.Detection{
			Class:      nn.COCOCategoryName(int(rows.GetFloatAt(i, 1))),
			Confidence: score,
			Box:        box.ClipTo(img.Rect.Dx(), img.Rect.Dy()),
		})
	}
	return detections, nil
}

func (d *Detector) Close() {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.loaded {
		d.net.Close()
		d.loaded = false
	}
}

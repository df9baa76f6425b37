// Package nnhttp is an object detector that runs on a remote inference service.
//
// Frames are posted as JPEG. The service replies with a JSON list of
// predictions in the coco-ssd shape:
//
//	[{"bbox": [x, y, width, height], "class": "person", "score": 0.91}, ...]
//
// A service may also reply with {"predictions": [...]}, and may send a sparse
// COCO category ID in "classId" instead of a class name.
package nnhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/firewatch/pkg/nn"
	"github.com/cyclopcam/logs"
)

type Config struct {
	URL         string        // Base URL of the service, eg http://localhost:8500
	Timeout     time.Duration // Per-request timeout
	LoadTimeout time.Duration // How long Load waits for the service to become healthy
	Quality     int           // JPEG quality of the frames we send
}

func DefaultConfig() Config {
	return Config{
		URL:         "http://localhost:8500",
		Timeout:     5 * time.Second,
		LoadTimeout: 60 * time.Second,
		Quality:     80,
	}
}

// Prediction is one object in the reply of the service
type Prediction struct {
	BBox    []float64 `json:"bbox"` // x, y, width, height in pixels
	Class   string    `json:"class"`
	ClassID int       `json:"classId"` // Sparse COCO category ID. Only consulted when Class is empty.
	Score   float64   `json:"score"`
}

type predictionsJSON struct {
	Predictions *[]Prediction `json:"predictions"` // nil if the key is missing or null
}

// Detector implements nn.ObjectDetector
type Detector struct {
	log    logs.Log
	cfg    Config
	client *http.Client
	ready  atomic.Bool
}

func NewDetector(log logs.Log, cfg Config) *Detector {
	if cfg.Quality <= 0 {
		cfg.Quality = 80
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	return &Detector{
		log:    logs.NewPrefixLogger(log, "nnhttp"),
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Load waits for the service to answer its health check
func (d *Detector) Load(ctx context.Context) error {
	if d.cfg.LoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.LoadTimeout)
		defer cancel()
	}
	pause := 250 * time.Millisecond
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = d.health(ctx)
		if lastErr == nil {
			d.log.Infof("Inference service %v is ready", d.cfg.URL)
			d.ready.Store(true)
			return nil
		}
		if attempt == 1 {
			d.log.Infof("Waiting for inference service %v: %v", d.cfg.URL, lastErr)
		}
		select {
		case <-time.After(pause):
			pause = min(pause*2, 5*time.Second)
		case <-ctx.Done():
			return fmt.Errorf("Inference service %v is not available: %w", d.cfg.URL, lastErr)
		}
	}
}

func (d *Detector) health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", d.cfg.URL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Health check returned %v", resp.Status)
	}
	return nil
}

func (d *Detector) DetectObjects(ctx context.Context, img *image.RGBA, params *nn.DetectionParams) ([]nn.Detection, error) {
	if !d.ready.Load() {
		return nil, nn.ErrNotReady
	}
	if params == nil {
		params = nn.NewDetectionParams()
	}
	jpeg, err := encodeJPEG(img, d.cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode frame: %w", err)
	}

	url := fmt.Sprintf("%v/detect?threshold=%v", d.cfg.URL, params.ProbabilityThreshold)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jpeg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Inference service returned %v: %v", resp.Status, strings.TrimSpace(string(body)))
	}

	predictions, err := ParsePredictions(body)
	if err != nil {
		return nil, err
	}
	return ToDetections(predictions, img.Rect.Dx(), img.Rect.Dy(), params.ProbabilityThreshold)
}

func (d *Detector) Close() {
	d.ready.Store(false)
	d.client.CloseIdleConnections()
}

// ParsePredictions accepts either a bare JSON array, or an object with a "predictions" array.
// An object without a "predictions" array (eg {"error":"oom"}) is an error, not an empty reply.
func ParsePredictions(body []byte) ([]Prediction, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("Empty reply from inference service")
	}
	if body[0] == '[' {
		var list []Prediction
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, fmt.Errorf("Invalid predictions: %w", err)
		}
		return list, nil
	}
	wrapped := predictionsJSON{}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("Invalid predictions: %w", err)
	}
	if wrapped.Predictions == nil {
		return nil, fmt.Errorf("Reply from inference service has no predictions: %v", truncate(string(body), 200))
	}
	return *wrapped.Predictions, nil
}

// ToDetections converts predictions into detections clipped to the frame.
// Predictions below threshold are dropped. A prediction without a 4 element box, or
// with a score outside [0,1], makes the whole reply invalid.
func ToDetections(predictions []Prediction, width, height int, threshold float32) ([]nn.Detection, error) {
	detections := make([]nn.Detection, 0, len(predictions))
	for i, p := range predictions {
		if len(p.BBox) != 4 {
			return nil, fmt.Errorf("Prediction %v has a bbox of length %v, instead of 4", i, len(p.BBox))
		}
		if math.IsNaN(p.Score) || p.Score < 0 || p.Score > 1 {
			return nil, fmt.Errorf("Prediction %v has score %v, which is outside [0,1]", i, p.Score)
		}
		if float32(p.Score) < threshold {
			continue
		}
		class := p.Class
		if class == "" {
			class = nn.COCOCategoryName(p.ClassID)
		}
		box := nn.Rect{
			X:      int(math.Round(p.BBox[0])),
			Y:      int(math.Round(p.BBox[1])),
			Width:  int(math.Round(p.BBox[2])),
			Height: int(math.Round(p.BBox[3])),
		}.ClipTo(width, height)
		detections = append(detections, nn.Detection{
			Class:      class,
			Confidence: float32(p.Score),
			Box:        box,
		})
	}
	return detections, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func encodeJPEG(img *image.RGBA, quality int) ([]byte, error) {
	wrapped := cimg.WrapImageStrided(img.Rect.Dx(), img.Rect.Dy(), cimg.PixelFormatRGBA, img.Pix, img.Stride)
	return cimg.Compress(wrapped, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}

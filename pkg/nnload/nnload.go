package nnload

// Package nnload wraps up our 'nn' interface layer, and has concrete references to our
// object detector backends, so that you can just call one function to get a detector,
// and not need to know about the implementation details.
//
// The OpenCV backend is only available when built with the 'gocv' build tag.

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/firewatch/pkg/nn"
	"github.com/cyclopcam/firewatch/pkg/nnhttp"
	"github.com/cyclopcam/logs"
)

type Backend string

const (
	BackendHTTP   Backend = "http"   // Remote inference service (see nnhttp)
	BackendGoCV   Backend = "gocv"   // SSD MobileNet on OpenCV DNN (see gocvssd)
	BackendStatic Backend = "static" // Fixed detections, for demos and tests
)

type Config struct {
	Backend      Backend
	HTTP         nnhttp.Config
	ModelDir     string         // Where gocv model files live
	ModelName    string         // eg ssd_mobilenet_v2_coco. Files are ModelName.pb and ModelName.pbtxt
	ModelBaseURL string         // If not empty, missing model files are downloaded from here
	Static       []nn.Detection // Detections returned by the static backend
}

func DefaultConfig() Config {
	return Config{
		Backend:   BackendHTTP,
		HTTP:      nnhttp.DefaultConfig(),
		ModelDir:  "models",
		ModelName: "ssd_mobilenet_v2_coco",
	}
}

// NewDetector constructs the detector described by cfg.
// The detector is not loaded. Call Load on it (the monitor does this in the background).
func NewDetector(log logs.Log, cfg Config) (nn.ObjectDetector, error) {
	switch cfg.Backend {
	case BackendHTTP:
		if cfg.HTTP.URL == "" {
			return nil, fmt.Errorf("Inference service URL is required for the '%v' backend", cfg.Backend)
		}
		return nnhttp.NewDetector(log, cfg.HTTP), nil
	case BackendGoCV:
		return newGoCVDetector(log, cfg)
	case BackendStatic:
		return NewStaticDetector(cfg.Static), nil
	}
	return nil, fmt.Errorf("Unknown object detector backend '%v'", cfg.Backend)
}

// ModelFiles returns the files that make up the gocv model
func ModelFiles(modelName string) []string {
	return []string{modelName + ".pb", modelName + ".pbtxt"}
}

func downloadFile(ctx context.Context, srcUrl, targetFile string) error {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "GET", srcUrl, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, resp.Body)
	if err != nil {
		return err
	}
	file.Close()
	return os.Rename(tempFile, targetFile)
}

// If the model files are not yet downloaded, then download them now.
// Returns immediately if the files are already downloaded.
func DownloadModel(ctx context.Context, logs logs.Log, baseUrl, modelDir, modelName string) error {
	for _, name := range ModelFiles(modelName) {
		diskPath := filepath.Join(modelDir, name)
		networkUrl := baseUrl + "/" + name
		if _, err := os.Stat(diskPath); os.IsNotExist(err) {
			if baseUrl == "" {
				return fmt.Errorf("Model file %v is missing, and no download URL is configured", diskPath)
			}
			logs.Infof("Downloading %v to %v", networkUrl, diskPath)
			start := time.Now()
			if err := downloadFile(ctx, networkUrl, diskPath); err != nil {
				return fmt.Errorf("Download of %v failed: %w", networkUrl, err)
			}
			logs.Infof("Downloaded %v in %.1f seconds", name, time.Since(start).Seconds())
		} else if err != nil {
			return err
		}
	}
	return nil
}

// StaticDetector returns the same detections for every frame
type StaticDetector struct {
	Detections []nn.Detection
}

func NewStaticDetector(detections []nn.Detection) *StaticDetector {
	return &StaticDetector{Detections: detections}
}

func (s *StaticDetector) Load(ctx context.Context) error {
	return nil
}

func (s *StaticDetector) DetectObjects(ctx context.Context, img *image.RGBA, params *nn.DetectionParams) ([]nn.Detection, error) {
	if params == nil {
		params = nn.NewDetectionParams()
	}
	out := []nn.Detection{}
	for _, d := range s.Detections {
		if d.Confidence >= params.ProbabilityThreshold {
			d.Box = d.Box.ClipTo(img.Rect.Dx(), img.Rect.Dy())
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *StaticDetector) Close() {
}

//go:build gocv

package nnload

import (
	"context"
	"path/filepath"

	"github.com/cyclopcam/firewatch/pkg/gocvssd"
	"github.com/cyclopcam/firewatch/pkg/nn"
	"github.com/cyclopcam/logs"
)

// downloadingDetector fetches missing model files before loading the network
type downloadingDetector struct {
	*gocvssd.Detector
	log logs.Log
	cfg Config
}

func (d *downloadingDetector) Load(ctx context.Context) error {
	if err := DownloadModel(ctx, d.log, d.cfg.ModelBaseURL, d.cfg.ModelDir, d.cfg.ModelName); err != nil {
		return err
	}
	return d.Detector.Load(ctx)
}

func newGoCVDetector(log logs.Log, cfg Config) (nn.ObjectDetector, error) {
	files := ModelFiles(cfg.ModelName)
	inner := gocvssd.NewDetector(log, gocvssd.Config{
		ModelFile:  filepath.Join(cfg.ModelDir, files[0]),
		ConfigFile: filepath.Join(cfg.ModelDir, files[1]),
	})
	return &downloadingDetector{
		Detector: inner,
		log:      log,
		cfg:      cfg,
	}, nil
}

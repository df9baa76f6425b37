//go:build !gocv

package nnload

import (
	"errors"

	"github.com/cyclopcam/firewatch/pkg/nn"
	"github.com/cyclopcam/logs"
)

func newGoCVDetector(log logs.Log, cfg Config) (nn.ObjectDetector, error) {
	return nil, errors.New("This build has no OpenCV support. Rebuild with '-tags gocv' to use the gocv backend")
}

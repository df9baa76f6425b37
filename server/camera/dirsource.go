package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cyclopcam/logs"
)

// DirSource replays the images in a directory, in name order.
// It is useful for testing the detector against recorded footage.
type DirSource struct {
	log logs.Log
	cfg Config
}

func NewDirSource(log logs.Log, cfg Config) *DirSource {
	return &DirSource{
		log: log,
		cfg: cfg,
	}
}

// ListImages returns the JPEG and PNG files in dir, sorted by name
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

func (d *DirSource) Start(ctx context.Context) (*Stream, error) {
	files, err := ListImages(d.cfg.Dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("No images found in %v", d.cfg.Dir)
	}

	stream, ctx := NewStream(ctx, d.log, d.cfg.Dir)
	load := func(filename string) error {
		data, err := os.ReadFile(filename)
		if err != nil {
			return err
		}
		img, err := DecodeImage(data)
		if err != nil {
			return fmt.Errorf("%v: %w", filepath.Base(filename), err)
		}
		stream.PushFrame(FitWithin(img, d.cfg.MaxWidth, d.cfg.MaxHeight), time.Now())
		return nil
	}

	if err := load(files[0]); err != nil {
		stream.cancel()
		return nil, err
	}

	next := 1
	go runPoller(ctx, stream, d.cfg.Interval, func(ctx context.Context) error {
		if next == len(files) {
			if !d.cfg.Loop {
				d.log.Infof("Finished replaying %v images from %v", len(files), d.cfg.Dir)
				return errStopPolling
			}
			next = 0
		}
		filename := files[next]
		next++
		return load(filename)
	})
	return stream, nil
}

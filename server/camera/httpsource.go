package camera

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cyclopcam/logs"
)

const maxSnapshotBytes = 32 * 1024 * 1024

// HTTPSource polls a camera's snapshot URL (eg an IP camera's /snapshot.jpg, or an mjpeg bridge)
type HTTPSource struct {
	log    logs.Log
	cfg    Config
	client *http.Client
}

func NewHTTPSource(log logs.Log, cfg Config) *HTTPSource {
	return &HTTPSource{
		log: log,
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (h *HTTPSource) Start(ctx context.Context) (*Stream, error) {
	stream, ctx := NewStream(ctx, h.log, h.ident())

	// A source that can't produce a single frame has not been acquired
	img, err := h.fetch(ctx)
	if err != nil {
		stream.cancel()
		return nil, fmt.Errorf("Failed to connect to camera %v: %w", h.ident(), err)
	}
	stream.PushFrame(img, time.Now())

	go runPoller(ctx, stream, h.cfg.Interval, func(ctx context.Context) error {
		img, err := h.fetch(ctx)
		if err != nil {
			return err
		}
		stream.PushFrame(img, time.Now())
		return nil
	})
	return stream, nil
}

// ident is the URL without credentials
func (h *HTTPSource) ident() string {
	u, err := url.Parse(h.cfg.URL)
	if err != nil {
		return h.cfg.URL
	}
	return u.Host + u.Path
}

func (h *HTTPSource) fetch(ctx context.Context) (*image.RGBA, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", h.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	if h.cfg.Username != "" {
		req.SetBasicAuth(h.cfg.Username, h.cfg.Password)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %v", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, err
	}
	img, err := DecodeImage(data)
	if err != nil {
		// A common mistake is to configure the camera's home page instead of its snapshot URL
		if brand := IdentifyCameraFromHTTP(resp.Header, string(data)); brand != CameraBrandUnknown {
			return nil, fmt.Errorf("%v returned the web page of a %v camera. Set the camera brand to '%v', or use its snapshot URL", h.ident(), brand, brand)
		}
		return nil, err
	}
	return FitWithin(img, h.cfg.MaxWidth, h.cfg.MaxHeight), nil
}

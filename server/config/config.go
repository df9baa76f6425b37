package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/cyclopcam/firewatch/pkg/nn"
	"github.com/cyclopcam/firewatch/pkg/nnhttp"
	"github.com/cyclopcam/firewatch/pkg/nnload"
	"github.com/cyclopcam/firewatch/server/camera"
	"github.com/cyclopcam/firewatch/server/eventdb"
	"github.com/cyclopcam/firewatch/server/fusion"
	"github.com/cyclopcam/firewatch/server/incident"
	"github.com/cyclopcam/firewatch/server/monitor"
	"github.com/cyclopcam/firewatch/server/notifications"
	"github.com/cyclopcam/firewatch/server/snapshots"
	"github.com/joho/godotenv"
)

const DefaultFilename = "firewatch.json"

// Environment variables that override the config file.
// Secrets belong here rather than in the file.
const (
	EnvListen          = "FIREWATCH_LISTEN"
	EnvCameraURL       = "FIREWATCH_CAMERA_URL"
	EnvCameraUsername  = "FIREWATCH_CAMERA_USERNAME"
	EnvCameraPassword  = "FIREWATCH_CAMERA_PASSWORD"
	EnvDetectorURL     = "FIREWATCH_DETECTOR_URL"
	EnvBackendURL      = "FIREWATCH_BACKEND_URL"
	EnvBackendToken    = "FIREWATCH_BACKEND_TOKEN"
	EnvBackendEmail    = "FIREWATCH_BACKEND_EMAIL"
	EnvBackendPassword = "FIREWATCH_BACKEND_PASSWORD"
)

// All durations in the config file are integer milliseconds.
// SYNC-FIREWATCH-CONFIG-JSON

type Camera struct {
	Name       string             `json:"name"`       // Friendly name
	Kind       camera.SourceKind  `json:"kind"`       // "http", "onvif" or "dir"
	URL        string             `json:"url"`        // Snapshot URL such as http://192.168.1.33/cgi-bin/snapshot.jpg
	Brand      camera.CameraBrand `json:"brand"`      // "HikVision" or "Reolink". The url is then the camera's root, eg http://192.168.1.33
	Username   string             `json:"username"`   // Basic auth
	Password   string             `json:"password"`   // Basic auth
	Dir        string             `json:"dir"`        // Image directory, for kind "dir"
	Loop       bool               `json:"loop"`       // Replay the directory forever
	IntervalMS int                `json:"intervalMS"` // Time between frames
	MaxWidth   int                `json:"maxWidth"`   // Frames are scaled down to fit
	MaxHeight  int                `json:"maxHeight"`
	AutoStart  bool               `json:"autoStart"` // Start the camera when the service starts
}

type Detector struct {
	Backend              nnload.Backend `json:"backend"`              // "http", "gocv" or "static"
	URL                  string         `json:"url"`                  // Inference service, for backend "http"
	TimeoutMS            int            `json:"timeoutMS"`            // Per-frame request timeout
	LoadTimeoutMS        int            `json:"loadTimeoutMS"`        // How long to wait for the service to come up
	ModelDir             string         `json:"modelDir"`             // For backend "gocv"
	ModelName            string         `json:"modelName"`            // For backend "gocv"
	ModelBaseURL         string         `json:"modelBaseURL"`         // Missing gocv model files are downloaded from here
	ProbabilityThreshold float32        `json:"probabilityThreshold"` // Detections below this are ignored
	Static               []nn.Detection `json:"static"`               // For backend "static"
}

type Sampling struct {
	RefreshHz          float64 `json:"refreshHz"`
	GraceDelayMS       int     `json:"graceDelayMS"`
	RequireNewFrame    bool    `json:"requireNewFrame"`
	HistorySize        int     `json:"historySize"`
	ErrorLogIntervalMS int     `json:"errorLogIntervalMS"`
}

type Incident struct {
	ConfirmThreshold      int `json:"confirmThreshold"`
	DebounceMS            int `json:"debounceMS"`
	RetryAttempts         int `json:"retryAttempts"` // 1 means no retry
	RetryInitialBackoffMS int `json:"retryInitialBackoffMS"`
	RetryMaxBackoffMS     int `json:"retryMaxBackoffMS"`
}

type Backend struct {
	URL            string `json:"url"` // eg http://localhost:3000/api
	Token          string `json:"token"`
	Email          string `json:"email"`
	Password       string `json:"password"`
	SkipIfActive   bool   `json:"skipIfActive"`   // Don't notify if the backend already has an active emergency
	ControlOnReset bool   `json:"controlOnReset"` // Tell the backend that the fire is controlled when the operator resets
	TimeoutMS      int    `json:"timeoutMS"`
}

type Snapshots struct {
	Kind          snapshots.Kind `json:"kind"`          // "", "fs" or "gcs"
	Dir           string         `json:"dir"`           // For kind "fs". Relative to dataDir.
	PublicBaseURL string         `json:"publicBaseURL"` // For kind "fs". eg http://firewatch.local:8080/api/snapshots
	Bucket        string         `json:"bucket"`        // For kind "gcs"
	Public        bool           `json:"public"`        // For kind "gcs"
	Quality       int            `json:"quality"`       // JPEG quality
}

type Events struct {
	Enabled       bool   `json:"enabled"`
	Filename      string `json:"filename"` // Relative to dataDir
	MaxEventCount int64  `json:"maxEventCount"`
}

type Config struct {
	Listen        string        `json:"listen"`        // eg ":8080"
	DataDir       string        `json:"dataDir"`       // Event DB and local snapshots live here
	RatePerMinute int           `json:"ratePerMinute"` // Rate limit of the command endpoints, per client IP
	Camera        Camera        `json:"camera"`
	Detector      Detector      `json:"detector"`
	Fusion        fusion.Config `json:"fusion"`
	Sampling      Sampling      `json:"sampling"`
	Incident      Incident      `json:"incident"`
	Backend       Backend       `json:"backend"`
	Snapshots     Snapshots     `json:"snapshots"`
	Events        Events        `json:"events"`
}

func Default() *Config {
	cam := camera.DefaultConfig()
	det := nnload.DefaultConfig()
	mon := monitor.DefaultConfig()
	inc := incident.DefaultConfig()
	backend := notifications.DefaultConfig()
	return &Config{
		Listen:        ":8080",
		DataDir:       "data",
		RatePerMinute: 30,
		Camera: Camera{
			Name:       "camera",
			Kind:       cam.Kind,
			IntervalMS: int(cam.Interval.Milliseconds()),
			MaxWidth:   cam.MaxWidth,
			MaxHeight:  cam.MaxHeight,
			AutoStart:  true,
		},
		Detector: Detector{
			Backend:              det.Backend,
			URL:                  det.HTTP.URL,
			TimeoutMS:            int(det.HTTP.Timeout.Milliseconds()),
			LoadTimeoutMS:        int(det.HTTP.LoadTimeout.Milliseconds()),
			ModelDir:             det.ModelDir,
			ModelName:            det.ModelName,
			ProbabilityThreshold: nn.DefaultProbabilityThreshold,
		},
		Fusion: fusion.DefaultConfig(),
		Sampling: Sampling{
			RefreshHz:          mon.RefreshHz,
			GraceDelayMS:       int(mon.GraceDelay.Milliseconds()),
			RequireNewFrame:    mon.RequireNewFrame,
			HistorySize:        mon.HistorySize,
			ErrorLogIntervalMS: int(mon.ErrorLogInterval.Milliseconds()),
		},
		Incident: Incident{
			ConfirmThreshold:      inc.ConfirmThreshold,
			DebounceMS:            int(inc.DebounceDelay.Milliseconds()),
			RetryAttempts:         inc.Retry.MaxAttempts,
			RetryInitialBackoffMS: int(inc.Retry.InitialBackoff.Milliseconds()),
			RetryMaxBackoffMS:     int(inc.Retry.MaxBackoff.Milliseconds()),
		},
		Backend: Backend{
			URL:          backend.BaseURL,
			SkipIfActive: backend.SkipIfActive,
			TimeoutMS:    int(backend.HTTPTimeout.Milliseconds()),
		},
		Snapshots: Snapshots{
			Dir:     "snapshots",
			Quality: 85,
		},
		Events: Events{
			Enabled:       true,
			Filename:      "events.sqlite",
			MaxEventCount: eventdb.DefaultMaxEventCount,
		},
	}
}

// LoadConfig reads a JSON config file on top of the defaults.
// If filename is empty, only the defaults are used.
func LoadConfig(filename string) (*Config, error) {
	cfg := Default()
	if filename == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
	}
	return cfg, nil
}

// LoadEnvFile loads variables from a .env file into the process environment.
// Variables that are already set are not overwritten. A missing file is not an error.
func LoadEnvFile(filename string) error {
	if _, err := os.Stat(filename); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(filename)
}

// ApplyEnv overrides config values with any environment variables that are set
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Listen, EnvListen)
	set(&c.Camera.URL, EnvCameraURL)
	set(&c.Camera.Username, EnvCameraUsername)
	set(&c.Camera.Password, EnvCameraPassword)
	set(&c.Detector.URL, EnvDetectorURL)
	set(&c.Backend.URL, EnvBackendURL)
	set(&c.Backend.Token, EnvBackendToken)
	set(&c.Backend.Email, EnvBackendEmail)
	set(&c.Backend.Password, EnvBackendPassword)
}

// Validate returns the first problem found in the config
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	switch c.Camera.Kind {
	case camera.SourceKindHTTP:
		if c.Camera.URL == "" {
			return errors.New("camera.url is required for an http camera")
		}
		if c.Camera.Brand != camera.CameraBrandUnknown && !slices.Contains(camera.AllCameraBrands, c.Camera.Brand) {
			return fmt.Errorf("Unknown camera brand '%v'", c.Camera.Brand)
		}
	case camera.SourceKindONVIF:
		if c.Camera.URL == "" {
			return errors.New("camera.url must be the camera's address (eg 192.168.1.33) for an onvif camera")
		}
	case camera.SourceKindDir:
		if c.Camera.Dir == "" {
			return errors.New("camera.dir is required for a dir camera")
		}
	default:
		return fmt.Errorf("Unknown camera kind '%v'", c.Camera.Kind)
	}
	if c.Camera.IntervalMS <= 0 {
		return errors.New("camera.intervalMS must be positive")
	}
	if c.Detector.ProbabilityThreshold < 0 || c.Detector.ProbabilityThreshold > 1 {
		return errors.New("detector.probabilityThreshold must be between 0 and 1")
	}
	if c.Sampling.RefreshHz <= 0 {
		return errors.New("sampling.refreshHz must be positive")
	}
	if c.Fusion.SampleStride < 1 {
		return errors.New("fusion.sampleStride must be at least 1")
	}
	if c.Fusion.AreaFraction <= 0 {
		return errors.New("fusion.areaFraction must be positive")
	}
	if c.Fusion.PositiveThreshold < 0 || c.Fusion.PositiveThreshold >= 1 {
		return errors.New("fusion.positiveThreshold must be in [0, 1)")
	}
	if c.Incident.ConfirmThreshold < 1 {
		return errors.New("incident.confirmThreshold must be at least 1")
	}
	if c.Incident.DebounceMS < 0 {
		return errors.New("incident.debounceMS may not be negative")
	}
	if c.Backend.URL == "" {
		return errors.New("backend.url is required")
	}
	if c.Backend.Token == "" && (c.Backend.Email == "" || c.Backend.Password == "") {
		return fmt.Errorf("backend needs either a token or an email and password (see %v, %v, %v)", EnvBackendToken, EnvBackendEmail, EnvBackendPassword)
	}
	switch c.Snapshots.Kind {
	case snapshots.KindNone, snapshots.KindFS:
	case snapshots.KindGCS:
		if c.Snapshots.Bucket == "" {
			return errors.New("snapshots.bucket is required for gcs snapshots")
		}
	default:
		return fmt.Errorf("Unknown snapshot storage '%v'", c.Snapshots.Kind)
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// resolve makes a path relative to DataDir, unless it is already absolute
func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

func (c *Config) CameraConfig() camera.Config {
	return camera.Config{
		Kind:      c.Camera.Kind,
		URL:       c.Camera.URL,
		Brand:     c.Camera.Brand,
		Username:  c.Camera.Username,
		Password:  c.Camera.Password,
		Dir:       c.Camera.Dir,
		Loop:      c.Camera.Loop,
		Interval:  ms(c.Camera.IntervalMS),
		MaxWidth:  c.Camera.MaxWidth,
		MaxHeight: c.Camera.MaxHeight,
	}
}

func (c *Config) DetectorConfig() nnload.Config {
	cfg := nnload.DefaultConfig()
	cfg.Backend = c.Detector.Backend
	cfg.HTTP.URL = c.Detector.URL
	cfg.HTTP.Timeout = ms(c.Detector.TimeoutMS)
	cfg.HTTP.LoadTimeout = ms(c.Detector.LoadTimeoutMS)
	cfg.ModelDir = c.Detector.ModelDir
	cfg.ModelName = c.Detector.ModelName
	cfg.ModelBaseURL = strings.TrimSuffix(c.Detector.ModelBaseURL, "/")
	cfg.Static = c.Detector.Static
	return cfg
}

func (c *Config) MonitorConfig() monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.RefreshHz = c.Sampling.RefreshHz
	cfg.GraceDelay = ms(c.Sampling.GraceDelayMS)
	cfg.RequireNewFrame = c.Sampling.RequireNewFrame
	cfg.ErrorLogInterval = ms(c.Sampling.ErrorLogIntervalMS)
	cfg.HistorySize = c.Sampling.HistorySize
	cfg.ControlOnReset = c.Backend.ControlOnReset
	cfg.Detection.ProbabilityThreshold = c.Detector.ProbabilityThreshold
	cfg.Fusion = c.Fusion
	cfg.Incident = incident.Config{
		ConfirmThreshold: c.Incident.ConfirmThreshold,
		DebounceDelay:    ms(c.Incident.DebounceMS),
		Retry: incident.RetryPolicy{
			MaxAttempts:    c.Incident.RetryAttempts,
			InitialBackoff: ms(c.Incident.RetryInitialBackoffMS),
			MaxBackoff:     ms(c.Incident.RetryMaxBackoffMS),
		},
	}
	return cfg
}

func (c *Config) NotifierConfig() notifications.Config {
	return notifications.Config{
		BaseURL:      c.Backend.URL,
		Token:        c.Backend.Token,
		Email:        c.Backend.Email,
		Password:     c.Backend.Password,
		SkipIfActive: c.Backend.SkipIfActive,
		HTTPTimeout:  ms(c.Backend.TimeoutMS),
	}
}

func (c *Config) SnapshotConfig() snapshots.Config {
	return snapshots.Config{
		Kind:          c.Snapshots.Kind,
		Root:          c.resolve(c.Snapshots.Dir),
		PublicBaseURL: c.Snapshots.PublicBaseURL,
		Bucket:        c.Snapshots.Bucket,
		Public:        c.Snapshots.Public,
		Quality:       c.Snapshots.Quality,
	}
}

// EventDBPath returns the path of the incident journal, or "" if the journal is disabled
func (c *Config) EventDBPath() string {
	if !c.Events.Enabled {
		return ""
	}
	return c.resolve(c.Events.Filename)
}

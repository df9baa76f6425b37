package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cyclopcam/firewatch/server/incident"
	"github.com/cyclopcam/logs"
)

var ErrNoCredentials = errors.New("No backend token or login credentials")

type Config struct {
	BaseURL      string // eg http://localhost:3000/api
	Token        string // Static bearer token. If empty, we log in with Email and Password.
	Email        string
	Password     string
	SkipIfActive bool          // Consult the emergency status before notifying, and skip if it's already active
	HTTPTimeout  time.Duration // Per request
}

func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://localhost:3000/api",
		SkipIfActive: true,
		HTTPTimeout:  10 * time.Second,
	}
}

// Notifier is the client of the society backend, which relays emergencies to the fire station.
// It implements incident.Dispatcher.
type Notifier struct {
	log    logs.Log
	cfg    Config
	client *http.Client

	tokenLock sync.Mutex
	token     string
}

func NewNotifier(logger logs.Log, cfg Config) *Notifier {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = DefaultConfig().HTTPTimeout
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Notifier{
		log:    logs.NewPrefixLogger(logger, "Notifier"),
		cfg:    cfg,
		client: &http.Client{},
		token:  cfg.Token,
	}
}

// SYNC-SOCIETY-TRIGGER-FIRE-JSON
type triggerFireJSON struct {
	AutoDetected bool      `json:"autoDetected"`
	IncidentID   string    `json:"incidentID,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	DetectedAt   time.Time `json:"detectedAt"`
	SnapshotURL  string    `json:"snapshotURL,omitempty"`
}

type messageJSON struct {
	Message string `json:"message"`
}

// SocietyDetails is the subset of /society/details that we care about
type SocietyDetails struct {
	Name       string `json:"name"`
	FireStatus *struct {
		IsActive bool `json:"isActive"`
	} `json:"fireStatus"`
}

func (s *SocietyDetails) FireActive() bool {
	return s.FireStatus != nil && s.FireStatus.IsActive
}

// Notify raises the emergency with the backend
func (n *Notifier) Notify(ctx context.Context, alert incident.AlertContext) error {
	if n.cfg.SkipIfActive {
		details, err := n.Details(ctx)
		if err != nil {
			// Don't let a broken status endpoint stop the alert
			n.log.Warnf("Failed to read emergency status, notifying anyway: %v", err)
		} else if details.FireActive() {
			return fmt.Errorf("Backend reports an active fire: %w", incident.ErrAlreadyActive)
		}
	}

	msg := triggerFireJSON{
		AutoDetected: alert.AutoDetected,
		IncidentID:   alert.IncidentID,
		Confidence:   alert.Confidence,
		DetectedAt:   alert.DetectedAt,
		SnapshotURL:  alert.SnapshotURL,
	}
	resp := messageJSON{}
	if err := n.call(ctx, "POST", "/society/trigger-fire", &msg, &resp); err != nil {
		return fmt.Errorf("trigger-fire: %w", err)
	}
	n.log.Infof("Emergency raised for incident %v: %v", alert.IncidentID, resp.Message)
	return nil
}

// ControlFire tells the backend that the emergency is under control
func (n *Notifier) ControlFire(ctx context.Context) error {
	resp := messageJSON{}
	if err := n.call(ctx, "POST", "/society/control-fire", struct{}{}, &resp); err != nil {
		return fmt.Errorf("control-fire: %w", err)
	}
	n.log.Infof("Emergency controlled: %v", resp.Message)
	return nil
}

// Details fetches the society record, which includes the emergency status
func (n *Notifier) Details(ctx context.Context) (*SocietyDetails, error) {
	details := &SocietyDetails{}
	if err := n.call(ctx, "GET", "/society/details", nil, details); err != nil {
		return nil, fmt.Errorf("details: %w", err)
	}
	return details, nil
}

// call performs an authorized JSON request. On 401 we log in again and retry once.
func (n *Notifier) call(ctx context.Context, method, path string, body, out any) error {
	token, err := n.getToken(ctx, false)
	if err != nil {
		return err
	}
	status, err := n.do(ctx, token, method, path, body, out)
	if status == http.StatusUnauthorized && n.canLogin() {
		n.log.Infof("Token rejected, logging in again")
		if token, err = n.getToken(ctx, true); err != nil {
			return err
		}
		_, err = n.do(ctx, token, method, path, body, out)
	}
	return err
}

func (n *Notifier) do(ctx context.Context, token, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		j, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(j)
	}
	req, err, cancel := n.newAuthorizedRequest(ctx, token, method, n.cfg.BaseURL+path, reader)
	defer cancel()
	if err != nil {
		return 0, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return resp.StatusCode, responseError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, fmt.Errorf("Invalid response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (n *Notifier) newAuthorizedRequest(ctx context.Context, token, method, url string, body io.Reader) (*http.Request, error, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.HTTPTimeout)
	r, err := http.NewRequestWithContext(ctx, method, url, body)
	if err == nil {
		if token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
		if body != nil {
			r.Header.Set("Content-Type", "application/json")
		}
	}
	return r, err, cancel
}

// The backend puts a human readable reason in {"message": "..."}
func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := messageJSON{}
	if json.Unmarshal(raw, &msg) == nil && msg.Message != "" {
		return fmt.Errorf("%v (%v)", resp.Status, msg.Message)
	}
	return fmt.Errorf("%v (%v)", resp.Status, strings.TrimSpace(string(raw)))
}

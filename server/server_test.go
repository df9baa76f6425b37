package server

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/firewatch/pkg/nnload"
	"github.com/cyclopcam/firewatch/server/camera"
	"github.com/cyclopcam/firewatch/server/config"
	"github.com/cyclopcam/firewatch/server/eventdb"
	"github.com/cyclopcam/firewatch/server/incident"
	"github.com/cyclopcam/firewatch/server/monitor"
	"github.com/cyclopcam/firewatch/server/snapshots"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// fakeBackend records the calls that the notifier makes to the society backend
type fakeBackend struct {
	lock     sync.Mutex
	triggers []map[string]any
	controls int
	srv      *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	b := &fakeBackend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		b.lock.Lock()
		defer b.lock.Unlock()
		switch r.URL.Path {
		case "/society/details":
			w.Write([]byte(`{"name":"Oak Court","fireStatus":{"isActive":false}}`))
		case "/society/trigger-fire":
			body := map[string]any{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			b.triggers = append(b.triggers, body)
			w.Write([]byte(`{"message":"Fire emergency triggered"}`))
		case "/society/control-fire":
			b.controls++
			w.Write([]byte(`{"message":"Fire controlled"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) counts() (triggers, controls int) {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.triggers), b.controls
}

func (b *fakeBackend) trigger(i int) map[string]any {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.triggers[i]
}

func writeFrame(t *testing.T, filename string, c color.RGBA) {
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, 255
	}
	f, err := os.Create(filename)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

type testServer struct {
	*Server
	backend *fakeBackend
	http    *httptest.Server
}

// newTestServer builds a server that watches a directory of burning frames
func newTestServer(t *testing.T, modify func(cfg *config.Config)) *testServer {
	dir := t.TempDir()
	frames := filepath.Join(dir, "frames")
	require.NoError(t, os.MkdirAll(frames, 0755))
	writeFrame(t, filepath.Join(frames, "0001.png"), color.RGBA{230, 100, 20, 255})

	backend := newFakeBackend(t)

	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Camera.Kind = camera.SourceKindDir
	cfg.Camera.Dir = frames
	cfg.Camera.Loop = true
	cfg.Camera.IntervalMS = 10
	cfg.Camera.AutoStart = false
	cfg.Detector.Backend = nnload.BackendStatic
	cfg.Sampling.RefreshHz = 100
	cfg.Sampling.GraceDelayMS = 0
	cfg.Incident.ConfirmThreshold = 3
	cfg.Incident.DebounceMS = 0
	cfg.Backend.URL = backend.srv.URL
	cfg.Backend.Token = "secret"
	cfg.Backend.ControlOnReset = true
	cfg.Snapshots.Kind = snapshots.KindFS
	cfg.Snapshots.PublicBaseURL = "http://firewatch.test/api/snapshots"
	cfg.RatePerMinute = 100
	if modify != nil {
		modify(cfg)
	}
	require.NoError(t, cfg.Validate())

	s, err := NewServer(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)
	ts := &testServer{
		Server:  s,
		backend: backend,
		http:    httptest.NewServer(s.httpRouter),
	}
	t.Cleanup(func() {
		ts.http.Close()
		s.Close()
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, route string) (int, []byte) {
	req, err := http.NewRequest(method, ts.http.URL+route, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (ts *testServer) status(t *testing.T) *monitor.Status {
	code, body := ts.do(t, "GET", "/api/status?history=1")
	require.Equal(t, http.StatusOK, code, string(body))
	st := &monitor.Status{}
	require.NoError(t, json.Unmarshal(body, st))
	return st
}

func TestFireIsReportedEndToEnd(t *testing.T) {
	ts := newTestServer(t, nil)

	code, _ := ts.do(t, "GET", "/api/frame/latest.jpg")
	require.Equal(t, http.StatusNotFound, code)

	code, body := ts.do(t, "POST", "/api/camera/start")
	require.Equal(t, http.StatusOK, code, string(body))

	require.Eventually(t, func() bool {
		return ts.status(t).State == incident.StateAlerted && ts.Monitor.Counters.AlertsSent.Load() == 1
	}, 10*time.Second, 20*time.Millisecond)

	// Stop sampling, otherwise the fire starts a new incident as soon as we reset
	code, _ = ts.do(t, "POST", "/api/monitor/pause")
	require.Equal(t, http.StatusOK, code)

	st := ts.status(t)
	require.True(t, st.ModelReady)
	require.True(t, st.AlertSent)
	require.True(t, st.AlertDelivered)
	require.Equal(t, 100, st.ColorConfidence)
	require.Equal(t, 100, st.Confidence)
	require.Equal(t, monitor.ConfidenceCritical, st.ConfidenceLevel)
	require.Equal(t, 3, st.ConfirmThreshold)
	require.NotEmpty(t, st.History)
	require.Equal(t, 160, st.FrameWidth)

	triggers, _ := ts.backend.counts()
	require.Equal(t, 1, triggers)
	alert := ts.backend.trigger(0)
	require.Equal(t, true, alert["autoDetected"])
	require.Equal(t, st.IncidentID, alert["incidentID"])
	snapshotURL, _ := alert["snapshotURL"].(string)
	require.True(t, strings.HasPrefix(snapshotURL, "http://firewatch.test/api/snapshots/"), snapshotURL)

	code, body = ts.do(t, "GET", strings.TrimPrefix(snapshotURL, "http://firewatch.test"))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []byte{0xff, 0xd8}, body[:2])

	code, _ = ts.do(t, "GET", "/api/snapshots/missing.jpg")
	require.Equal(t, http.StatusNotFound, code)

	code, body = ts.do(t, "GET", "/api/frame/latest.jpg")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, []byte{0xff, 0xd8}, body[:2])

	// Reset returns to idle and tells the backend that the fire is under control
	code, body = ts.do(t, "POST", "/api/incident/reset")
	require.Equal(t, http.StatusOK, code, string(body))
	st = &monitor.Status{}
	require.NoError(t, json.Unmarshal(body, st))
	require.Equal(t, incident.StateIdle, st.State)
	require.Equal(t, 0, st.Confidence)
	require.Eventually(t, func() bool {
		_, controls := ts.backend.counts()
		return controls == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Journal
	code, body = ts.do(t, "GET", "/api/events?limit=100")
	require.Equal(t, http.StatusOK, code)
	events := []map[string]any{}
	require.NoError(t, json.Unmarshal(body, &events))
	types := map[string]int{}
	for _, e := range events {
		types[e["eventType"].(string)]++
	}
	require.Equal(t, 1, types[string(eventdb.EventTypeSuspected)])
	require.Equal(t, 1, types[string(eventdb.EventTypeConfirmed)])
	require.Equal(t, 1, types[string(eventdb.EventTypeAlertSent)])
	require.Equal(t, 1, types[string(eventdb.EventTypeReset)])
	// Newest first
	require.Equal(t, string(eventdb.EventTypeReset), events[0]["eventType"])

	code, body = ts.do(t, "GET", "/api/events?incident="+alert["incidentID"].(string))
	require.Equal(t, http.StatusOK, code)
	events = []map[string]any{}
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 4)
	require.Equal(t, string(eventdb.EventTypeSuspected), events[0]["eventType"])

	code, body = ts.do(t, "GET", "/metrics")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, string(body), "firewatch_alerts_sent_total 1")
	require.Contains(t, string(body), "firewatch_incident_active 0")
	require.Contains(t, string(body), "firewatch_model_ready 1")
}

func TestManualTriggerEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	code, body := ts.do(t, "POST", "/api/incident/trigger")
	require.Equal(t, http.StatusOK, code, string(body))
	resp := triggerResponseJSON{}
	require.NoError(t, json.Unmarshal(body, &resp))
	require.False(t, resp.Alert.AutoDetected)
	require.True(t, strings.HasPrefix(resp.Alert.IncidentID, "manual-"))
	// The operator's trigger does not invent an incident
	require.Equal(t, incident.StateIdle, resp.Status.State)

	require.Eventually(t, func() bool {
		triggers, _ := ts.backend.counts()
		return triggers == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, false, ts.backend.trigger(0)["autoDetected"])
}

func TestCommandsAreRateLimited(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.RatePerMinute = 2
	})
	for i := 0; i < 2; i++ {
		code, _ := ts.do(t, "POST", "/api/monitor/pause")
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := ts.do(t, "POST", "/api/monitor/pause")
	require.Equal(t, http.StatusTooManyRequests, code)

	// Limits are per route
	code, _ = ts.do(t, "POST", "/api/monitor/resume")
	require.Equal(t, http.StatusOK, code)

	// Reads are not limited
	for i := 0; i < 5; i++ {
		code, _ = ts.do(t, "GET", "/api/status")
		require.Equal(t, http.StatusOK, code)
	}
}

func TestPauseIsIdempotent(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.do(t, "POST", "/api/monitor/pause")
	ts.do(t, "POST", "/api/monitor/pause")
	require.True(t, ts.status(t).Paused)
	ts.do(t, "POST", "/api/monitor/resume")
	require.False(t, ts.status(t).Paused)
	ts.do(t, "POST", "/api/monitor/resume")
	require.False(t, ts.status(t).Paused)
}

func TestCameraStartFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	require.NoError(t, os.RemoveAll(ts.Config.Camera.Dir))

	code, body := ts.do(t, "POST", "/api/camera/start")
	require.Equal(t, http.StatusBadGateway, code)
	require.Contains(t, string(body), "Failed to start camera")
	require.NotEmpty(t, ts.status(t).CameraError)
}

func TestStatusWebSocket(t *testing.T) {
	ts := newTestServer(t, nil)

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The first message arrives without any ticks
	msg := wsStatusJSON{}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Status)
	require.Equal(t, incident.StateIdle, msg.Status.State)

	code, _ := ts.do(t, "POST", "/api/camera/start")
	require.Equal(t, http.StatusOK, code)

	// Ticks push fresh status
	require.Eventually(t, func() bool {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		msg := wsStatusJSON{}
		if err := conn.ReadJSON(&msg); err != nil {
			return false
		}
		return msg.Status.Counters.TicksProcessed > 0
	}, 10*time.Second, time.Millisecond)

	// Closing the monitor ends the stream
	ts.Server.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
	}
}

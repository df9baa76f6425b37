// Package monitor runs the fire detector on a camera stream.
//
// A sampling loop, paced by a Refresher, picks up the latest frame, runs the
// object detector and the fusion engine on it, and feeds the score into the
// incident machine. At most one tick is in flight at any time, so scores reach
// the machine in the order their frames were sampled.
package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/firewatch/pkg/nn"
	"github.com/cyclopcam/firewatch/server/camera"
	"github.com/cyclopcam/firewatch/server/eventdb"
	"github.com/cyclopcam/firewatch/server/fusion"
	"github.com/cyclopcam/firewatch/server/incident"
	"github.com/cyclopcam/firewatch/server/snapshots"
	"github.com/cyclopcam/logs"
)

var ErrClosed = errors.New("Monitor is closed")

type Config struct {
	RefreshHz        float64       // Refresh signals per second
	GraceDelay       time.Duration // Pause between the stream becoming ready and the first tick
	RequireNewFrame  bool          // Skip refreshes when the camera has not produced a new frame since the last tick
	ErrorLogInterval time.Duration // Detector errors are logged at most this often
	HistorySize      int           // Number of ticks kept for the confidence chart
	ControlOnReset   bool          // Tell the backend that the fire is controlled when the operator resets
	Detection        nn.DetectionParams
	Fusion           fusion.Config
	Incident         incident.Config
}

func DefaultConfig() Config {
	return Config{
		RefreshHz:        30,
		GraceDelay:       2 * time.Second,
		RequireNewFrame:  true,
		ErrorLogInterval: 15 * time.Second,
		HistorySize:      120,
		Detection:        *nn.NewDetectionParams(),
		Fusion:           fusion.DefaultConfig(),
		Incident:         incident.DefaultConfig(),
	}
}

// FireController is told when the operator declares the fire under control
type FireController interface {
	ControlFire(ctx context.Context) error
}

// Options are the collaborators of a Monitor. Only Camera, Detector and Dispatcher are required.
type Options struct {
	Camera     *camera.Camera
	Detector   nn.ObjectDetector
	Dispatcher incident.Dispatcher
	Controller FireController   // Optional
	Events     *eventdb.EventDB // Optional incident journal
	Snapshots  *snapshots.Store // Optional evidence storage
	Refresher  func() Refresher // Optional. Defaults to a ticker at Config.RefreshHz.
}

// tickRecord is what we remember about a processed tick
type tickRecord struct {
	frame      *camera.Frame
	detections []nn.Detection
	score      fusion.FusedScore
	incidentID string
}

type Monitor struct {
	Log      logs.Log
	Counters Counters

	cfg          Config
	camera       *camera.Camera
	detector     nn.ObjectDetector
	engine       *fusion.Engine
	machine      *incident.Machine
	alerts       *incident.Debouncer
	controller   FireController
	events       *eventdb.EventDB
	snapshots    *snapshots.Store
	newRefresher func() Refresher

	ctx        context.Context // Cancelled by Close
	cancel     context.CancelFunc
	bgLock     sync.Mutex // Orders background.Add against Close
	closed     atomic.Bool
	background sync.WaitGroup // Model loading, control-fire calls

	modelLock   sync.Mutex
	modelState  ModelState
	modelErr    string
	modelReady  chan struct{} // Closed when the model has loaded
	modelFailed chan struct{} // Closed when the model has failed to load

	startLock sync.Mutex    // Serializes StartCamera and Close
	runCancel func()        // Stops the current sampling run
	runDone   chan struct{} // Closed when the current sampling run has exited
	sampling  atomic.Bool   // True while the loop is accepting refreshes
	paused    atomic.Int32
	busy      atomic.Bool // A tick is in flight

	stateLock     sync.Mutex
	latest        *tickRecord // Latest processed tick
	evidence      *tickRecord // Latest positive tick of the current incident
	alertEvidence *tickRecord // The tick that requested the most recent automatic alert. Survives Reset.
	history       ringbuffer.RingP[HistorySample]
	lastErrAt     time.Time
	nErrSinceLog  int
	lastDispatch  *incident.DispatchResult
	lastCameraErr string

	watchersLock sync.RWMutex
	watchers     []chan *TickResult
}

// NewMonitor wires up the detection pipeline and starts loading the model.
// The camera is not started until StartCamera is called.
func NewMonitor(logger logs.Log, cfg Config, opt Options) (*Monitor, error) {
	if opt.Camera == nil || opt.Detector == nil || opt.Dispatcher == nil {
		return nil, errors.New("Monitor needs a camera, a detector and a dispatcher")
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		Log:          logs.NewPrefixLogger(logger, "Monitor"),
		cfg:          cfg,
		camera:       opt.Camera,
		detector:     opt.Detector,
		engine:       fusion.NewEngine(cfg.Fusion),
		controller:   opt.Controller,
		events:       opt.Events,
		snapshots:    opt.Snapshots,
		newRefresher: opt.Refresher,
		ctx:          ctx,
		cancel:       cancel,
		modelState:   ModelStateLoading,
		modelReady:   make(chan struct{}),
		modelFailed:  make(chan struct{}),
		history:      ringbuffer.NewRingP[HistorySample](max(cfg.HistorySize, 1)),
	}
	if m.newRefresher == nil {
		hz := cfg.RefreshHz
		m.newRefresher = func() Refresher { return NewTickerRefresher(hz) }
	}

	m.alerts = incident.NewDebouncer(logger, cfg.Incident.DebounceDelay, cfg.Incident.Retry, opt.Dispatcher)
	m.alerts.Prepare = m.prepareAlert
	m.alerts.OnResult = m.onDispatchResult
	m.machine = incident.NewMachine(logger, cfg.Incident.ConfirmThreshold, m.alerts)

	m.background.Add(1)
	go m.loadModel()

	return m, nil
}

// Close stops sampling, releases the camera and the detector, and discards any pending alert.
func (m *Monitor) Close() {
	m.bgLock.Lock()
	wasClosed := m.closed.Swap(true)
	m.bgLock.Unlock()
	if wasClosed {
		return
	}
	m.Log.Infof("Monitor shutting down")
	m.startLock.Lock()
	m.stopSampling()
	m.startLock.Unlock()
	m.cancel()
	m.camera.Stop()
	m.alerts.Close()
	m.background.Wait()
	m.detector.Close()
	m.closeWatchers()
	m.Log.Infof("Monitor is closed")
}

func (m *Monitor) loadModel() {
	defer m.background.Done()
	m.Log.Infof("Loading object detector")
	err := m.detector.Load(m.ctx)

	m.modelLock.Lock()
	defer m.modelLock.Unlock()
	if err != nil {
		// There is no retry. The process must be restarted.
		m.Log.Errorf("Failed to load object detector: %v", err)
		m.modelState = ModelStateError
		m.modelErr = err.Error()
		close(m.modelFailed)
		return
	}
	m.Log.Infof("Object detector ready")
	m.modelState = ModelStateReady
	close(m.modelReady)
}

// ModelState returns the load state of the detector, and the error message if it failed
func (m *Monitor) ModelState() (ModelState, string) {
	m.modelLock.Lock()
	defer m.modelLock.Unlock()
	return m.modelState, m.modelErr
}

// StartCamera (re)acquires the camera, and begins sampling once both the
// stream and the detector are ready. An acquisition failure is returned, and
// also reported in Status until the next successful start.
func (m *Monitor) StartCamera() error {
	m.startLock.Lock()
	defer m.startLock.Unlock()
	if m.closed.Load() {
		return ErrClosed
	}

	m.stopSampling()

	stream, err := m.camera.Start(m.ctx)
	m.stateLock.Lock()
	m.lastCameraErr = ""
	if err != nil {
		m.lastCameraErr = err.Error()
	}
	m.stateLock.Unlock()
	if err != nil {
		m.journal(eventdb.EventTypeCameraError, "", 0, &eventdb.EventDetail{Error: err.Error()})
		return err
	}

	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	m.runCancel = cancel
	m.runDone = done
	go m.run(ctx, stream, done)
	return nil
}

// stopSampling must be called with startLock held
func (m *Monitor) stopSampling() {
	if m.runCancel == nil {
		return
	}
	m.runCancel()
	<-m.runDone
	m.runCancel = nil
	m.runDone = nil
}

// Pause any monitoring activity.
// Pause/Unpause is a counter, so for every call to Pause(), you must make an equivalent call to Unpause().
func (m *Monitor) Pause() {
	m.paused.Add(1)
}

// Reverse the action of one or more calls to Pause().
// Every call to Pause() must be matched by a call to Unpause().
func (m *Monitor) Unpause() {
	nv := m.paused.Add(-1)
	if nv < 0 {
		m.Log.Errorf("Monitor paused counter is negative. This is a bug")
	}
}

// Incident returns a copy of the live incident
func (m *Monitor) Incident() incident.Incident {
	return m.machine.Snapshot()
}

// Engine returns the fusion engine, for rendering overlays
func (m *Monitor) Engine() *fusion.Engine {
	return m.engine
}

// Reset is the operator's "fire is under control" command
func (m *Monitor) Reset() incident.Transition {
	before := m.machine.Snapshot()
	t := m.machine.Reset()
	if !t.Changed() {
		return t
	}

	m.stateLock.Lock()
	m.evidence = nil
	m.lastDispatch = nil
	m.stateLock.Unlock()

	m.journal(eventdb.EventTypeReset, before.ID, before.LastConfidence, &eventdb.EventDetail{FromState: t.From.String()})
	m.sendToWatchers(&TickResult{Time: time.Now(), Transition: t})

	if m.cfg.ControlOnReset && m.controller != nil {
		m.goBackground(func() {
			if err := m.controller.ControlFire(m.ctx); err != nil {
				m.Log.Errorf("Failed to tell backend that the fire is controlled: %v", err)
			}
		})
	}
	return t
}

// goBackground runs fn on a goroutine that Close waits for.
// Once Close has started, fn is not run, and false is returned.
func (m *Monitor) goBackground(fn func()) bool {
	m.bgLock.Lock()
	defer m.bgLock.Unlock()
	if m.closed.Load() {
		return false
	}
	m.background.Add(1)
	go func() {
		defer m.background.Done()
		fn()
	}()
	return true
}

// ManualTrigger raises an emergency on the operator's command.
// It goes through the same debouncer as automatic alerts, but does not change the incident.
func (m *Monitor) ManualTrigger() incident.AlertContext {
	inc := m.machine.Snapshot()
	alert := incident.AlertContext{
		IncidentID:   inc.ID,
		Confidence:   inc.LastConfidence,
		DetectedAt:   time.Now(),
		AutoDetected: false,
	}
	if alert.IncidentID == "" {
		alert.IncidentID = "manual-" + alert.DetectedAt.UTC().Format("20060102-150405")
	}
	m.Log.Infof("Manual emergency trigger (incident %v)", alert.IncidentID)
	m.journal(eventdb.EventTypeManualTrigger, alert.IncidentID, alert.Confidence, nil)
	m.alerts.Request(alert)
	return alert
}

package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/cyclopcam/firewatch/server/camera"
	"github.com/cyclopcam/firewatch/server/eventdb"
	"github.com/cyclopcam/firewatch/server/fusion"
	"github.com/cyclopcam/firewatch/server/incident"
)

// run is the sampling loop of one camera stream.
// Nothing is sampled until the stream has produced a frame, the model has
// loaded, and the grace delay has elapsed.
func (m *Monitor) run(ctx context.Context, stream *camera.Stream, done chan struct{}) {
	defer close(done)

	select {
	case <-stream.MetadataReady():
	case <-stream.Done():
		m.Log.Warnf("Camera stream ended before producing a frame")
		return
	case <-ctx.Done():
		return
	}

	select {
	case <-m.modelReady:
	case <-m.modelFailed:
		m.Log.Errorf("Not sampling, because the object detector failed to load")
		return
	case <-ctx.Done():
		return
	}

	if m.cfg.GraceDelay > 0 {
		grace := time.NewTimer(m.cfg.GraceDelay)
		select {
		case <-grace.C:
		case <-ctx.Done():
			grace.Stop()
			return
		}
	}

	refresher := m.newRefresher()
	defer refresher.Stop()

	// ticks must be waited on before done is closed, so that a stopped loop never
	// has a tick that can still touch the incident machine.
	var ticks sync.WaitGroup
	defer ticks.Wait()

	m.Log.Infof("Sampling started (%vx%v)", stream.Width(), stream.Height())
	m.sampling.Store(true)
	defer m.sampling.Store(false)

	lastFrameID := int64(0)
	for {
		select {
		case <-ctx.Done():
			m.Log.Infof("Sampling stopped")
			return
		case <-refresher.C():
		}

		if m.paused.Load() > 0 {
			m.Counters.TicksPaused.Add(1)
			continue
		}

		if !m.busy.CompareAndSwap(false, true) {
			m.Counters.TicksSkipped.Add(1)
			continue
		}

		var frame *camera.Frame
		if m.cfg.RequireNewFrame {
			frame = stream.LastFrameIfDifferent(lastFrameID)
		} else {
			frame = stream.LastFrame()
		}
		if frame == nil {
			m.busy.Store(false)
			m.Counters.TicksIdle.Add(1)
			continue
		}
		lastFrameID = frame.ID

		ticks.Add(1)
		go func() {
			defer ticks.Done()
			defer m.busy.Store(false)
			m.tick(ctx, frame)
		}()
	}
}

// tick runs detection and fusion on one frame, and feeds the result to the incident machine
func (m *Monitor) tick(ctx context.Context, frame *camera.Frame) {
	start := time.Now()
	detections, err := m.detector.DetectObjects(ctx, frame.Image, &m.cfg.Detection)
	m.Counters.DetectTime.AddSample(time.Since(start))

	if ctx.Err() != nil {
		// Sampling was stopped while the detector was running. The result is discarded.
		return
	}

	if err != nil {
		// A failed tick is not a negative. The incident is left exactly as it was.
		m.Counters.TicksFailed.Add(1)
		m.logDetectorError(err)
		m.sendToWatchers(&TickResult{FrameID: frame.ID, Time: frame.CaptureTime, Err: err})
		return
	}

	var score fusion.FusedScore
	m.Counters.FuseTime.Measure(func() {
		score = m.engine.Fuse(frame.Image, detections)
	})

	t := m.machine.Apply(score)
	m.Counters.TicksProcessed.Add(1)

	rec := &tickRecord{
		frame:      frame,
		detections: detections,
		score:      score,
		incidentID: t.Incident.ID,
	}
	m.recordTick(rec, t.DispatchRequested)

	if t.Entered(incident.StateSuspected) {
		m.Log.Infof("Fire suspected at %v%% confidence (incident %v)", fusion.Percent(score.CombinedConfidence), t.Incident.ID)
		m.journal(eventdb.EventTypeSuspected, t.Incident.ID, score.CombinedConfidence, scoreDetail(score))
	}
	if t.Entered(incident.StateConfirmed) {
		m.journal(eventdb.EventTypeConfirmed, t.Incident.ID, score.CombinedConfidence, scoreDetail(score))
	}

	m.sendToWatchers(&TickResult{
		FrameID:    frame.ID,
		Time:       frame.CaptureTime,
		Score:      score,
		Transition: t,
	})
}

// recordTick stores rec as the latest tick, and as evidence of its incident.
func (m *Monitor) recordTick(rec *tickRecord, dispatchRequested bool) {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	m.latest = rec
	if dispatchRequested {
		m.alertEvidence = rec
	}
	// Compare against the live incident, because a Reset may have landed
	// between Apply and here.
	live := m.machine.Snapshot().ID
	if m.evidence != nil && m.evidence.incidentID != live {
		m.evidence = nil
	}
	if rec.score.IsPositive && rec.incidentID != "" && rec.incidentID == live {
		m.evidence = rec
	}
	m.history.Add(HistorySample{
		Time:       rec.frame.CaptureTime,
		Confidence: fusion.Percent(rec.score.CombinedConfidence),
		Positive:   rec.score.IsPositive,
	})
}

// Detector errors usually come in floods (eg a dead inference server), so we summarize them
func (m *Monitor) logDetectorError(err error) {
	m.stateLock.Lock()
	m.nErrSinceLog++
	now := time.Now()
	if now.Sub(m.lastErrAt) < m.cfg.ErrorLogInterval {
		m.stateLock.Unlock()
		return
	}
	n := m.nErrSinceLog
	m.nErrSinceLog = 0
	m.lastErrAt = now
	m.stateLock.Unlock()
	m.Log.Errorf("Object detection failed (%v failures since last report): %v", n, err)
}

func scoreDetail(score fusion.FusedScore) *eventdb.EventDetail {
	return &eventdb.EventDetail{
		ColorConfidence:  score.ColorConfidence,
		ObjectConfidence: score.ObjectConfidence,
	}
}

package server

import (
	"net/http"

	"github.com/cyclopcam/firewatch/server/incident"
	"github.com/cyclopcam/firewatch/server/monitor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the monitor's counters and live state to Prometheus.
// Every value is read from the monitor when scraped.
type Metrics struct {
	registry *prometheus.Registry
	mon      *monitor.Monitor
}

func NewMetrics(mon *monitor.Monitor) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		mon:      mon,
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	c := &m.mon.Counters

	counter := func(name, help string, fn func() float64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, fn))
	}
	gauge := func(name, help string, fn func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
	}
	boolean := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}

	counter("firewatch_ticks_processed_total", "Frames that were scored and fed to the incident machine",
		func() float64 { return float64(c.TicksProcessed.Load()) })
	counter("firewatch_ticks_skipped_total", "Refreshes dropped because a frame was still being analyzed",
		func() float64 { return float64(c.TicksSkipped.Load()) })
	counter("firewatch_ticks_idle_total", "Refreshes with no new frame",
		func() float64 { return float64(c.TicksIdle.Load()) })
	counter("firewatch_ticks_failed_total", "Object detector failures",
		func() float64 { return float64(c.TicksFailed.Load()) })
	counter("firewatch_ticks_paused_total", "Refreshes ignored while monitoring was paused",
		func() float64 { return float64(c.TicksPaused.Load()) })
	counter("firewatch_alerts_sent_total", "Alerts accepted by the backend",
		func() float64 { return float64(c.AlertsSent.Load()) })
	counter("firewatch_alerts_failed_total", "Alerts that failed after all retries",
		func() float64 { return float64(c.AlertsFailed.Load()) })
	counter("firewatch_alerts_skipped_total", "Alerts skipped because the backend already had an active fire",
		func() float64 { return float64(c.AlertsSkipped.Load()) })

	gauge("firewatch_detect_seconds", "Moving average of object detection time",
		func() float64 { return c.DetectTime.Average().Seconds() })
	gauge("firewatch_fuse_seconds", "Moving average of fusion time",
		func() float64 { return c.FuseTime.Average().Seconds() })

	gauge("firewatch_confidence", "Combined fire confidence of the live incident (0..1)",
		func() float64 { return m.mon.Incident().LastConfidence })
	gauge("firewatch_consecutive_positive", "Consecutive positive frames in the live incident",
		func() float64 { return float64(m.mon.Incident().ConsecutivePositiveCount) })
	gauge("firewatch_incident_active", "1 when an incident is suspected, confirmed or alerted",
		func() float64 { return boolean(m.mon.Incident().State != incident.StateIdle) })
	gauge("firewatch_incident_confirmed", "1 when the live incident has been confirmed",
		func() float64 {
			s := m.mon.Incident().State
			return boolean(s == incident.StateConfirmed || s == incident.StateAlerted)
		})
	gauge("firewatch_latest_color_confidence", "Color signal of the latest tick (0..1)",
		func() float64 { return float64(m.mon.Status(false).ColorConfidence) / 100 })
	gauge("firewatch_model_ready", "1 when the object detector has loaded",
		func() float64 {
			state, _ := m.mon.ModelState()
			return boolean(state == monitor.ModelStateReady)
		})
	gauge("firewatch_last_tick_age_seconds", "Time since the latest processed tick",
		func() float64 { return m.mon.LastTickAge().Seconds() })
	gauge("firewatch_positive_threshold", "Combined confidence that counts as a positive frame",
		func() float64 { return m.mon.Engine().Config().PositiveThreshold })
}

// Handler serves the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

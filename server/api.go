package server

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/cyclopcam/firewatch/server/incident"
	"github.com/cyclopcam/firewatch/server/monitor"
	"github.com/cyclopcam/firewatch/server/snapshots"
	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

func (s *Server) setupHttpRoutes() error {
	logEveryRequest := false
	router := httprouter.New()

	handle := func(method, route string, handle httprouter.Handle) {
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP %v %v", method, r.URL.Path)
			}
			handle(w, r, params)
		})
	}

	// ratelimited is for the operator commands. Each route gets its own limiter.
	ratelimited := func(method, route string, handle func(w http.ResponseWriter, r *http.Request)) {
		if s.Config.RatePerMinute <= 0 {
			www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
				handle(w, r)
			})
			return
		}
		limited := httprate.Limit(s.Config.RatePerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			if logEveryRequest {
				s.Log.Infof("HTTP (limited) %v %v", method, r.URL.Path)
			}
			limited(http.HandlerFunc(handle)).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/ping", s.httpPing)
	handle("GET", "/api/status", s.httpStatus)
	handle("GET", "/api/events", s.httpEvents)
	handle("GET", "/api/frame/latest.jpg", s.httpLatestFrame)
	handle("GET", "/api/snapshots/*name", s.httpSnapshot)
	handle("GET", "/api/ws", s.httpWebSocket)

	ratelimited("POST", "/api/incident/reset", s.httpIncidentReset)
	ratelimited("POST", "/api/incident/trigger", s.httpIncidentTrigger)
	ratelimited("POST", "/api/camera/start", s.httpCameraStart)
	ratelimited("POST", "/api/monitor/pause", s.httpMonitorPause)
	ratelimited("POST", "/api/monitor/resume", s.httpMonitorResume)

	router.Handler("GET", "/metrics", s.metrics.Handler())

	s.httpRouter = router
	return nil
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendText(w, "pong")
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	www.SendJSON(w, s.Monitor.Status(www.QueryValue(r, "history") == "1"))
}

// httpEvents lists the journal, newest first.
// With ?incident=ID, it lists the events of one incident, oldest first.
func (s *Server) httpEvents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.CacheNever(w)
	if s.events == nil {
		www.SendJSON(w, []any{})
		return
	}
	if id := www.QueryValue(r, "incident"); id != "" {
		events, err := s.events.IncidentEvents(id)
		www.Check(err)
		www.SendJSON(w, events)
		return
	}
	limit := www.QueryInt(r, "limit")
	if limit <= 0 {
		limit = defaultEventLimit
	}
	limit = min(limit, maxEventLimit)
	events, err := s.events.RecentEvents(limit)
	www.Check(err)
	www.SendJSON(w, events)
}

func (s *Server) httpLatestFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	quality := www.QueryInt(r, "quality")
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	jpg, err := s.Monitor.LatestAnnotatedJPEG(quality)
	if errors.Is(err, monitor.ErrNoFrame) {
		www.SendError(w, err.Error(), http.StatusNotFound)
		return
	}
	www.Check(err)
	www.CacheNever(w)
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(jpg)
}

// httpSnapshot serves snapshots from local storage, which has no web server of its own
func (s *Server) httpSnapshot(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	if s.snapshots == nil {
		www.SendError(w, "Snapshots are disabled", http.StatusNotFound)
		return
	}
	// A catch-all parameter keeps its leading slash
	jpg, err := s.snapshots.Load(r.Context(), strings.TrimPrefix(params.ByName("name"), "/"))
	if errors.Is(err, snapshots.ErrInvalidName) {
		www.PanicBadRequestf("%v", err)
	} else if errors.Is(err, fs.ErrNotExist) {
		www.SendError(w, "Snapshot not found", http.StatusNotFound)
		return
	}
	www.Check(err)
	// Snapshot names are unique, so they never change
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(jpg)
}

func (s *Server) httpIncidentReset(w http.ResponseWriter, r *http.Request) {
	t := s.Monitor.Reset()
	if t.Changed() {
		s.Log.Infof("Operator reset incident (was %v)", t.From)
	}
	www.SendJSON(w, s.Monitor.Status(false))
}

type triggerResponseJSON struct {
	Alert  incident.AlertContext `json:"alert"`
	Status *monitor.Status       `json:"status"`
}

func (s *Server) httpIncidentTrigger(w http.ResponseWriter, r *http.Request) {
	alert := s.Monitor.ManualTrigger()
	s.Log.Infof("Operator triggered emergency %v", alert.IncidentID)
	www.SendJSON(w, triggerResponseJSON{
		Alert:  alert,
		Status: s.Monitor.Status(false),
	})
}

func (s *Server) httpCameraStart(w http.ResponseWriter, r *http.Request) {
	if err := s.Monitor.StartCamera(); err != nil {
		if errors.Is(err, monitor.ErrClosed) {
			www.SendError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		www.SendError(w, "Failed to start camera: "+err.Error(), http.StatusBadGateway)
		return
	}
	www.SendOK(w)
}

// The operator holds at most one pause, so repeated calls are harmless
func (s *Server) httpMonitorPause(w http.ResponseWriter, r *http.Request) {
	if s.operatorPaused.CompareAndSwap(false, true) {
		s.Log.Infof("Operator paused monitoring")
		s.Monitor.Pause()
	}
	www.SendOK(w)
}

func (s *Server) httpMonitorResume(w http.ResponseWriter, r *http.Request) {
	if s.operatorPaused.CompareAndSwap(true, false) {
		s.Log.Infof("Operator resumed monitoring")
		s.Monitor.Unpause()
	}
	www.SendOK(w)
}

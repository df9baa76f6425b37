// Package server exposes the fire monitor over HTTP, and owns its lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cyclopcam/firewatch/pkg/nnload"
	"github.com/cyclopcam/firewatch/server/camera"
	"github.com/cyclopcam/firewatch/server/config"
	"github.com/cyclopcam/firewatch/server/eventdb"
	"github.com/cyclopcam/firewatch/server/monitor"
	"github.com/cyclopcam/firewatch/server/notifications"
	"github.com/cyclopcam/firewatch/server/snapshots"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log              logs.Log
	Config           *config.Config
	Monitor          *monitor.Monitor
	ShutdownComplete chan error // Receives one value when Shutdown has finished

	events     *eventdb.EventDB  // nil if the journal is disabled
	snapshots  *snapshots.Store  // nil if snapshots are disabled
	notifier   *notifications.Notifier
	metrics    *Metrics
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader

	operatorPaused atomic.Bool
	closeOnce      sync.Once
	shutdownOnce   sync.Once
}

// NewServer builds the whole pipeline described by cfg. The camera is not started.
func NewServer(logger logs.Log, cfg *config.Config) (*Server, error) {
	s := &Server{
		Log:              logger,
		Config:           cfg,
		ShutdownComplete: make(chan error, 1),
	}
	if err := s.open(); err != nil {
		s.Close()
		return nil, err
	}
	s.metrics = NewMetrics(s.Monitor)
	if err := s.setupHttpRoutes(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) open() error {
	var err error
	cfg := s.Config

	if path := cfg.EventDBPath(); path != "" {
		s.events, err = eventdb.NewEventDB(s.Log, path)
		if err != nil {
			return err
		}
		s.events.SetMaxEventCount(cfg.Events.MaxEventCount)
	}

	s.snapshots, err = snapshots.Open(context.Background(), s.Log, cfg.SnapshotConfig())
	if err != nil {
		return fmt.Errorf("Failed to open snapshot storage: %w", err)
	}

	s.notifier = notifications.NewNotifier(s.Log, cfg.NotifierConfig())

	source, err := camera.NewSource(s.Log, cfg.CameraConfig())
	if err != nil {
		return err
	}
	cam := camera.NewCamera(s.Log, cfg.Camera.Name, source)

	detector, err := nnload.NewDetector(s.Log, cfg.DetectorConfig())
	if err != nil {
		return err
	}

	s.Monitor, err = monitor.NewMonitor(s.Log, cfg.MonitorConfig(), monitor.Options{
		Camera:     cam,
		Detector:   detector,
		Dispatcher: s.notifier,
		Controller: s.notifier,
		Events:     s.events,
		Snapshots:  s.snapshots,
	})
	if err != nil {
		detector.Close()
		return err
	}
	return nil
}

// AutoStart starts the camera if the config asks for it
func (s *Server) AutoStart() {
	if !s.Config.Camera.AutoStart {
		s.Log.Infof("Camera auto start is disabled")
		return
	}
	if err := s.Monitor.StartCamera(); err != nil {
		// The operator can retry with /api/camera/start
		s.Log.Errorf("Failed to start camera: %v", err)
	}
}

// ListenHTTP blocks until the HTTP server stops.
// addr example: ":8080"
func (s *Server) ListenHTTP(addr string) error {
	s.Log.Infof("Listening on %v", addr)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.httpRouter,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// Shutdown was called by somebody else, and it closed signalIn
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Close stops the monitor and closes the journal, but leaves the HTTP server and log alone
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.Monitor != nil {
			s.Monitor.Close()
		}
		if s.events != nil {
			s.events.Close()
		}
	})
}

// Shutdown stops everything, and then sends to ShutdownComplete
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.Log.Infof("Shutdown")
		if s.signalIn != nil {
			signal.Stop(s.signalIn)
			close(s.signalIn)
		}
		var err error
		if s.httpServer != nil {
			s.Log.Infof("Closing HTTP server")
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			err = s.httpServer.Shutdown(ctx)
			cancel()
		}
		s.Close()
		if err != nil {
			s.Log.Warnf("Shutdown complete, with error: %v", err)
		} else {
			s.Log.Infof("Shutdown complete")
		}
		s.ShutdownComplete <- err
		s.Log.Close()
	})
}

// Package monitor serves the demo's live state as JSON for the operator's map display.
package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	goutils "go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"github.com/armgaze/armgaze/demo"
	"github.com/armgaze/armgaze/gaze"
	"github.com/armgaze/armgaze/logging"
)

const shutdownTimeout = 5 * time.Second

// Config is where the monitor listens.
type Config struct {
	Address string `json:"address"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Address == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "address")
	}
	if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
		return goutils.NewConfigValidationError(path, err)
	}
	return nil
}

// AimReporter reports the head's last accepted command.
type AimReporter interface {
	LastAim() (gaze.AimAngles, time.Time, bool)
	Cycles() int64
	CycleStats() (demo.CycleStats, bool)
}

// StatusReporter reports the sequencer's state.
type StatusReporter interface {
	Status() demo.Status
}

// Server serves the monitoring endpoints.
type Server struct {
	rig       *demo.Rig
	tracker   AimReporter
	sequencer StatusReporter
	logger    logging.Logger
	handler   http.Handler
}

// NewServer builds the routes. sequencer may be nil when no arm plays a script.
func NewServer(rig *demo.Rig, tracker AimReporter, sequencer StatusReporter, logger logging.Logger) *Server {
	s := &Server{rig: rig, tracker: tracker, sequencer: sequencer, logger: logger}

	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/healthz"), s.handleHealth)
	mux.HandleFunc(pat.Get("/arms"), s.handleArms)
	mux.HandleFunc(pat.Get("/arms/:name"), s.handleArm)
	mux.HandleFunc(pat.Get("/status"), s.handleStatus)
	s.handler = cors.AllowAll().Handler(mux)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Serve serves on listener until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnw("monitor shutdown", "error", err)
		}
	})
	defer stop()

	s.logger.Infow("monitor listening", "address", listener.Addr().String())
	if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusResponse struct {
	Sequencer     *demo.Status     `json:"sequencer"`
	LastAim       *gaze.AimAngles  `json:"last_aim"`
	LastAimAt     *time.Time       `json:"last_aim_at,omitempty"`
	TrackerCycles int64            `json:"tracker_cycles"`
	CycleStats    *demo.CycleStats `json:"cycle_stats,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleArms(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, demo.DrawingPoints(s.rig))
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	name := pat.Param(r, "name")
	for _, p := range demo.DrawingPoints(s.rig) {
		if p.Arm == name {
			s.writeJSON(w, http.StatusOK, p)
			return
		}
	}
	if _, ok := s.rig.Arm(name); ok {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no position read yet"})
		return
	}
	s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown arm " + name})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp statusResponse
	if s.sequencer != nil {
		st := s.sequencer.Status()
		resp.Sequencer = &st
	}
	if s.tracker != nil {
		if angles, at, ok := s.tracker.LastAim(); ok {
			resp.LastAim = &angles
			resp.LastAimAt = &at
		}
		resp.TrackerCycles = s.tracker.Cycles()
		if st, ok := s.tracker.CycleStats(); ok {
			resp.CycleStats = &st
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// The body is encoded before the header is written so an unencodable value becomes a 500.
func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Warnw("cannot encode monitor response", "error", err)
		code = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{"error": err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(append(body, '\n')); err != nil {
		s.logger.Debugw("cannot write monitor response", "error", err)
	}
}

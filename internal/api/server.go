// Package api serves the engine's control and observer endpoints over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lowaak/smart-trainer/ftp-test/internal/engine"
	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
	"github.com/lowaak/smart-trainer/ftp-test/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ftp-test/internal/protocol"
	"github.com/lowaak/smart-trainer/ftp-test/internal/telemetry"
)

// Engine is the part of the test engine the API drives
type Engine interface {
	State() engine.State
	StartTest(t protocol.Type) bool
	StopTest(reason engine.FailureReason) bool
	DismissResults() bool
	ApplyResult() (ftp.TestResult, bool)
	FTP() int
	SetFTP(ftpWatts int)
}

// RidePublisher forwards ride-state changes to the engine's ride source
type RidePublisher interface {
	PublishRideState(r telemetry.RideState)
}

type startRequest struct {
	Protocol string `json:"protocol"`
}

type ftpRequest struct {
	FTP int `json:"ftp"`
}

type zoneView struct {
	Number   int    `json:"number"`
	Name     string `json:"name"`
	MinWatts int    `json:"min_watts"`
	MaxWatts int    `json:"max_watts,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server exposes an Engine over HTTP
type Server struct {
	engine   Engine
	rides    RidePublisher
	gatherer prometheus.Gatherer
	logger   *log.Logger

	server *http.Server
	wg     sync.WaitGroup
}

func NewServer(eng Engine, rides RidePublisher, gatherer prometheus.Gatherer, logger *log.Logger) *Server {
	if eng == nil {
		panic("Server: engine cannot be nil")
	}
	if rides == nil {
		panic("Server: ride publisher cannot be nil")
	}
	if logger == nil {
		panic("Server: logger cannot be nil")
	}
	return &Server{engine: eng, rides: rides, gatherer: gatherer, logger: logger}
}

// Router returns the bare routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/api/test/start", s.handleStart).Methods(http.MethodPost)
	r.HandleFunc("/api/test/stop", s.handleStop).Methods(http.MethodPost)
	r.HandleFunc("/api/test/dismiss", s.handleDismiss).Methods(http.MethodPost)
	r.HandleFunc("/api/test/apply", s.handleApply).Methods(http.MethodPost)
	r.HandleFunc("/api/ride/{state}", s.handleRide).Methods(http.MethodPost)
	r.HandleFunc("/api/ftp", s.handleGetFTP).Methods(http.MethodGet)
	r.HandleFunc("/api/ftp", s.handleSetFTP).Methods(http.MethodPut)
	r.HandleFunc("/api/zones", s.handleZones).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler wraps the routes with request logging and panic recovery
func (s *Server) Handler() http.Handler {
	recovered := handlers.RecoveryHandler(
		handlers.RecoveryLogger(s.logger),
		handlers.PrintRecoveryStack(true),
	)(s.Router())
	return handlers.LoggingHandler(s.logger.Writer(), recovered)
}

// Start serves on addr in the background
func (s *Server) Start(addr string) {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go_func_utils.SafeGoWG(s.logger, &s.wg, func() {
		s.logger.Printf("Server: Listening on %s", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server: Error: %v", err)
		}
	})
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	s.logger.Printf("Server: Stopped")
	return err
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, newStateResponse(s.engine.State()))
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	t, err := protocol.ParseType(req.Protocol)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	status := http.StatusOK
	if !s.engine.StartTest(t) {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, newStateResponse(s.engine.State()))
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.transition(w, s.engine.StopTest(engine.ReasonUserStopped))
}

func (s *Server) handleDismiss(w http.ResponseWriter, _ *http.Request) {
	s.transition(w, s.engine.DismissResults())
}

func (s *Server) handleApply(w http.ResponseWriter, _ *http.Request) {
	_, ok := s.engine.ApplyResult()
	s.transition(w, ok)
}

func (s *Server) transition(w http.ResponseWriter, ok bool) {
	status := http.StatusOK
	if !ok {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, newStateResponse(s.engine.State()))
}

func (s *Server) handleRide(w http.ResponseWriter, r *http.Request) {
	rs, err := telemetry.ParseRideState(mux.Vars(r)["state"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.rides.PublishRideState(rs)
	s.writeJSON(w, http.StatusOK, newStateResponse(s.engine.State()))
}

func (s *Server) handleGetFTP(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, ftpRequest{FTP: s.engine.FTP()})
}

func (s *Server) handleSetFTP(w http.ResponseWriter, r *http.Request) {
	var req ftpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if req.FTP <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("ftp must be positive"))
		return
	}
	s.engine.SetFTP(req.FTP)
	s.writeJSON(w, http.StatusOK, ftpRequest{FTP: s.engine.FTP()})
}

// handleZones lists the power zones for ?ftp=, or the current FTP
func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	ftpWatts := s.engine.FTP()
	if raw := r.URL.Query().Get("ftp"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid ftp %q", raw))
			return
		}
		ftpWatts = v
	}

	zones := make([]zoneView, 0, len(ftp.PowerZones))
	for _, z := range ftp.PowerZones {
		lo, hi := ftp.ZoneRange(z, ftpWatts)
		zones = append(zones, zoneView{Number: z.Number, Name: z.Name, MinWatts: lo, MaxWatts: hi})
	}
	s.writeJSON(w, http.StatusOK, zones)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("Server: Error encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

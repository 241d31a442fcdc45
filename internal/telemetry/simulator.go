package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/lowaak/smart-trainer/ftp-test/internal/go_func_utils"
)

// SimulatorConfig holds the starting values of a Simulator
type SimulatorConfig struct {
	Listen    string // empty disables the control API
	Power     int
	HeartRate int
	Cadence   int
	Jitter    int // +/- watts added to each power sample
	Period    time.Duration
}

// SimulatorState is the simulator's current output, as served by its API
type SimulatorState struct {
	Power     int    `json:"power"`
	HeartRate int    `json:"heart_rate"`
	Cadence   int    `json:"cadence"`
	Connected bool   `json:"connected"`
	RideState string `json:"ride_state"`
}

// Simulator stands in for a trainer: it publishes power, heart rate and cadence
// into a Hub every period and takes new values over HTTP, so tests can be
// scripted without hardware.
type Simulator struct {
	hub    *Hub
	logger *log.Logger
	cfg    SimulatorConfig

	mu        sync.Mutex
	power     int
	heartRate int
	cadence   int
	rideState RideState
	rng       *rand.Rand

	server   *http.Server
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSimulator(hub *Hub, cfg SimulatorConfig, logger *log.Logger) *Simulator {
	if hub == nil {
		panic("Simulator: hub cannot be nil")
	}
	if logger == nil {
		panic("Simulator: logger cannot be nil")
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	return &Simulator{
		hub:       hub,
		logger:    logger,
		cfg:       cfg,
		power:     cfg.Power,
		heartRate: cfg.HeartRate,
		cadence:   cfg.Cadence,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		doneChan:  make(chan struct{}),
	}
}

// Start marks the hub connected, begins emitting and serves the control API
func (s *Simulator) Start() error {
	s.logger.Printf("Simulator: Starting (power=%d W, hr=%d, cadence=%d)", s.cfg.Power, s.cfg.HeartRate, s.cfg.Cadence)
	s.hub.SetConnected(true)

	go_func_utils.SafeGoWG(s.logger, &s.wg, func() {
		ticker := time.NewTicker(s.cfg.Period)
		defer ticker.Stop()
		for {
			select {
			case <-s.doneChan:
				return
			case <-ticker.C:
				s.Emit()
			}
		}
	})

	if s.cfg.Listen == "" {
		return nil
	}
	s.server = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go_func_utils.SafeGoWG(s.logger, &s.wg, func() {
		s.logger.Printf("Simulator: Control API listening on %s", s.cfg.Listen)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Simulator: Control API error: %v", err)
		}
	})
	return nil
}

// Shutdown stops emitting and closes the control API
func (s *Simulator) Shutdown() {
	s.stopOnce.Do(func() {
		s.logger.Printf("Simulator: Shutting down")
		close(s.doneChan)
		if s.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.server.Shutdown(ctx); err != nil {
				s.logger.Printf("Simulator: Error shutting down control API: %v", err)
			}
		}
		s.hub.SetConnected(false)
		s.wg.Wait()
		s.logger.Printf("Simulator: Shutdown complete")
	})
}

// Emit publishes one reading per metric. Nothing is sent while disconnected.
func (s *Simulator) Emit() {
	if !s.hub.IsConnected() {
		return
	}

	s.mu.Lock()
	power := s.power
	if s.cfg.Jitter > 0 && power > 0 {
		power += s.rng.IntN(2*s.cfg.Jitter+1) - s.cfg.Jitter
		power = max(power, 0)
	}
	hr, cadence := s.heartRate, s.cadence
	s.mu.Unlock()

	now := time.Now()
	s.hub.Publish(Sample{Metric: MetricPower, Value: power, Timestamp: now})
	if hr > 0 {
		s.hub.Publish(Sample{Metric: MetricHeartRate, Value: hr, Timestamp: now})
	}
	s.hub.Publish(Sample{Metric: MetricCadence, Value: cadence, Timestamp: now})
}

// SetRideState changes and publishes the ride recording state
func (s *Simulator) SetRideState(r RideState) {
	s.mu.Lock()
	s.rideState = r
	s.mu.Unlock()
	s.logger.Printf("Simulator: Ride state %s", r)
	s.hub.PublishRideState(r)
}

func (s *Simulator) State() SimulatorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SimulatorState{
		Power:     s.power,
		HeartRate: s.heartRate,
		Cadence:   s.cadence,
		Connected: s.hub.IsConnected(),
		RideState: s.rideState.String(),
	}
}

// Router serves GET /api/state, POST /api/set and POST /api/ride/{state}
func (s *Simulator) Router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleGetState).Methods(http.MethodGet)
	api.HandleFunc("/set", s.handleSet).Methods(http.MethodPost)
	api.HandleFunc("/ride/{state}", s.handleRide).Methods(http.MethodPost)
	return r
}

func (s *Simulator) handleGetState(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.State()); err != nil {
		s.logger.Printf("Simulator: Error encoding state: %v", err)
	}
}

// handleSet takes power, heartRate, cadence and connected query parameters;
// any subset may be given
func (s *Simulator) handleSet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ints := map[string]*int{}
	for _, name := range []string{"power", "heartRate", "cadence"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			http.Error(w, fmt.Sprintf("invalid %s %q", name, raw), http.StatusBadRequest)
			return
		}
		ints[name] = &v
	}

	var connected *bool
	if raw := q.Get("connected"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid connected %q", raw), http.StatusBadRequest)
			return
		}
		connected = &v
	}

	s.mu.Lock()
	if v, ok := ints["power"]; ok {
		s.power = *v
	}
	if v, ok := ints["heartRate"]; ok {
		s.heartRate = *v
	}
	if v, ok := ints["cadence"]; ok {
		s.cadence = *v
	}
	s.mu.Unlock()

	if connected != nil {
		s.hub.SetConnected(*connected)
		s.logger.Printf("Simulator: Connected set to %t", *connected)
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Simulator) handleRide(w http.ResponseWriter, r *http.Request) {
	state, err := ParseRideState(mux.Vars(r)["state"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.SetRideState(state)
	w.WriteHeader(http.StatusOK)
}

// Package engine runs a protocol-driven FTP test: it ingests live telemetry,
// advances the protocol on a periodic tick, raises alerts and publishes an
// observable State.
package engine

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lowaak/smart-trainer/ftp-test/internal/alert"
	"github.com/lowaak/smart-trainer/ftp-test/internal/analytics"
	"github.com/lowaak/smart-trainer/ftp-test/internal/events"
	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
	"github.com/lowaak/smart-trainer/ftp-test/internal/go_func_utils"
	"github.com/lowaak/smart-trainer/ftp-test/internal/protocol"
	"github.com/lowaak/smart-trainer/ftp-test/internal/store"
	"github.com/lowaak/smart-trainer/ftp-test/internal/telemetry"
)

const (
	jobQueueSize   = 256
	persistTimeout = 5 * time.Second
)

type resultBuilder func(p protocol.Protocol, s protocol.Session, previousFTP int, method ftp.CalcMethod) (ftp.TestResult, error)

// Option customizes a TestEngine
type Option func(*TestEngine)

// WithClock replaces the wall clock, e.g. with a ManualClock in tests
func WithClock(c Clock) Option {
	return func(e *TestEngine) { e.clock = c }
}

// WithMetrics registers the engine instruments somewhere other than a private registry
func WithMetrics(m *Metrics) Option {
	return func(e *TestEngine) { e.metrics = m }
}

// WithRideStates subscribes the engine to ride-recording transitions
func WithRideStates(r telemetry.RideStateSource) Option {
	return func(e *TestEngine) { e.rides = r }
}

// WithIDGenerator replaces the result ID generator
func WithIDGenerator(f func() string) Option {
	return func(e *TestEngine) { e.newID = f }
}

// effects are the side effects of a locked operation, run after unlocking
type effects struct {
	alerts []alert.Command
	result *ftp.TestResult
	ftp    int
}

func (fx *effects) merge(other effects) {
	fx.alerts = append(fx.alerts, other.alerts...)
	if other.result != nil {
		fx.result = other.result
	}
	if other.ftp > 0 {
		fx.ftp = other.ftp
	}
}

// TestEngine owns the current test. All state transitions happen under mu;
// the latest power, heart-rate and cadence readings are atomics so ingestion
// stays cheap.
type TestEngine struct {
	cfg          Config
	source       telemetry.Source
	rides        telemetry.RideStateSource
	store        store.ResultStore
	alerts       *alert.Manager
	clock        Clock
	metrics      *Metrics
	logger       *log.Logger
	newID        func() string
	buildResult  resultBuilder
	stateEvent   *events.ChannelEvent[State]
	rideUnsub    func()
	currentPower atomic.Int64
	heartRate    atomic.Int64
	cadence      atomic.Int64

	mu         sync.Mutex
	current    State
	ftpWatts   int
	maxHR      int
	weightKg   float64
	ftpUserSet bool
	hrUserSet  bool
	rideState  telemetry.RideState

	// active test (protected by mu)
	proto         protocol.Protocol
	intervalCount int
	generation    uint64
	testFTP       int
	startTime     time.Time
	pausedAt      time.Time
	totalPaused   time.Duration
	paused        bool
	hasRecorded   bool
	lastPowerAt   time.Time
	samples       *boundedBuffer[protocol.Sample]
	heartRates    *boundedBuffer[int]
	window        *analytics.RollingWindow
	unsubscribe   []func()
	tickerSeq     uint64
	ticker        Ticker
	tickerDone    chan struct{}

	// background work
	jobs         chan func()
	doneChan     chan struct{}
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewTestEngine creates an idle engine
func NewTestEngine(cfg Config, source telemetry.Source, resultStore store.ResultStore, sink alert.Sink, logger *log.Logger, opts ...Option) *TestEngine {
	if source == nil {
		panic("TestEngine: source cannot be nil")
	}
	if resultStore == nil {
		panic("TestEngine: resultStore cannot be nil")
	}
	if sink == nil {
		panic("TestEngine: sink cannot be nil")
	}
	if logger == nil {
		panic("TestEngine: logger cannot be nil")
	}

	cfg = cfg.withDefaults()
	e := &TestEngine{
		cfg:         cfg,
		source:      source,
		store:       resultStore,
		alerts:      alert.NewManager(sink, logger, cfg.MotivationAlerts),
		clock:       realClock{},
		logger:      logger,
		newID:       uuid.NewString,
		buildResult: protocol.BuildResult,
		stateEvent:  events.NewChannelEventWithValue[State](Idle{}),
		current:     Idle{},
		ftpWatts:    DefaultFTP,
		maxHR:       DefaultMaxHR,
		samples:     newBoundedBuffer[protocol.Sample](cfg.MaxSamples),
		heartRates:  newBoundedBuffer[int](cfg.MaxHeartRateSamples),
		window:      analytics.NewRollingWindow(cfg.WindowSize),
		jobs:        make(chan func(), jobQueueSize),
		doneChan:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(prometheus.NewRegistry())
	}

	go_func_utils.SafeGoWG(logger, &e.wg, e.runJobs)

	if e.rides != nil {
		e.rideUnsub = e.rides.SubscribeRideState(e.OnRideStateSignal)
	}
	return e
}

// --- Observers ---

// State returns the latest published state
func (e *TestEngine) State() State {
	s, _ := e.stateEvent.Latest()
	return s
}

// Listen registers ch for state updates; the current state is sent right away.
// Slow listeners miss intermediate states, never the engine.
func (e *TestEngine) Listen(ch chan<- State) func() {
	return e.stateEvent.Listen(ch)
}

// --- Profile ---

// SetFTP sets a user-chosen FTP, which profile updates will not override
func (e *TestEngine) SetFTP(ftpWatts int) {
	if ftpWatts <= 0 {
		return
	}
	e.mu.Lock()
	e.ftpWatts = ftpWatts
	e.ftpUserSet = true
	e.mu.Unlock()
	e.logger.Printf("TestEngine: FTP set to %d W", ftpWatts)
}

// FTP returns the FTP currently used for targets and zones
func (e *TestEngine) FTP() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ftpWatts
}

// SetMaxHR sets a user-chosen max heart rate
func (e *TestEngine) SetMaxHR(maxHR int) {
	if maxHR <= 0 {
		return
	}
	e.mu.Lock()
	e.maxHR = maxHR
	e.hrUserSet = true
	e.mu.Unlock()
	e.logger.Printf("TestEngine: Max HR set to %d bpm", maxHR)
}

// MaxHR returns the max heart rate used for zones
func (e *TestEngine) MaxHR() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxHR
}

// SetCalcMethod changes the coefficient used for the next result
func (e *TestEngine) SetCalcMethod(m ftp.CalcMethod) {
	e.mu.Lock()
	e.cfg.CalcMethod = m
	e.mu.Unlock()
}

// SetMotivationAlerts toggles the halfway alert
func (e *TestEngine) SetMotivationAlerts(enabled bool) {
	e.mu.Lock()
	e.cfg.MotivationAlerts = enabled
	e.alerts.SetMotivationAlerts(enabled)
	e.mu.Unlock()
}

// OnProfile adopts profile values. FTP and max HR are only taken while they are
// still at their defaults and were never set by the user; weight always updates.
func (e *TestEngine) OnProfile(p telemetry.Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.FTP > 0 && !e.ftpUserSet && e.ftpWatts == DefaultFTP {
		e.ftpWatts = p.FTP
		e.logger.Printf("TestEngine: FTP seeded from profile: %d W", p.FTP)
	}
	if p.MaxHR > 0 && !e.hrUserSet && e.maxHR == DefaultMaxHR {
		e.maxHR = p.MaxHR
		e.logger.Printf("TestEngine: Max HR seeded from profile: %d bpm", p.MaxHR)
	}
	if p.WeightKg > 0 {
		e.weightKg = p.WeightKg
	}
}

// --- Control ---

// StartTest begins a test of type t, stopping any active test first. It returns
// false, leaving the engine Failed(SYSTEM_ERROR), when telemetry is unavailable.
func (e *TestEngine) StartTest(t protocol.Type) bool {
	e.mu.Lock()
	fx, ok := e.startLocked(t)
	e.mu.Unlock()

	e.runEffects(fx)
	return ok
}

// StopTest ends the active test as Failed(reason). It is a no-op when no test is
// active.
func (e *TestEngine) StopTest(reason FailureReason) bool {
	e.mu.Lock()
	if !IsActive(e.current) {
		e.mu.Unlock()
		e.logger.Printf("TestEngine: No test to stop")
		return false
	}
	fx := e.stopLocked(e.clock.Now(), reason, "")
	e.mu.Unlock()

	e.runEffects(fx)
	return true
}

// DismissResults returns a Completed engine to Idle
func (e *TestEngine) DismissResults() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.current.(Completed); !ok {
		return false
	}
	e.proto = nil
	e.setStateLocked(Idle{})
	e.logger.Printf("TestEngine: Results dismissed")
	return true
}

// ApplyResult adopts the completed result's FTP, persists it and marks the
// result saved
func (e *TestEngine) ApplyResult() (ftp.TestResult, bool) {
	e.mu.Lock()
	c, ok := e.current.(Completed)
	if !ok || c.Result.Saved || c.Result.FTP <= 0 {
		e.mu.Unlock()
		return ftp.TestResult{}, false
	}
	e.ftpWatts = c.Result.FTP
	e.ftpUserSet = true
	res := c.Result.WithSaved()
	e.setStateLocked(Completed{Result: res})
	e.mu.Unlock()

	e.logger.Printf("TestEngine: Applied FTP %d W (was %d W)", res.FTP, res.PreviousFTP)
	e.runEffects(effects{result: &res, ftp: res.FTP})
	return res, true
}

// OnRideStateSignal reacts to the ride recording state. Paused freezes the
// clock, Recording resumes it, and Idle ends the test only if recording was
// seen during it.
func (e *TestEngine) OnRideStateSignal(rs telemetry.RideState) {
	e.mu.Lock()
	now := e.clock.Now()
	e.rideState = rs
	if !IsActive(e.current) {
		e.mu.Unlock()
		return
	}

	var fx effects
	switch rs {
	case telemetry.RidePaused:
		if _, ok := e.current.(Running); ok {
			elapsed := e.elapsedLocked(now)
			pos, target, hasTarget := e.positionLocked(elapsed)
			snap := e.snapshotLocked(elapsed, pos, target, hasTarget)
			e.paused = true
			e.pausedAt = now
			e.stopTickerLocked()
			e.setStateLocked(Paused{Running: snap, PausedAt: now})
			e.logger.Printf("TestEngine: Paused at %v", elapsed)
		}

	case telemetry.RideRecording:
		e.hasRecorded = true
		if e.paused {
			e.totalPaused += now.Sub(e.pausedAt)
			e.paused = false
			e.pausedAt = time.Time{}
			e.lastPowerAt = now
			e.startTickerLocked()
			fx = e.evaluateLocked(now, alert.TriggerTick)
			e.logger.Printf("TestEngine: Resumed (total paused %v)", e.totalPaused)
		}

	case telemetry.RideIdle:
		if e.hasRecorded {
			fx = e.stopLocked(now, ReasonRideEnded, "ride recording ended")
		} else {
			e.logger.Printf("TestEngine: Ignoring ride idle, recording never started")
		}
	}
	e.mu.Unlock()

	e.runEffects(fx)
}

// Tick runs one periodic re-evaluation immediately
func (e *TestEngine) Tick() {
	e.mu.Lock()
	var fx effects
	if _, ok := e.current.(Running); ok {
		fx = e.evaluateLocked(e.clock.Now(), alert.TriggerTick)
	}
	e.mu.Unlock()

	e.runEffects(fx)
}

// Shutdown stops any active test and waits for background work to finish.
// Safe to call multiple times - only the first call has effect.
func (e *TestEngine) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.logger.Printf("TestEngine: Shutting down")
		if e.rideUnsub != nil {
			e.rideUnsub()
		}
		e.StopTest(ReasonUserStopped)
		close(e.doneChan)
		e.wg.Wait()
		e.logger.Printf("TestEngine: Shutdown complete")
	})
}

// --- Ingestion ---

// OnPowerSample ingests a power reading for the active test. Samples stamped
// before the test started are ignored.
func (e *TestEngine) OnPowerSample(power int, ts time.Time) {
	e.onPowerSample(e.currentGeneration(), power, ts)
}

// OnHeartRate records the latest heart rate
func (e *TestEngine) OnHeartRate(bpm int) {
	e.onHeartRate(e.currentGeneration(), bpm)
}

// OnCadence records the latest cadence
func (e *TestEngine) OnCadence(rpm int) {
	e.cadence.Store(int64(rpm))
}

func (e *TestEngine) currentGeneration() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generation
}

func (e *TestEngine) onPowerSample(gen uint64, power int, ts time.Time) {
	e.mu.Lock()
	if gen != e.generation {
		e.mu.Unlock()
		return
	}
	if _, ok := e.current.(Running); !ok {
		e.mu.Unlock()
		return
	}
	if !ts.IsZero() && ts.Before(e.startTime) {
		e.mu.Unlock()
		return
	}
	e.currentPower.Store(int64(power))
	e.metrics.currentPower.Set(float64(power))
	fx := e.powerSampleLocked(e.clock.Now(), power)
	e.mu.Unlock()

	e.runEffects(fx)
}

func (e *TestEngine) onHeartRate(gen uint64, bpm int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.generation {
		return
	}
	if _, ok := e.current.(Running); !ok {
		return
	}
	e.heartRate.Store(int64(bpm))
	if bpm <= 0 {
		return
	}
	e.heartRates.Append(bpm)
	e.metrics.samplesTotal.WithLabelValues(telemetry.MetricHeartRate.String()).Inc()
}

// --- Locked internals (caller holds mu) ---

func (e *TestEngine) startLocked(t protocol.Type) (effects, bool) {
	now := e.clock.Now()
	var fx effects

	if !e.source.IsConnected() {
		if IsActive(e.current) {
			fx = e.stopLocked(now, ReasonUserStopped, "superseded by a new test")
		}
		e.logger.Printf("TestEngine: Cannot start %s: %v", t, telemetry.ErrNotConnected)
		e.setStateLocked(Failed{Reason: ReasonSystemError, Message: telemetry.ErrNotConnected.Error()})
		e.metrics.testsTotal.WithLabelValues(string(ReasonSystemError)).Inc()
		return fx, false
	}

	if IsActive(e.current) {
		e.logger.Printf("TestEngine: Stopping active test before starting %s", t)
		fx = e.stopLocked(now, ReasonUserStopped, "superseded by a new test")
	}

	proto, err := protocol.New(t, protocol.Options{
		FTP:            e.ftpWatts,
		StartPower:     e.cfg.Ramp.StartPower,
		StepIncrement:  e.cfg.Ramp.StepIncrement,
		WarmupMin:      e.cfg.Ramp.WarmupMin,
		CooldownMin:    e.cfg.Ramp.CooldownMin,
		EstimatedSteps: e.cfg.Ramp.EstimatedSteps,
		MaxSteps:       e.cfg.Ramp.MaxSteps,
	})
	if err != nil {
		e.logger.Printf("TestEngine: Cannot start %s: %v", t, err)
		e.setStateLocked(Failed{Reason: ReasonSystemError, Message: err.Error()})
		e.metrics.testsTotal.WithLabelValues(string(ReasonSystemError)).Inc()
		return fx, false
	}

	e.generation++
	gen := e.generation
	e.proto = proto
	e.intervalCount = len(proto.Intervals())
	e.testFTP = e.ftpWatts
	e.startTime = now
	e.pausedAt = time.Time{}
	e.totalPaused = 0
	e.paused = false
	e.hasRecorded = e.rideState == telemetry.RideRecording
	e.lastPowerAt = now
	e.currentPower.Store(0)
	e.heartRate.Store(0)
	e.samples.Reset()
	e.heartRates.Reset()
	e.window.Reset()
	e.alerts.Reset()

	e.unsubscribe = []func(){
		e.source.Subscribe(telemetry.MetricPower, func(s telemetry.Sample) { e.onPowerSample(gen, s.Value, s.Timestamp) }),
		e.source.Subscribe(telemetry.MetricHeartRate, func(s telemetry.Sample) { e.onHeartRate(gen, s.Value) }),
		e.source.Subscribe(telemetry.MetricCadence, func(s telemetry.Sample) { e.OnCadence(s.Value) }),
	}
	e.startTickerLocked()

	e.logger.Printf("TestEngine: Test started (protocol=%s, ftp=%d W)", t, e.testFTP)
	fx.merge(e.evaluateLocked(now, alert.TriggerTick))
	return fx, true
}

// evaluateLocked is the periodic re-evaluation: it completes the test when the
// protocol's time is up, otherwise publishes a fresh snapshot
func (e *TestEngine) evaluateLocked(now time.Time, trigger alert.Trigger) effects {
	elapsed := e.elapsedLocked(now)
	if e.proto.IsTimeComplete(elapsed) {
		e.logger.Printf("TestEngine: Protocol time complete at %v", elapsed)
		return e.completeLocked(now, elapsed)
	}

	pos, target, hasTarget := e.positionLocked(elapsed)
	snap := e.snapshotLocked(elapsed, pos, target, hasTarget)
	e.setStateLocked(snap)
	return effects{alerts: e.alerts.Evaluate(e.alertSnapshotLocked(now, snap, pos), trigger)}
}

func (e *TestEngine) powerSampleLocked(now time.Time, power int) effects {
	elapsed := e.elapsedLocked(now)
	pos, target, hasTarget := e.positionLocked(elapsed)
	e.lastPowerAt = now
	e.metrics.samplesTotal.WithLabelValues(telemetry.MetricPower.String()).Inc()

	if power > 0 {
		if !e.samples.Append(protocol.Sample{Power: power, Elapsed: elapsed, IntervalIndex: pos.Index, Phase: pos.Phase}) {
			e.metrics.samplesDropped.Inc()
		}
		e.window.Push(power)
	}

	if pos.Phase == protocol.PhaseTesting && e.proto.ShouldEndTest(power, target) {
		e.logger.Printf("TestEngine: Protocol ended the test early at %v (%d W vs %d W target)", elapsed, power, target)
		return e.completeLocked(now, elapsed)
	}

	snap := e.snapshotLocked(elapsed, pos, target, hasTarget)
	e.setStateLocked(snap)
	return effects{alerts: e.alerts.Evaluate(e.alertSnapshotLocked(now, snap, pos), alert.TriggerSample)}
}

func (e *TestEngine) stopLocked(now time.Time, reason FailureReason, msg string) effects {
	elapsed := e.elapsedLocked(now)
	e.teardownLocked()

	var fx effects
	var partial *ftp.TestResult
	if elapsed >= e.cfg.MinPartialDuration {
		res := e.resultLocked(now, elapsed, true)
		partial = &res
		fx.result = &res
	}
	e.proto = nil

	e.setStateLocked(Failed{Reason: reason, Message: msg, PartialResult: partial})
	e.metrics.testsTotal.WithLabelValues(string(reason)).Inc()
	e.logger.Printf("TestEngine: Test stopped (%s) after %v, partial result: %t", reason, elapsed, partial != nil)
	return fx
}

func (e *TestEngine) completeLocked(now time.Time, elapsed time.Duration) effects {
	e.teardownLocked()
	res := e.resultLocked(now, elapsed, false)
	e.proto = nil

	e.setStateLocked(Completed{Result: res})
	e.metrics.testsTotal.WithLabelValues("COMPLETED").Inc()
	e.logger.Printf("TestEngine: Test complete: FTP %d W (%s)", res.FTP, res.Formula)

	return effects{
		alerts: e.alerts.Evaluate(alert.Snapshot{Phase: protocol.PhaseComplete}, alert.TriggerTick),
		result: &res,
	}
}

// teardownLocked cancels the tick and telemetry subscriptions and invalidates
// the generation so in-flight callbacks become no-ops
func (e *TestEngine) teardownLocked() {
	e.stopTickerLocked()
	for _, unsub := range e.unsubscribe {
		unsub()
	}
	e.unsubscribe = nil
	e.generation++
	e.paused = false
}

// resultLocked assembles the result, substituting a degraded one if that fails
func (e *TestEngine) resultLocked(now time.Time, elapsed time.Duration, partial bool) ftp.TestResult {
	id := e.newID()
	session := protocol.Session{
		Samples:    e.samples.Snapshot(),
		HeartRates: e.heartRates.Snapshot(),
		Duration:   elapsed,
		WeightKg:   e.weightKg,
	}
	if best, ok := e.window.BestAverage(); ok {
		session.MaxOneMinutePower = best
		session.HasMaxOneMinute = true
	}

	var res ftp.TestResult
	var buildErr error
	ok := go_func_utils.Recover(e.logger, "TestEngine", func() {
		res, buildErr = e.buildResult(e.proto, session, e.testFTP, e.cfg.CalcMethod)
	})
	if !ok || buildErr != nil {
		if buildErr != nil {
			e.logger.Printf("TestEngine: Result computation failed: %v", buildErr)
		}
		res = ftp.Degraded(id, e.proto.Type().String(), e.testFTP, elapsed, now)
	}
	res.ID = id
	res.CompletedAt = now
	res.Partial = partial
	return res
}

func (e *TestEngine) elapsedLocked(now time.Time) time.Duration {
	if e.startTime.IsZero() {
		return 0
	}
	elapsed := now.Sub(e.startTime) - e.totalPaused
	if e.paused {
		elapsed -= now.Sub(e.pausedAt)
	}
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

func (e *TestEngine) positionLocked(elapsed time.Duration) (protocol.Position, int, bool) {
	pos := e.proto.Position(elapsed)
	target, ok := e.proto.TargetPower(elapsed, e.ftpWatts)
	return pos, target, ok
}

func (e *TestEngine) snapshotLocked(elapsed time.Duration, pos protocol.Position, target int, hasTarget bool) Running {
	r := Running{
		Protocol:         e.proto.Type(),
		ProtocolName:     e.proto.Name(),
		Phase:            pos.Phase,
		IntervalName:     pos.Interval.Name,
		IntervalIndex:    pos.Index,
		IntervalCount:    max(e.intervalCount, pos.Index+1),
		IntervalDuration: pos.Interval.Duration,
		Remaining:        pos.Remaining,
		Elapsed:          elapsed,
		TotalDuration:    e.proto.TotalDuration(),
		FixedDuration:    e.proto.FixedDuration(),
		CurrentPower:     int(e.currentPower.Load()),
		TargetPower:      target,
		HasTarget:        hasTarget,
		HeartRate:        int(e.heartRate.Load()),
		Cadence:          int(e.cadence.Load()),
		SampleCount:      e.samples.Len(),
		FTP:              e.ftpWatts,
		MaxHR:            e.maxHR,
		TolerancePercent: e.cfg.TolerancePercent,
	}
	if pos.Ramp != nil {
		r.RampStep = pos.Ramp.Step
		r.RampEstimatedSteps = pos.Ramp.EstimatedSteps
	}
	if best, ok := e.window.BestAverage(); ok {
		r.MaxOneMinutePower = best
	}
	return r
}

func (e *TestEngine) alertSnapshotLocked(now time.Time, r Running, pos protocol.Position) alert.Snapshot {
	return alert.Snapshot{
		Phase:            r.Phase,
		IntervalIndex:    r.IntervalIndex,
		IntervalName:     r.IntervalName,
		IntervalDuration: r.IntervalDuration,
		IntervalElapsed:  pos.IntervalElapsed,
		Remaining:        r.Remaining,
		IsLastInterval:   r.FixedDuration && pos.IsLastInterval(e.intervalCount),
		RampStep:         pos.Interval.Ramp != nil,
		VariableDuration: !r.FixedDuration,
		CurrentPower:     r.CurrentPower,
		TargetPower:      r.TargetPower,
		HasTarget:        r.HasTarget,
		Cadence:          r.Cadence,
		SinceLastPower:   now.Sub(e.lastPowerAt),
	}
}

func (e *TestEngine) setStateLocked(s State) {
	e.current = s
	e.stateEvent.Notify(s)
	e.metrics.setState(s.Name())
}

// --- Periodic task ---

func (e *TestEngine) startTickerLocked() {
	e.stopTickerLocked()
	e.tickerSeq++
	seq := e.tickerSeq
	t := e.clock.NewTicker(e.cfg.TickInterval)
	done := make(chan struct{})
	e.ticker = t
	e.tickerDone = done

	go_func_utils.SafeGoWG(e.logger, &e.wg, func() {
		for {
			select {
			case <-done:
				return
			case <-e.doneChan:
				return
			case <-t.C():
				e.tick(seq)
			}
		}
	})
}

func (e *TestEngine) stopTickerLocked() {
	if e.ticker == nil {
		return
	}
	e.ticker.Stop()
	close(e.tickerDone)
	e.ticker = nil
	e.tickerDone = nil
	e.tickerSeq++
}

func (e *TestEngine) tick(seq uint64) {
	start := time.Now()

	e.mu.Lock()
	if seq != e.tickerSeq {
		e.mu.Unlock()
		return
	}
	var fx effects
	if _, ok := e.current.(Running); ok {
		fx = e.evaluateLocked(e.clock.Now(), alert.TriggerTick)
	}
	e.mu.Unlock()

	e.metrics.tickDuration.Observe(time.Since(start).Seconds())
	e.runEffects(fx)
}

// --- Background jobs ---

func (e *TestEngine) runEffects(fx effects) {
	if len(fx.alerts) > 0 {
		cmds := fx.alerts
		for _, c := range cmds {
			e.metrics.alertsTotal.WithLabelValues(string(c.ID)).Inc()
		}
		e.enqueue(func() { e.alerts.Dispatch(cmds) })
	}
	if fx.result != nil {
		res := *fx.result
		e.enqueue(func() { e.persistResult(res) })
	}
	if fx.ftp > 0 {
		ftpWatts := fx.ftp
		e.enqueue(func() { e.persistFTP(ftpWatts) })
	}
}

func (e *TestEngine) enqueue(job func()) {
	select {
	case e.jobs <- job:
	default:
		e.logger.Printf("TestEngine: Job queue full, dropping job")
	}
}

func (e *TestEngine) runJobs() {
	for {
		select {
		case job := <-e.jobs:
			job()
		case <-e.doneChan:
			for {
				select {
				case job := <-e.jobs:
					job()
				default:
					return
				}
			}
		}
	}
}

func (e *TestEngine) persistResult(res ftp.TestResult) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.store.SaveResult(ctx, res); err != nil {
		e.logger.Printf("TestEngine: Failed to persist result %s: %v", res.ID, err)
	}
}

func (e *TestEngine) persistFTP(ftpWatts int) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.store.SaveFTP(ctx, ftpWatts); err != nil {
		e.logger.Printf("TestEngine: Failed to persist FTP %d: %v", ftpWatts, err)
	}
}

package engine

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ftp-test/internal/alert"
	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
	"github.com/lowaak/smart-trainer/ftp-test/internal/protocol"
	"github.com/lowaak/smart-trainer/ftp-test/internal/telemetry"
)

var testStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type recordingStore struct {
	mu      sync.Mutex
	results []ftp.TestResult
	ftps    []int
}

func (s *recordingStore) SaveResult(_ context.Context, r ftp.TestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func (s *recordingStore) SaveFTP(_ context.Context, v int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ftps = append(s.ftps, v)
	return nil
}

func (s *recordingStore) resultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func (s *recordingStore) lastResult() ftp.TestResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[len(s.results)-1]
}

func (s *recordingStore) savedFTPs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.ftps...)
}

type recordingSink struct {
	mu   sync.Mutex
	cmds []alert.Command
}

func (s *recordingSink) Send(cmd alert.Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
}

func (s *recordingSink) ids() []alert.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alert.ID, 0, len(s.cmds))
	for _, c := range s.cmds {
		out = append(out, c.ID)
	}
	return out
}

type fixture struct {
	engine  *TestEngine
	hub     *telemetry.Hub
	clock   *ManualClock
	store   *recordingStore
	sink    *recordingSink
	metrics *Metrics
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		hub:     telemetry.NewHub(),
		clock:   NewManualClock(testStart),
		store:   &recordingStore{},
		sink:    &recordingSink{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	f.hub.SetConnected(true)

	n := 0
	f.engine = NewTestEngine(cfg, f.hub, f.store, f.sink, log.New(io.Discard, "", 0),
		WithClock(f.clock),
		WithMetrics(f.metrics),
		WithRideStates(f.hub),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("result-%d", n)
		}),
	)
	t.Cleanup(f.engine.Shutdown)
	return f
}

// rampConfig skips warmup and cooldown so tests land straight on step 1
func rampConfig() Config {
	cfg := DefaultConfig()
	cfg.Ramp = protocol.RampConfig{StartPower: 100, StepIncrement: 20, WarmupMin: 0, CooldownMin: 0, EstimatedSteps: 20, MaxSteps: 50}
	return cfg
}

// ride feeds one power sample per second for d
func (f *fixture) ride(watts int, d time.Duration) {
	for i := 0; i < int(d/time.Second); i++ {
		f.clock.Advance(time.Second)
		f.hub.Publish(telemetry.Sample{Metric: telemetry.MetricPower, Value: watts, Timestamp: f.clock.Now()})
	}
}

func (f *fixture) running(t *testing.T) Running {
	t.Helper()
	r, ok := f.engine.State().(Running)
	require.True(t, ok, "expected Running, got %T", f.engine.State())
	return r
}

// failRamp rides step 1 strongly, then collapses at the start of step 2
func (f *fixture) failRamp(t *testing.T) Completed {
	t.Helper()
	require.True(t, f.engine.StartTest(protocol.Ramp))
	f.ride(300, 60*time.Second)
	f.ride(30, time.Duration(protocol.RampFailureSamples)*time.Second)

	c, ok := f.engine.State().(Completed)
	require.True(t, ok, "expected Completed, got %T", f.engine.State())
	return c
}

func TestStartTest_NotConnected(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.hub.SetConnected(false)

	assert.False(t, f.engine.StartTest(protocol.TwentyMinute))

	failed, ok := f.engine.State().(Failed)
	require.True(t, ok)
	assert.Equal(t, ReasonSystemError, failed.Reason)
	assert.Nil(t, failed.PartialResult)
	assert.Equal(t, 0, f.clock.ActiveTickers())
	assert.Equal(t, 0, f.hub.SubscriberCount(telemetry.MetricPower))
	assert.Equal(t, DefaultFTP, f.engine.FTP())
}

func TestStartTest_Running(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	require.True(t, f.engine.StartTest(protocol.TwentyMinute))

	r := f.running(t)
	assert.Equal(t, protocol.TwentyMinute, r.Protocol)
	assert.Equal(t, protocol.PhaseWarmup, r.Phase)
	assert.Equal(t, "Warmup", r.IntervalName)
	assert.Equal(t, 5, r.IntervalCount)
	assert.Equal(t, 121, r.TargetPower) // 55% of 220
	assert.True(t, r.HasTarget)
	assert.Equal(t, 50*time.Minute, r.TotalDuration)
	assert.Equal(t, 1, f.clock.ActiveTickers())
	for _, m := range telemetry.AllMetrics {
		assert.Equal(t, 1, f.hub.SubscriberCount(m), m.String())
	}

	require.Eventually(t, func() bool {
		return len(f.sink.ids()) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, alert.IDPhaseChange, f.sink.ids()[0])
}

func TestTick_ElapsedExcludesPauses(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	f.hub.PublishRideState(telemetry.RideRecording)
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))

	f.clock.Advance(100 * time.Second)
	f.engine.Tick()
	assert.Equal(t, 100*time.Second, f.running(t).Elapsed)

	f.hub.PublishRideState(telemetry.RidePaused)
	paused, ok := f.engine.State().(Paused)
	require.True(t, ok)
	assert.Equal(t, 100*time.Second, paused.Elapsed)
	assert.Equal(t, 0, f.clock.ActiveTickers())

	f.clock.Advance(30 * time.Second)
	f.engine.Tick()
	_, ok = f.engine.State().(Paused)
	assert.True(t, ok, "ticks are ignored while paused")

	f.hub.PublishRideState(telemetry.RideRecording)
	assert.Equal(t, 1, f.clock.ActiveTickers())

	f.clock.Advance(70 * time.Second)
	f.engine.Tick()
	assert.Equal(t, testStart.Add(200*time.Second), f.clock.Now())
	assert.Equal(t, 170*time.Second, f.running(t).Elapsed)
}

func TestOnPowerSample_Records(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))

	f.ride(130, 5*time.Second)
	f.hub.Publish(telemetry.Sample{Metric: telemetry.MetricHeartRate, Value: 140})
	f.hub.Publish(telemetry.Sample{Metric: telemetry.MetricCadence, Value: 90})
	f.ride(0, time.Second)
	f.ride(125, time.Second)

	r := f.running(t)
	assert.Equal(t, 6, r.SampleCount, "zero power is not recorded")
	assert.Equal(t, 125, r.CurrentPower)
	assert.Equal(t, 140, r.HeartRate)
	assert.Equal(t, 90, r.Cadence)
	assert.Equal(t, 7*time.Second, r.Elapsed)
	assert.True(t, r.IsInTargetZone())
	assert.Equal(t, float64(7), testutil.ToFloat64(f.metrics.samplesTotal.WithLabelValues("power")))
}

func TestOnPowerSample_IgnoresSamplesBeforeStart(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))

	f.engine.OnPowerSample(200, testStart.Add(-time.Second))
	assert.Equal(t, 0, f.running(t).SampleCount)

	f.engine.OnPowerSample(200, testStart)
	assert.Equal(t, 1, f.running(t).SampleCount)
}

func TestOnPowerSample_CapsBuffer(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))

	for i := 0; i < DefaultMaxSamples+100; i++ {
		f.engine.OnPowerSample(150, time.Time{})
	}

	assert.Equal(t, DefaultMaxSamples, f.running(t).SampleCount)
	assert.Equal(t, float64(100), testutil.ToFloat64(f.metrics.samplesDropped))
}

func TestTick_CompletesWhenTimeIsUp(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))

	f.clock.Advance(50 * time.Minute)
	f.engine.Tick()

	c, ok := f.engine.State().(Completed)
	require.True(t, ok)
	assert.Equal(t, 0, c.Result.FTP, "no samples means no estimate")
	assert.Equal(t, "insufficient data", c.Result.Formula)
	assert.Equal(t, DefaultFTP, c.Result.PreviousFTP)
	assert.Equal(t, "result-1", c.Result.ID)
	assert.Equal(t, testStart.Add(50*time.Minute), c.Result.CompletedAt)
	assert.Equal(t, 0, f.clock.ActiveTickers())
	assert.Equal(t, 0, f.hub.SubscriberCount(telemetry.MetricPower))

	require.Eventually(t, func() bool { return f.store.resultCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRamp_FailureCompletesTest(t *testing.T) {
	f := newFixture(t, rampConfig())
	c := f.failRamp(t)

	want, _, err := ftp.Estimate(ftp.KindRamp, 300, ftp.Standard)
	require.NoError(t, err)
	assert.Equal(t, want, c.Result.FTP)
	assert.Equal(t, 300, c.Result.MaxOneMinutePower)
	assert.Equal(t, 2, c.Result.MaxRampStep)
	assert.Equal(t, "RAMP", c.Result.Protocol)
	assert.False(t, c.Result.Partial)
	assert.False(t, c.Result.Saved)
	assert.Equal(t, 0, f.clock.ActiveTickers())

	require.Eventually(t, func() bool { return f.store.resultCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, c.Result.ID, f.store.lastResult().ID)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.testsTotal.WithLabelValues("COMPLETED")))
}

func TestStopTest_Idempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	assert.False(t, f.engine.StopTest(ReasonUserStopped))
	assert.IsType(t, Idle{}, f.engine.State())

	require.True(t, f.engine.StartTest(protocol.EightMinute))
	f.ride(150, 10*time.Second)
	require.True(t, f.engine.StopTest(ReasonUserStopped))

	failed, ok := f.engine.State().(Failed)
	require.True(t, ok)
	assert.Equal(t, ReasonUserStopped, failed.Reason)
	assert.Nil(t, failed.PartialResult, "under a minute keeps no partial result")

	assert.False(t, f.engine.StopTest(ReasonPowerDropout))
	assert.Equal(t, failed, f.engine.State())
}

func TestStopTest_KeepsPartialResult(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))
	f.ride(120, 90*time.Second)

	require.True(t, f.engine.StopTest(ReasonUserStopped))

	failed, ok := f.engine.State().(Failed)
	require.True(t, ok)
	require.NotNil(t, failed.PartialResult)
	assert.True(t, failed.PartialResult.Partial)
	assert.Equal(t, 90*time.Second, failed.PartialResult.Duration)
	assert.Equal(t, 120, failed.PartialResult.AvgPower)

	require.Eventually(t, func() bool { return f.store.resultCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, f.store.lastResult().Partial)
}

func TestStartTest_StopsActiveTest(t *testing.T) {
	f := newFixture(t, rampConfig())
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))
	f.ride(150, 5*time.Second)

	require.True(t, f.engine.StartTest(protocol.Ramp))

	r := f.running(t)
	assert.Equal(t, protocol.Ramp, r.Protocol)
	assert.Equal(t, 0, r.SampleCount)
	assert.Equal(t, time.Duration(0), r.Elapsed)
	assert.Equal(t, 1, f.clock.ActiveTickers())
	assert.Equal(t, 1, f.hub.SubscriberCount(telemetry.MetricPower))
}

func TestStartTest_NotConnectedStopsActiveTest(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))
	f.ride(150, 2*time.Minute)

	f.hub.SetConnected(false)
	assert.False(t, f.engine.StartTest(protocol.TwentyMinute))

	failed, ok := f.engine.State().(Failed)
	require.True(t, ok)
	assert.Equal(t, ReasonSystemError, failed.Reason)
	assert.Equal(t, 0, f.clock.ActiveTickers())
	assert.Equal(t, 0, f.hub.SubscriberCount(telemetry.MetricPower))
}

func TestRideIdle_EndsTestOnlyAfterRecording(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))

	f.hub.PublishRideState(telemetry.RideIdle)
	f.running(t)

	f.hub.PublishRideState(telemetry.RideRecording)
	f.hub.PublishRideState(telemetry.RideIdle)

	failed, ok := f.engine.State().(Failed)
	require.True(t, ok)
	assert.Equal(t, ReasonRideEnded, failed.Reason)
}

func TestStaleTelemetryAfterStop(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))
	stale := f.engine.currentGeneration()

	require.True(t, f.engine.StopTest(ReasonUserStopped))
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))

	f.engine.onPowerSample(stale, 400, time.Time{})
	f.engine.onHeartRate(stale, 150)
	f.engine.Tick()
	r := f.running(t)
	assert.Equal(t, 0, r.SampleCount)
	assert.Equal(t, 0, r.CurrentPower, "stale power must not leak into the new test")
	assert.Equal(t, 0, r.HeartRate)

	// a tick scheduled by the old ticker is dropped as well
	f.clock.Advance(time.Minute)
	f.engine.tick(0)
	assert.Equal(t, time.Duration(0), f.running(t).Elapsed)
}

func TestRestart_WhileAlertsDispatch(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	const restarts = 50
	for i := 0; i < restarts; i++ {
		require.True(t, f.engine.StartTest(protocol.TwentyMinute))
		f.ride(60, 3*time.Second)
	}

	require.Eventually(t, func() bool {
		n := 0
		for _, id := range f.sink.ids() {
			if id == alert.IDPhaseChange {
				n++
			}
		}
		return n >= restarts
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRamp_IntervalCountCoversStepsPastEstimate(t *testing.T) {
	cfg := rampConfig()
	cfg.Ramp.EstimatedSteps = 2
	cfg.Ramp.MaxSteps = 10
	f := newFixture(t, cfg)
	require.True(t, f.engine.StartTest(protocol.Ramp))

	f.clock.Advance(3*time.Minute + 30*time.Second)
	f.engine.Tick()

	r := f.running(t)
	assert.Equal(t, 4, r.RampStep)
	assert.Less(t, r.IntervalIndex, r.IntervalCount)
}

func TestOnProfile_SeedsDefaultsOnce(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	f.engine.OnProfile(telemetry.Profile{FTP: 250, MaxHR: 190, WeightKg: 70})
	assert.Equal(t, 250, f.engine.FTP())
	assert.Equal(t, 190, f.engine.MaxHR())

	f.engine.OnProfile(telemetry.Profile{FTP: 280, MaxHR: 195})
	assert.Equal(t, 250, f.engine.FTP())
	assert.Equal(t, 190, f.engine.MaxHR())
}

func TestOnProfile_UserValueWins(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	f.engine.SetFTP(DefaultFTP)
	f.engine.OnProfile(telemetry.Profile{FTP: 250})
	assert.Equal(t, DefaultFTP, f.engine.FTP())
}

func TestApplyResult(t *testing.T) {
	f := newFixture(t, rampConfig())

	_, ok := f.engine.ApplyResult()
	assert.False(t, ok, "nothing to apply while idle")

	c := f.failRamp(t)
	res, ok := f.engine.ApplyResult()
	require.True(t, ok)
	assert.True(t, res.Saved)
	assert.Equal(t, c.Result.FTP, f.engine.FTP())

	done, ok := f.engine.State().(Completed)
	require.True(t, ok)
	assert.True(t, done.Result.Saved)

	_, ok = f.engine.ApplyResult()
	assert.False(t, ok, "a saved result is applied once")

	require.Eventually(t, func() bool {
		return len(f.store.savedFTPs()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{c.Result.FTP}, f.store.savedFTPs())

	// user-applied FTP is not overridden by a profile
	f.engine.OnProfile(telemetry.Profile{FTP: 100})
	assert.Equal(t, c.Result.FTP, f.engine.FTP())

	assert.True(t, f.engine.DismissResults())
	assert.IsType(t, Idle{}, f.engine.State())
	assert.False(t, f.engine.DismissResults())
}

func TestResult_DegradedOnFailure(t *testing.T) {
	f := newFixture(t, rampConfig())
	f.engine.buildResult = func(protocol.Protocol, protocol.Session, int, ftp.CalcMethod) (ftp.TestResult, error) {
		panic("boom")
	}

	c := f.failRamp(t)
	assert.True(t, c.Result.IsDegraded())
	assert.Equal(t, 0, c.Result.FTP)
	assert.Equal(t, DefaultFTP, c.Result.PreviousFTP)
	assert.Equal(t, "result-1", c.Result.ID)
	assert.Equal(t, 75*time.Second, c.Result.Duration)
}

func TestListen_ReplaysCurrentState(t *testing.T) {
	f := newFixture(t, DefaultConfig())

	ch := make(chan State, 4)
	unregister := f.engine.Listen(ch)
	defer unregister()
	assert.IsType(t, Idle{}, <-ch)

	require.True(t, f.engine.StartTest(protocol.TwentyMinute))
	assert.IsType(t, Running{}, <-ch)
}

func TestShutdown_StopsActiveTest(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	require.True(t, f.engine.StartTest(protocol.TwentyMinute))
	f.ride(200, 2*time.Minute)

	f.engine.Shutdown()
	f.engine.Shutdown()

	assert.IsType(t, Failed{}, f.engine.State())
	assert.Equal(t, 1, f.store.resultCount(), "pending saves are flushed on shutdown")
}

package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
)

func TestRamp_Defaults(t *testing.T) {
	r := NewRamp(RampConfig{WarmupMin: -1, CooldownMin: -1})
	cfg := r.Config()
	assert.Equal(t, DefaultRampConfig(), cfg)
	assert.False(t, r.FixedDuration())
	assert.Equal(t, 35*time.Minute, r.TotalDuration())
	assert.Len(t, r.Intervals(), DefaultRampEstimatedSteps+2)
}

func TestRamp_EstimateBelowCapIsKept(t *testing.T) {
	r := NewRamp(RampConfig{StartPower: 100, StepIncrement: 20, WarmupMin: 0, CooldownMin: 0, EstimatedSteps: 12, MaxSteps: 30})

	pos := r.Position(90 * time.Second)
	require.NotNil(t, pos.Ramp)
	assert.Equal(t, 2, pos.Ramp.Step)
	assert.Equal(t, 12, pos.Ramp.EstimatedSteps)
	assert.Len(t, r.Intervals(), 12)
}

func TestRamp_Position(t *testing.T) {
	r := NewRamp(RampConfig{StartPower: 100, StepIncrement: 20, WarmupMin: 5, CooldownMin: 5, EstimatedSteps: 20, MaxSteps: 3})

	pos := r.Position(2 * time.Minute)
	assert.Equal(t, PhaseWarmup, pos.Phase)
	assert.Equal(t, 3*time.Minute, pos.Remaining)
	require.NotNil(t, pos.Ramp)
	assert.Equal(t, 0, pos.Ramp.Step)
	target, ok := r.TargetPower(2*time.Minute, 200)
	require.True(t, ok)
	assert.Equal(t, 100, target)

	pos = r.Position(5 * time.Minute)
	assert.Equal(t, PhaseTesting, pos.Phase)
	assert.Equal(t, 1, pos.Ramp.Step)
	assert.Equal(t, 3, pos.Ramp.EstimatedSteps, "estimate is capped at MaxSteps")
	assert.Equal(t, RampStepDuration, pos.Remaining)
	require.NotNil(t, pos.Interval.Ramp)
	target, _ = r.TargetPower(5*time.Minute, 200)
	assert.Equal(t, 100, target)

	pos = r.Position(7*time.Minute + 10*time.Second)
	assert.Equal(t, 3, pos.Ramp.Step)
	assert.Equal(t, 50*time.Second, pos.Remaining)
	target, _ = r.TargetPower(7*time.Minute+10*time.Second, 200)
	assert.Equal(t, 140, target)

	// past MaxSteps the ramp cools down then completes
	pos = r.Position(9 * time.Minute)
	assert.Equal(t, PhaseCooldown, pos.Phase)
	target, _ = r.TargetPower(9*time.Minute, 200)
	assert.Equal(t, 80, target)

	assert.False(t, r.IsTimeComplete(13*time.Minute-time.Second))
	assert.True(t, r.IsTimeComplete(13*time.Minute))
	_, ok = r.TargetPower(13*time.Minute, 200)
	assert.False(t, ok)
}

func TestRamp_ShouldEndTest_SustainedFailure(t *testing.T) {
	r := NewRamp(RampConfig{StartPower: 100, StepIncrement: 20, WarmupMin: 0, CooldownMin: 0})
	target := r.StepTarget(6) // 200 W, threshold 180 W

	for i := 1; i < RampFailureSamples; i++ {
		assert.False(t, r.ShouldEndTest(179, target), "sample %d", i)
	}
	assert.True(t, r.ShouldEndTest(179, target))
	assert.True(t, r.Failed())

	pos := r.Position(6 * time.Minute)
	assert.Equal(t, PhaseComplete, pos.Phase)
	assert.Equal(t, 6, pos.Ramp.Step)
}

func TestRamp_ShouldEndTest_ResetOnRecovery(t *testing.T) {
	r := NewRamp(RampConfig{StartPower: 100, StepIncrement: 20})
	target := 200

	for i := 0; i < RampFailureSamples-1; i++ {
		require.False(t, r.ShouldEndTest(150, target))
	}
	assert.False(t, r.ShouldEndTest(180, target), "exactly 90% holds the step")
	for i := 0; i < RampFailureSamples-1; i++ {
		require.False(t, r.ShouldEndTest(150, target))
	}
	assert.True(t, r.ShouldEndTest(150, target))
}

func TestRamp_Progress(t *testing.T) {
	r := NewRamp(RampConfig{WarmupMin: 10, EstimatedSteps: 20, MaxSteps: 50})

	assert.Equal(t, 0.0, r.Progress(5*time.Minute))
	assert.InDelta(t, 5.0, r.Progress(10*time.Minute), 1e-9)
	assert.InDelta(t, 50.0, r.Progress(19*time.Minute+30*time.Second), 1e-9)
	assert.Equal(t, 100.0, r.Progress(45*time.Minute), "clamped past the estimate")
}

func TestBuildResult_Ramp(t *testing.T) {
	r := NewRamp(RampConfig{WarmupMin: 0, CooldownMin: 0})
	s := Session{
		Samples:           samplesFor(r, 0, 12*time.Minute, 250),
		MaxOneMinutePower: 300,
		HasMaxOneMinute:   true,
		Duration:          11*time.Minute + 30*time.Second,
	}

	res, err := BuildResult(r, s, 220, ftp.Standard)
	require.NoError(t, err)
	assert.Equal(t, 225, res.FTP)
	assert.Equal(t, 300, res.MaxOneMinutePower)
	assert.Equal(t, 12, res.MaxRampStep)
	assert.Equal(t, "RAMP", res.Protocol)
}

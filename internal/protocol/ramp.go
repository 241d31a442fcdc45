package protocol

import (
	"fmt"
	"time"
)

const (
	DefaultRampStartPower     = 100
	DefaultRampStepIncrement  = 20
	DefaultRampWarmupMin      = 10
	DefaultRampCooldownMin    = 5
	DefaultRampEstimatedSteps = 20
	DefaultRampMaxSteps       = 50

	RampStepDuration = 60 * time.Second

	// a step is failed once this many consecutive samples fall below
	// RampFailureRatio of the step target
	RampFailureSamples = 15
	RampFailureRatio   = 0.90

	rampWarmupPercent   = 50
	rampCooldownPercent = 40
)

// RampConfig parameterizes a ramp test. Zero fields take the defaults above.
type RampConfig struct {
	StartPower     int
	StepIncrement  int
	WarmupMin      int
	CooldownMin    int
	EstimatedSteps int
	MaxSteps       int
}

func (c RampConfig) withDefaults() RampConfig {
	if c.StartPower <= 0 {
		c.StartPower = DefaultRampStartPower
	}
	if c.StepIncrement <= 0 {
		c.StepIncrement = DefaultRampStepIncrement
	}
	if c.WarmupMin < 0 {
		c.WarmupMin = DefaultRampWarmupMin
	}
	if c.CooldownMin < 0 {
		c.CooldownMin = DefaultRampCooldownMin
	}
	if c.EstimatedSteps <= 0 {
		c.EstimatedSteps = DefaultRampEstimatedSteps
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultRampMaxSteps
	}
	if c.EstimatedSteps > c.MaxSteps {
		c.EstimatedSteps = c.MaxSteps
	}
	return c
}

// RampProtocol raises the target every minute until the rider can no longer hold
// it. Its length is open-ended: the test ends on sustained failure, or after
// MaxSteps and a cooldown.
type RampProtocol struct {
	cfg      RampConfig
	warmup   time.Duration
	cooldown time.Duration

	belowCount int
	failed     bool
	failedStep int
}

var _ Protocol = (*RampProtocol)(nil)

// NewRamp creates a ramp protocol. Negative warmup/cooldown minutes select the
// defaults; zero means the phase is skipped.
func NewRamp(cfg RampConfig) *RampProtocol {
	cfg = cfg.withDefaults()
	return &RampProtocol{
		cfg:      cfg,
		warmup:   time.Duration(cfg.WarmupMin) * time.Minute,
		cooldown: time.Duration(cfg.CooldownMin) * time.Minute,
	}
}

// DefaultRampConfig returns the standard ramp parameters
func DefaultRampConfig() RampConfig {
	return RampConfig{
		StartPower:     DefaultRampStartPower,
		StepIncrement:  DefaultRampStepIncrement,
		WarmupMin:      DefaultRampWarmupMin,
		CooldownMin:    DefaultRampCooldownMin,
		EstimatedSteps: DefaultRampEstimatedSteps,
		MaxSteps:       DefaultRampMaxSteps,
	}
}

func (r *RampProtocol) Type() Type { return Ramp }

func (r *RampProtocol) Name() string { return "Ramp Test" }

func (r *RampProtocol) Config() RampConfig { return r.cfg }

func (r *RampProtocol) FixedDuration() bool { return false }

// TotalDuration is the nominal length using the estimated step count
func (r *RampProtocol) TotalDuration() time.Duration {
	return r.warmup + time.Duration(r.cfg.EstimatedSteps)*RampStepDuration + r.cooldown
}

func (r *RampProtocol) Intervals() []Interval {
	out := make([]Interval, 0, r.cfg.EstimatedSteps+2)
	if r.warmup > 0 {
		out = append(out, r.warmupInterval())
	}
	for step := 1; step <= r.cfg.EstimatedSteps; step++ {
		out = append(out, r.stepInterval(step))
	}
	if r.cooldown > 0 {
		out = append(out, r.cooldownInterval())
	}
	return out
}

// StepTarget is the power asked for on a 1-based step
func (r *RampProtocol) StepTarget(step int) int {
	return r.cfg.StartPower + (step-1)*r.cfg.StepIncrement
}

func (r *RampProtocol) warmupInterval() Interval {
	return Interval{Name: "Warmup", Phase: PhaseWarmup, Duration: r.warmup, Target: PercentFTP(rampWarmupPercent)}
}

func (r *RampProtocol) cooldownInterval() Interval {
	return Interval{Name: "Cooldown", Phase: PhaseCooldown, Duration: r.cooldown, Target: PercentFTP(rampCooldownPercent)}
}

func (r *RampProtocol) stepInterval(step int) Interval {
	return Interval{
		Name:     fmt.Sprintf("Step %d", step),
		Phase:    PhaseTesting,
		Duration: RampStepDuration,
		Target:   Watts(r.StepTarget(step)),
		Ramp: &RampSpec{
			StartPower:    r.cfg.StartPower,
			StepIncrement: r.cfg.StepIncrement,
			StepDuration:  RampStepDuration,
		},
	}
}

func (r *RampProtocol) Position(elapsed time.Duration) Position {
	if elapsed < 0 {
		elapsed = 0
	}
	rampPos := func(step int) *RampPosition {
		return &RampPosition{Step: step, EstimatedSteps: r.cfg.EstimatedSteps}
	}

	if r.failed {
		return Position{
			Phase:    PhaseComplete,
			Interval: r.stepInterval(r.failedStep),
			Index:    r.failedStep,
			Elapsed:  elapsed,
			Ramp:     rampPos(r.failedStep),
		}
	}

	if elapsed < r.warmup {
		return Position{
			Phase:           PhaseWarmup,
			Interval:        r.warmupInterval(),
			Index:           0,
			Elapsed:         elapsed,
			IntervalElapsed: elapsed,
			Remaining:       r.warmup - elapsed,
			Ramp:            rampPos(0),
		}
	}

	stepsEnd := r.warmup + time.Duration(r.cfg.MaxSteps)*RampStepDuration
	if elapsed < stepsEnd {
		into := elapsed - r.warmup
		step := int(into/RampStepDuration) + 1
		stepElapsed := into % RampStepDuration
		return Position{
			Phase:           PhaseTesting,
			Interval:        r.stepInterval(step),
			Index:           step,
			Elapsed:         elapsed,
			IntervalElapsed: stepElapsed,
			Remaining:       RampStepDuration - stepElapsed,
			Ramp:            rampPos(step),
		}
	}

	if elapsed < stepsEnd+r.cooldown {
		return Position{
			Phase:           PhaseCooldown,
			Interval:        r.cooldownInterval(),
			Index:           r.cfg.MaxSteps + 1,
			Elapsed:         elapsed,
			IntervalElapsed: elapsed - stepsEnd,
			Remaining:       stepsEnd + r.cooldown - elapsed,
			Ramp:            rampPos(r.cfg.MaxSteps),
		}
	}

	return Position{
		Phase:    PhaseComplete,
		Interval: r.cooldownInterval(),
		Index:    r.cfg.MaxSteps + 1,
		Elapsed:  elapsed,
		Ramp:     rampPos(r.cfg.MaxSteps),
	}
}

func (r *RampProtocol) TargetPower(elapsed time.Duration, ftpWatts int) (int, bool) {
	pos := r.Position(elapsed)
	switch pos.Phase {
	case PhaseComplete:
		return 0, false
	case PhaseWarmup, PhaseCooldown:
		if ftpWatts <= 0 {
			return r.cfg.StartPower, true
		}
	}
	return pos.Interval.Target.Resolve(ftpWatts)
}

func (r *RampProtocol) IsTimeComplete(elapsed time.Duration) bool {
	return elapsed >= r.warmup+time.Duration(r.cfg.MaxSteps)*RampStepDuration+r.cooldown
}

// ShouldEndTest counts consecutive samples under RampFailureRatio of the step
// target; any sample at or above it resets the count. The failing step is derived
// from the target so the count needs no clock.
func (r *RampProtocol) ShouldEndTest(currentPower, targetPower int) bool {
	if r.failed {
		return true
	}
	if targetPower <= 0 {
		return false
	}
	if float64(currentPower) < RampFailureRatio*float64(targetPower) {
		r.belowCount++
	} else {
		r.belowCount = 0
	}
	if r.belowCount >= RampFailureSamples {
		r.failed = true
		r.failedStep = r.stepForTarget(targetPower)
		return true
	}
	return false
}

func (r *RampProtocol) stepForTarget(target int) int {
	step := (target-r.cfg.StartPower)/r.cfg.StepIncrement + 1
	if step < 1 {
		step = 1
	}
	return step
}

// Failed reports whether the rider dropped off the ramp
func (r *RampProtocol) Failed() bool { return r.failed }

func (r *RampProtocol) Progress(elapsed time.Duration) float64 {
	pos := r.Position(elapsed)
	if pos.Ramp == nil || r.cfg.EstimatedSteps <= 0 {
		return 0
	}
	return clampPercent(float64(pos.Ramp.Step) * 100 / float64(r.cfg.EstimatedSteps))
}

// Statistic is the best one-minute power of the whole test
func (r *RampProtocol) Statistic(s Session) (int, bool) {
	if !s.HasMaxOneMinute {
		return 0, false
	}
	return s.MaxOneMinutePower, true
}

// Package protocol defines the test schedules: which phase and interval a given
// elapsed time falls in, what power is targeted, and when a test is over.
package protocol

import (
	"fmt"
	"strings"
	"time"

	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
)

// Type identifies a protocol variant
type Type int

const (
	Ramp Type = iota
	TwentyMinute
	EightMinute
)

var typeNames = map[Type]string{
	Ramp:         "RAMP",
	TwentyMinute: "TWENTY_MINUTE",
	EightMinute:  "EIGHT_MINUTE",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Kind maps the protocol onto its FTP coefficient row
func (t Type) Kind() ftp.TestKind {
	switch t {
	case TwentyMinute:
		return ftp.KindTwentyMinute
	case EightMinute:
		return ftp.KindEightMinute
	default:
		return ftp.KindRamp
	}
}

// ParseType accepts the names returned by String plus a few short aliases
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "RAMP":
		return Ramp, nil
	case "TWENTY_MINUTE", "20MIN", "20":
		return TwentyMinute, nil
	case "EIGHT_MINUTE", "8MIN", "8":
		return EightMinute, nil
	}
	return Ramp, fmt.Errorf("unknown protocol %q", s)
}

// Phase is the coarse stage of a test
type Phase int

const (
	PhaseWarmup Phase = iota
	PhaseBlowout
	PhaseRecovery
	PhaseTesting
	PhaseCooldown
	PhaseComplete
)

var phaseNames = map[Phase]string{
	PhaseWarmup:   "WARMUP",
	PhaseBlowout:  "BLOWOUT",
	PhaseRecovery: "RECOVERY",
	PhaseTesting:  "TESTING",
	PhaseCooldown: "COOLDOWN",
	PhaseComplete: "COMPLETE",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// TargetKind says how a TargetSpec value is interpreted
type TargetKind int

const (
	TargetMaxEffort TargetKind = iota
	TargetPercentFTP
	TargetWatts
)

// TargetSpec is the power an interval asks for
type TargetSpec struct {
	Kind  TargetKind
	Value float64 // percent of FTP or watts; unused for max effort
}

func PercentFTP(pct float64) TargetSpec { return TargetSpec{Kind: TargetPercentFTP, Value: pct} }

func Watts(w int) TargetSpec { return TargetSpec{Kind: TargetWatts, Value: float64(w)} }

func MaxEffort() TargetSpec { return TargetSpec{Kind: TargetMaxEffort} }

// Resolve returns the target in watts. ok is false for max effort.
func (t TargetSpec) Resolve(ftpWatts int) (int, bool) {
	switch t.Kind {
	case TargetPercentFTP:
		return int(t.Value * float64(ftpWatts) / 100), true
	case TargetWatts:
		return int(t.Value), true
	default:
		return 0, false
	}
}

func (t TargetSpec) String() string {
	switch t.Kind {
	case TargetPercentFTP:
		return fmt.Sprintf("%.0f%% FTP", t.Value)
	case TargetWatts:
		return fmt.Sprintf("%.0f W", t.Value)
	default:
		return "max effort"
	}
}

// RampSpec carries the parameters of one ramp step interval
type RampSpec struct {
	StartPower    int
	StepIncrement int
	StepDuration  time.Duration
}

// Interval is one immutable segment of a schedule
type Interval struct {
	Name     string
	Phase    Phase
	Duration time.Duration
	Target   TargetSpec
	Ramp     *RampSpec
}

// RampPosition is the ramp-only part of a Position
type RampPosition struct {
	Step           int // 1-based; 0 before the first step
	EstimatedSteps int
}

// Position is where a test stands at some elapsed time
type Position struct {
	Phase           Phase
	Interval        Interval
	Index           int
	Elapsed         time.Duration
	IntervalElapsed time.Duration
	Remaining       time.Duration // left in the current interval
	Ramp            *RampPosition
}

// IsLastInterval reports whether no interval follows the current one
func (p Position) IsLastInterval(intervals int) bool {
	return p.Index >= intervals-1
}

// Protocol is a test schedule. Implementations keep per-test counters and are
// not safe for concurrent use; the engine serializes all calls.
type Protocol interface {
	Type() Type
	Name() string
	// Intervals is the nominal schedule; for Ramp it uses the estimated step count.
	Intervals() []Interval
	// FixedDuration is false when the end is decided by the rider, not the clock.
	FixedDuration() bool
	TotalDuration() time.Duration
	Position(elapsed time.Duration) Position
	// TargetPower returns false for max-effort intervals and after completion.
	TargetPower(elapsed time.Duration, ftpWatts int) (int, bool)
	IsTimeComplete(elapsed time.Duration) bool
	// ShouldEndTest is fed every power sample taken during a testing phase.
	ShouldEndTest(currentPower, targetPower int) bool
	// Progress is the completion percentage in [0,100].
	Progress(elapsed time.Duration) float64
	// Statistic is the value the FTP coefficient multiplies.
	Statistic(s Session) (int, bool)
}

// Options configures protocol construction
type Options struct {
	FTP            int
	StartPower     int
	StepIncrement  int
	WarmupMin      int
	CooldownMin    int
	EstimatedSteps int
	MaxSteps       int
}

// New builds a fresh protocol instance for one test
func New(t Type, opts Options) (Protocol, error) {
	switch t {
	case Ramp:
		return NewRamp(RampConfig{
			StartPower:     opts.StartPower,
			StepIncrement:  opts.StepIncrement,
			WarmupMin:      opts.WarmupMin,
			CooldownMin:    opts.CooldownMin,
			EstimatedSteps: opts.EstimatedSteps,
			MaxSteps:       opts.MaxSteps,
		}), nil
	case TwentyMinute:
		return NewTwentyMinute(opts.FTP), nil
	case EightMinute:
		return NewEightMinute(opts.FTP), nil
	}
	return nil, fmt.Errorf("unsupported protocol %v", t)
}

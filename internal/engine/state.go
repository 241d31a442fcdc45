package engine

import (
	"math"
	"time"

	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
	"github.com/lowaak/smart-trainer/ftp-test/internal/protocol"
)

// State is the engine's observable state. Exactly one variant is current:
// Idle, Running, Paused, Completed or Failed.
type State interface {
	Name() string
	isState()
}

// Idle means no test is active and no result is on display
type Idle struct{}

// Running is a snapshot of an active test. It holds only plain values; zone,
// deviation and progress are computed by its methods.
type Running struct {
	Protocol           protocol.Type
	ProtocolName       string
	Phase              protocol.Phase
	IntervalName       string
	IntervalIndex      int
	IntervalCount      int
	IntervalDuration   time.Duration
	Remaining          time.Duration
	Elapsed            time.Duration
	TotalDuration      time.Duration
	FixedDuration      bool
	RampStep           int
	RampEstimatedSteps int

	CurrentPower      int
	TargetPower       int
	HasTarget         bool
	HeartRate         int
	Cadence           int
	MaxOneMinutePower int
	SampleCount       int

	FTP              int
	MaxHR            int
	TolerancePercent float64
}

// Paused carries the last running snapshot, frozen at the pause
type Paused struct {
	Running
	PausedAt time.Time
}

// Completed holds the final result until it is dismissed
type Completed struct {
	Result ftp.TestResult
}

// Failed ends a test without a full result. PartialResult is set when enough of
// the test ran to be meaningful.
type Failed struct {
	Reason        FailureReason
	Message       string
	PartialResult *ftp.TestResult
}

func (Idle) Name() string      { return "IDLE" }
func (Running) Name() string   { return "RUNNING" }
func (Paused) Name() string    { return "PAUSED" }
func (Completed) Name() string { return "COMPLETED" }
func (Failed) Name() string    { return "FAILED" }

func (Idle) isState()      {}
func (Running) isState()   {}
func (Paused) isState()    {}
func (Completed) isState() {}
func (Failed) isState()    {}

// FailureReason says why a test ended in Failed
type FailureReason string

const (
	ReasonUserStopped  FailureReason = "USER_STOPPED"
	ReasonPowerDropout FailureReason = "POWER_DROPOUT"
	ReasonRideEnded    FailureReason = "RIDE_ENDED"
	ReasonSystemError  FailureReason = "SYSTEM_ERROR"
	ReasonError        FailureReason = "ERROR"
)

// IsActive reports whether s is a test in progress
func IsActive(s State) bool {
	switch s.(type) {
	case Running, Paused:
		return true
	}
	return false
}

// Zone classifies the current power against FTP
func (r Running) Zone() ftp.Zone {
	return ftp.ClassifyPower(r.CurrentPower, r.FTP)
}

// HeartRateZone classifies the current heart rate against max HR
func (r Running) HeartRateZone() ftp.HeartRateZone {
	return ftp.ClassifyHeartRate(r.HeartRate, r.MaxHR)
}

// Deviation is current minus target power; false during max efforts
func (r Running) Deviation() (int, bool) {
	if !r.HasTarget {
		return 0, false
	}
	return r.CurrentPower - r.TargetPower, true
}

// DeviationPercent is the deviation relative to the target
func (r Running) DeviationPercent() (float64, bool) {
	dev, ok := r.Deviation()
	if !ok || r.TargetPower <= 0 {
		return 0, false
	}
	return float64(dev) * 100 / float64(r.TargetPower), true
}

// IsInTargetZone reports |deviation| <= tolerance% of target. Max efforts are
// always in zone.
func (r Running) IsInTargetZone() bool {
	dev, ok := r.Deviation()
	if !ok {
		return true
	}
	return math.Abs(float64(dev)) <= r.TolerancePercent/100*float64(r.TargetPower)
}

// Progress is the completion percentage in [0,100]
func (r Running) Progress() float64 {
	var p float64
	if r.FixedDuration {
		if r.TotalDuration <= 0 {
			return 100
		}
		p = float64(r.Elapsed) * 100 / float64(r.TotalDuration)
	} else {
		if r.RampEstimatedSteps <= 0 {
			return 0
		}
		p = float64(r.RampStep) * 100 / float64(r.RampEstimatedSteps)
	}
	return math.Max(0, math.Min(100, p))
}

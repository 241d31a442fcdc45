// Package telemetry delivers live power, heart-rate and cadence readings plus the
// ride-recording state from whichever source is configured.
package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotConnected is returned when a source has no live sensor link
var ErrNotConnected = errors.New("telemetry source not connected")

// Metric identifies a telemetry stream
type Metric int

const (
	MetricPower Metric = iota
	MetricHeartRate
	MetricCadence
)

// AllMetrics lists every stream a source may carry
var AllMetrics = []Metric{MetricPower, MetricHeartRate, MetricCadence}

var metricNames = map[Metric]string{
	MetricPower:     "power",
	MetricHeartRate: "heart_rate",
	MetricCadence:   "cadence",
}

func (m Metric) String() string {
	if name, ok := metricNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Metric(%d)", int(m))
}

// Sample is one reading: watts, bpm or rpm depending on Metric
type Sample struct {
	Metric    Metric
	Value     int
	Timestamp time.Time
}

// Source is a live telemetry feed. Callbacks may run on any goroutine and must
// return quickly. Deliveries racing with unsubscribe may still arrive.
type Source interface {
	IsConnected() bool
	Subscribe(metric Metric, fn func(Sample)) (unsubscribe func())
}

// RideState is the recording state of the ride the test is part of
type RideState int

const (
	RideIdle RideState = iota
	RidePaused
	RideRecording
)

var rideStateNames = map[RideState]string{
	RideIdle:      "IDLE",
	RidePaused:    "PAUSED",
	RideRecording: "RECORDING",
}

func (r RideState) String() string {
	if name, ok := rideStateNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RideState(%d)", int(r))
}

// ParseRideState accepts the names returned by String, case-insensitively
func ParseRideState(s string) (RideState, error) {
	for r, name := range rideStateNames {
		if strings.EqualFold(s, name) {
			return r, nil
		}
	}
	return RideIdle, fmt.Errorf("unknown ride state %q", s)
}

// RideStateSource delivers recording-state transitions. A new subscriber is
// called right away with the current state when one is known.
type RideStateSource interface {
	SubscribeRideState(fn func(RideState)) (unsubscribe func())
}

// Profile is the rider data a profile source may push
type Profile struct {
	FTP      int     `json:"ftp"`
	MaxHR    int     `json:"max_hr"`
	WeightKg float64 `json:"weight_kg"`
}

// ProfileSource delivers rider profile updates
type ProfileSource interface {
	SubscribeProfile(fn func(Profile)) (unsubscribe func())
}

package engine

import (
	"time"

	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
	"github.com/lowaak/smart-trainer/ftp-test/internal/protocol"
)

// Default values
const (
	DefaultFTP   = 220
	DefaultMaxHR = 185

	DefaultTolerancePercent   = 5.0
	DefaultMaxSamples         = 4000
	DefaultWindowSize         = 60
	DefaultTickInterval       = time.Second
	DefaultMinPartialDuration = 60 * time.Second
)

// Config holds the engine tunables
type Config struct {
	TolerancePercent    float64
	MaxSamples          int
	MaxHeartRateSamples int
	WindowSize          int
	TickInterval        time.Duration
	MinPartialDuration  time.Duration
	CalcMethod          ftp.CalcMethod
	MotivationAlerts    bool
	Ramp                protocol.RampConfig
}

// DefaultConfig returns the standard engine configuration
func DefaultConfig() Config {
	return Config{
		TolerancePercent:    DefaultTolerancePercent,
		MaxSamples:          DefaultMaxSamples,
		MaxHeartRateSamples: DefaultMaxSamples,
		WindowSize:          DefaultWindowSize,
		TickInterval:        DefaultTickInterval,
		MinPartialDuration:  DefaultMinPartialDuration,
		CalcMethod:          ftp.Standard,
		MotivationAlerts:    true,
		Ramp:                protocol.DefaultRampConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TolerancePercent <= 0 {
		c.TolerancePercent = d.TolerancePercent
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = d.MaxSamples
	}
	if c.MaxHeartRateSamples <= 0 {
		c.MaxHeartRateSamples = c.MaxSamples
	}
	if c.WindowSize <= 0 {
		c.WindowSize = d.WindowSize
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.MinPartialDuration <= 0 {
		c.MinPartialDuration = d.MinPartialDuration
	}
	if c.Ramp == (protocol.RampConfig{}) {
		c.Ramp = d.Ramp
	}
	return c
}

package ftp

import "time"

// ErrorFormula marks a degraded result produced after a computation failure
const ErrorFormula = "error"

// TestResult is the immutable outcome of a test. Optional analytics are pointers so
// that "not computable" survives serialization.
type TestResult struct {
	ID                string        `json:"id"`
	Protocol          string        `json:"protocol"`
	FTP               int           `json:"ftp"`
	PreviousFTP       int           `json:"previous_ftp"`
	Duration          time.Duration `json:"duration_ns"`
	MaxPower          int           `json:"max_power"`
	AvgPower          int           `json:"avg_power"`
	MaxOneMinutePower int           `json:"max_one_minute_power"`
	NormalizedPower   *int          `json:"normalized_power,omitempty"`
	VariabilityIndex  *float64      `json:"variability_index,omitempty"`
	EfficiencyFactor  *float64      `json:"efficiency_factor,omitempty"`
	AvgHeartRate      int           `json:"avg_heart_rate,omitempty"`
	MaxHeartRate      int           `json:"max_heart_rate,omitempty"`
	WattsPerKg        *float64      `json:"watts_per_kg,omitempty"`
	MaxRampStep       int           `json:"max_ramp_step,omitempty"`
	Formula           string        `json:"formula"`
	Method            string        `json:"calc_method"`
	Partial           bool          `json:"partial"`
	Saved             bool          `json:"saved"`
	CompletedAt       time.Time     `json:"completed_at"`
}

// FTPChange is the difference from the FTP in effect before the test
func (r TestResult) FTPChange() int {
	return r.FTP - r.PreviousFTP
}

// IsDegraded reports whether the result came from the error fallback
func (r TestResult) IsDegraded() bool {
	return r.Formula == ErrorFormula
}

// WithSaved returns a copy of r marked as persisted
func (r TestResult) WithSaved() TestResult {
	r.Saved = true
	return r
}

// Degraded builds the minimal zeroed result used when assembling the real one failed
func Degraded(id, protocol string, previousFTP int, duration time.Duration, at time.Time) TestResult {
	return TestResult{
		ID:          id,
		Protocol:    protocol,
		PreviousFTP: previousFTP,
		Duration:    duration,
		Formula:     ErrorFormula,
		CompletedAt: at,
	}
}

// IntPtr and FloatPtr help build optional fields
func IntPtr(v int) *int { return &v }

func FloatPtr(v float64) *float64 { return &v }

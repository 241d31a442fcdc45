package protocol

import "time"

// Sample is one recorded power reading tagged with where in the schedule it fell
type Sample struct {
	Power         int
	Elapsed       time.Duration
	IntervalIndex int
	Phase         Phase
}

// Session is everything a test accumulated, handed to result assembly
type Session struct {
	Samples           []Sample
	HeartRates        []int
	MaxOneMinutePower int
	HasMaxOneMinute   bool
	Duration          time.Duration
	WeightKg          float64
}

// Powers returns every recorded power value in order
func (s Session) Powers() []int {
	out := make([]int, len(s.Samples))
	for i, sm := range s.Samples {
		out[i] = sm.Power
	}
	return out
}

// PowersInPhase returns the power values recorded during phase
func (s Session) PowersInPhase(phase Phase) []int {
	var out []int
	for _, sm := range s.Samples {
		if sm.Phase == phase {
			out = append(out, sm.Power)
		}
	}
	return out
}

// PowersInInterval returns the power values recorded during the interval at index
func (s Session) PowersInInterval(index int) []int {
	var out []int
	for _, sm := range s.Samples {
		if sm.IntervalIndex == index {
			out = append(out, sm.Power)
		}
	}
	return out
}

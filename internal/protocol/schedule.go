package protocol

import "time"

// schedule is a fixed list of intervals played back to back. It backs the
// fixed-duration protocols.
type schedule struct {
	intervals []Interval
	total     time.Duration
	ftp       int
}

func newSchedule(ftpWatts int, intervals []Interval) schedule {
	var total time.Duration
	for _, iv := range intervals {
		total += iv.Duration
	}
	return schedule{intervals: intervals, total: total, ftp: ftpWatts}
}

func (s *schedule) Intervals() []Interval {
	out := make([]Interval, len(s.intervals))
	copy(out, s.intervals)
	return out
}

func (s *schedule) FixedDuration() bool { return true }

func (s *schedule) TotalDuration() time.Duration { return s.total }

func (s *schedule) Position(elapsed time.Duration) Position {
	if elapsed < 0 {
		elapsed = 0
	}
	var start time.Duration
	for i, iv := range s.intervals {
		end := start + iv.Duration
		if elapsed < end {
			return Position{
				Phase:           iv.Phase,
				Interval:        iv,
				Index:           i,
				Elapsed:         elapsed,
				IntervalElapsed: elapsed - start,
				Remaining:       end - elapsed,
			}
		}
		start = end
	}

	last := len(s.intervals) - 1
	return Position{
		Phase:           PhaseComplete,
		Interval:        s.intervals[last],
		Index:           last,
		Elapsed:         elapsed,
		IntervalElapsed: s.intervals[last].Duration,
	}
}

func (s *schedule) TargetPower(elapsed time.Duration, ftpWatts int) (int, bool) {
	if ftpWatts <= 0 {
		ftpWatts = s.ftp
	}
	pos := s.Position(elapsed)
	if pos.Phase == PhaseComplete {
		return 0, false
	}
	return pos.Interval.Target.Resolve(ftpWatts)
}

func (s *schedule) IsTimeComplete(elapsed time.Duration) bool {
	return elapsed >= s.total
}

func (s *schedule) ShouldEndTest(int, int) bool { return false }

func (s *schedule) Progress(elapsed time.Duration) float64 {
	if s.total <= 0 {
		return 100
	}
	return clampPercent(float64(elapsed) * 100 / float64(s.total))
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

package protocol

import (
	"time"

	"github.com/lowaak/smart-trainer/ftp-test/internal/analytics"
)

// EightMinuteProtocol runs two 8 minute efforts separated by a recovery
type EightMinuteProtocol struct {
	schedule
}

var _ Protocol = (*EightMinuteProtocol)(nil)

const (
	eightMinFirstEffort  = 1
	eightMinSecondEffort = 3
)

func NewEightMinute(ftpWatts int) *EightMinuteProtocol {
	return &EightMinuteProtocol{schedule: newSchedule(ftpWatts, []Interval{
		{Name: "Warmup", Phase: PhaseWarmup, Duration: 10 * time.Minute, Target: PercentFTP(55)},
		{Name: "Effort 1", Phase: PhaseTesting, Duration: 8 * time.Minute, Target: MaxEffort()},
		{Name: "Recovery", Phase: PhaseRecovery, Duration: 10 * time.Minute, Target: PercentFTP(50)},
		{Name: "Effort 2", Phase: PhaseTesting, Duration: 8 * time.Minute, Target: MaxEffort()},
		{Name: "Cooldown", Phase: PhaseCooldown, Duration: 10 * time.Minute, Target: PercentFTP(40)},
	})}
}

func (p *EightMinuteProtocol) Type() Type { return EightMinute }

func (p *EightMinuteProtocol) Name() string { return "8 Minute FTP Test" }

// Statistic averages the two efforts. If only one effort has data (the test was
// stopped early) that effort alone is used.
func (p *EightMinuteProtocol) Statistic(s Session) (int, bool) {
	first, ok1 := analytics.AverageFloat(s.PowersInInterval(eightMinFirstEffort))
	second, ok2 := analytics.AverageFloat(s.PowersInInterval(eightMinSecondEffort))
	switch {
	case ok1 && ok2:
		return int((first + second) / 2), true
	case ok1:
		return int(first), true
	case ok2:
		return int(second), true
	}
	return 0, false
}

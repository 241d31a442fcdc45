package protocol

import (
	"time"

	"github.com/lowaak/smart-trainer/ftp-test/internal/analytics"
)

// TwentyMinuteProtocol is the classic 20 minute test preceded by a 5 minute
// blow-out effort
type TwentyMinuteProtocol struct {
	schedule
}

var _ Protocol = (*TwentyMinuteProtocol)(nil)

func NewTwentyMinute(ftpWatts int) *TwentyMinuteProtocol {
	return &TwentyMinuteProtocol{schedule: newSchedule(ftpWatts, []Interval{
		{Name: "Warmup", Phase: PhaseWarmup, Duration: 5 * time.Minute, Target: PercentFTP(55)},
		{Name: "Blowout", Phase: PhaseBlowout, Duration: 5 * time.Minute, Target: MaxEffort()},
		{Name: "Recovery", Phase: PhaseRecovery, Duration: 10 * time.Minute, Target: PercentFTP(50)},
		{Name: "20 Min Test", Phase: PhaseTesting, Duration: 20 * time.Minute, Target: MaxEffort()},
		{Name: "Cooldown", Phase: PhaseCooldown, Duration: 10 * time.Minute, Target: PercentFTP(40)},
	})}
}

func (p *TwentyMinuteProtocol) Type() Type { return TwentyMinute }

func (p *TwentyMinuteProtocol) Name() string { return "20 Minute FTP Test" }

// Statistic is the average power over the testing interval
func (p *TwentyMinuteProtocol) Statistic(s Session) (int, bool) {
	return analytics.Average(s.PowersInPhase(PhaseTesting))
}

// Package alert turns the stream of running-test snapshots into edge-triggered
// rider notifications.
package alert

import (
	"fmt"
	"log"
	"time"

	"github.com/lowaak/smart-trainer/ftp-test/internal/protocol"
)

// ID names an alert condition. Sinks use it to de-duplicate.
type ID string

const (
	IDPhaseChange        ID = "phase_change"
	IDHalfway            ID = "halfway"
	IDFinal30            ID = "final_30"
	IDGetReady           ID = "get_ready"
	IDLowPower           ID = "low_power"
	IDLowCadence         ID = "low_cadence"
	IDLowCadenceCritical ID = "low_cadence_critical"
	IDSensorDropout      ID = "sensor_dropout"
)

const (
	LowPowerRatio        = 0.85
	LowPowerEvery        = 10 // samples
	LowCadenceWarning    = 70 // rpm
	LowCadenceCritical   = 60 // rpm
	LowCadenceDebounce   = 5  // samples
	SensorDropoutTimeout = 5000 * time.Millisecond
	Final30Threshold     = 30 * time.Second
	GetReadyThreshold    = 10 * time.Second

	defaultAutoDismiss = 5 * time.Second
)

// Command is one notification for the rider
type Command struct {
	ID          ID            `json:"id"`
	Title       string        `json:"title"`
	Detail      string        `json:"detail,omitempty"`
	PlaySound   bool          `json:"play_sound"`
	WakeScreen  bool          `json:"wake_screen"`
	AutoDismiss time.Duration `json:"auto_dismiss_ns,omitempty"` // 0 means sticky
}

// Trigger says what caused an evaluation. Sample-count conditions only advance
// on power samples so a tick cannot double count.
type Trigger int

const (
	TriggerSample Trigger = iota
	TriggerTick
)

// Snapshot is the slice of a running test the alert conditions look at
type Snapshot struct {
	Phase            protocol.Phase
	IntervalIndex    int
	IntervalName     string
	IntervalDuration time.Duration
	IntervalElapsed  time.Duration
	Remaining        time.Duration
	IsLastInterval   bool
	RampStep         bool // the interval is a variable-length ramp step
	VariableDuration bool // the protocol end is not fixed

	CurrentPower   int
	TargetPower    int
	HasTarget      bool
	Cadence        int
	SinceLastPower time.Duration
}

// edgeState is everything a new test clears
type edgeState struct {
	started       bool
	lastPhase     protocol.Phase
	lastInterval  int
	halfwayFired  bool
	final30Fired  bool
	getReadyFired bool

	lowPowerCount   int
	lowCadenceCount int
	cadenceWarned   bool
	cadenceCritical bool
	dropoutFired    bool
}

// Manager holds per-condition edge state. Evaluate, Reset and SetMotivationAlerts
// are not safe for concurrent use; the engine serializes them under its own lock.
// Dispatch only reads the sink and logger, which never change after NewManager,
// so it may run on another goroutine.
type Manager struct {
	sink             Sink
	logger           *log.Logger
	motivationAlerts bool

	edges edgeState
}

// NewManager creates a Manager that dispatches to sink
func NewManager(sink Sink, logger *log.Logger, motivationAlerts bool) *Manager {
	if sink == nil {
		panic("AlertManager: sink cannot be nil")
	}
	if logger == nil {
		panic("AlertManager: logger cannot be nil")
	}
	return &Manager{sink: sink, logger: logger, motivationAlerts: motivationAlerts}
}

// SetMotivationAlerts toggles the halfway alert
func (m *Manager) SetMotivationAlerts(enabled bool) {
	m.motivationAlerts = enabled
}

// Reset clears all condition state for a new test
func (m *Manager) Reset() {
	m.edges = edgeState{}
}

func (m *Manager) resetIntervalScoped() {
	m.edges.halfwayFired = false
	m.edges.final30Fired = false
	m.edges.getReadyFired = false
	m.edges.lowPowerCount = 0
	m.edges.lowCadenceCount = 0
	m.edges.cadenceWarned = false
	m.edges.cadenceCritical = false
}

// Evaluate checks every condition against s and returns the alerts whose edge was
// crossed. It does no I/O; hand the result to Dispatch outside any lock.
func (m *Manager) Evaluate(s Snapshot, trigger Trigger) []Command {
	var out []Command

	if !m.edges.started || s.Phase != m.edges.lastPhase {
		out = append(out, phaseChangeCommand(s))
		m.resetIntervalScoped()
	} else if s.IntervalIndex != m.edges.lastInterval {
		m.resetIntervalScoped()
	}
	m.edges.started = true
	m.edges.lastPhase = s.Phase
	m.edges.lastInterval = s.IntervalIndex

	if s.Phase == protocol.PhaseComplete {
		return out
	}

	if cmd, ok := m.checkHalfway(s); ok {
		out = append(out, cmd)
	}
	if cmd, ok := m.checkFinal30(s); ok {
		out = append(out, cmd)
	}
	if cmd, ok := m.checkGetReady(s); ok {
		out = append(out, cmd)
	}
	if trigger == TriggerSample {
		if cmd, ok := m.checkLowPower(s); ok {
			out = append(out, cmd)
		}
		if cmd, ok := m.checkCadence(s); ok {
			out = append(out, cmd)
		}
	}
	if cmd, ok := m.checkDropout(s); ok {
		out = append(out, cmd)
	}
	return out
}

// Dispatch sends cmds to the sink in order
func (m *Manager) Dispatch(cmds []Command) {
	for _, cmd := range cmds {
		m.logger.Printf("AlertManager: %s (%s)", cmd.ID, cmd.Title)
		m.sink.Send(cmd)
	}
}

func phaseChangeCommand(s Snapshot) Command {
	title := fmt.Sprintf("%s: %s", phaseTitle(s.Phase), s.IntervalName)
	if s.Phase == protocol.PhaseComplete {
		title = "Test complete"
	}
	return Command{
		ID:          IDPhaseChange,
		Title:       title,
		Detail:      targetDetail(s),
		PlaySound:   true,
		WakeScreen:  true,
		AutoDismiss: defaultAutoDismiss,
	}
}

func (m *Manager) checkHalfway(s Snapshot) (Command, bool) {
	if !m.motivationAlerts || m.edges.halfwayFired || s.RampStep || s.IntervalDuration <= 0 {
		return Command{}, false
	}
	if s.IntervalElapsed*2 < s.IntervalDuration || s.Remaining <= 0 {
		return Command{}, false
	}
	m.edges.halfwayFired = true
	return Command{
		ID:          IDHalfway,
		Title:       "Halfway there",
		Detail:      fmt.Sprintf("%s remaining in %s", formatDuration(s.Remaining), s.IntervalName),
		AutoDismiss: defaultAutoDismiss,
	}, true
}

func (m *Manager) checkFinal30(s Snapshot) (Command, bool) {
	if m.edges.final30Fired || s.RampStep || s.IntervalDuration <= Final30Threshold {
		return Command{}, false
	}
	if s.Remaining > Final30Threshold || s.Remaining <= 0 {
		return Command{}, false
	}
	m.edges.final30Fired = true
	return Command{
		ID:          IDFinal30,
		Title:       "Final 30 seconds",
		Detail:      s.IntervalName,
		PlaySound:   true,
		WakeScreen:  true,
		AutoDismiss: defaultAutoDismiss,
	}, true
}

func (m *Manager) checkGetReady(s Snapshot) (Command, bool) {
	if m.edges.getReadyFired || s.VariableDuration || s.IsLastInterval {
		return Command{}, false
	}
	if s.Remaining > GetReadyThreshold || s.Remaining <= 0 {
		return Command{}, false
	}
	m.edges.getReadyFired = true
	return Command{
		ID:          IDGetReady,
		Title:       "Get ready",
		Detail:      fmt.Sprintf("%s ends in %s", s.IntervalName, formatDuration(s.Remaining)),
		PlaySound:   true,
		WakeScreen:  true,
		AutoDismiss: GetReadyThreshold,
	}, true
}

// checkLowPower counts consecutive samples under LowPowerRatio of the target and
// fires on every LowPowerEvery-th one
func (m *Manager) checkLowPower(s Snapshot) (Command, bool) {
	if !s.HasTarget || s.TargetPower <= 0 {
		m.edges.lowPowerCount = 0
		return Command{}, false
	}
	if float64(s.CurrentPower) >= LowPowerRatio*float64(s.TargetPower) {
		m.edges.lowPowerCount = 0
		return Command{}, false
	}
	m.edges.lowPowerCount++
	if m.edges.lowPowerCount%LowPowerEvery != 0 {
		return Command{}, false
	}
	return Command{
		ID:          IDLowPower,
		Title:       "Power too low",
		Detail:      fmt.Sprintf("%d W of %d W target", s.CurrentPower, s.TargetPower),
		PlaySound:   true,
		AutoDismiss: defaultAutoDismiss,
	}, true
}

// checkCadence ignores a zero cadence: no sensor, or coasting
func (m *Manager) checkCadence(s Snapshot) (Command, bool) {
	if s.Cadence <= 0 {
		return Command{}, false
	}
	if s.Cadence >= LowCadenceWarning {
		m.edges.lowCadenceCount = 0
		m.edges.cadenceWarned = false
		m.edges.cadenceCritical = false
		return Command{}, false
	}

	m.edges.lowCadenceCount++
	if m.edges.lowCadenceCount < LowCadenceDebounce {
		return Command{}, false
	}

	if s.Cadence < LowCadenceCritical && !m.edges.cadenceCritical {
		m.edges.cadenceCritical = true
		m.edges.cadenceWarned = true
		return Command{
			ID:          IDLowCadenceCritical,
			Title:       "Cadence very low",
			Detail:      fmt.Sprintf("%d rpm", s.Cadence),
			PlaySound:   true,
			WakeScreen:  true,
			AutoDismiss: defaultAutoDismiss,
		}, true
	}
	if !m.edges.cadenceWarned {
		m.edges.cadenceWarned = true
		return Command{
			ID:          IDLowCadence,
			Title:       "Cadence low",
			Detail:      fmt.Sprintf("%d rpm", s.Cadence),
			AutoDismiss: defaultAutoDismiss,
		}, true
	}
	return Command{}, false
}

func (m *Manager) checkDropout(s Snapshot) (Command, bool) {
	if s.SinceLastPower <= SensorDropoutTimeout {
		m.edges.dropoutFired = false
		return Command{}, false
	}
	if m.edges.dropoutFired {
		return Command{}, false
	}
	m.edges.dropoutFired = true
	return Command{
		ID:         IDSensorDropout,
		Title:      "Power signal lost",
		Detail:     fmt.Sprintf("No power data for %s", formatDuration(s.SinceLastPower)),
		PlaySound:  true,
		WakeScreen: true,
	}, true
}

func phaseTitle(p protocol.Phase) string {
	switch p {
	case protocol.PhaseWarmup:
		return "Warmup"
	case protocol.PhaseBlowout:
		return "Blowout"
	case protocol.PhaseRecovery:
		return "Recovery"
	case protocol.PhaseTesting:
		return "Test"
	case protocol.PhaseCooldown:
		return "Cooldown"
	}
	return p.String()
}

func targetDetail(s Snapshot) string {
	if s.Phase == protocol.PhaseComplete {
		return ""
	}
	if !s.HasTarget {
		return "Max effort"
	}
	return fmt.Sprintf("Target %d W", s.TargetPower)
}

func formatDuration(d time.Duration) string {
	total := int(d.Round(time.Second).Seconds())
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

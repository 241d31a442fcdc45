package api

import (
	"time"

	"github.com/lowaak/smart-trainer/ftp-test/internal/engine"
	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
)

type runningView struct {
	Protocol         string   `json:"protocol"`
	Phase            string   `json:"phase"`
	Interval         string   `json:"interval"`
	IntervalIndex    int      `json:"interval_index"`
	IntervalCount    int      `json:"interval_count"`
	ElapsedSec       float64  `json:"elapsed_sec"`
	RemainingSec     float64  `json:"remaining_sec"`
	Progress         float64  `json:"progress"`
	RampStep         int      `json:"ramp_step,omitempty"`
	Power            int      `json:"power"`
	TargetPower      *int     `json:"target_power,omitempty"`
	Deviation        *int     `json:"deviation,omitempty"`
	DeviationPercent *float64 `json:"deviation_percent,omitempty"`
	InTargetZone     bool     `json:"in_target_zone"`
	Zone             string   `json:"zone"`
	HeartRate        int      `json:"heart_rate"`
	HeartRateZone    string   `json:"heart_rate_zone,omitempty"`
	Cadence          int      `json:"cadence"`
	MaxOneMinute     int      `json:"max_one_minute_power"`
	FTP              int      `json:"ftp"`
}

type stateResponse struct {
	State    string          `json:"state"`
	Running  *runningView    `json:"running,omitempty"`
	PausedAt *time.Time      `json:"paused_at,omitempty"`
	Result   *ftp.TestResult `json:"result,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Message  string          `json:"message,omitempty"`
}

func newRunningView(r engine.Running) *runningView {
	v := &runningView{
		Protocol:      r.ProtocolName,
		Phase:         r.Phase.String(),
		Interval:      r.IntervalName,
		IntervalIndex: r.IntervalIndex,
		IntervalCount: r.IntervalCount,
		ElapsedSec:    r.Elapsed.Seconds(),
		RemainingSec:  r.Remaining.Seconds(),
		Progress:      r.Progress(),
		RampStep:      r.RampStep,
		Power:         r.CurrentPower,
		InTargetZone:  r.IsInTargetZone(),
		Zone:          r.Zone().Name,
		HeartRate:     r.HeartRate,
		Cadence:       r.Cadence,
		MaxOneMinute:  r.MaxOneMinutePower,
		FTP:           r.FTP,
	}
	if r.HasTarget {
		target := r.TargetPower
		v.TargetPower = &target
	}
	if dev, ok := r.Deviation(); ok {
		v.Deviation = &dev
	}
	if pct, ok := r.DeviationPercent(); ok {
		v.DeviationPercent = &pct
	}
	if r.HeartRate > 0 {
		v.HeartRateZone = r.HeartRateZone().Name
	}
	return v
}

func newStateResponse(s engine.State) stateResponse {
	resp := stateResponse{State: s.Name()}
	switch st := s.(type) {
	case engine.Idle:
	case engine.Running:
		resp.Running = newRunningView(st)
	case engine.Paused:
		resp.Running = newRunningView(st.Running)
		at := st.PausedAt
		resp.PausedAt = &at
	case engine.Completed:
		res := st.Result
		resp.Result = &res
	case engine.Failed:
		resp.Reason = string(st.Reason)
		resp.Message = st.Message
		resp.Result = st.PartialResult
	}
	return resp
}

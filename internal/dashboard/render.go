package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/lowaak/smart-trainer/ftp-test/internal/alert"
	"github.com/lowaak/smart-trainer/ftp-test/internal/engine"
	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
)

const keyHelp = "[yellow]1[white] Ramp  |  [yellow]2[white] 20 min  |  [yellow]3[white] 8 min  |  " +
	"[yellow]Space[white] Stop  |  [yellow]a[white] Apply FTP  |  [yellow]d[white] Dismiss  |  [yellow]Esc[white] Quit"

// formatMMSS formats a duration as MM:SS
func formatMMSS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func progressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	if filled > width {
		filled = width
	}
	return "[green]" + strings.Repeat("█", filled) + "[gray]" + strings.Repeat("░", width-filled) + "[white]"
}

// renderStatus describes the test as a whole
func renderStatus(s engine.State, ftpWatts int) string {
	switch st := s.(type) {
	case engine.Idle:
		text := "\n  [gray]No test running[white]\n\n"
		text += fmt.Sprintf("  [gray]Current FTP:[white] [yellow]%d[white] W\n\n", ftpWatts)
		text += "  Press [yellow]1[white], [yellow]2[white] or [yellow]3[white] to start a test.\n"
		return text
	case engine.Running:
		return renderRunningStatus(st, "")
	case engine.Paused:
		return renderRunningStatus(st.Running, " [gray](PAUSED)[white]")
	case engine.Completed:
		text := "\n  [green]Test complete[white]\n\n"
		text += "  [yellow]a[white] Apply the new FTP  |  [yellow]d[white] Dismiss\n"
		return text
	case engine.Failed:
		text := fmt.Sprintf("\n  [red]Test ended:[white] %s\n", st.Reason)
		if st.Message != "" {
			text += fmt.Sprintf("  [gray]%s[white]\n", st.Message)
		}
		if st.PartialResult == nil {
			text += "\n  [gray]Too short for a partial result.[white]\n"
		}
		return text
	}
	return ""
}

func renderRunningStatus(r engine.Running, suffix string) string {
	text := fmt.Sprintf("\n  [yellow]%s[white]%s\n\n", r.ProtocolName, suffix)
	text += fmt.Sprintf("  [gray]Phase:[white]     %s\n", r.Phase)
	text += fmt.Sprintf("  [gray]Interval:[white]  %s (%d/%d)\n", r.IntervalName, r.IntervalIndex+1, r.IntervalCount)
	if r.FixedDuration {
		text += fmt.Sprintf("  [gray]Remaining:[white] %s\n", formatMMSS(r.Remaining))
	} else {
		text += fmt.Sprintf("  [gray]Step:[white]      %d of ~%d  [gray](%s left)[white]\n", r.RampStep, r.RampEstimatedSteps, formatMMSS(r.Remaining))
	}
	text += fmt.Sprintf("  [gray]Elapsed:[white]   %s\n\n", formatMMSS(r.Elapsed))
	text += fmt.Sprintf("  %s %3.0f%%\n", progressBar(r.Progress(), 30), r.Progress())
	return text
}

// renderPower shows current against target power
func renderPower(s engine.State) string {
	var r engine.Running
	switch st := s.(type) {
	case engine.Running:
		r = st
	case engine.Paused:
		r = st.Running
	default:
		return "\n  [gray]Waiting for a test...[white]"
	}

	zone := r.Zone()
	text := fmt.Sprintf("\n  [blue]⚡[white] Power:     [yellow]%d[white] W  [gray]Z%d %s[white]\n\n", r.CurrentPower, zone.Number, zone.Name)
	if !r.HasTarget {
		text += "  [blue]⚡[white] Target:    [red]MAX EFFORT[white]\n"
		return text
	}

	text += fmt.Sprintf("  [blue]⚡[white] Target:    [yellow]%d[white] W\n", r.TargetPower)
	if dev, ok := r.Deviation(); ok {
		pct, _ := r.DeviationPercent()
		color := "red"
		marker := "✗"
		if r.IsInTargetZone() {
			color = "green"
			marker = "✓"
		}
		text += fmt.Sprintf("  [gray]Deviation:[white] [%s]%+d W (%+.1f%%) %s[white]\n", color, dev, pct, marker)
	}
	return text
}

// renderMetrics shows heart rate, cadence and the best minute so far
func renderMetrics(s engine.State) string {
	var r engine.Running
	switch st := s.(type) {
	case engine.Running:
		r = st
	case engine.Paused:
		r = st.Running
	default:
		return ""
	}

	text := "\n"
	if r.HeartRate > 0 {
		text += fmt.Sprintf("  [red]♥[white] Heart Rate: [yellow]%d[white] bpm  [gray]%s[white]\n\n", r.HeartRate, r.HeartRateZone().Name)
	} else {
		text += "  [red]♥[white] Heart Rate: [gray]--[white]\n\n"
	}
	text += fmt.Sprintf("  [cyan]↻[white] Cadence:    [yellow]%d[white] rpm\n\n", r.Cadence)
	text += fmt.Sprintf("  [blue]⚡[white] Best 1 min: [yellow]%d[white] W\n", r.MaxOneMinutePower)
	return text
}

// renderResult shows a final or partial result
func renderResult(res *ftp.TestResult) string {
	if res == nil {
		return "\n  [gray]No result yet[white]"
	}

	title := "Result"
	if res.Partial {
		title = "Partial result"
	}
	text := fmt.Sprintf("\n  [yellow]%s[white]", title)
	if res.Saved {
		text += " [green](saved)[white]"
	}
	text += "\n\n"

	if res.IsDegraded() {
		text += "  [red]The result could not be computed.[white]\n"
		return text
	}

	text += fmt.Sprintf("  [gray]FTP:[white]        [yellow]%d[white] W  (%+d W)\n", res.FTP, res.FTPChange())
	if res.WattsPerKg != nil {
		text += fmt.Sprintf("  [gray]W/kg:[white]       %.2f\n", *res.WattsPerKg)
	}
	text += fmt.Sprintf("  [gray]Duration:[white]   %s\n", formatMMSS(res.Duration))
	text += fmt.Sprintf("  [gray]Avg / Max:[white]  %d / %d W\n", res.AvgPower, res.MaxPower)
	text += fmt.Sprintf("  [gray]Best 1 min:[white] %d W\n", res.MaxOneMinutePower)
	if res.NormalizedPower != nil {
		text += fmt.Sprintf("  [gray]NP:[white]         %d W\n", *res.NormalizedPower)
	}
	if res.VariabilityIndex != nil {
		text += fmt.Sprintf("  [gray]VI:[white]         %.2f\n", *res.VariabilityIndex)
	}
	if res.EfficiencyFactor != nil {
		text += fmt.Sprintf("  [gray]EF:[white]         %.2f\n", *res.EfficiencyFactor)
	}
	if res.MaxRampStep > 0 {
		text += fmt.Sprintf("  [gray]Ramp step:[white]  %d\n", res.MaxRampStep)
	}
	text += fmt.Sprintf("\n  [gray]%s[white]\n", res.Formula)
	return text
}

func resultOf(s engine.State) *ftp.TestResult {
	switch st := s.(type) {
	case engine.Completed:
		res := st.Result
		return &res
	case engine.Failed:
		return st.PartialResult
	}
	return nil
}

// renderAlert formats one alert as a log line
func renderAlert(cmd alert.Command, at time.Time) string {
	color := "white"
	if cmd.PlaySound {
		color = "yellow"
	}
	line := fmt.Sprintf("[gray]%s[white] [%s]%s[white]", at.Format("15:04:05"), color, cmd.Title)
	if cmd.Detail != "" {
		line += " [gray]" + cmd.Detail + "[white]"
	}
	return line
}

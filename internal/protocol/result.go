package protocol

import (
	"fmt"

	"github.com/lowaak/smart-trainer/ftp-test/internal/analytics"
	"github.com/lowaak/smart-trainer/ftp-test/internal/ftp"
)

// insufficientDataFormula marks results where the protocol statistic could not
// be computed; FTP is then left at zero
const insufficientDataFormula = "insufficient data"

// BuildResult derives the final result of a test from its session. Identity and
// timestamps are left for the caller to fill in.
func BuildResult(p Protocol, s Session, previousFTP int, method ftp.CalcMethod) (ftp.TestResult, error) {
	powers := s.Powers()

	res := ftp.TestResult{
		Protocol:          p.Type().String(),
		PreviousFTP:       previousFTP,
		Duration:          s.Duration,
		MaxPower:          analytics.Max(powers),
		MaxOneMinutePower: s.MaxOneMinutePower,
		Method:            method.String(),
	}

	avgF, hasAvg := analytics.AverageFloat(powers)
	if hasAvg {
		res.AvgPower = int(avgF)
	}

	if np, ok := analytics.NormalizedPower(powers); ok {
		res.NormalizedPower = ftp.IntPtr(np)
		if vi, ok := analytics.VariabilityIndex(np, avgF); ok {
			res.VariabilityIndex = ftp.FloatPtr(vi)
		}
		if hrAvg, ok := analytics.AverageFloat(s.HeartRates); ok {
			if ef, ok := analytics.EfficiencyFactor(np, hrAvg); ok {
				res.EfficiencyFactor = ftp.FloatPtr(ef)
			}
		}
	}

	if hrAvg, ok := analytics.Average(s.HeartRates); ok {
		res.AvgHeartRate = hrAvg
		res.MaxHeartRate = analytics.Max(s.HeartRates)
	}

	if rp := p.Position(s.Duration).Ramp; rp != nil {
		res.MaxRampStep = rp.Step
	}

	stat, ok := p.Statistic(s)
	if !ok {
		res.Formula = insufficientDataFormula
		return res, nil
	}

	estimate, formula, err := ftp.Estimate(p.Type().Kind(), stat, method)
	if err != nil {
		return ftp.TestResult{}, fmt.Errorf("estimating FTP for %s: %w", p.Type(), err)
	}
	res.FTP = estimate
	res.Formula = formula
	if wkg, ok := analytics.WattsPerKg(estimate, s.WeightKg); ok {
		res.WattsPerKg = ftp.FloatPtr(wkg)
	}
	return res, nil
}

// Package ftp turns a test statistic into an FTP estimate and classifies power and
// heart rate into training zones.
package ftp

import (
	"fmt"
	"strings"
)

// CalcMethod selects how conservative the FTP coefficient is
type CalcMethod int

const (
	Conservative CalcMethod = iota
	Standard
	Aggressive
)

var calcMethodNames = map[CalcMethod]string{
	Conservative: "CONSERVATIVE",
	Standard:     "STANDARD",
	Aggressive:   "AGGRESSIVE",
}

func (m CalcMethod) String() string {
	if name, ok := calcMethodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("CalcMethod(%d)", int(m))
}

// ParseCalcMethod accepts the names returned by String, case-insensitively
func ParseCalcMethod(s string) (CalcMethod, error) {
	for m, name := range calcMethodNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return Standard, fmt.Errorf("unknown calc method %q", s)
}

// TestKind identifies which statistic a coefficient row applies to. It mirrors the
// protocol types without importing the protocol package.
type TestKind int

const (
	KindRamp TestKind = iota
	KindTwentyMinute
	KindEightMinute
)

type coefficientRow struct {
	statistic string
	values    [3]float64 // indexed by CalcMethod
}

var coefficients = map[TestKind]coefficientRow{
	KindRamp:         {statistic: "max 1-min power", values: [3]float64{0.72, 0.75, 0.77}},
	KindTwentyMinute: {statistic: "20-min avg power", values: [3]float64{0.93, 0.95, 0.97}},
	KindEightMinute:  {statistic: "avg of two 8-min efforts", values: [3]float64{0.88, 0.90, 0.92}},
}

// Coefficient returns the multiplier for kind and method
func Coefficient(kind TestKind, method CalcMethod) (float64, error) {
	row, ok := coefficients[kind]
	if !ok {
		return 0, fmt.Errorf("no coefficients for test kind %d", int(kind))
	}
	if method < Conservative || method > Aggressive {
		return 0, fmt.Errorf("invalid calc method %d", int(method))
	}
	return row.values[method], nil
}

// Estimate maps a test statistic to an integer FTP (truncated toward zero) and the
// human-readable formula that produced it.
func Estimate(kind TestKind, statistic int, method CalcMethod) (int, string, error) {
	coef, err := Coefficient(kind, method)
	if err != nil {
		return 0, "", err
	}
	ftp := int(float64(statistic) * coef)
	formula := fmt.Sprintf("%d W × %.2f (%s, %s)",
		statistic, coef, coefficients[kind].statistic, strings.ToLower(method.String()))
	return ftp, formula, nil
}

// Package render turns API responses into view models for the console
// templates. It holds no state and performs no I/O.
package render

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"bankruptcy-console/internal/backend"
)

const (
	ColorHigh = "#c62828"
	ColorLow  = "#2e7d32"

	// NotAvailable stands in for an absent probability.
	NotAvailable = "N/A"
	// NoMetric stands in for an absent metric value.
	NoMetric = "-"

	metricDecimals = 4
)

// Round rounds half up towards positive infinity, so Round(-2.5) is -2.
func Round(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	f := math.Floor(x)
	if x-f >= 0.5 {
		f++
	}
	return f
}

// FormatMetric prints v with exactly four decimals. Ties are broken away
// from zero on the exact binary value, so 1/32 prints as 0.0313.
func FormatMetric(v *float64) string {
	if v == nil {
		return NoMetric
	}
	return toFixed(*v, metricDecimals)
}

func toFixed(x float64, digits int) string {
	switch {
	case math.IsNaN(x):
		return "NaN"
	case math.IsInf(x, 1):
		return "Infinity"
	case math.IsInf(x, -1):
		return "-Infinity"
	case math.Abs(x) >= 1e21:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}

	sign := ""
	if x < 0 {
		sign = "-"
		x = -x
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	r := new(big.Rat).SetFloat64(x)
	r.Mul(r, new(big.Rat).SetInt(scale))
	r.Add(r, big.NewRat(1, 2))
	n := new(big.Int).Quo(r.Num(), r.Denom())

	s := n.String()
	if len(s) <= digits {
		s = strings.Repeat("0", digits-len(s)+1) + s
	}
	cut := len(s) - digits
	return sign + s[:cut] + "." + s[cut:]
}

// Percent renders Round(p*100) for display without a trailing "%".
func Percent(p *float64) string {
	if p == nil {
		return NotAvailable
	}
	return formatNumber(Round(*p * 100))
}

func formatNumber(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func riskLabel(high bool) string {
	if high {
		return "HIGH RISK"
	}
	return "LOW RISK"
}

// SinglePrediction is the view of one classified record.
type SinglePrediction struct {
	HighRisk          bool
	ConfidencePercent string
	ContainerClass    string
	BarWidth          string
	BarColor          string
	Label             string
	Explanation       string
}

// NewSinglePrediction builds the result panel. Only prediction == 1 counts
// as high risk.
func NewSinglePrediction(prediction int, probability *float64) SinglePrediction {
	high := prediction == 1
	pct := Percent(probability)

	v := SinglePrediction{
		HighRisk:          high,
		ConfidencePercent: pct,
		ContainerClass:    "result-container risk-low",
		BarColor:          ColorLow,
		Explanation:       "Your financial health appears stable",
	}
	if high {
		v.ContainerClass = "result-container risk-high"
		v.BarColor = ColorHigh
		v.Explanation = "Immediate attention recommended"
	}

	if probability == nil {
		v.BarWidth = "0%"
		v.Label = riskLabel(high) + " (" + NotAvailable + " chance of bankruptcy)"
	} else {
		v.BarWidth = pct + "%"
		v.Label = riskLabel(high) + " (" + pct + "% chance of bankruptcy)"
	}
	return v
}

// BulkRow is one line of the bulk result table.
type BulkRow struct {
	Index       int
	HighRisk    bool
	BadgeClass  string
	RiskLabel   string
	Probability string
}

// BulkReport summarises a bulk prediction run.
type BulkReport struct {
	Total           int
	HighRiskCount   int
	HighRiskPercent string
	BadgeClass      string
	Rows            []BulkRow
}

// Summary is the badge text, e.g. "1 high risk (50%)".
func (r BulkReport) Summary() string {
	return strconv.Itoa(r.HighRiskCount) + " high risk (" + r.HighRiskPercent + "%)"
}

// NewBulkReport builds the summary and one row per result, keeping input
// order. Row indexes start at 1.
func NewBulkReport(results []backend.Prediction) BulkReport {
	rep := BulkReport{
		Total: len(results),
		Rows:  make([]BulkRow, 0, len(results)),
	}

	for i, p := range results {
		high := p.HighRisk()
		if high {
			rep.HighRiskCount++
		}
		row := BulkRow{
			Index:       i + 1,
			HighRisk:    high,
			BadgeClass:  badgeClass(high),
			RiskLabel:   riskLabel(high),
			Probability: Percent(p.Probability) + "%",
		}
		rep.Rows = append(rep.Rows, row)
	}

	rep.HighRiskPercent = "0"
	if rep.Total > 0 {
		share := float64(rep.HighRiskCount) / float64(rep.Total) * 100
		rep.HighRiskPercent = formatNumber(Round(share))
	}
	rep.BadgeClass = badgeClass(rep.HighRiskCount > 0)
	return rep
}

func badgeClass(high bool) string {
	if high {
		return "badge-high"
	}
	return "badge-low"
}

// MetricCell is one labelled metric value.
type MetricCell struct {
	Key   string
	Label string
	Value string
}

// NewMetricsPanel lays out accuracy, precision, recall and f1 in that order.
func NewMetricsPanel(m backend.Metrics) []MetricCell {
	return []MetricCell{
		{Key: "accuracy", Label: "Accuracy", Value: FormatMetric(m.Accuracy)},
		{Key: "precision", Label: "Precision", Value: FormatMetric(m.Precision)},
		{Key: "recall", Label: "Recall", Value: FormatMetric(m.Recall)},
		{Key: "f1", Label: "F1 Score", Value: FormatMetric(m.F1)},
	}
}

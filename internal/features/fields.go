// Package features describes the financial ratios a single prediction needs
// and turns them into form fields and request records.
package features

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// Expected lists the ratios the prediction API was trained on, in form order.
var Expected = []string{
	"retained_earnings_to_total_assets",
	"total_debt_per_total_net_worth",
	"borrowing_dependency",
	"persistent_eps_in_the_last_four_seasons",
	"continuous_net_profit_growth_rate",
	"net_profit_before_tax_per_paidin_capital",
	"equity_to_liability",
	"pretax_net_interest_rate",
	"degree_of_financial_leverage",
	"per_share_net_profit_before_tax",
	"liability_to_equity",
	"net_income_to_total_assets",
	"total_income_per_total_expense",
	"interest_expense_ratio",
	"interest_coverage_ratio",
}

// Step is the input granularity for every ratio.
const Step = "0.0001"

// Field is one labeled numeric input.
type Field struct {
	Name     string // id and form key
	Label    string
	Step     string
	Required bool
	Value    string // echoed back after a submit
}

// Record maps field names to the values sent to /predict-single/.
type Record map[string]float64

// FieldError reports a missing or non-numeric form value.
type FieldError struct {
	Field string
	Value string
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s is required", Label(e.Field))
	}
	return fmt.Sprintf("%s must be a number, got %q", Label(e.Field), e.Value)
}

// Label derives the display text for a field name.
func Label(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// Build returns one required numeric field per name. Every call returns a
// fresh slice, so rendering it replaces whatever the container held before.
func Build(names []string) []Field {
	out := make([]Field, 0, len(names))
	for _, n := range names {
		out = append(out, Field{
			Name:     n,
			Label:    Label(n),
			Step:     Step,
			Required: true,
		})
	}
	return out
}

// WithValues copies submitted values onto the fields.
func WithValues(fields []Field, form url.Values) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		f.Value = strings.TrimSpace(form.Get(f.Name))
		out[i] = f
	}
	return out
}

// ParseRecord reads one float per name from the form.
func ParseRecord(names []string, form url.Values) (Record, error) {
	rec := make(Record, len(names))
	for _, n := range names {
		raw := strings.TrimSpace(form.Get(n))
		if raw == "" {
			return nil, &FieldError{Field: n}
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &FieldError{Field: n, Value: raw}
		}
		rec[n] = v
	}
	return rec, nil
}

package features

import (
	"errors"
	"net/url"
	"strings"
	"testing"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name  string
		names []string
	}{
		{"expected", Expected},
		{"empty", nil},
		{"single", []string{"a_b_c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := Build(tt.names)
			if len(fields) != len(tt.names) {
				t.Fatalf("len = %d, want %d", len(fields), len(tt.names))
			}
			seen := make(map[string]bool)
			for i, f := range fields {
				if f.Name != tt.names[i] {
					t.Errorf("fields[%d].Name = %q, want %q", i, f.Name, tt.names[i])
				}
				if seen[f.Name] {
					t.Errorf("duplicate field %q", f.Name)
				}
				seen[f.Name] = true
				if !f.Required {
					t.Errorf("%s not required", f.Name)
				}
				if f.Step != "0.0001" {
					t.Errorf("%s step = %q", f.Name, f.Step)
				}
				if strings.Contains(f.Label, "_") {
					t.Errorf("%s label %q still has underscores", f.Name, f.Label)
				}
			}
		})
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	first := Build(Expected)
	first[0].Value = "1.5"

	second := Build(Expected)
	if len(second) != 15 {
		t.Fatalf("len = %d, want 15", len(second))
	}
	if second[0].Value != "" {
		t.Errorf("rebuild kept stale value %q", second[0].Value)
	}
}

func TestLabel(t *testing.T) {
	if got := Label("net_income_to_total_assets"); got != "net income to total assets" {
		t.Errorf("Label = %q", got)
	}
}

func TestParseRecord(t *testing.T) {
	form := url.Values{}
	for i, n := range Expected {
		form.Set(n, " 0.1234 ")
		if i == 2 {
			form.Set(n, "-3")
		}
	}

	rec, err := ParseRecord(Expected, form)
	if err != nil {
		t.Fatalf("ParseRecord error: %v", err)
	}
	if len(rec) != len(Expected) {
		t.Fatalf("len = %d, want %d", len(rec), len(Expected))
	}
	if rec["borrowing_dependency"] != -3 {
		t.Errorf("borrowing_dependency = %v, want -3", rec["borrowing_dependency"])
	}
	if rec["interest_coverage_ratio"] != 0.1234 {
		t.Errorf("interest_coverage_ratio = %v", rec["interest_coverage_ratio"])
	}
}

func TestParseRecordErrors(t *testing.T) {
	names := []string{"equity_to_liability", "liability_to_equity"}

	_, err := ParseRecord(names, url.Values{"equity_to_liability": {"1"}})
	var fe *FieldError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FieldError, got %v", err)
	}
	if fe.Field != "liability_to_equity" || fe.Value != "" {
		t.Errorf("FieldError = %+v", fe)
	}
	if fe.Error() != "liability to equity is required" {
		t.Errorf("Error() = %q", fe.Error())
	}

	_, err = ParseRecord(names, url.Values{"equity_to_liability": {"abc"}, "liability_to_equity": {"1"}})
	if !errors.As(err, &fe) || fe.Value != "abc" {
		t.Fatalf("expected non-numeric FieldError, got %v", err)
	}
}

func TestWithValues(t *testing.T) {
	fields := WithValues(Build([]string{"a", "b"}), url.Values{"a": {" 2 "}})
	if fields[0].Value != "2" || fields[1].Value != "" {
		t.Errorf("values = %q, %q", fields[0].Value, fields[1].Value)
	}
}

package oracle

import (
	"errors"
	"testing"
)

func TestLabelSet_Canonical(t *testing.T) {
	set := Closed("regulation", "Regulated:High", "NotRegulated:High", "Regulated:Low")

	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"Regulated:High", "Regulated:High", true},
		{"regulated: high", "Regulated:High", true},
		{"Not Regulated - High", "NotRegulated:High", true},
		{"  REGULATED:LOW ", "Regulated:Low", true},
		{"Regulated", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := set.Canonical(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Canonical(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestLabelSet_CanonicalIndustry(t *testing.T) {
	set := Closed("domain", "healthcare_pharma", "none_of_the_above")
	if got, ok := set.Canonical("Healthcare Pharma"); !ok || got != "healthcare_pharma" {
		t.Errorf("got (%q, %v)", got, ok)
	}
}

func TestLabelSet_Open(t *testing.T) {
	set := OpenSet("extract")
	got, ok := set.Canonical("  blood glucose level ")
	if !ok || got != "blood glucose level" {
		t.Errorf("got (%q, %v)", got, ok)
	}
	if !set.Valid(Verdict{}) {
		t.Error("open set should accept an empty answer")
	}
}

func TestLabelSet_Valid(t *testing.T) {
	set := Closed("relevance", "Relevant", "NotRelevant")

	if !set.Valid(Verdict{Labels: []string{"relevant"}}) {
		t.Error("expected valid")
	}
	if set.Valid(Verdict{Labels: []string{"Maybe"}}) {
		t.Error("expected out-of-set label to be invalid")
	}
	if set.Valid(Verdict{}) {
		t.Error("expected empty answer to be invalid for closed set")
	}
	if set.Valid(Verdict{Labels: []string{"Relevant"}, Err: errors.New("x")}) {
		t.Error("expected errored verdict to be invalid")
	}
}

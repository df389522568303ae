package assemble

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/dtprivacy/internal/model"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func input(id, recID, key string, status model.RegulationStatus, conf model.Confidence, at time.Time) Input {
	return Input{
		Judgment: model.Judgment{
			ID:             id,
			FeatureID:      recID + "::" + key,
			RecordID:       recID,
			AttributeClass: model.ClassHealthClinical,
			Regulation:     "HIPAA",
			Status:         status,
			Confidence:     conf,
			JudgedAt:       at,
		},
		Feature: model.AttributedFeature{
			Feature: model.Feature{ID: recID + "::" + key, RecordID: recID, Name: key, Key: key},
			Class:   model.ClassHealthClinical,
		},
		Record: model.Record{ID: recID, DOI: strings.TrimPrefix(recID, "doi:"), Title: "Paper " + recID},
	}
}

func TestMerge_KeepsHighestConfidence(t *testing.T) {
	got := Merge([]Input{
		input("j1", "doi:10.1/a", "glucose", model.Regulated, model.ConfidenceMedium, t0.Add(time.Hour)),
		input("j2", "doi:10.1/b", "glucose", model.Regulated, model.ConfidenceHigh, t0),
	})

	if len(got.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got.Rows))
	}
	row := got.Rows[0]
	if row.Confidence != model.ConfidenceHigh || row.RecordID != "doi:10.1/b" || row.Contested {
		t.Errorf("expected the High judgment to win, got %+v", row)
	}
	if diff := cmp.Diff([]string{"doi:10.1/a", "doi:10.1/b"}, row.SupportingRecords); diff != "" {
		t.Errorf("supporting records mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"10.1/a", "10.1/b"}, row.SupportingDOIs); diff != "" {
		t.Errorf("supporting DOIs mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_MostRecentBreaksTies(t *testing.T) {
	got := Merge([]Input{
		input("j1", "doi:10.1/a", "glucose", model.Regulated, model.ConfidenceHigh, t0),
		input("j2", "doi:10.1/b", "glucose", model.Regulated, model.ConfidenceHigh, t0.Add(time.Minute)),
	})
	if len(got.Rows) != 1 || got.Rows[0].RecordID != "doi:10.1/b" {
		t.Errorf("expected most recent judgment, got %+v", got.Rows)
	}
}

func TestMerge_StatusTieIsContested(t *testing.T) {
	got := Merge([]Input{
		input("j1", "doi:10.1/a", "glucose", model.Regulated, model.ConfidenceHigh, t0),
		input("j2", "doi:10.1/b", "glucose", model.NotRegulated, model.ConfidenceHigh, t0),
		input("j3", "doi:10.1/c", "glucose", model.NotRegulated, model.ConfidenceLow, t0),
	})
	if len(got.Rows) != 2 {
		t.Fatalf("expected 2 contested rows, got %d", len(got.Rows))
	}
	if got.Rows[0].Status != model.Regulated || got.Rows[1].Status != model.NotRegulated {
		t.Errorf("unexpected row order: %s, %s", got.Rows[0].Status, got.Rows[1].Status)
	}
	for _, r := range got.Rows {
		if !r.Contested || len(r.SupportingRecords) != 3 {
			t.Errorf("expected contested row with 3 supporters, got %+v", r)
		}
	}
	if n := len(got.Default().Rows); n != 1 {
		t.Errorf("default view should keep the Regulated/High row, got %d", n)
	}
}

func TestMerge_OrderIndependent(t *testing.T) {
	in := []Input{
		input("j1", "doi:10.1/a", "glucose", model.Regulated, model.ConfidenceHigh, t0),
		input("j2", "doi:10.1/b", "age", model.NotRegulated, model.ConfidenceMedium, t0),
		input("j3", "doi:10.1/c", "glucose", model.Regulated, model.ConfidenceHigh, t0),
		input("j4", "doi:10.1/d", "bmi", model.Regulated, model.ConfidenceLow, t0),
	}
	reversed := []Input{in[3], in[2], in[1], in[0]}

	if diff := cmp.Diff(Merge(in), Merge(reversed)); diff != "" {
		t.Errorf("merge depends on input order (-want +got):\n%s", diff)
	}
}

func TestTable_DefaultProjection(t *testing.T) {
	tbl := Table{Rows: []Row{
		{FeatureKey: "a", Status: model.Regulated, Confidence: model.ConfidenceHigh},
		{FeatureKey: "b", Status: model.Regulated, Confidence: model.ConfidenceMedium},
		{FeatureKey: "c", Status: model.NotRegulated, Confidence: model.ConfidenceHigh},
	}}
	got := tbl.Default()
	if len(got.Rows) != 1 || got.Rows[0].FeatureKey != "a" {
		t.Errorf("unexpected default rows: %+v", got.Rows)
	}
	if n := len(Filter(tbl, "regulated", "").Rows); n != 2 {
		t.Errorf("Filter by status = %d rows, want 2", n)
	}
}

func TestWrite_JSONRoundTripAndCSV(t *testing.T) {
	tbl := Merge([]Input{input("j1", "doi:10.1/a", "glucose", model.Regulated, model.ConfidenceHigh, t0)})

	var buf bytes.Buffer
	if err := Write(&buf, tbl, FormatJSON); err != nil {
		t.Fatalf("Write json failed: %v", err)
	}
	back, err := ReadJSON(&buf)
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if diff := cmp.Diff(tbl, back); diff != "" {
		t.Errorf("json round trip mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	if err := Write(&buf, tbl, "CSV"); err != nil {
		t.Fatalf("Write csv failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header and 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[1], "glucose,glucose,Health_Clinical,HIPAA,Regulated,High,") {
		t.Errorf("unexpected csv row: %s", lines[1])
	}

	if err := Write(&buf, tbl, "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestTable_FeatureMatchesOnKey(t *testing.T) {
	in := input("j1", "doi:10.1/a", "blood glucose level", model.Regulated, model.ConfidenceHigh, t0)
	in.Feature.Name = "Blood glucose level"
	tbl := Merge([]Input{
		in,
		input("j2", "doi:10.1/a", "age", model.Regulated, model.ConfidenceHigh, t0),
	})

	var buf bytes.Buffer
	if err := Write(&buf, tbl, FormatCSV); err != nil {
		t.Fatalf("Write csv failed: %v", err)
	}
	if !strings.Contains(buf.String(), "\nBlood glucose level,blood glucose level,") {
		t.Errorf("csv should carry both display name and key:\n%s", buf.String())
	}

	for _, name := range []string{"blood glucose level", "Blood Glucose Levels", " blood-glucose level "} {
		got := tbl.Feature(name)
		if len(got.Rows) != 1 || got.Rows[0].FeatureKey != "blood glucose level" {
			t.Errorf("Feature(%q) = %+v", name, got.Rows)
		}
	}
	if n := len(tbl.Feature("zodiac sign").Rows); n != 0 {
		t.Errorf("expected no rows for unknown feature, got %d", n)
	}
}

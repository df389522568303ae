package stages

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/oracle"
	"github.com/ppiankov/dtprivacy/internal/store"
)

const diabetesAbstract = "We study diabetes management. A decision tree was trained on blood glucose levels and age of patients. The model reached 90% accuracy."

func seedRecords(t *testing.T, st store.Store) {
	t.Helper()
	recs := []model.Record{
		{ID: "doi:10.1/a", DOI: "10.1/a", Title: "Decision tree diabetes triage", Abstract: diabetesAbstract, Origin: model.OriginCrossref, Industry: "healthcare_pharma"},
		{ID: "doi:10.1/b", DOI: "10.1/b", Title: "A survey of transformers", Abstract: "We survey attention models.", Origin: model.OriginCrossref},
		{ID: "openalex:W3", Title: "Decision tree music genre tagging", Abstract: "A decision tree tags songs by tempo.", Origin: model.OriginOpenAlex},
	}
	if err := st.PutRecords(context.Background(), recs); err != nil {
		t.Fatalf("PutRecords failed: %v", err)
	}
}

// paperOracle answers each stage from keywords in the item text
func paperOracle() oracle.Oracle {
	return oracle.Func(func(ctx context.Context, text, instructions string, labels oracle.LabelSet) (oracle.Verdict, error) {
		one := func(l string) oracle.Verdict { return oracle.Verdict{Labels: []string{l}} }
		switch labels.Name {
		case model.StageRelevance:
			if strings.Contains(strings.ToLower(text), "decision tree") {
				return one("Relevant"), nil
			}
			return one("Not relevant"), nil
		case model.StageDomain:
			if strings.Contains(text, "glucose") {
				return one("healthcare_pharma"), nil
			}
			return one("none_of_the_above"), nil
		case model.StageExtract:
			return oracle.Verdict{Labels: []string{"blood glucose levels", "Age", "Blood Glucose Level", "zodiac sign"}}, nil
		case model.StageValidate:
			if strings.HasPrefix(text, "Feature: Zodiac") {
				return one(model.LabelNotUsedForTraining), nil
			}
			return one(model.LabelUsedForTraining), nil
		case model.StageAttribute:
			if strings.HasPrefix(text, "Feature: Blood") {
				return one("Health_Clinical"), nil
			}
			return one("demographic"), nil
		}
		return oracle.Verdict{}, nil
	})
}

func newRunner(o oracle.Oracle, st store.Store) *Runner {
	return &Runner{Oracle: o, Store: st, Settings: model.DefaultConfig().Stages}
}

func TestRunner_StagesEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedRecords(t, st)
	r := newRunner(paperOracle(), st)

	steps := []struct {
		name string
		run  func(context.Context) ([]model.Result, error)
		want int
	}{
		{model.StageRelevance, r.Relevance, 3},
		{model.StageDomain, r.Domain, 2},
		{model.StageExtract, r.Extract, 1},
		{model.StageValidate, r.Validate, 3},
		{model.StageAttribute, r.Attribute, 2},
	}
	for _, step := range steps {
		got, err := step.run(ctx)
		if err != nil {
			t.Fatalf("%s failed: %v", step.name, err)
		}
		if len(got) != step.want {
			t.Fatalf("%s: expected %d results, got %d", step.name, step.want, len(got))
		}
	}

	fs, err := st.Features(ctx)
	if err != nil {
		t.Fatalf("Features failed: %v", err)
	}
	var keys []string
	validated := map[string]bool{}
	for _, f := range fs {
		keys = append(keys, f.Key)
		validated[f.Key] = f.Validated
		if f.RecordID != "doi:10.1/a" {
			t.Errorf("feature %s cites %s", f.ID, f.RecordID)
		}
	}
	if diff := cmp.Diff([]string{"blood glucose level", "age", "zodiac sign"}, keys); diff != "" {
		t.Errorf("feature keys mismatch (-want +got):\n%s", diff)
	}
	if !validated["age"] || validated["zodiac sign"] {
		t.Errorf("unexpected validation flags: %v", validated)
	}

	extracted, _ := st.Results(ctx, model.StageExtract)
	if !extracted["doi:10.1/a"].Review {
		t.Error("ungrounded feature should flag the extraction for review")
	}

	attributed, recs, err := r.Attributed(ctx)
	if err != nil {
		t.Fatalf("Attributed failed: %v", err)
	}
	classes := map[string]model.AttributeClass{}
	for _, af := range attributed {
		classes[af.Key] = af.Class
	}
	want := map[string]model.AttributeClass{
		"blood glucose level": model.ClassHealthClinical,
		"age":                 model.ClassDemographic,
	}
	if diff := cmp.Diff(want, classes); diff != "" {
		t.Errorf("attribute classes mismatch (-want +got):\n%s", diff)
	}
	if _, ok := recs["doi:10.1/a"]; !ok {
		t.Error("expected source record in lookup")
	}
}

func TestRunner_StrictDomainMatch(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedRecords(t, st)
	r := newRunner(paperOracle(), st)

	if _, err := r.Relevance(ctx); err != nil {
		t.Fatalf("Relevance failed: %v", err)
	}
	if _, err := r.Domain(ctx); err != nil {
		t.Fatalf("Domain failed: %v", err)
	}

	got, err := r.DomainRecords(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected 1 domain record, got %d (%v)", len(got), err)
	}

	if err := st.PutRecords(ctx, []model.Record{{ID: "doi:10.1/a", DOI: "10.1/a", Abstract: diabetesAbstract, Industry: "banking_finance"}}); err != nil {
		t.Fatalf("PutRecords failed: %v", err)
	}
	r.Settings.StrictDomainMatch = true
	got, err = r.DomainRecords(ctx)
	if err != nil || len(got) != 0 {
		t.Errorf("strict match should drop mismatched industry, got %d (%v)", len(got), err)
	}
}

func TestRunner_AttributeFallsBackToOther(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedRecords(t, st)

	base := paperOracle()
	o := oracle.Func(func(ctx context.Context, text, instructions string, labels oracle.LabelSet) (oracle.Verdict, error) {
		if labels.Name == model.StageAttribute {
			return oracle.Verdict{Labels: []string{"Sensitive"}}, nil
		}
		vs, err := base.Judge(ctx, []string{text}, instructions, labels)
		if err != nil {
			return oracle.Verdict{}, err
		}
		return vs[0], nil
	})
	r := newRunner(o, st)

	for _, run := range []func(context.Context) ([]model.Result, error){r.Relevance, r.Domain, r.Extract, r.Validate} {
		if _, err := run(ctx); err != nil {
			t.Fatalf("stage failed: %v", err)
		}
	}
	got, err := r.Attribute(ctx)
	if err != nil {
		t.Fatalf("Attribute failed: %v", err)
	}
	for _, res := range got {
		if !res.Is(string(model.ClassOther)) || !res.Review {
			t.Errorf("expected Other with review, got %+v", res)
		}
	}
}

func TestBuildFeatures(t *testing.T) {
	rec := model.Record{ID: "doi:10.1/a", Abstract: diabetesAbstract}
	got := BuildFeatures(rec, []string{"Age", "ages", "", "doi:10.9/evil"})

	want := []model.Feature{
		{
			ID:       "doi:10.1/a::age",
			RecordID: "doi:10.1/a",
			Name:     "Age",
			Key:      "age",
			Evidence: "A decision tree was trained on blood glucose levels and age of patients.",
			Grounded: true,
		},
		{
			ID:       "doi:10.1/a::doi109 evil",
			RecordID: "doi:10.1/a",
			Name:     "Doi109 evil",
			Key:      "doi109 evil",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
}

func TestInstructions_Override(t *testing.T) {
	cfg := model.StagesConfig{Instructions: map[string]string{model.StageRelevance: "custom"}}
	if got := Instructions(cfg, model.StageRelevance); got != "custom" {
		t.Errorf("expected override, got %q", got)
	}
	if got := Instructions(cfg, model.StageDomain); !strings.Contains(got, "domain") {
		t.Errorf("expected built-in domain prompt, got %q", got)
	}
}

func TestRunner_ForcedReextractKeepsValidation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedRecords(t, st)
	r := newRunner(paperOracle(), st)
	for _, run := range []func(context.Context) ([]model.Result, error){r.Relevance, r.Domain, r.Extract, r.Validate, r.Attribute} {
		if _, err := run(ctx); err != nil {
			t.Fatalf("stage failed: %v", err)
		}
	}

	// Re-extraction yields one known feature and one new one
	again := oracle.Func(func(ctx context.Context, text, instructions string, labels oracle.LabelSet) (oracle.Verdict, error) {
		return oracle.Verdict{Labels: []string{"Blood glucose level", "heart rate"}}, nil
	})
	forced := newRunner(again, st)
	forced.Force = true
	if _, err := forced.Extract(ctx); err != nil {
		t.Fatalf("forced Extract failed: %v", err)
	}

	fs, err := st.Features(ctx)
	if err != nil {
		t.Fatalf("Features failed: %v", err)
	}
	validated := map[string]bool{}
	for _, f := range fs {
		validated[f.Key] = f.Validated
	}
	if diff := cmp.Diff(map[string]bool{"blood glucose level": true, "heart rate": false}, validated); diff != "" {
		t.Errorf("validation flags mismatch (-want +got):\n%s", diff)
	}

	attributed, _, err := r.Attributed(ctx)
	if err != nil {
		t.Fatalf("Attributed failed: %v", err)
	}
	for _, f := range attributed {
		if !f.Validated {
			t.Errorf("unvalidated feature %s reached attribution", f.ID)
		}
	}
	if len(attributed) != 1 || attributed[0].Key != "blood glucose level" {
		t.Errorf("unexpected attributed features: %+v", attributed)
	}
}

func TestRunner_ClearedFlagBlocksDownstream(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seedRecords(t, st)
	r := newRunner(paperOracle(), st)
	for _, run := range []func(context.Context) ([]model.Result, error){r.Relevance, r.Domain, r.Extract, r.Validate, r.Attribute} {
		if _, err := run(ctx); err != nil {
			t.Fatalf("stage failed: %v", err)
		}
	}

	// The validate result still says UsedForTraining
	if err := st.SetFeatureValidated(ctx, "doi:10.1/a::age", false); err != nil {
		t.Fatalf("SetFeatureValidated failed: %v", err)
	}
	attributed, _, err := r.Attributed(ctx)
	if err != nil {
		t.Fatalf("Attributed failed: %v", err)
	}
	for _, f := range attributed {
		if f.Key == "age" {
			t.Errorf("feature with validated=false reached attribution: %+v", f)
		}
	}
}

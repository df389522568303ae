package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/dtprivacy/internal/cache"
	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/oracle"
	"github.com/ppiankov/dtprivacy/internal/store"
)

const exportJSON = `[
  {"origin": "crossref", "industry": "healthcare_pharma", "items": [
    {"DOI": "10.1/DIAB", "title": ["Decision tree diabetes triage"],
     "abstract": "<jats:p>A decision tree was trained on blood glucose levels and age of patients.</jats:p>",
     "issued": {"date-parts": [[2021]]}}
  ]},
  {"origin": "openalex", "industry": "healthcare_pharma", "items": [
    {"id": "https://openalex.org/W1", "doi": "https://doi.org/10.1/diab", "display_name": "Decision tree diabetes triage",
     "cited_by_count": 9, "abstract_inverted_index": {"A": [0], "decision": [1], "tree": [2], "was": [3], "trained.": [4]}},
    {"id": "https://openalex.org/W2", "display_name": "Transformers for retail", "abstract": "We survey attention models."}
  ]}
]`

const excerptsYAML = `
excerpts:
  - id: hipaa-514
    regulation: Health Insurance Portability and Accountability Act
    attribute_class: Health_Clinical
    passage: Individually identifiable health information must be protected.
    article_ref: "§164.514"
  - id: gdpr-6
    regulation: General Data Protection Regulation
    attribute_class: Demographic
    passage: Processing of personal data shall be lawful.
    article_ref: Art. 6
  - id: other-1
    regulation: Some Unlisted Act
    attribute_class: Demographic
    passage: Not on the include-list.
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// corpusOracle answers every stage from keywords in the item text
func corpusOracle(calls *atomic.Int64) oracle.Oracle {
	return oracle.Func(func(ctx context.Context, text, instructions string, labels oracle.LabelSet) (oracle.Verdict, error) {
		calls.Add(1)
		one := func(l string) oracle.Verdict { return oracle.Verdict{Labels: []string{l}, Rationale: "stub"} }
		switch labels.Name {
		case model.StageRelevance:
			if strings.Contains(strings.ToLower(text), "decision tree") {
				return one(model.LabelRelevant), nil
			}
			return one(model.LabelNotRelevant), nil
		case model.StageDomain:
			return one("healthcare_pharma"), nil
		case model.StageExtract:
			return oracle.Verdict{Labels: []string{"blood glucose levels", "age"}}, nil
		case model.StageValidate:
			return one(model.LabelUsedForTraining), nil
		case model.StageAttribute:
			if strings.HasPrefix(text, "Feature: Blood") {
				return one(string(model.ClassHealthClinical)), nil
			}
			return one(string(model.ClassDemographic)), nil
		case model.StageRegulation:
			if strings.Contains(text, "Regulation: HIPAA") {
				return one("Regulated:High"), nil
			}
			return one("Regulated:Medium"), nil
		}
		return oracle.Verdict{}, fmt.Errorf("unexpected stage %s", labels.Name)
	})
}

func newTestPipeline(t *testing.T, o oracle.Oracle) *Pipeline {
	t.Helper()
	cfg := model.DefaultConfig()
	cfg.Stages.Backoff = 0
	cfg.Oracle.Concurrency = 2
	p, err := New(cfg, Options{Oracle: o, Store: store.NewMemory()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	p := newTestPipeline(t, corpusOracle(&calls))

	sum, err := p.IngestExports(ctx, []string{writeFile(t, "export.json", exportJSON)})
	if err != nil {
		t.Fatalf("IngestExports failed: %v", err)
	}
	if sum.Input != 3 || sum.Records != 2 || sum.Added != 2 {
		t.Errorf("unexpected ingest summary: %+v", sum)
	}

	ex, err := p.LoadExcerpts(ctx, writeFile(t, "excerpts.yaml", excerptsYAML))
	if err != nil {
		t.Fatalf("LoadExcerpts failed: %v", err)
	}
	if len(ex) != 2 {
		t.Fatalf("expected 2 included excerpts, got %d", len(ex))
	}

	runs, err := p.Run(ctx, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(runs) != len(model.Stages) {
		t.Fatalf("expected %d stage runs, got %d", len(model.Stages), len(runs))
	}
	if runs[0].Items != 2 || runs[0].Labeled != 2 {
		t.Errorf("relevance run: %+v", runs[0])
	}

	table, err := p.Table(ctx)
	if err != nil {
		t.Fatalf("Table failed: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Errorf("expected 2 rows, got %d", len(table.Rows))
	}

	type row struct {
		Key        string
		Class      model.AttributeClass
		Regulation string
		Status     model.RegulationStatus
		Confidence model.Confidence
		DOI        string
	}
	var got []row
	for _, r := range table.Default().Rows {
		got = append(got, row{r.FeatureKey, r.AttributeClass, r.Regulation, r.Status, r.Confidence, r.DOI})
	}
	want := []row{{"blood glucose level", model.ClassHealthClinical, "HIPAA", model.Regulated, model.ConfidenceHigh, "10.1/diab"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("default corpus mismatch (-want +got):\n%s", diff)
	}

	// Everything is terminal now; a second run asks the oracle nothing
	before := calls.Load()
	if _, err := p.Run(ctx, nil); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if calls.Load() != before {
		t.Errorf("resumed run called the oracle %d times", calls.Load()-before)
	}
}

func TestPipeline_IngestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	p := newTestPipeline(t, corpusOracle(&calls))
	path := writeFile(t, "export.json", exportJSON)

	if _, err := p.IngestExports(ctx, []string{path}); err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	sum, err := p.IngestExports(ctx, []string{path})
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if sum.Records != 2 || sum.Added != 0 {
		t.Errorf("re-ingest should add nothing: %+v", sum)
	}

	recs, _ := p.Store().Records(ctx)
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if !recs[0].HasOrigin(model.OriginCrossref) || !recs[0].HasOrigin(model.OriginOpenAlex) {
		t.Errorf("merged record lost provenance: %+v", recs[0].Provenance)
	}
}

func TestPipeline_RunSelectedStages(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	p := newTestPipeline(t, corpusOracle(&calls))
	if _, err := p.IngestExports(ctx, []string{writeFile(t, "export.json", exportJSON)}); err != nil {
		t.Fatalf("IngestExports failed: %v", err)
	}

	runs, err := p.Run(ctx, []string{model.StageDomain, model.StageRelevance})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	var names []string
	for _, r := range runs {
		names = append(names, r.Stage)
	}
	if diff := cmp.Diff([]string{model.StageRelevance, model.StageDomain}, names); diff != "" {
		t.Errorf("stages should run in pipeline order (-want +got):\n%s", diff)
	}

	if _, err := p.Run(ctx, []string{"summarize"}); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestPipeline_StoreFailureHalts(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	st := store.NewMemory()
	cfg := model.DefaultConfig()
	cfg.Stages.Backoff = 0
	p, err := New(cfg, Options{Oracle: corpusOracle(&calls), Store: st})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.IngestExports(ctx, []string{writeFile(t, "export.json", exportJSON)}); err != nil {
		t.Fatalf("IngestExports failed: %v", err)
	}

	st.FailPuts = 1
	runs, err := p.Run(ctx, nil)
	if err == nil {
		t.Fatal("expected store failure to halt the run")
	}
	if len(runs) != 1 {
		t.Errorf("expected the run to stop at the first stage, got %d stages", len(runs))
	}
}

func TestFetcher_Load(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/export.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, exportJSON)
	}))
	defer srv.Close()

	f := NewFetcher(0, "dtprivacy-test", 0, model.OracleConfig{})
	exports, err := f.Load(context.Background(), srv.URL+"/export.json")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(exports) != 2 || len(exports[1].Results()) != 2 {
		t.Fatalf("unexpected exports: %+v", exports)
	}
	if exports[1].Results()[0].Origin != model.OriginOpenAlex {
		t.Errorf("results should carry the export origin")
	}

	if _, err := f.Load(context.Background(), srv.URL+"/missing.json"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestParseExports(t *testing.T) {
	single := `{"origin": "crossref", "industry": "insurance", "items": [{"DOI": "10.1/x"}]}`
	got, err := ParseExports([]byte(single))
	if err != nil || len(got) != 1 || got[0].Industry != "insurance" {
		t.Fatalf("ParseExports(single) = %+v, %v", got, err)
	}

	for name, in := range map[string]string{
		"empty":          "  ",
		"unknown origin": `{"origin": "scopus", "items": []}`,
		"garbage":        `{"origin":`,
	} {
		if _, err := ParseExports([]byte(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// splitExportJSON holds one paper found by both origins; only OpenAlex has its abstract
const splitExportJSON = `[
  {"origin": "crossref", "industry": "healthcare_pharma", "items": [
    {"DOI": "10.5/DT", "title": ["Decision trees for glycemic risk"], "issued": {"date-parts": [[2022]]}}
  ]},
  {"origin": "openalex", "industry": "healthcare_pharma", "items": [
    {"id": "https://openalex.org/W5", "doi": "https://doi.org/10.5/dt", "display_name": "Decision trees for glycemic risk",
     "abstract": "A decision tree was trained on blood glucose level readings of patients."}
  ]}
]`

func TestPipeline_FixedOracleSingleRow(t *testing.T) {
	ctx := context.Background()
	fixed := oracle.Fixed{
		model.StageRelevance:  {Labels: []string{"Relevant"}},
		model.StageDomain:     {Labels: []string{"Healthcare Pharma"}},
		model.StageExtract:    {Labels: []string{"blood glucose level"}},
		model.StageValidate:   {Labels: []string{"UsedForTraining"}},
		model.StageAttribute:  {Labels: []string{"Health_Clinical"}},
		model.StageRegulation: {Labels: []string{"Regulated:High"}},
	}
	p := newTestPipeline(t, fixed)

	sum, err := p.IngestExports(ctx, []string{writeFile(t, "export.json", splitExportJSON)})
	if err != nil {
		t.Fatalf("IngestExports failed: %v", err)
	}
	if sum.Input != 2 || sum.Records != 1 {
		t.Fatalf("expected the two results to merge into one record: %+v", sum)
	}
	recs, err := p.Store().Records(ctx)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	want := "A decision tree was trained on blood glucose level readings of patients."
	if len(recs) != 1 || recs[0].Abstract != want {
		t.Fatalf("merged record lost the OpenAlex abstract: %+v", recs)
	}

	if _, err := p.LoadExcerpts(ctx, writeFile(t, "excerpts.yaml", excerptsYAML)); err != nil {
		t.Fatalf("LoadExcerpts failed: %v", err)
	}
	if _, err := p.Run(ctx, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	table, err := p.Table(ctx)
	if err != nil {
		t.Fatalf("Table failed: %v", err)
	}
	def := table.Default().Rows
	if len(def) != 1 {
		t.Fatalf("expected exactly one default row, got %+v", def)
	}
	row := def[0]
	if row.FeatureKey != "blood glucose level" || row.AttributeClass != model.ClassHealthClinical ||
		row.Regulation != "HIPAA" || row.DOI != "10.5/dt" || row.Industry != string(model.IndustryHealthcarePharma) {
		t.Errorf("unexpected default row: %+v", row)
	}
}

func TestPipeline_ExcerptReloadRetiresRows(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int64
	p := newTestPipeline(t, corpusOracle(&calls))

	if _, err := p.IngestExports(ctx, []string{writeFile(t, "export.json", exportJSON)}); err != nil {
		t.Fatalf("IngestExports failed: %v", err)
	}
	if _, err := p.LoadExcerpts(ctx, writeFile(t, "excerpts.yaml", excerptsYAML)); err != nil {
		t.Fatalf("LoadExcerpts failed: %v", err)
	}
	if _, err := p.Run(ctx, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	demographicOnly := `
excerpts:
  - id: gdpr-6
    regulation: GDPR
    attribute_class: Demographic
    passage: Processing of personal data shall be lawful.
`
	if _, err := p.LoadExcerpts(ctx, writeFile(t, "reload.yaml", demographicOnly)); err != nil {
		t.Fatalf("LoadExcerpts (reload) failed: %v", err)
	}

	table, err := p.Table(ctx)
	if err != nil {
		t.Fatalf("Table failed: %v", err)
	}
	for _, r := range table.Rows {
		if r.AttributeClass == model.ClassHealthClinical {
			t.Errorf("row survived the excerpt reload: %+v", r)
		}
	}
	if n := len(table.Default().Rows); n != 0 {
		t.Errorf("expected empty default corpus, got %d rows", n)
	}

	rep, err := p.Report(ctx)
	if err != nil {
		t.Fatalf("Report failed: %v", err)
	}
	if len(rep.NoEvidence) != 1 || rep.NoEvidence[0].Key != "blood glucose level" {
		t.Errorf("unexpected no-evidence features: %+v", rep.NoEvidence)
	}
}

func TestPipeline_ClearCache(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Cache.Dir = filepath.Join(t.TempDir(), "cache")
	p, err := New(cfg, Options{Oracle: oracle.Fixed{}, Store: store.NewMemory()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = p.Close() }()

	disk := cache.NewDiskCache(cfg.Cache.Dir, time.Hour)
	key := cache.Key("openai/gpt-4o-mini", "relevance", "paper")
	if err := disk.Set(key, []byte(`{"labels":["Relevant"]}`), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := p.ClearCache(); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	if _, ok := disk.Get(key); ok {
		t.Error("expected cached verdict to be gone")
	}
	if _, err := os.Stat(cfg.Cache.Dir); !os.IsNotExist(err) {
		t.Errorf("expected cache dir removed, stat err = %v", err)
	}
}

package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/dtprivacy/internal/llm"
)

type fakeProvider struct {
	text string
	err  error
	last llm.CompletionRequest
}

func (p *fakeProvider) Name() string                       { return "fake" }
func (p *fakeProvider) IsAvailable(ctx context.Context) bool { return true }
func (p *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Completion{Text: p.text, Model: "fake-1", PromptTokens: 10, CompletionTokens: 5}, nil
}

func TestLLM_Judge_Single(t *testing.T) {
	p := &fakeProvider{text: "```json\n{\"label\": \"Health_Clinical\", \"rationale\": \"glucose is clinical\"}\n```"}
	var audit bytes.Buffer
	o := NewLLM(p, "fake-1", nil, &audit)

	got, err := o.Judge(context.Background(), []string{"Feature: blood glucose level"}, "Assign a class.", Closed("attribute", "Health_Clinical", "Other"))
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}

	want := []Verdict{{Labels: []string{"Health_Clinical"}, Rationale: "glucose is clinical"}}
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b error) bool { return a == b })); diff != "" {
		t.Errorf("verdicts mismatch (-want +got):\n%s", diff)
	}

	if !strings.Contains(p.last.System, "Allowed labels (use the exact spelling): Health_Clinical, Other.") {
		t.Errorf("system prompt does not list labels:\n%s", p.last.System)
	}

	u := o.Usage()
	if u.Calls != 1 || u.PromptTokens != 10 || u.CompletionTokens != 5 {
		t.Errorf("unexpected usage %+v", u)
	}

	var entry auditEntry
	if err := json.Unmarshal(bytes.TrimSpace(audit.Bytes()), &entry); err != nil {
		t.Fatalf("audit line is not JSON: %v", err)
	}
	if entry.Stage != "attribute" || entry.Provider != "fake" || entry.Response == "" {
		t.Errorf("unexpected audit entry %+v", entry)
	}
}

func TestLLM_Judge_TransportError(t *testing.T) {
	p := &fakeProvider{err: errors.New("API error (503)")}
	var audit bytes.Buffer
	o := NewLLM(p, "", nil, &audit)

	if _, err := o.Judge(context.Background(), []string{"x"}, "", Closed("relevance", "Relevant")); err == nil {
		t.Fatal("expected batch error")
	}
	if !strings.Contains(audit.String(), "API error (503)") {
		t.Error("expected failed call to be audited")
	}
}

func TestLLM_Judge_Batch(t *testing.T) {
	p := &fakeProvider{text: `{"results": [{"item": 2, "labels": ["NotRelevant"]}, {"item": 1, "labels": ["Relevant"], "rationale": "CART"}]}`}
	o := NewLLM(p, "", nil, nil)

	got, err := o.Judge(context.Background(), []string{"a", "b", "c"}, "", Closed("relevance", "Relevant", "NotRelevant"))
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 verdicts, got %d", len(got))
	}
	if got[0].Labels[0] != "Relevant" || got[1].Labels[0] != "NotRelevant" {
		t.Errorf("unexpected verdicts %+v", got)
	}
	if got[2].Err == nil {
		t.Error("expected unanswered item to carry an error")
	}
	if !strings.Contains(p.last.Prompt, "### Item 3\nc") {
		t.Errorf("expected numbered items in prompt:\n%s", p.last.Prompt)
	}
}

func TestParseVerdicts_Formats(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"labels list", `{"labels": ["a", " b "]}`, []string{"a", "b"}},
		{"features objects", `{"features": [{"name": "heart rate", "evidence": "..."}]}`, []string{"heart rate"}},
		{"class key", `{"class": "Financial"}`, []string{"Financial"}},
		{"status lines", "STATUS: Not Regulated\nCONFIDENCE: High\nRATIONALE: no mention", []string{"Not Regulated:High"}},
		{"label line", "LABEL: Relevant", []string{"Relevant"}},
		{"bare word", "Relevant.\n", []string{"Relevant"}},
		{"prose around json", `Sure! {"labels": ["x"]} Hope this helps`, []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseVerdicts(tt.text, 1)
			if diff := cmp.Diff(tt.want, got[0].Labels); diff != "" {
				t.Errorf("labels mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseVerdicts_StatusRationale(t *testing.T) {
	got := ParseVerdicts("STATUS: Regulated\nCONFIDENCE: Medium\nRATIONALE: covers health data", 1)
	if got[0].Rationale != "covers health data" {
		t.Errorf("unexpected rationale %q", got[0].Rationale)
	}
}

func TestParseVerdicts_BadBatch(t *testing.T) {
	got := ParseVerdicts("not json", 2)
	for i, v := range got {
		if v.Err == nil {
			t.Errorf("item %d: expected decode error", i)
		}
	}
}

func TestSystemPrompt_Open(t *testing.T) {
	s := SystemPrompt("Extract features.", OpenSet("extract"), 1)
	if !strings.Contains(s, "Return every applicable value") {
		t.Errorf("unexpected open-set prompt:\n%s", s)
	}
}

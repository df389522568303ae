package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ppiankov/dtprivacy/internal/model"
)

// fakeSearcher returns canned hits per query and records the limits it saw
type fakeSearcher struct {
	mu     sync.Mutex
	hits   map[string][]RawResult
	fail   map[string]bool
	limits map[string]int
}

func (f *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]RawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.limits == nil {
		f.limits = make(map[string]int)
	}
	f.limits[query] = limit
	if f.fail[query] {
		return nil, errors.New("boom")
	}
	hits := f.hits[query]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func crossrefHit(doi string) RawResult {
	return RawResult{Origin: model.OriginCrossref, Data: json.RawMessage(fmt.Sprintf(`{"DOI": %q, "title": [%q]}`, doi, doi))}
}

func openAlexHit(id string) RawResult {
	return RawResult{Origin: model.OriginOpenAlex, Data: json.RawMessage(fmt.Sprintf(`{"id": "https://openalex.org/%s"}`, id))}
}

func TestHarvester_Harvest(t *testing.T) {
	cr := &fakeSearcher{
		hits: map[string][]RawResult{
			"q1": {crossrefHit("10.1/A"), crossrefHit("10.1/b")},
			"q2": {crossrefHit("10.1/a"), crossrefHit("10.1/c")},
		},
		fail: map[string]bool{"q3": true},
	}
	oa := &fakeSearcher{
		hits: map[string][]RawResult{
			"o1": {openAlexHit("W1"), openAlexHit("W2"), openAlexHit("W3")},
			"o2": {openAlexHit("W2"), openAlexHit("W4"), openAlexHit("W5")},
		},
	}

	h := &Harvester{
		Crossref: cr,
		OpenAlex: oa,
		Workers:  2,
		Industries: map[string]model.IndustryQueries{
			"banking_finance": {CrossrefQueries: []string{"q1", "q2", "q3"}, OpenAlexQueries: []string{"o1", "o2"}, MaxRecords: 4},
		},
	}

	crossref, openalex, err := h.Harvest(context.Background())
	if err != nil {
		t.Fatalf("Harvest failed: %v", err)
	}

	var dois []string
	for _, r := range crossref {
		dois = append(dois, r.DOI)
		if r.Industry != "banking_finance" {
			t.Errorf("record missing industry: %+v", r)
		}
	}
	if diff := cmp.Diff([]string{"10.1/A", "10.1/b", "10.1/c"}, dois); diff != "" {
		t.Errorf("crossref DOIs mismatch (-want +got):\n%s", diff)
	}

	var ids []string
	for _, r := range openalex {
		ids = append(ids, r.SourceID)
	}
	if diff := cmp.Diff([]string{"W1", "W2", "W4"}, ids); diff != "" {
		t.Errorf("openalex ids mismatch (-want +got):\n%s", diff)
	}
	if oa.limits["o1"] != 2 || oa.limits["o2"] != 2 {
		t.Errorf("cap should be split across queries, got %v", oa.limits)
	}
	if cr.limits["q1"] != 4 {
		t.Errorf("crossref queries use the full cap, got %v", cr.limits)
	}
}

package regulation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/dtprivacy/internal/classify"
	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/oracle"
	"github.com/ppiankov/dtprivacy/internal/stages"
)

// Labels is the closed vocabulary of the regulation stage
var Labels = oracle.Closed(model.StageRegulation, model.JudgmentLabels()...)

// Pairing is one judgment to make: a feature against one excerpt, or against
// every excerpt of one regulation when grouping
type Pairing struct {
	Feature  model.AttributedFeature
	Record   model.Record
	Excerpts []model.Excerpt
}

// ID is the item id of the pairing and the id of its judgment
func (p Pairing) ID() string {
	if len(p.Excerpts) == 1 {
		return p.Feature.ID + "@" + p.Excerpts[0].ID
	}
	return p.Feature.ID + "@" + p.Regulation()
}

// Regulation is the regulation every excerpt of the pairing belongs to
func (p Pairing) Regulation() string {
	return p.Excerpts[0].Regulation
}

// ExcerptIDs lists the excerpts the judgment is based on
func (p Pairing) ExcerptIDs() []string {
	ids := make([]string, len(p.Excerpts))
	for i, e := range p.Excerpts {
		ids[i] = e.ID
	}
	return ids
}

// ArticleRef joins the distinct article references of the pairing
func (p Pairing) ArticleRef() string {
	var refs []string
	seen := make(map[string]bool)
	for _, e := range p.Excerpts {
		if e.ArticleRef != "" && !seen[e.ArticleRef] {
			seen[e.ArticleRef] = true
			refs = append(refs, e.ArticleRef)
		}
	}
	return strings.Join(refs, "; ")
}

// Text renders the pairing for the oracle
func (p Pairing) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Feature: %s\n", p.Feature.Name)
	fmt.Fprintf(&b, "Attribute class: %s\n", p.Feature.Class)
	fmt.Fprintf(&b, "Paper: %s\n", p.Record.Title)
	fmt.Fprintf(&b, "Regulation: %s\n", p.Regulation())
	for _, e := range p.Excerpts {
		b.WriteString("\n")
		if e.ArticleRef != "" {
			fmt.Fprintf(&b, "Article: %s\n", e.ArticleRef)
		}
		fmt.Fprintf(&b, "Passage: %q\n", e.Passage)
	}
	fmt.Fprintf(&b, "\nIs %q regulated, either specifically or through its whole class %s, by this regulatory text?",
		p.Feature.Name, p.Feature.Class)
	return b.String()
}

// Plan pairs each feature with the excerpts of its class. Features whose
// class has no excerpt are returned separately: they get no judgment.
func Plan(features []model.AttributedFeature, recs map[string]model.Record, excerpts []model.Excerpt, group bool) (pairings []Pairing, noEvidence []model.AttributedFeature) {
	byClass := make(map[model.AttributeClass][]model.Excerpt)
	for _, e := range excerpts {
		byClass[e.AttributeClass] = append(byClass[e.AttributeClass], e)
	}

	for _, f := range features {
		ex := byClass[f.Class]
		if len(ex) == 0 {
			noEvidence = append(noEvidence, f)
			continue
		}

		rec := recs[f.RecordID]
		if !group {
			for _, e := range ex {
				pairings = append(pairings, Pairing{Feature: f, Record: rec, Excerpts: []model.Excerpt{e}})
			}
			continue
		}

		byReg := make(map[string][]model.Excerpt)
		var order []string
		for _, e := range ex {
			if _, ok := byReg[e.Regulation]; !ok {
				order = append(order, e.Regulation)
			}
			byReg[e.Regulation] = append(byReg[e.Regulation], e)
		}
		for _, reg := range order {
			pairings = append(pairings, Pairing{Feature: f, Record: rec, Excerpts: byReg[reg]})
		}
	}
	return pairings, noEvidence
}

// Mapper runs the regulation stage over the attributed features
type Mapper struct {
	Runner  *stages.Runner
	Include []string
	Group   bool
}

// Run judges every pairing and writes a judgment for each labeled one
func (m *Mapper) Run(ctx context.Context) ([]model.Result, error) {
	pairings, _, err := m.Plan(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Pairing, len(pairings))
	items := make([]classify.Item, len(pairings))
	for i, p := range pairings {
		byID[p.ID()] = p
		items[i] = classify.Item{ID: p.ID(), Text: p.Text()}
	}

	st := m.Runner.Stage(model.StageRegulation, Labels)
	st.OnResult = func(ctx context.Context, it classify.Item, labels []string, res *model.Result) error {
		status, conf, err := model.ParseJudgmentLabel(res.Label)
		if err != nil {
			return err
		}
		p := byID[it.ID]
		return m.Runner.Store.PutJudgment(ctx, model.Judgment{
			ID:             it.ID,
			FeatureID:      p.Feature.ID,
			RecordID:       p.Feature.RecordID,
			FeatureName:    p.Feature.Name,
			AttributeClass: p.Feature.Class,
			Regulation:     p.Regulation(),
			ExcerptIDs:     p.ExcerptIDs(),
			ArticleRef:     p.ArticleRef(),
			Status:         status,
			Confidence:     conf,
			Rationale:      res.Rationale,
			RunID:          res.RunID,
			JudgedAt:       res.UpdatedAt,
		})
	}
	return st.Run(ctx, items)
}

// Plan loads the current features and excerpts and pairs them
func (m *Mapper) Plan(ctx context.Context) ([]Pairing, []model.AttributedFeature, error) {
	features, recs, err := m.Runner.Attributed(ctx)
	if err != nil {
		return nil, nil, err
	}
	stored, err := m.Runner.Store.Excerpts(ctx)
	if err != nil {
		return nil, nil, err
	}

	var excerpts []model.Excerpt
	for _, e := range stored {
		if Included(e.Regulation, m.Include) {
			excerpts = append(excerpts, e)
		}
	}
	pairings, noEvidence := Plan(features, recs, excerpts, m.Group)
	return pairings, noEvidence, nil
}

// Regulations lists the distinct regulations of a corpus, sorted
func Regulations(ex []model.Excerpt) []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range ex {
		if !seen[e.Regulation] {
			seen[e.Regulation] = true
			out = append(out, e.Regulation)
		}
	}
	sort.Strings(out)
	return out
}

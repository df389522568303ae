package assemble

import (
	"context"
	"strings"

	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/regulation"
)

// Assembler reads the current pipeline state out of the store
type Assembler struct {
	Mapper *regulation.Mapper
}

// Inputs returns the judgments that still match the current pipeline state:
// their feature is attributed to the judged class, the regulation is
// included, the regulation result is labeled and every cited excerpt is
// still in the corpus under the same class and regulation.
func (a *Assembler) Inputs(ctx context.Context) ([]Input, error) {
	st := a.Mapper.Runner.Store

	features, recs, err := a.Mapper.Runner.Attributed(ctx)
	if err != nil {
		return nil, err
	}
	byFeature := make(map[string]model.AttributedFeature, len(features))
	for _, f := range features {
		byFeature[f.ID] = f
	}

	domains, err := st.Results(ctx, model.StageDomain)
	if err != nil {
		return nil, err
	}
	results, err := st.Results(ctx, model.StageRegulation)
	if err != nil {
		return nil, err
	}
	judgments, err := st.Judgments(ctx)
	if err != nil {
		return nil, err
	}
	excerpts, err := st.Excerpts(ctx)
	if err != nil {
		return nil, err
	}
	corpus := make(map[string]model.Excerpt, len(excerpts))
	for _, e := range excerpts {
		corpus[e.ID] = e
	}

	var out []Input
	for _, j := range judgments {
		f, ok := byFeature[j.FeatureID]
		if !ok || f.Class != j.AttributeClass {
			continue
		}
		if !regulation.Included(j.Regulation, a.Mapper.Include) {
			continue
		}
		if results[j.ID].Status != model.StatusLabeled {
			continue
		}
		if !cited(j, corpus) {
			continue
		}
		out = append(out, Input{
			Judgment: j,
			Feature:  f,
			Record:   recs[j.RecordID],
			Industry: domains[j.RecordID].Label,
		})
	}
	return out, nil
}

// Table assembles the full table
func (a *Assembler) Table(ctx context.Context) (Table, error) {
	inputs, err := a.Inputs(ctx)
	if err != nil {
		return Table{}, err
	}
	return Merge(inputs), nil
}

// cited reports whether every excerpt behind j is still loaded for the same
// class and regulation
func cited(j model.Judgment, corpus map[string]model.Excerpt) bool {
	if len(j.ExcerptIDs) == 0 {
		return false
	}
	for _, id := range j.ExcerptIDs {
		e, ok := corpus[id]
		if !ok || e.AttributeClass != j.AttributeClass {
			return false
		}
		if !strings.EqualFold(e.Regulation, j.Regulation) {
			return false
		}
	}
	return true
}

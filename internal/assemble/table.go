// Package assemble joins regulation judgments with feature and record
// metadata into the final feature × regulation table.
package assemble

import (
	"sort"
	"time"

	"github.com/ppiankov/dtprivacy/internal/model"
)

// Row is one (feature, attribute class, regulation) entry of the final table
type Row struct {
	// FeatureName is the display form ("Blood glucose level"); match and
	// group on FeatureKey, the normalized lowercase singular name.
	FeatureName    string                 `json:"feature_name"`
	FeatureKey     string                 `json:"feature_key"`
	AttributeClass model.AttributeClass   `json:"attribute_class"`
	Regulation     string                 `json:"regulation"`
	Status         model.RegulationStatus `json:"status"`
	Confidence     model.Confidence       `json:"confidence"`
	Rationale      string                 `json:"rationale,omitempty"`
	ArticleRef     string                 `json:"article_ref,omitempty"`
	ExcerptIDs     []string               `json:"excerpt_ids"`
	Evidence       string                 `json:"evidence,omitempty"`

	RecordID string         `json:"record_id"`
	DOI      string         `json:"doi,omitempty"`
	Title    string         `json:"title"`
	Industry string         `json:"industry,omitempty"`
	Origins  []model.Origin `json:"origins"`

	// Every record and DOI whose judgment merged into this row
	SupportingRecords []string `json:"supporting_records"`
	SupportingDOIs    []string `json:"supporting_dois"`

	Contested bool      `json:"contested,omitempty"` // Top-confidence judgments disagree on status
	Review    bool      `json:"review,omitempty"`
	JudgedAt  time.Time `json:"judged_at"`
}

// Table is the full assembled corpus
type Table struct {
	Rows []Row `json:"rows"`
}

// Default projects the analytic corpus: Regulated rows with High confidence
func (t Table) Default() Table {
	var out []Row
	for _, r := range t.Rows {
		if model.HighConfidenceRegulated(r.Status, r.Confidence) {
			out = append(out, r)
		}
	}
	return Table{Rows: out}
}

// Input is one judgment with the metadata it is reported with
type Input struct {
	Judgment model.Judgment
	Feature  model.AttributedFeature
	Record   model.Record
	Industry string
}

type groupKey struct {
	key   string
	class model.AttributeClass
	reg   string
}

// Merge reduces judgments to one row per (feature key, class, regulation).
// The highest confidence wins, then the most recent judgment. When the
// top-confidence judgments disagree on status, one row per status is kept and
// both are marked contested. The result does not depend on input order.
func Merge(inputs []Input) Table {
	groups := make(map[groupKey][]Input)
	for _, in := range inputs {
		k := groupKey{key: in.Feature.Key, class: in.Judgment.AttributeClass, reg: in.Judgment.Regulation}
		groups[k] = append(groups[k], in)
	}

	var rows []Row
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool { return newer(g[i].Judgment, g[j].Judgment) })

		top := 0
		for _, in := range g {
			top = max(top, in.Judgment.Confidence.Rank())
		}

		var kept []Input
		byStatus := make(map[model.RegulationStatus]bool)
		for _, in := range g {
			if in.Judgment.Confidence.Rank() != top || byStatus[in.Judgment.Status] {
				continue
			}
			byStatus[in.Judgment.Status] = true
			kept = append(kept, in)
		}

		records, dois := supporting(g)
		for _, in := range kept {
			row := newRow(in)
			row.SupportingRecords = records
			row.SupportingDOIs = dois
			row.Contested = len(kept) > 1
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.FeatureKey != b.FeatureKey {
			return a.FeatureKey < b.FeatureKey
		}
		if a.AttributeClass != b.AttributeClass {
			return a.AttributeClass < b.AttributeClass
		}
		if a.Regulation != b.Regulation {
			return a.Regulation < b.Regulation
		}
		return a.Status > b.Status
	})
	return Table{Rows: rows}
}

// newer orders judgments most recent first, then by id for determinism
func newer(a, b model.Judgment) bool {
	if !a.JudgedAt.Equal(b.JudgedAt) {
		return a.JudgedAt.After(b.JudgedAt)
	}
	return a.ID < b.ID
}

func supporting(g []Input) (records, dois []string) {
	seenRec := make(map[string]bool)
	seenDOI := make(map[string]bool)
	for _, in := range g {
		if id := in.Record.ID; id != "" && !seenRec[id] {
			seenRec[id] = true
			records = append(records, id)
		}
		if doi := in.Record.DOI; doi != "" && !seenDOI[doi] {
			seenDOI[doi] = true
			dois = append(dois, doi)
		}
	}
	sort.Strings(records)
	sort.Strings(dois)
	return records, dois
}

func newRow(in Input) Row {
	j := in.Judgment
	return Row{
		FeatureName:    in.Feature.Name,
		FeatureKey:     in.Feature.Key,
		AttributeClass: j.AttributeClass,
		Regulation:     j.Regulation,
		Status:         j.Status,
		Confidence:     j.Confidence,
		Rationale:      j.Rationale,
		ArticleRef:     j.ArticleRef,
		ExcerptIDs:     j.ExcerptIDs,
		Evidence:       in.Feature.Evidence,
		RecordID:       in.Record.ID,
		DOI:            in.Record.DOI,
		Title:          in.Record.Title,
		Industry:       in.Industry,
		Origins:        in.Record.Provenance,
		Review:         in.Feature.Review,
		JudgedAt:       j.JudgedAt,
	}
}

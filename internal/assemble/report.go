package assemble

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/ppiankov/dtprivacy/internal/model"
)

// Entry is one item in an audit bucket
type Entry struct {
	Stage  string `json:"stage"`
	ItemID string `json:"item_id"`
	Label  string `json:"label,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// StageSummary counts the stored results of one stage
type StageSummary struct {
	Stage    string `json:"stage"`
	Labeled  int    `json:"labeled"`
	Rejected int    `json:"rejected"`
	Errored  int    `json:"errored"`
	Review   int    `json:"review"`
}

// Report keeps every reason an item is missing from the table in its own bucket
type Report struct {
	Records     int            `json:"records"`
	Stages      []StageSummary `json:"stages"`
	Rows        int            `json:"rows"`
	DefaultRows int            `json:"default_rows"`

	Excluded   []Entry                   `json:"excluded_by_classification"`
	Blocked    []Entry                   `json:"blocked_by_error"`
	Review     []Entry                   `json:"flagged_for_review"`
	NoEvidence []model.AttributedFeature `json:"no_evidence"`
	Conflicts  []model.Record            `json:"merge_conflicts"`
}

// Report collects the audit buckets from the store
func (a *Assembler) Report(ctx context.Context) (Report, error) {
	st := a.Mapper.Runner.Store
	var rep Report

	recs, err := st.Records(ctx)
	if err != nil {
		return rep, err
	}
	rep.Records = len(recs)
	industry := make(map[string]string, len(recs))
	for _, r := range recs {
		industry[r.ID] = r.Industry
		if r.HasConflict() {
			rep.Conflicts = append(rep.Conflicts, r)
		}
	}

	strict := a.Mapper.Runner.Settings.StrictDomainMatch
	for _, stage := range model.Stages {
		results, err := st.Results(ctx, stage)
		if err != nil {
			return rep, err
		}
		sum := StageSummary{Stage: stage}

		ids := make([]string, 0, len(results))
		for id := range results {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			res := results[id]
			entry := Entry{Stage: stage, ItemID: id, Label: res.Label, Detail: res.Error}
			switch res.Status {
			case model.StatusError:
				sum.Errored++
			case model.StatusRejected:
				sum.Rejected++
			case model.StatusLabeled:
				sum.Labeled++
			default:
				continue
			}
			if res.Status.Blocked() {
				rep.Blocked = append(rep.Blocked, entry)
				continue
			}

			if res.Review {
				sum.Review++
				rep.Review = append(rep.Review, entry)
			}
			if reason := exclusion(stage, res, industry[id], strict); reason != "" {
				entry.Detail = reason
				rep.Excluded = append(rep.Excluded, entry)
			}
		}
		rep.Stages = append(rep.Stages, sum)
	}

	_, rep.NoEvidence, err = a.Mapper.Plan(ctx)
	if err != nil {
		return rep, err
	}

	t, err := a.Table(ctx)
	if err != nil {
		return rep, err
	}
	rep.Rows = len(t.Rows)
	rep.DefaultRows = len(t.Default().Rows)
	return rep, nil
}

// exclusion explains why a labeled item does not advance, or returns ""
func exclusion(stage string, res model.Result, retrievedFor string, strict bool) string {
	switch stage {
	case model.StageRelevance:
		if res.Label == model.LabelNotRelevant {
			return "not a decision-tree paper"
		}
	case model.StageDomain:
		if res.Label == string(model.IndustryNone) {
			return "no matching industry"
		}
		if strict && res.Label != retrievedFor {
			return fmt.Sprintf("domain %s differs from query industry %s", res.Label, retrievedFor)
		}
	case model.StageValidate:
		if res.Label == model.LabelNotUsedForTraining {
			return "not used for training"
		}
	case model.StageRegulation:
		if !strings.HasPrefix(res.Label, string(model.Regulated)+":") {
			return "not regulated"
		}
	}
	return ""
}

// Render writes the report as terminal tables, or Markdown when markdown is set
func (r Report) Render(w io.Writer, markdown bool) error {
	render := func(t table.Writer) string {
		if markdown {
			return t.RenderMarkdown()
		}
		t.SetStyle(table.StyleLight)
		return t.Render()
	}

	summary := table.NewWriter()
	summary.SetTitle(fmt.Sprintf("%d records, %d rows (%d Regulated/High)", r.Records, r.Rows, r.DefaultRows))
	summary.AppendHeader(table.Row{"Stage", "Labeled", "Rejected", "Errored", "Review"})
	for _, s := range r.Stages {
		summary.AppendRow(table.Row{s.Stage, s.Labeled, s.Rejected, s.Errored, s.Review})
	}
	summary.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})
	if _, err := fmt.Fprintln(w, render(summary)); err != nil {
		return err
	}

	buckets := []struct {
		title   string
		entries []Entry
	}{
		{"Excluded by classification", r.Excluded},
		{"Blocked by error", r.Blocked},
		{"Flagged for review", r.Review},
	}
	for _, b := range buckets {
		t := table.NewWriter()
		t.SetTitle(fmt.Sprintf("%s (%d)", b.title, len(b.entries)))
		t.AppendHeader(table.Row{"Stage", "Item", "Label", "Detail"})
		for _, e := range b.entries {
			t.AppendRow(table.Row{e.Stage, e.ItemID, e.Label, e.Detail})
		}
		t.SetColumnConfigs([]table.ColumnConfig{{Number: 4, WidthMax: 60}})
		if _, err := fmt.Fprintln(w, render(t)); err != nil {
			return err
		}
	}

	ne := table.NewWriter()
	ne.SetTitle(fmt.Sprintf("No evidence (%d)", len(r.NoEvidence)))
	ne.AppendHeader(table.Row{"Feature", "Class", "Record"})
	for _, f := range r.NoEvidence {
		ne.AppendRow(table.Row{f.Name, f.Class, f.RecordID})
	}
	if _, err := fmt.Fprintln(w, render(ne)); err != nil {
		return err
	}

	mc := table.NewWriter()
	mc.SetTitle(fmt.Sprintf("Merge conflicts (%d)", len(r.Conflicts)))
	mc.AppendHeader(table.Row{"Record", "Field", "Values"})
	for _, rec := range r.Conflicts {
		for _, c := range rec.Conflicts {
			vals := make([]string, len(c.Values))
			for i, v := range c.Values {
				vals[i] = fmt.Sprintf("%s: %s", v.Origin, v.Value)
			}
			mc.AppendRow(table.Row{rec.ID, c.Field, strings.Join(vals, " | ")})
		}
	}
	mc.SetColumnConfigs([]table.ColumnConfig{{Number: 3, WidthMax: 80}})
	_, err := fmt.Fprintln(w, render(mc))
	return err
}

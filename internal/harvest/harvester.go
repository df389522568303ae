package harvest

import (
	"context"
	"log/slog"
	"sort"

	"github.com/ppiankov/dtprivacy/internal/dedup"
	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/worker"
)

// Harvester runs the configured queries of every industry against both origins
type Harvester struct {
	Crossref   Searcher
	OpenAlex   Searcher
	Industries map[string]model.IndustryQueries
	Workers    int
	Logger     *slog.Logger
	Progress   func(industry string, origin model.Origin, n int)
}

type job struct {
	industry string
	origin   model.Origin
	queries  model.IndustryQueries
}

// Harvest returns one record set per origin, each in industry-name order.
// A failed query is logged and skipped; records gathered so far are kept.
func (h *Harvester) Harvest(ctx context.Context) (crossref, openalex []model.Record, err error) {
	names := make([]string, 0, len(h.Industries))
	for name := range h.Industries {
		names = append(names, name)
	}
	sort.Strings(names)

	var jobs []job
	for _, name := range names {
		q := h.Industries[name]
		if h.Crossref != nil && len(q.CrossrefQueries) > 0 {
			jobs = append(jobs, job{industry: name, origin: model.OriginCrossref, queries: q})
		}
		if h.OpenAlex != nil && len(q.OpenAlexQueries) > 0 {
			jobs = append(jobs, job{industry: name, origin: model.OriginOpenAlex, queries: q})
		}
	}

	outs, _, err := worker.Map(ctx, h.Workers, jobs, func(ctx context.Context, j job) ([]model.Record, error) {
		var recs []model.Record
		if j.origin == model.OriginCrossref {
			recs = h.crossref(ctx, j.industry, j.queries)
		} else {
			recs = h.openalex(ctx, j.industry, j.queries)
		}
		if h.Progress != nil {
			h.Progress(j.industry, j.origin, len(recs))
		}
		return recs, nil
	})
	if err != nil {
		return nil, nil, err
	}

	for i, j := range jobs {
		if j.origin == model.OriginCrossref {
			crossref = append(crossref, outs[i]...)
		} else {
			openalex = append(openalex, outs[i]...)
		}
	}
	return crossref, openalex, ctx.Err()
}

// crossref runs every query with the full industry cap and keeps the first hit per DOI
func (h *Harvester) crossref(ctx context.Context, industry string, q model.IndustryQueries) []model.Record {
	var out []model.Record
	seen := make(map[string]bool)
	for _, query := range q.CrossrefQueries {
		hits, err := h.Crossref.Search(ctx, query, q.MaxRecords)
		if err != nil {
			h.logger().Warn("crossref query failed", "industry", industry, "query", query, "kept", len(hits), "error", err)
		}
		for _, rec := range MapResults(hits, industry, h.logger()) {
			if key := dedup.NormalizeDOI(rec.DOI); key != "" {
				if seen[key] {
					continue
				}
				seen[key] = true
			}
			out = append(out, rec)
		}
	}
	return out
}

// openalex spreads the industry cap over the queries still to run and keeps
// the first hit per work id
func (h *Harvester) openalex(ctx context.Context, industry string, q model.IndustryQueries) []model.Record {
	var out []model.Record
	seen := make(map[string]bool)
	for i, query := range q.OpenAlexQueries {
		needed := q.MaxRecords - len(out)
		if needed <= 0 {
			break
		}
		remaining := len(q.OpenAlexQueries) - i
		perQuery := (needed + remaining - 1) / remaining

		hits, err := h.OpenAlex.Search(ctx, query, perQuery)
		if err != nil {
			h.logger().Warn("openalex query failed", "industry", industry, "query", query, "kept", len(hits), "error", err)
		}
		for _, rec := range MapResults(hits, industry, h.logger()) {
			if seen[rec.SourceID] {
				continue
			}
			seen[rec.SourceID] = true
			out = append(out, rec)
		}
	}
	if len(out) > q.MaxRecords {
		out = out[:max(q.MaxRecords, 0)]
	}
	return out
}

func (h *Harvester) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

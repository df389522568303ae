// Package stages wires the generic classification stage into the five
// feature-corpus steps: relevance, domain, extraction, validation and
// attribute classification.
package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ppiankov/dtprivacy/internal/classify"
	"github.com/ppiankov/dtprivacy/internal/extract"
	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/oracle"
	"github.com/ppiankov/dtprivacy/internal/store"
)

// Label sets of the record and feature stages
var (
	RelevanceLabels = oracle.Closed(model.StageRelevance, model.LabelRelevant, model.LabelNotRelevant)
	ExtractLabels   = oracle.OpenSet(model.StageExtract)
	ValidateLabels  = oracle.Closed(model.StageValidate, model.LabelUsedForTraining, model.LabelNotUsedForTraining)
	DomainLabels    = oracle.Closed(model.StageDomain, industryLabels()...)
	AttributeLabels = oracle.Closed(model.StageAttribute, classLabels()...)
)

func industryLabels() []string {
	out := make([]string, len(model.Industries))
	for i, in := range model.Industries {
		out[i] = string(in)
	}
	return out
}

func classLabels() []string {
	out := make([]string, len(model.AttributeClasses))
	for i, c := range model.AttributeClasses {
		out[i] = string(c)
	}
	return out
}

// Runner runs the pipeline steps against one store
type Runner struct {
	Oracle   oracle.Oracle
	Store    store.Store
	Settings model.StagesConfig
	Workers  int
	Force    bool
	Logger   *slog.Logger
	Progress func(stage string, done, total int)
}

// Stage builds the generic stage for name with the runner's settings
func (r *Runner) Stage(name string, labels oracle.LabelSet) *classify.Stage {
	s := &classify.Stage{
		Name:              name,
		Labels:            labels,
		Instructions:      Instructions(r.Settings, name),
		Oracle:            r.Oracle,
		Store:             r.Store,
		BatchSize:         r.Settings.BatchSize,
		Workers:           r.Workers,
		MaxAttempts:       r.Settings.MaxAttempts,
		ViolationAttempts: r.Settings.ViolationAttempts,
		Backoff:           r.Settings.Backoff,
		Force:             r.Force,
		Logger:            r.Logger,
	}
	if r.Progress != nil {
		s.Progress = func(done, total int) { r.Progress(name, done, total) }
	}
	return s
}

// Relevance keeps records presenting or applying a decision-tree algorithm
func (r *Runner) Relevance(ctx context.Context) ([]model.Result, error) {
	recs, err := r.Store.Records(ctx)
	if err != nil {
		return nil, err
	}
	return r.Stage(model.StageRelevance, RelevanceLabels).Run(ctx, recordItems(recs))
}

// Domain assigns an industry to every relevant record
func (r *Runner) Domain(ctx context.Context) ([]model.Result, error) {
	recs, err := r.relevant(ctx)
	if err != nil {
		return nil, err
	}
	return r.Stage(model.StageDomain, DomainLabels).Run(ctx, recordItems(recs))
}

// Extract lists the training features of every record with a validated domain
func (r *Runner) Extract(ctx context.Context) ([]model.Result, error) {
	recs, err := r.DomainRecords(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.Record, len(recs))
	for _, rec := range recs {
		byID[rec.ID] = rec
	}

	s := r.Stage(model.StageExtract, ExtractLabels)
	s.OnResult = func(ctx context.Context, it classify.Item, names []string, res *model.Result) error {
		rec := byID[it.ID]
		fs := BuildFeatures(rec, names)
		prior, err := r.validatedIDs(ctx, rec.ID)
		if err != nil {
			return err
		}
		for i, f := range fs {
			if !f.Grounded {
				res.Review = true
			}
			fs[i].Validated = prior[f.ID]
		}
		return r.Store.ReplaceFeatures(ctx, rec.ID, fs)
	}
	return s.Run(ctx, recordItems(recs))
}

// DomainRecords returns the relevant records whose domain is a real industry.
// With strict domain matching the domain must also equal the retrieving industry.
func (r *Runner) DomainRecords(ctx context.Context) ([]model.Record, error) {
	recs, err := r.relevant(ctx)
	if err != nil {
		return nil, err
	}
	return r.passing(ctx, recs, model.StageDomain, func(res model.Result, rec model.Record) bool {
		if res.Status != model.StatusLabeled || res.Label == string(model.IndustryNone) {
			return false
		}
		return !r.Settings.StrictDomainMatch || res.Label == rec.Industry
	})
}

// BuildFeatures turns raw extracted names into the record's features.
// Names collapse on their normalized key; the record id always comes from rec.
func BuildFeatures(rec model.Record, names []string) []model.Feature {
	var fs []model.Feature
	seen := make(map[string]bool)
	for _, raw := range names {
		key := extract.NormalizeKey(raw)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		evidence, grounded := extract.FindEvidence(rec.Abstract, raw)
		fs = append(fs, model.Feature{
			ID:       model.FeatureID(rec.ID, key),
			RecordID: rec.ID,
			Name:     extract.SanitizeName(raw),
			Key:      key,
			Evidence: evidence,
			Grounded: grounded,
		})
	}
	return fs
}

// Validate confirms each extracted feature was used to train the model
func (r *Runner) Validate(ctx context.Context) ([]model.Result, error) {
	fs, recs, err := r.extractedFeatures(ctx)
	if err != nil {
		return nil, err
	}

	s := r.Stage(model.StageValidate, ValidateLabels)
	s.OnResult = func(ctx context.Context, it classify.Item, labels []string, res *model.Result) error {
		return r.Store.SetFeatureValidated(ctx, it.ID, res.Label == model.LabelUsedForTraining)
	}
	return s.Run(ctx, featureItems(fs, recs))
}

// Attribute assigns an attribute class to each validated feature
func (r *Runner) Attribute(ctx context.Context) ([]model.Result, error) {
	fs, recs, err := r.validatedFeatures(ctx)
	if err != nil {
		return nil, err
	}

	s := r.Stage(model.StageAttribute, AttributeLabels)
	s.Fallback = string(model.ClassOther)
	return s.Run(ctx, featureItems(fs, recs))
}

// Attributed returns the validated features with their attribute class
func (r *Runner) Attributed(ctx context.Context) ([]model.AttributedFeature, map[string]model.Record, error) {
	fs, recs, err := r.validatedFeatures(ctx)
	if err != nil {
		return nil, nil, err
	}
	results, err := r.Store.Results(ctx, model.StageAttribute)
	if err != nil {
		return nil, nil, err
	}

	var out []model.AttributedFeature
	for _, f := range fs {
		res, ok := results[f.ID]
		if !ok || res.Status != model.StatusLabeled {
			continue
		}
		class, err := model.ParseAttributeClass(res.Label)
		if err != nil {
			r.logger().Warn("stored attribute class outside vocabulary", "feature", f.ID, "error", err)
			continue
		}
		out = append(out, model.AttributedFeature{Feature: f, Class: class, Review: res.Review})
	}
	return out, recs, nil
}

// extractedFeatures returns features of records whose extraction is current
func (r *Runner) extractedFeatures(ctx context.Context) ([]model.Feature, map[string]model.Record, error) {
	recs, err := r.DomainRecords(ctx)
	if err != nil {
		return nil, nil, err
	}
	extracted, err := r.Store.Results(ctx, model.StageExtract)
	if err != nil {
		return nil, nil, err
	}

	byID := make(map[string]model.Record)
	for _, rec := range recs {
		if extracted[rec.ID].Status == model.StatusLabeled {
			byID[rec.ID] = rec
		}
	}

	all, err := r.Store.Features(ctx)
	if err != nil {
		return nil, nil, err
	}
	var fs []model.Feature
	for _, f := range all {
		if _, ok := byID[f.RecordID]; ok {
			fs = append(fs, f)
		}
	}
	return fs, byID, nil
}

func (r *Runner) validatedFeatures(ctx context.Context) ([]model.Feature, map[string]model.Record, error) {
	fs, recs, err := r.extractedFeatures(ctx)
	if err != nil {
		return nil, nil, err
	}
	validated, err := r.Store.Results(ctx, model.StageValidate)
	if err != nil {
		return nil, nil, err
	}

	var out []model.Feature
	for _, f := range fs {
		if f.Validated && validated[f.ID].Is(model.LabelUsedForTraining) {
			out = append(out, f)
		}
	}
	return out, recs, nil
}

// validatedIDs returns the stored features of recordID that passed validation,
// so a re-extraction keeps the flag in step with the terminal validate result.
func (r *Runner) validatedIDs(ctx context.Context, recordID string) (map[string]bool, error) {
	all, err := r.Store.Features(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for _, f := range all {
		if f.RecordID == recordID && f.Validated {
			out[f.ID] = true
		}
	}
	return out, nil
}

// relevant returns the records labeled Relevant
func (r *Runner) relevant(ctx context.Context) ([]model.Record, error) {
	recs, err := r.Store.Records(ctx)
	if err != nil {
		return nil, err
	}
	return r.passing(ctx, recs, model.StageRelevance, func(res model.Result, _ model.Record) bool {
		return res.Is(model.LabelRelevant)
	})
}

// passing filters recs by their result at stage
func (r *Runner) passing(ctx context.Context, recs []model.Record, stage string, keep func(model.Result, model.Record) bool) ([]model.Record, error) {
	results, err := r.Store.Results(ctx, stage)
	if err != nil {
		return nil, fmt.Errorf("load %s results: %w", stage, err)
	}

	var out []model.Record
	for _, rec := range recs {
		if res, ok := results[rec.ID]; ok && keep(res, rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func recordItems(recs []model.Record) []classify.Item {
	out := make([]classify.Item, len(recs))
	for i, rec := range recs {
		out[i] = classify.Item{ID: rec.ID, Text: rec.ClassifierText()}
	}
	return out
}

func featureItems(fs []model.Feature, recs map[string]model.Record) []classify.Item {
	out := make([]classify.Item, len(fs))
	for i, f := range fs {
		out[i] = classify.Item{ID: f.ID, Text: f.ClassifierText(recs[f.RecordID])}
	}
	return out
}

// Package store persists records, stage results, features, excerpts,
// judgments and run audit entries. Every write is an upsert so that stages
// can be re-entered after a crash or a forced re-run.
package store

import (
	"context"
	"fmt"

	"github.com/ppiankov/dtprivacy/internal/model"
)

// Store is the pipeline's only shared mutable state
type Store interface {
	// PutRecords upserts records by ID, keeping first-insertion order
	PutRecords(ctx context.Context, recs []model.Record) error
	Records(ctx context.Context) ([]model.Record, error)
	Record(ctx context.Context, id string) (model.Record, bool, error)

	// PutResult upserts on (item id, stage)
	PutResult(ctx context.Context, r model.Result) error
	Results(ctx context.Context, stage string) (map[string]model.Result, error)

	// ReplaceFeatures swaps the full feature list of one record
	ReplaceFeatures(ctx context.Context, recordID string, fs []model.Feature) error
	Features(ctx context.Context) ([]model.Feature, error)
	SetFeatureValidated(ctx context.Context, featureID string, validated bool) error

	// PutExcerpts replaces the excerpt corpus
	PutExcerpts(ctx context.Context, ex []model.Excerpt) error
	Excerpts(ctx context.Context) ([]model.Excerpt, error)

	PutJudgment(ctx context.Context, j model.Judgment) error
	Judgments(ctx context.Context) ([]model.Judgment, error)

	PutRun(ctx context.Context, run model.Run) error
	Runs(ctx context.Context, stage string) ([]model.Run, error)

	Close() error
}

// wrap tags a persistence failure with model.ErrStore
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", model.ErrStore, op, err)
}

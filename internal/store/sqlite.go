package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ppiankov/dtprivacy/internal/model"

	_ "modernc.org/sqlite"
)

// SQLite implements Store on a single-connection SQLite database
type SQLite struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema
func Open(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, wrap("create store dir", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open sqlite", err)
	}
	return newSQLite(db)
}

// OpenMemory opens a private in-memory database
func OpenMemory() (*SQLite, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, wrap("open memory sqlite", err)
	}
	return newSQLite(db)
}

func newSQLite(db *sql.DB) (*SQLite, error) {
	// One connection: writers are serialized and :memory: stays a single database
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrap("ping sqlite", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, wrap(pragma, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			doi TEXT NOT NULL DEFAULT '',
			origin TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			data JSON NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_doi ON records(doi)`,
		`CREATE TABLE IF NOT EXISTS stage_results (
			item_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			label TEXT NOT NULL DEFAULT '',
			rationale TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			review INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL,
			PRIMARY KEY (item_id, stage)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stage_results_stage ON stage_results(stage)`,
		`CREATE TABLE IF NOT EXISTS features (
			id TEXT PRIMARY KEY,
			record_id TEXT NOT NULL,
			name TEXT NOT NULL,
			name_key TEXT NOT NULL,
			evidence TEXT NOT NULL DEFAULT '',
			grounded INTEGER NOT NULL DEFAULT 0,
			validated INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_features_record ON features(record_id)`,
		`CREATE TABLE IF NOT EXISTS excerpts (
			id TEXT PRIMARY KEY,
			regulation TEXT NOT NULL,
			attribute_class TEXT NOT NULL,
			passage TEXT NOT NULL,
			source_document TEXT NOT NULL DEFAULT '',
			article_ref TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS judgments (
			id TEXT PRIMARY KEY,
			feature_id TEXT NOT NULL,
			record_id TEXT NOT NULL,
			feature_name TEXT NOT NULL,
			attribute_class TEXT NOT NULL,
			regulation TEXT NOT NULL,
			excerpt_ids JSON NOT NULL,
			article_ref TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			confidence TEXT NOT NULL,
			rationale TEXT NOT NULL DEFAULT '',
			run_id TEXT NOT NULL DEFAULT '',
			judged_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			stage TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL DEFAULT '',
			items INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0,
			labeled INTEGER NOT NULL DEFAULT 0,
			rejected INTEGER NOT NULL DEFAULT 0,
			errored INTEGER NOT NULL DEFAULT 0,
			canceled INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return wrap("migrate", err)
		}
	}
	return nil
}

// Close closes the database
func (s *SQLite) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PutRecords implements Store
func (s *SQLite) PutRecords(ctx context.Context, recs []model.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin put records", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (id, doi, origin, title, data)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doi = excluded.doi, origin = excluded.origin,
			title = excluded.title, data = excluded.data`)
	if err != nil {
		return wrap("prepare put records", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range recs {
		data, err := json.Marshal(r)
		if err != nil {
			return wrap("marshal record "+r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.DOI, string(r.Origin), r.Title, string(data)); err != nil {
			return wrap("put record "+r.ID, err)
		}
	}

	return wrap("commit put records", tx.Commit())
}

// Records implements Store
func (s *SQLite) Records(ctx context.Context) ([]model.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM records ORDER BY rowid`)
	if err != nil {
		return nil, wrap("query records", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, wrap("scan record", err)
		}
		var r model.Record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, wrap("decode record", err)
		}
		out = append(out, r)
	}
	return out, wrap("iterate records", rows.Err())
}

// Record implements Store
func (s *SQLite) Record(ctx context.Context, id string) (model.Record, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Record{}, false, nil
	}
	if err != nil {
		return model.Record{}, false, wrap("get record", err)
	}
	var r model.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return model.Record{}, false, wrap("decode record", err)
	}
	return r, true, nil
}

// PutResult implements Store
func (s *SQLite) PutResult(ctx context.Context, r model.Result) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO stage_results
		(item_id, stage, label, rationale, status, review, attempts, error, run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, stage) DO UPDATE SET
			label = excluded.label, rationale = excluded.rationale, status = excluded.status,
			review = excluded.review, attempts = excluded.attempts, error = excluded.error,
			run_id = excluded.run_id, updated_at = excluded.updated_at`,
		r.ItemID, r.Stage, r.Label, r.Rationale, string(r.Status), boolInt(r.Review),
		r.Attempts, r.Error, r.RunID, formatTime(r.UpdatedAt),
	)
	return wrap("put result", err)
}

// Results implements Store
func (s *SQLite) Results(ctx context.Context, stage string) (map[string]model.Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, stage, label, rationale, status, review,
		attempts, error, run_id, updated_at FROM stage_results WHERE stage = ?`, stage)
	if err != nil {
		return nil, wrap("query results", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]model.Result)
	for rows.Next() {
		var r model.Result
		var status, updated string
		var review int
		if err := rows.Scan(&r.ItemID, &r.Stage, &r.Label, &r.Rationale, &status, &review,
			&r.Attempts, &r.Error, &r.RunID, &updated); err != nil {
			return nil, wrap("scan result", err)
		}
		r.Status = model.ResultStatus(status)
		r.Review = review != 0
		r.UpdatedAt = parseTime(updated)
		out[r.ItemID] = r
	}
	return out, wrap("iterate results", rows.Err())
}

// ReplaceFeatures implements Store
func (s *SQLite) ReplaceFeatures(ctx context.Context, recordID string, fs []model.Feature) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin replace features", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM features WHERE record_id = ?`, recordID); err != nil {
		return wrap("delete features", err)
	}
	for _, f := range fs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO features
			(id, record_id, name, name_key, evidence, grounded, validated) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID, recordID, f.Name, f.Key, f.Evidence, boolInt(f.Grounded), boolInt(f.Validated)); err != nil {
			return wrap("insert feature "+f.ID, err)
		}
	}
	return wrap("commit replace features", tx.Commit())
}

// Features implements Store
func (s *SQLite) Features(ctx context.Context) ([]model.Feature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record_id, name, name_key, evidence, grounded, validated
		FROM features ORDER BY rowid`)
	if err != nil {
		return nil, wrap("query features", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Feature
	for rows.Next() {
		var f model.Feature
		var grounded, validated int
		if err := rows.Scan(&f.ID, &f.RecordID, &f.Name, &f.Key, &f.Evidence, &grounded, &validated); err != nil {
			return nil, wrap("scan feature", err)
		}
		f.Grounded = grounded != 0
		f.Validated = validated != 0
		out = append(out, f)
	}
	return out, wrap("iterate features", rows.Err())
}

// SetFeatureValidated implements Store
func (s *SQLite) SetFeatureValidated(ctx context.Context, featureID string, validated bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE features SET validated = ? WHERE id = ?`, boolInt(validated), featureID)
	if err != nil {
		return wrap("set feature validated", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wrap("set feature validated", fmt.Errorf("unknown feature %q", featureID))
	}
	return nil
}

// PutExcerpts implements Store
func (s *SQLite) PutExcerpts(ctx context.Context, ex []model.Excerpt) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("begin put excerpts", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM excerpts`); err != nil {
		return wrap("clear excerpts", err)
	}
	for _, e := range ex {
		if _, err := tx.ExecContext(ctx, `INSERT INTO excerpts
			(id, regulation, attribute_class, passage, source_document, article_ref) VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.Regulation, string(e.AttributeClass), e.Passage, e.SourceDocument, e.ArticleRef); err != nil {
			return wrap("insert excerpt "+e.ID, err)
		}
	}
	return wrap("commit put excerpts", tx.Commit())
}

// Excerpts implements Store
func (s *SQLite) Excerpts(ctx context.Context) ([]model.Excerpt, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, regulation, attribute_class, passage, source_document, article_ref
		FROM excerpts ORDER BY rowid`)
	if err != nil {
		return nil, wrap("query excerpts", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Excerpt
	for rows.Next() {
		var e model.Excerpt
		var class string
		if err := rows.Scan(&e.ID, &e.Regulation, &class, &e.Passage, &e.SourceDocument, &e.ArticleRef); err != nil {
			return nil, wrap("scan excerpt", err)
		}
		e.AttributeClass = model.AttributeClass(class)
		out = append(out, e)
	}
	return out, wrap("iterate excerpts", rows.Err())
}

// PutJudgment implements Store
func (s *SQLite) PutJudgment(ctx context.Context, j model.Judgment) error {
	ids, err := json.Marshal(j.ExcerptIDs)
	if err != nil {
		return wrap("marshal excerpt ids", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO judgments
		(id, feature_id, record_id, feature_name, attribute_class, regulation, excerpt_ids,
		 article_ref, status, confidence, rationale, run_id, judged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			feature_name = excluded.feature_name, attribute_class = excluded.attribute_class,
			regulation = excluded.regulation, excerpt_ids = excluded.excerpt_ids,
			article_ref = excluded.article_ref, status = excluded.status,
			confidence = excluded.confidence, rationale = excluded.rationale,
			run_id = excluded.run_id, judged_at = excluded.judged_at`,
		j.ID, j.FeatureID, j.RecordID, j.FeatureName, string(j.AttributeClass), j.Regulation, string(ids),
		j.ArticleRef, string(j.Status), string(j.Confidence), j.Rationale, j.RunID, formatTime(j.JudgedAt),
	)
	return wrap("put judgment", err)
}

// Judgments implements Store
func (s *SQLite) Judgments(ctx context.Context) ([]model.Judgment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, feature_id, record_id, feature_name, attribute_class,
		regulation, excerpt_ids, article_ref, status, confidence, rationale, run_id, judged_at
		FROM judgments ORDER BY rowid`)
	if err != nil {
		return nil, wrap("query judgments", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Judgment
	for rows.Next() {
		var j model.Judgment
		var class, ids, status, confidence, judged string
		if err := rows.Scan(&j.ID, &j.FeatureID, &j.RecordID, &j.FeatureName, &class, &j.Regulation,
			&ids, &j.ArticleRef, &status, &confidence, &j.Rationale, &j.RunID, &judged); err != nil {
			return nil, wrap("scan judgment", err)
		}
		if err := json.Unmarshal([]byte(ids), &j.ExcerptIDs); err != nil {
			return nil, wrap("decode excerpt ids", err)
		}
		j.AttributeClass = model.AttributeClass(class)
		j.Status = model.RegulationStatus(status)
		j.Confidence = model.Confidence(confidence)
		j.JudgedAt = parseTime(judged)
		out = append(out, j)
	}
	return out, wrap("iterate judgments", rows.Err())
}

// PutRun implements Store
func (s *SQLite) PutRun(ctx context.Context, run model.Run) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(id, stage, started_at, finished_at, items, skipped, labeled, rejected, errored, canceled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at, items = excluded.items, skipped = excluded.skipped,
			labeled = excluded.labeled, rejected = excluded.rejected, errored = excluded.errored,
			canceled = excluded.canceled`,
		run.ID, run.Stage, formatTime(run.StartedAt), formatTime(run.FinishedAt),
		run.Items, run.Skipped, run.Labeled, run.Rejected, run.Errored, boolInt(run.Canceled),
	)
	return wrap("put run", err)
}

// Runs implements Store, most recent first
func (s *SQLite) Runs(ctx context.Context, stage string) ([]model.Run, error) {
	query := `SELECT id, stage, started_at, finished_at, items, skipped, labeled, rejected, errored, canceled
		FROM runs`
	var args []any
	if stage != "" {
		query += ` WHERE stage = ?`
		args = append(args, stage)
	}
	query += ` ORDER BY started_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("query runs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Run
	for rows.Next() {
		var r model.Run
		var started, finished string
		var canceled int
		if err := rows.Scan(&r.ID, &r.Stage, &started, &finished, &r.Items, &r.Skipped,
			&r.Labeled, &r.Rejected, &r.Errored, &canceled); err != nil {
			return nil, wrap("scan run", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		r.Canceled = canceled != 0
		out = append(out, r)
	}
	return out, wrap("iterate runs", rows.Err())
}

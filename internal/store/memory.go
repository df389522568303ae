package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/dtprivacy/internal/model"
)

// Memory is an in-process Store for tests and dry runs
type Memory struct {
	mu        sync.RWMutex
	records   []model.Record
	recordIdx map[string]int
	results   map[string]map[string]model.Result // stage -> item -> result
	features  []model.Feature
	excerpts  []model.Excerpt
	judgments []model.Judgment
	judgIdx   map[string]int
	runs      map[string]model.Run

	// FailPuts makes every subsequent PutResult fail after the given count; -1 disables
	FailPuts int
	puts     int
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		recordIdx: make(map[string]int),
		results:   make(map[string]map[string]model.Result),
		judgIdx:   make(map[string]int),
		runs:      make(map[string]model.Run),
		FailPuts:  -1,
	}
}

// PutRecords implements Store
func (m *Memory) PutRecords(ctx context.Context, recs []model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		if i, ok := m.recordIdx[r.ID]; ok {
			m.records[i] = r
			continue
		}
		m.recordIdx[r.ID] = len(m.records)
		m.records = append(m.records, r)
	}
	return nil
}

// Records implements Store
func (m *Memory) Records(ctx context.Context) ([]model.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Record(nil), m.records...), nil
}

// Record implements Store
func (m *Memory) Record(ctx context.Context, id string) (model.Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i, ok := m.recordIdx[id]
	if !ok {
		return model.Record{}, false, nil
	}
	return m.records[i], true, nil
}

// PutResult implements Store
func (m *Memory) PutResult(ctx context.Context, r model.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPuts >= 0 && m.puts >= m.FailPuts {
		return wrap("put result", fmt.Errorf("injected failure"))
	}
	m.puts++
	byItem, ok := m.results[r.Stage]
	if !ok {
		byItem = make(map[string]model.Result)
		m.results[r.Stage] = byItem
	}
	byItem[r.ItemID] = r
	return nil
}

// Results implements Store
func (m *Memory) Results(ctx context.Context, stage string) (map[string]model.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]model.Result, len(m.results[stage]))
	for k, v := range m.results[stage] {
		out[k] = v
	}
	return out, nil
}

// ReplaceFeatures implements Store
func (m *Memory) ReplaceFeatures(ctx context.Context, recordID string, fs []model.Feature) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.features[:0:0]
	for _, f := range m.features {
		if f.RecordID != recordID {
			kept = append(kept, f)
		}
	}
	for _, f := range fs {
		f.RecordID = recordID
		kept = append(kept, f)
	}
	m.features = kept
	return nil
}

// Features implements Store
func (m *Memory) Features(ctx context.Context) ([]model.Feature, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Feature(nil), m.features...), nil
}

// SetFeatureValidated implements Store
func (m *Memory) SetFeatureValidated(ctx context.Context, featureID string, validated bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.features {
		if m.features[i].ID == featureID {
			m.features[i].Validated = validated
			return nil
		}
	}
	return wrap("set feature validated", fmt.Errorf("unknown feature %q", featureID))
}

// PutExcerpts implements Store
func (m *Memory) PutExcerpts(ctx context.Context, ex []model.Excerpt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.excerpts = append([]model.Excerpt(nil), ex...)
	return nil
}

// Excerpts implements Store
func (m *Memory) Excerpts(ctx context.Context) ([]model.Excerpt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Excerpt(nil), m.excerpts...), nil
}

// PutJudgment implements Store
func (m *Memory) PutJudgment(ctx context.Context, j model.Judgment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.judgIdx[j.ID]; ok {
		m.judgments[i] = j
		return nil
	}
	m.judgIdx[j.ID] = len(m.judgments)
	m.judgments = append(m.judgments, j)
	return nil
}

// Judgments implements Store
func (m *Memory) Judgments(ctx context.Context) ([]model.Judgment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.Judgment(nil), m.judgments...), nil
}

// PutRun implements Store
func (m *Memory) PutRun(ctx context.Context, run model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

// Runs implements Store, most recent first
func (m *Memory) Runs(ctx context.Context, stage string) ([]model.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Run
	for _, r := range m.runs {
		if stage == "" || r.Stage == stage {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Close implements Store
func (m *Memory) Close() error { return nil }

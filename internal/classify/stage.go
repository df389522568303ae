// Package classify implements the generic, resumable classification stage
// every pipeline step is built on.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/oracle"
	"github.com/ppiankov/dtprivacy/internal/store"
	"github.com/ppiankov/dtprivacy/internal/worker"
)

// Item is one unit of work for a stage
type Item struct {
	ID   string
	Text string
}

// Hook runs after an item is labeled and before its result is persisted.
// It may adjust the result (typically the Review flag). An error is fatal.
type Hook func(ctx context.Context, item Item, labels []string, res *model.Result) error

// Stage classifies items against a label set and checkpoints every result
type Stage struct {
	Name         string
	Labels       oracle.LabelSet
	Instructions string
	Oracle       oracle.Oracle
	Store        store.Store

	BatchSize         int           // items per oracle call (default 1)
	Workers           int           // concurrent oracle calls (default 1)
	MaxAttempts       int           // transport attempts per item (default 3)
	ViolationAttempts int           // answers outside the vocabulary tolerated per item (default 2)
	Backoff           time.Duration // first retry delay, doubled per attempt

	// Fallback is assigned, with the review flag, once violations are exhausted.
	// Empty means the item is rejected instead.
	Fallback string
	Force    bool // re-judge items that already have a terminal result

	OnResult Hook
	Progress func(done, total int)
	Logger   *slog.Logger

	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time

	locks *worker.KeyedMutex
}

// Run classifies items and returns one result per item, in input order.
//
// A store or hook failure aborts the run and is returned. When ctx is
// canceled the finished results stay persisted, the remaining items come back
// unclassified and ctx.Err() is returned.
func (s *Stage) Run(ctx context.Context, items []Item) ([]model.Result, error) {
	s.defaults()

	run := model.Run{ID: uuid.NewString(), Stage: s.Name, StartedAt: s.Now(), Items: len(items)}
	log := s.Logger.With("stage", s.Name, "run_id", run.ID)

	existing, err := s.Store.Results(ctx, s.Name)
	if err != nil {
		return nil, err
	}

	out := make([]model.Result, len(items))
	var pending []int
	for i, it := range items {
		if r, ok := existing[it.ID]; ok && r.Status.Terminal() && !s.Force {
			out[i] = r
			run.Skipped++
			continue
		}
		pending = append(pending, i)
	}
	log.Info("stage started", "items", len(items), "pending", len(pending), "skipped", run.Skipped)

	var batches [][]int
	for start := 0; start < len(pending); start += s.BatchSize {
		end := min(start+s.BatchSize, len(pending))
		batches = append(batches, pending[start:end])
	}

	var done atomic.Int64
	batchOut, started, err := worker.Map(ctx, s.Workers, batches, func(ctx context.Context, idx []int) ([]model.Result, error) {
		batch := make([]Item, len(idx))
		for j, i := range idx {
			batch[j] = items[i]
		}
		res, err := s.runBatch(ctx, run.ID, batch)
		if s.Progress != nil {
			s.Progress(int(done.Add(int64(len(batch)))), len(pending))
		}
		return res, err
	})

	for b, idx := range batches {
		for j, i := range idx {
			if started[b] && batchOut[b] != nil {
				out[i] = batchOut[b][j]
				continue
			}
			out[i] = s.unclassified(items[i].ID, run.ID)
		}
	}

	for _, i := range pending {
		switch out[i].Status {
		case model.StatusLabeled:
			run.Labeled++
		case model.StatusRejected:
			run.Rejected++
		case model.StatusError:
			run.Errored++
		}
	}
	run.Canceled = ctx.Err() != nil
	run.FinishedAt = s.Now()

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Error("stage aborted", "error", err)
		return out, err
	}

	if perr := s.Store.PutRun(context.WithoutCancel(ctx), run); perr != nil {
		return out, perr
	}
	log.Info("stage finished",
		"labeled", run.Labeled, "rejected", run.Rejected, "errored", run.Errored, "canceled", run.Canceled)

	if cerr := ctx.Err(); cerr != nil {
		return out, cerr
	}
	return out, nil
}

func (s *Stage) defaults() {
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.Workers < 1 {
		s.Workers = 1
	}
	if s.MaxAttempts < 1 {
		s.MaxAttempts = 3
	}
	if s.ViolationAttempts < 1 {
		s.ViolationAttempts = 2
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Sleep == nil {
		s.Sleep = sleep
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.locks == nil {
		s.locks = worker.NewKeyedMutex()
	}
}

// runBatch judges a batch once, then settles every item individually
func (s *Stage) runBatch(ctx context.Context, runID string, batch []Item) ([]model.Result, error) {
	texts := make([]string, len(batch))
	for i, it := range batch {
		texts[i] = it.Text
	}

	verdicts, err := s.Oracle.Judge(ctx, texts, s.Instructions, s.Labels)
	if err == nil && len(verdicts) != len(batch) {
		err = fmt.Errorf("oracle returned %d verdicts for %d items", len(verdicts), len(batch))
	}

	out := make([]model.Result, len(batch))
	for i, it := range batch {
		first := oracle.Verdict{Err: err}
		if err == nil {
			first = verdicts[i]
		}

		res, labels := s.settle(ctx, it, first)
		res.RunID = runID
		if res.Status == model.StatusUnclassified {
			out[i] = res
			continue
		}
		if err := s.persist(ctx, it, labels, &res); err != nil {
			// Items already persisted keep their results
			for j := i; j < len(batch); j++ {
				out[j] = s.unclassified(batch[j].ID, runID)
			}
			return out, err
		}
		out[i] = res
	}
	return out, nil
}

// settle retries an item until it is labeled, rejected, errored or canceled
func (s *Stage) settle(ctx context.Context, it Item, v oracle.Verdict) (model.Result, []string) {
	res := model.Result{ItemID: it.ID, Stage: s.Name}
	failures, violations := 0, 0

	for {
		res.Attempts++
		if ctx.Err() != nil {
			return s.unclassified(it.ID, ""), nil
		}

		if v.Err != nil {
			if errors.Is(v.Err, context.Canceled) || errors.Is(v.Err, context.DeadlineExceeded) {
				return s.unclassified(it.ID, ""), nil
			}
			failures++
			if failures >= s.MaxAttempts {
				res.Status = model.StatusError
				res.Error = fmt.Errorf("%w: %s: %w", model.ErrClassification, s.Name, v.Err).Error()
				res.UpdatedAt = s.Now()
				s.Logger.Warn("item failed", "stage", s.Name, "item", it.ID, "attempts", res.Attempts, "error", v.Err)
				return res, nil
			}
			if err := s.Sleep(ctx, s.Backoff<<(failures-1)); err != nil {
				return s.unclassified(it.ID, ""), nil
			}
			v = s.judgeOne(ctx, it)
			continue
		}

		labels, ok := s.canonical(v)
		if ok {
			res.Status = model.StatusLabeled
			res.Label = strings.Join(labels, "; ")
			res.Rationale = v.Rationale
			res.UpdatedAt = s.Now()
			return res, labels
		}

		violations++
		if violations >= s.ViolationAttempts {
			res.Rationale = v.Rationale
			res.Review = true
			res.UpdatedAt = s.Now()
			violation := fmt.Errorf("%w: %s answered %q", model.ErrSchemaViolation, s.Name, strings.Join(v.Labels, ", "))
			res.Error = violation.Error()
			if s.Fallback != "" {
				res.Status = model.StatusLabeled
				res.Label = s.Fallback
				return res, []string{s.Fallback}
			}
			res.Status = model.StatusRejected
			return res, nil
		}
		v = s.judgeOne(ctx, it)
	}
}

func (s *Stage) judgeOne(ctx context.Context, it Item) oracle.Verdict {
	vs, err := s.Oracle.Judge(ctx, []string{it.Text}, s.Instructions, s.Labels)
	if err != nil {
		return oracle.Verdict{Err: err}
	}
	if len(vs) != 1 {
		return oracle.Verdict{Err: fmt.Errorf("oracle returned %d verdicts for 1 item", len(vs))}
	}
	return vs[0]
}

// canonical maps verdict labels into the vocabulary. Closed sets need exactly one label.
func (s *Stage) canonical(v oracle.Verdict) ([]string, bool) {
	if !s.Labels.Valid(v) {
		return nil, false
	}
	if !s.Labels.Open && len(v.Labels) != 1 {
		return nil, false
	}

	labels := make([]string, 0, len(v.Labels))
	for _, l := range v.Labels {
		c, _ := s.Labels.Canonical(l)
		labels = append(labels, c)
	}
	return labels, true
}

// persist runs the hook and stores the result under the item's lock.
// A judged item is written even if ctx was canceled meanwhile.
func (s *Stage) persist(ctx context.Context, it Item, labels []string, res *model.Result) error {
	ctx = context.WithoutCancel(ctx)

	unlock := s.locks.Lock(it.ID)
	defer unlock()

	if s.OnResult != nil && res.Status == model.StatusLabeled {
		if err := s.OnResult(ctx, it, labels, res); err != nil {
			return fmt.Errorf("%s hook for %s: %w", s.Name, it.ID, err)
		}
	}
	return s.Store.PutResult(ctx, *res)
}

func (s *Stage) unclassified(id, runID string) model.Result {
	return model.Result{ItemID: id, Stage: s.Name, Status: model.StatusUnclassified, RunID: runID}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

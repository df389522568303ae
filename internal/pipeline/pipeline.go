// Package pipeline wires the store, the oracle and every stage into one
// ordered run, from raw search results to the assembled corpus.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/ppiankov/dtprivacy/internal/assemble"
	"github.com/ppiankov/dtprivacy/internal/cache"
	"github.com/ppiankov/dtprivacy/internal/dedup"
	"github.com/ppiankov/dtprivacy/internal/harvest"
	"github.com/ppiankov/dtprivacy/internal/llm"
	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/oracle"
	"github.com/ppiankov/dtprivacy/internal/regulation"
	"github.com/ppiankov/dtprivacy/internal/stages"
	"github.com/ppiankov/dtprivacy/internal/store"
	"github.com/ppiankov/dtprivacy/internal/worker"
)

// Options override what New would otherwise build from the configuration
type Options struct {
	Logger *slog.Logger

	// Oracle replaces the configured LLM oracle (stubs in tests, dry runs)
	Oracle oracle.Oracle

	// Store replaces the SQLite store at cfg.Store.Path
	Store store.Store

	// Force re-runs items that already have a terminal result
	Force bool

	Progress        func(stage string, done, total int)
	HarvestProgress func(industry string, origin model.Origin, n int)
}

// Pipeline orchestrates ingestion, the classification stages and assembly
type Pipeline struct {
	cfg       model.Config
	opts      Options
	store     store.Store
	runner    *stages.Runner
	mapper    *regulation.Mapper
	assembler *assemble.Assembler
	fetcher   *Fetcher
	logger    *slog.Logger

	llm     *oracle.LLM
	cached  *oracle.Cached
	closers []io.Closer
}

// New opens the store and prepares the stages. The oracle is built on first use.
func New(cfg model.Config, opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st := opts.Store
	if st == nil {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		st = s
	}

	runner := &stages.Runner{
		Oracle:   opts.Oracle,
		Store:    st,
		Settings: cfg.Stages,
		Workers:  cfg.Oracle.Concurrency,
		Force:    opts.Force,
		Logger:   logger,
		Progress: opts.Progress,
	}
	mapper := &regulation.Mapper{
		Runner:  runner,
		Include: cfg.Regulations.Include,
		Group:   cfg.Stages.GroupByRegulation,
	}

	ua := cfg.Harvest.UserAgent
	if ua == "" {
		ua = "dtprivacy"
	}

	return &Pipeline{
		cfg:       cfg,
		opts:      opts,
		store:     st,
		runner:    runner,
		mapper:    mapper,
		assembler: &assemble.Assembler{Mapper: mapper},
		fetcher:   NewFetcher(time.Duration(cfg.Harvest.Timeout)*time.Second, ua, 0, cfg.Oracle),
		logger:    logger,
	}, nil
}

// Store exposes the pipeline's store
func (p *Pipeline) Store() store.Store {
	return p.store
}

// Assembler exposes the dataset assembler over the pipeline's store
func (p *Pipeline) Assembler() *assemble.Assembler {
	return p.assembler
}

// Close releases the store and the audit log
func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c.Close())
	}
	errs = append(errs, p.store.Close())
	return errors.Join(errs...)
}

// ensureOracle returns the configured oracle, building the LLM-backed one on first use
func (p *Pipeline) ensureOracle() (oracle.Oracle, error) {
	if p.runner.Oracle != nil {
		return p.runner.Oracle, nil
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(p.cfg.Oracle))
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}

	var audit io.Writer
	if p.cfg.Oracle.AuditLog != "" {
		f, err := oracle.OpenAudit(p.cfg.Oracle.AuditLog)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, f)
		audit = f
	}

	limiter := worker.NewLimiter(p.cfg.Oracle.RateLimit, 1)
	p.llm = oracle.NewLLM(provider, p.cfg.Oracle.Model, limiter, audit)

	var o oracle.Oracle = p.llm
	if p.cfg.Cache.Enabled {
		c := cache.NewLayeredCache(time.Hour, p.cfg.Cache.Dir, p.cfg.Cache.TTL)
		p.cached = oracle.NewCached(p.llm, c, oracle.Namespace(provider.Name(), p.cfg.Oracle.Model), p.cfg.Cache.TTL)
		p.cached.Logger = p.logger
		o = p.cached
	}

	p.runner.Oracle = o
	p.logger.Debug("oracle ready", "provider", provider.Name(), "model", p.cfg.Oracle.Model, "cache", p.cfg.Cache.Enabled)
	return o, nil
}

// IngestSummary describes one ingestion
type IngestSummary struct {
	Input     int `json:"input"`
	Records   int `json:"records"`
	Added     int `json:"added"`
	Conflicts int `json:"conflicts"`
}

// Ingest merges record sets with the records already stored and upserts the result
func (p *Pipeline) Ingest(ctx context.Context, sets ...[]model.Record) (IngestSummary, error) {
	existing, err := p.store.Records(ctx)
	if err != nil {
		return IngestSummary{}, err
	}

	var sum IngestSummary
	for _, s := range sets {
		sum.Input += len(s)
	}

	merged := dedup.Deduplicate(append([][]model.Record{existing}, sets...)...)
	for _, err := range dedup.ConflictErrors(merged) {
		p.logger.Warn("merge conflict retained", "error", err)
		sum.Conflicts++
	}

	if err := p.store.PutRecords(ctx, merged); err != nil {
		return sum, err
	}
	sum.Records = len(merged)
	sum.Added = len(merged) - len(existing)
	p.logger.Info("ingested records", "input", sum.Input, "records", sum.Records, "added", sum.Added, "conflicts", sum.Conflicts)
	return sum, nil
}

// IngestExports loads raw search exports from files or URLs and ingests them
func (p *Pipeline) IngestExports(ctx context.Context, locations []string) (IngestSummary, error) {
	var sets [][]model.Record
	for _, loc := range locations {
		exports, err := p.fetcher.Load(ctx, loc)
		if err != nil {
			return IngestSummary{}, err
		}
		for _, e := range exports {
			sets = append(sets, harvest.MapResults(e.Results(), e.Industry, p.logger))
		}
	}
	return p.Ingest(ctx, sets...)
}

// Harvest queries Crossref and OpenAlex for every configured industry and
// ingests whatever was retrieved, even when the harvest was interrupted
func (p *Pipeline) Harvest(ctx context.Context) (IngestSummary, error) {
	client := harvest.NewClient(p.cfg.Harvest, p.cfg.Oracle, p.logger)
	h := &harvest.Harvester{
		Crossref:   harvest.NewCrossref(client),
		OpenAlex:   harvest.NewOpenAlex(client),
		Industries: p.cfg.Harvest.Industries,
		Workers:    p.cfg.Oracle.Concurrency,
		Logger:     p.logger,
		Progress:   p.opts.HarvestProgress,
	}

	crossref, openalex, herr := h.Harvest(ctx)
	sum, err := p.Ingest(context.WithoutCancel(ctx), crossref, openalex)
	if err != nil {
		return sum, err
	}
	return sum, herr
}

// LoadExcerpts replaces the regulatory excerpt corpus from path, applying
// the configured aliases and include-list
func (p *Pipeline) LoadExcerpts(ctx context.Context, path string) ([]model.Excerpt, error) {
	raw, err := regulation.LoadExcerpts(path)
	if err != nil {
		return nil, err
	}
	ex := regulation.Normalize(raw, p.cfg.Regulations.Aliases, p.cfg.Regulations.Include)
	if len(ex) < len(raw) {
		p.logger.Info("excerpts outside the include-list dropped", "dropped", len(raw)-len(ex))
	}
	if err := p.store.PutExcerpts(ctx, ex); err != nil {
		return nil, err
	}
	p.logger.Info("loaded excerpts", "excerpts", len(ex), "regulations", len(regulation.Regulations(ex)))
	return ex, nil
}

// StageRun summarizes one stage of a pipeline run
type StageRun struct {
	Stage        string        `json:"stage"`
	Items        int           `json:"items"`
	Labeled      int           `json:"labeled"`
	Rejected     int           `json:"rejected"`
	Errored      int           `json:"errored"`
	Unclassified int           `json:"unclassified"`
	Usage        oracle.Usage  `json:"usage"`
	Duration     time.Duration `json:"duration"`
}

// ParseStages validates a stage selection. An empty selection means every stage.
func ParseStages(names []string) ([]string, error) {
	if len(names) == 0 {
		return model.Stages, nil
	}
	for _, n := range names {
		if !slices.Contains(model.Stages, n) {
			return nil, fmt.Errorf("unknown stage %q (stages: %v)", n, model.Stages)
		}
	}
	var out []string
	for _, s := range model.Stages {
		if slices.Contains(names, s) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Run executes the selected stages in pipeline order. Each stage reads its
// input back from the store, so any suffix of the pipeline can be re-run.
// A store failure or cancellation stops the run; finished stages are returned.
func (p *Pipeline) Run(ctx context.Context, only []string) ([]StageRun, error) {
	selected, err := ParseStages(only)
	if err != nil {
		return nil, err
	}
	if _, err := p.ensureOracle(); err != nil {
		return nil, err
	}

	var runs []StageRun
	for _, name := range selected {
		before := p.Usage()
		start := time.Now()

		results, err := p.runStage(ctx, name)
		run := summarize(name, results)
		run.Duration = time.Since(start)
		run.Usage = usageDelta(before, p.Usage())
		runs = append(runs, run)

		p.logger.Info("stage finished",
			"stage", name,
			"items", run.Items,
			"labeled", run.Labeled,
			"rejected", run.Rejected,
			"errored", run.Errored,
			"unclassified", run.Unclassified,
			"calls", run.Usage.Calls,
			"prompt_tokens", run.Usage.PromptTokens,
			"completion_tokens", run.Usage.CompletionTokens,
			"duration", run.Duration.Round(time.Millisecond),
		)
		if err != nil {
			return runs, fmt.Errorf("stage %s: %w", name, err)
		}
	}
	return runs, nil
}

func (p *Pipeline) runStage(ctx context.Context, name string) ([]model.Result, error) {
	switch name {
	case model.StageRelevance:
		return p.runner.Relevance(ctx)
	case model.StageDomain:
		return p.runner.Domain(ctx)
	case model.StageExtract:
		return p.runner.Extract(ctx)
	case model.StageValidate:
		return p.runner.Validate(ctx)
	case model.StageAttribute:
		return p.runner.Attribute(ctx)
	case model.StageRegulation:
		return p.mapper.Run(ctx)
	default:
		return nil, fmt.Errorf("unknown stage %q", name)
	}
}

func summarize(stage string, results []model.Result) StageRun {
	run := StageRun{Stage: stage, Items: len(results)}
	for _, r := range results {
		switch r.Status {
		case model.StatusLabeled:
			run.Labeled++
		case model.StatusRejected:
			run.Rejected++
		case model.StatusError:
			run.Errored++
		default:
			run.Unclassified++
		}
	}
	return run
}

// Usage returns the tokens spent by the LLM oracle so far (zero for stubs)
func (p *Pipeline) Usage() oracle.Usage {
	if p.llm == nil {
		return oracle.Usage{}
	}
	return p.llm.Usage()
}

// CacheStats returns the oracle cache hit and miss counts
func (p *Pipeline) CacheStats() (hits, misses int64) {
	if p.cached == nil {
		return 0, 0
	}
	return p.cached.Stats()
}

// ClearCache drops every cached oracle verdict, in memory and under cfg.Cache.Dir
func (p *Pipeline) ClearCache() error {
	var c cache.Cache = cache.NewDiskCache(p.cfg.Cache.Dir, p.cfg.Cache.TTL)
	if p.cached != nil {
		c = p.cached.Cache()
	}
	if err := c.Clear(); err != nil {
		return fmt.Errorf("clear cache %s: %w", p.cfg.Cache.Dir, err)
	}
	p.logger.Info("oracle cache cleared", "dir", p.cfg.Cache.Dir)
	return nil
}

func usageDelta(before, after oracle.Usage) oracle.Usage {
	return oracle.Usage{
		Calls:            after.Calls - before.Calls,
		PromptTokens:     after.PromptTokens - before.PromptTokens,
		CompletionTokens: after.CompletionTokens - before.CompletionTokens,
	}
}

// Table assembles the full corpus table from the current store state
func (p *Pipeline) Table(ctx context.Context) (assemble.Table, error) {
	return p.assembler.Table(ctx)
}

// Report collects the audit buckets from the current store state
func (p *Pipeline) Report(ctx context.Context) (assemble.Report, error) {
	return p.assembler.Report(ctx)
}

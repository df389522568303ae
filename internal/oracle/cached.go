package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ppiankov/dtprivacy/internal/cache"
)

// Cached memoizes per-item verdicts of another oracle. Only verdicts valid
// under the label set are stored, so rejected answers are asked again.
type Cached struct {
	inner     Oracle
	cache     cache.Cache
	namespace string // provider + model, so switching models does not reuse answers
	ttl       time.Duration

	// Logger receives cache write failures (nil uses slog.Default)
	Logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached wraps inner with c
func NewCached(inner Oracle, c cache.Cache, namespace string, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: c, namespace: namespace, ttl: ttl}
}

type cachedVerdict struct {
	Labels    []string `json:"labels"`
	Rationale string   `json:"rationale,omitempty"`
}

// Judge implements Oracle
func (c *Cached) Judge(ctx context.Context, batch []string, instructions string, labels LabelSet) ([]Verdict, error) {
	out := make([]Verdict, len(batch))
	keys := make([]string, len(batch))

	var missText []string
	var missIdx []int
	for i, text := range batch {
		keys[i] = cache.Key(c.namespace, labels.Name, instructions, strings.Join(labels.Labels, "|"), text)
		var cv cachedVerdict
		if cache.GetJSON(c.cache, keys[i], &cv) {
			out[i] = Verdict{Labels: cv.Labels, Rationale: cv.Rationale}
			c.hits.Add(1)
			continue
		}
		missText = append(missText, text)
		missIdx = append(missIdx, i)
	}
	c.misses.Add(int64(len(missText)))

	if len(missText) == 0 {
		return out, nil
	}

	verdicts, err := c.inner.Judge(ctx, missText, instructions, labels)
	if err != nil {
		return nil, err
	}

	for j, v := range verdicts {
		if j >= len(missIdx) {
			break
		}
		i := missIdx[j]
		out[i] = v
		if !labels.Valid(v) {
			continue
		}
		if err := cache.SetJSON(c.cache, keys[i], cachedVerdict{Labels: v.Labels, Rationale: v.Rationale}, c.ttl); err != nil {
			c.logger().Debug("oracle cache write failed", "stage", labels.Name, "error", err)
		}
	}
	for j := len(verdicts); j < len(missIdx); j++ {
		out[missIdx[j]] = Verdict{Err: fmt.Errorf("oracle returned %d verdicts for %d items", len(verdicts), len(missIdx))}
	}
	return out, nil
}

// Cache returns the underlying cache
func (c *Cached) Cache() cache.Cache {
	return c.cache
}

func (c *Cached) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Stats returns cache hits and misses so far
func (c *Cached) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

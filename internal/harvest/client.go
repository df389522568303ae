// Package harvest retrieves bibliographic records from the Crossref and
// OpenAlex search APIs and maps them into model.Record.
package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/util"
	"github.com/ppiankov/dtprivacy/internal/worker"
)

// RawResult is one search hit as returned by its origin
type RawResult struct {
	Origin model.Origin
	Data   json.RawMessage
}

// Searcher runs one query against a literature index, returning at most
// limit results. A non-positive limit returns nothing.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]RawResult, error)
}

// ErrDisallowed means robots.txt forbids the request
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Client issues polite GET requests against the search APIs: one rate
// budget per host, robots.txt crawl delays, retries on 429 and 5xx.
type Client struct {
	HTTP       *http.Client
	UserAgent  string
	Mailto     string
	Limiter    *worker.Limiter
	Robots     *util.RobotsChecker // nil skips robots.txt
	MaxRetries int
	Backoff    time.Duration
	MaxBytes   int64
	Logger     *slog.Logger
	Sleep      func(ctx context.Context, d time.Duration) error

	checked sync.Map // host -> error from the robots check
}

// NewClient builds a client from the harvest config
func NewClient(cfg model.HarvestConfig, proxy model.OracleConfig, logger *slog.Logger) *Client {
	ua := cfg.UserAgent
	if cfg.Mailto != "" {
		ua = fmt.Sprintf("%s (+mailto:%s)", ua, cfg.Mailto)
	}
	httpClient := util.NewHTTPClient(time.Duration(cfg.Timeout)*time.Second, proxy.HTTPProxy, proxy.HTTPSProxy, proxy.NoProxy)

	c := &Client{
		HTTP:       httpClient,
		UserAgent:  ua,
		Mailto:     cfg.Mailto,
		Limiter:    worker.NewLimiter(cfg.RateLimit, 1),
		MaxRetries: cfg.MaxRetries,
		Backoff:    1500 * time.Millisecond,
		Logger:     logger,
	}
	if cfg.RespectRobots {
		c.Robots = util.NewRobotsChecker(ua, httpClient)
	}
	return c
}

// statusError is a non-2xx response
type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.code, http.StatusText(e.code))
}

func retryable(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// GetJSON fetches rawURL and decodes the JSON body into v
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	if err := c.checkRobots(ctx, rawURL); err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.Backoff << (attempt - 1)
			var se *statusError
			if errors.As(lastErr, &se) && se.retryAfter > delay {
				delay = se.retryAfter
			}
			c.logger().Debug("retrying request", "url", rawURL, "attempt", attempt, "delay", delay, "error", lastErr)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		body, err := c.get(ctx, rawURL)
		if err == nil {
			if err := json.Unmarshal(body, v); err != nil {
				return fmt.Errorf("decode %s: %w", rawURL, err)
			}
			return nil
		}
		lastErr = err

		var se *statusError
		if ctx.Err() != nil || (errors.As(err, &se) && !retryable(se.code)) {
			return err
		}
	}
	return fmt.Errorf("after %d retries: %w", c.MaxRetries, lastErr)
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.WaitURL(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil, &statusError{code: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}

	maxBytes := c.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// checkRobots consults robots.txt once per host and adopts its crawl delay
func (c *Client) checkRobots(ctx context.Context, rawURL string) error {
	if c.Robots == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	if v, ok := c.checked.Load(u.Host); ok {
		if v == nil {
			return nil
		}
		return v.(error)
	}

	allowed, delay, err := c.Robots.CanFetch(ctx, rawURL)
	if err != nil {
		return err
	}
	var result error
	if !allowed {
		result = fmt.Errorf("%s: %w", u.Host, ErrDisallowed)
	}
	if delay > 0 && c.Limiter != nil {
		c.Limiter.SetRate(u.Host, 1/delay.Seconds(), 1)
		c.logger().Info("adopting crawl delay", "host", u.Host, "delay", delay)
	}
	c.checked.Store(u.Host, result)
	return result
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
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

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

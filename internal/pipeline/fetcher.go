package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/dtprivacy/internal/harvest"
	"github.com/ppiankov/dtprivacy/internal/model"
	"github.com/ppiankov/dtprivacy/internal/util"
)

// RawExport is one saved page of search hits for a single origin and industry
type RawExport struct {
	Origin   model.Origin      `json:"origin"`
	Industry string            `json:"industry"`
	Items    []json.RawMessage `json:"items"`
}

// Results pairs every item with the export's origin
func (e RawExport) Results() []harvest.RawResult {
	out := make([]harvest.RawResult, len(e.Items))
	for i, item := range e.Items {
		out[i] = harvest.RawResult{Origin: e.Origin, Data: item}
	}
	return out
}

// Fetcher loads raw exports from local files or http(s) URLs
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
}

// NewFetcher creates a new Fetcher with the given configuration
func NewFetcher(timeout time.Duration, userAgent string, maxBytes int64, proxy model.OracleConfig) *Fetcher {
	client := util.NewHTTPClient(timeout, proxy.HTTPProxy, proxy.HTTPSProxy, proxy.NoProxy)
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= 3 {
			return fmt.Errorf("stopped after 3 redirects")
		}
		return nil
	}
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	return &Fetcher{httpClient: client, userAgent: userAgent, maxBytes: maxBytes}
}

// Fetch reads location, which is either a path or an http(s) URL
func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		file, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("open export: %w", err)
		}
		defer func() { _ = file.Close() }()
		return io.ReadAll(io.LimitReader(file, f.maxBytes))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Load fetches location and decodes one export or a list of exports
func (f *Fetcher) Load(ctx context.Context, location string) ([]RawExport, error) {
	data, err := f.Fetch(ctx, location)
	if err != nil {
		return nil, err
	}
	exports, err := ParseExports(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}
	return exports, nil
}

// ParseExports decodes a single export object or a JSON array of them
func ParseExports(data []byte) ([]RawExport, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty export", model.ErrIngestion)
	}

	var exports []RawExport
	if data[0] == '[' {
		if err := json.Unmarshal(data, &exports); err != nil {
			return nil, fmt.Errorf("%w: decode exports: %w", model.ErrIngestion, err)
		}
	} else {
		var e RawExport
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: decode export: %w", model.ErrIngestion, err)
		}
		exports = []RawExport{e}
	}

	for _, e := range exports {
		if !e.Origin.Valid() {
			return nil, fmt.Errorf("%w: unknown origin %q", model.ErrIngestion, e.Origin)
		}
	}
	return exports, nil
}

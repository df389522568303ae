package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ppiankov/dtprivacy/internal/model"
)

// OpenAlexAPI is the OpenAlex works endpoint
const OpenAlexAPI = "https://api.openalex.org/works"

// OpenAlex searches the OpenAlex works index with cursor paging
type OpenAlex struct {
	Client   *Client
	BaseURL  string
	PageSize int
	Filter   string // OpenAlex filter expression, default "has_abstract:true"
}

// NewOpenAlex creates an OpenAlex searcher
func NewOpenAlex(c *Client) *OpenAlex {
	return &OpenAlex{Client: c, BaseURL: OpenAlexAPI, PageSize: 200, Filter: "has_abstract:true"}
}

type openAlexPage struct {
	Results []json.RawMessage `json:"results"`
	Meta    struct {
		NextCursor string `json:"next_cursor"`
	} `json:"meta"`
}

// Search implements Searcher
func (s *OpenAlex) Search(ctx context.Context, query string, limit int) ([]RawResult, error) {
	var out []RawResult
	cursor := "*"
	for len(out) < limit && cursor != "" {
		params := url.Values{}
		params.Set("search", query)
		params.Set("per_page", strconv.Itoa(min(s.PageSize, limit-len(out))))
		params.Set("cursor", cursor)
		if s.Filter != "" {
			params.Set("filter", s.Filter)
		}
		if s.Client.Mailto != "" {
			params.Set("mailto", s.Client.Mailto)
		}

		var page openAlexPage
		if err := s.Client.GetJSON(ctx, s.BaseURL+"?"+params.Encode(), &page); err != nil {
			return out, fmt.Errorf("openalex search %q: %w", query, err)
		}
		if len(page.Results) == 0 {
			break
		}
		for _, item := range page.Results {
			out = append(out, RawResult{Origin: model.OriginOpenAlex, Data: item})
		}
		cursor = page.Meta.NextCursor
	}

	if len(out) > limit {
		out = out[:max(limit, 0)]
	}
	return out, nil
}

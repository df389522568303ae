package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ppiankov/dtprivacy/internal/model"
)

// CrossrefAPI is the Crossref works endpoint
const CrossrefAPI = "https://api.crossref.org/works"

// Crossref searches the Crossref works index with cursor paging,
// restricted to works with an abstract
type Crossref struct {
	Client   *Client
	BaseURL  string
	PageSize int
}

// NewCrossref creates a Crossref searcher
func NewCrossref(c *Client) *Crossref {
	return &Crossref{Client: c, BaseURL: CrossrefAPI, PageSize: 100}
}

type crossrefPage struct {
	Message struct {
		Items      []json.RawMessage `json:"items"`
		NextCursor string            `json:"next-cursor"`
	} `json:"message"`
}

// Search implements Searcher
func (s *Crossref) Search(ctx context.Context, query string, limit int) ([]RawResult, error) {
	var out []RawResult
	cursor := "*"
	for len(out) < limit && cursor != "" {
		params := url.Values{}
		params.Set("query", query)
		params.Set("rows", strconv.Itoa(min(s.PageSize, limit-len(out))))
		params.Set("cursor", cursor)
		params.Set("filter", "has-abstract:true")
		if s.Client.Mailto != "" {
			params.Set("mailto", s.Client.Mailto)
		}

		var page crossrefPage
		if err := s.Client.GetJSON(ctx, s.BaseURL+"?"+params.Encode(), &page); err != nil {
			return out, fmt.Errorf("crossref search %q: %w", query, err)
		}
		if len(page.Message.Items) == 0 {
			break
		}
		for _, item := range page.Message.Items {
			out = append(out, RawResult{Origin: model.OriginCrossref, Data: item})
		}
		cursor = page.Message.NextCursor
	}

	if len(out) > limit {
		out = out[:max(limit, 0)]
	}
	return out, nil
}

package harvest

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ppiankov/dtprivacy/internal/extract"
	"github.com/ppiankov/dtprivacy/internal/model"
)

// FieldMapping converts one raw search hit into a record. Malformed fields
// are left empty and reported as an ErrIngestion; the record is still usable.
type FieldMapping func(raw json.RawMessage, industry string) (model.Record, error)

// Mappings declares the field mapping of every origin
var Mappings = map[model.Origin]FieldMapping{
	model.OriginCrossref: MapCrossref,
	model.OriginOpenAlex: MapOpenAlex,
}

// fields decodes object members one at a time so that a single malformed
// member does not lose the rest
type fields struct {
	m    map[string]json.RawMessage
	errs []error
}

func decodeFields(raw json.RawMessage) (*fields, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: not an object: %w", model.ErrIngestion, err)
	}
	return &fields{m: m}, nil
}

func (f *fields) get(key string, v any) bool {
	raw, ok := f.m[key]
	if !ok || string(raw) == "null" {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		f.errs = append(f.errs, fmt.Errorf("%w: field %s: %w", model.ErrIngestion, key, err))
		return false
	}
	return true
}

func (f *fields) err() error {
	return errors.Join(f.errs...)
}

func firstString(vals []string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

type crossrefDate struct {
	DateParts [][]*int `json:"date-parts"`
}

func (d crossrefDate) year() int {
	if len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 || d.DateParts[0][0] == nil {
		return 0
	}
	return *d.DateParts[0][0]
}

type crossrefAuthor struct {
	Given  string `json:"given"`
	Family string `json:"family"`
	Name   string `json:"name"`
}

// MapCrossref implements FieldMapping for Crossref works
func MapCrossref(raw json.RawMessage, industry string) (model.Record, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return model.Record{Origin: model.OriginCrossref, Industry: industry}, err
	}

	rec := model.Record{Origin: model.OriginCrossref, Industry: industry}

	var doi string
	f.get("DOI", &doi)
	rec.DOI = doi
	rec.SourceID = doi

	var titles, venues []string
	f.get("title", &titles)
	f.get("container-title", &venues)
	rec.Title = firstString(titles)
	rec.Venue = firstString(venues)

	var abstract string
	f.get("abstract", &abstract)
	rec.Abstract = extract.CleanAbstract(abstract)

	for _, key := range []string{"published-print", "published", "issued", "created"} {
		var d crossrefDate
		if f.get(key, &d) && d.year() > 0 {
			rec.Year = d.year()
			break
		}
	}

	var authors []crossrefAuthor
	f.get("author", &authors)
	var names []string
	for _, a := range authors {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name == "" {
			name = strings.TrimSpace(a.Name)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	rec.Authors = strings.Join(names, "; ")

	f.get("publisher", &rec.Publisher)
	f.get("URL", &rec.URL)
	f.get("is-referenced-by-count", &rec.CitedBy)

	return rec, f.err()
}

type openAlexSource struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type openAlexLocation struct {
	LandingPageURL string          `json:"landing_page_url"`
	Source         *openAlexSource `json:"source"`
}

type openAlexAuthorship struct {
	Author *struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

// MapOpenAlex implements FieldMapping for OpenAlex works
func MapOpenAlex(raw json.RawMessage, industry string) (model.Record, error) {
	f, err := decodeFields(raw)
	if err != nil {
		return model.Record{Origin: model.OriginOpenAlex, Industry: industry}, err
	}

	rec := model.Record{Origin: model.OriginOpenAlex, Industry: industry}

	var id string
	f.get("id", &id)
	rec.SourceID = strings.TrimPrefix(id, "https://openalex.org/")

	if !f.get("display_name", &rec.Title) {
		f.get("title", &rec.Title)
	}
	f.get("publication_year", &rec.Year)
	f.get("doi", &rec.DOI)
	f.get("cited_by_count", &rec.CitedBy)

	var loc openAlexLocation
	if f.get("primary_location", &loc) {
		rec.URL = loc.LandingPageURL
		if loc.Source != nil {
			rec.Venue = loc.Source.DisplayName
			if rec.Venue == "" {
				rec.Venue = loc.Source.ID
			}
			rec.Publisher = loc.Source.DisplayName
		}
	}

	var authorships []openAlexAuthorship
	f.get("authorships", &authorships)
	var names []string
	for _, a := range authorships {
		if a.Author != nil && a.Author.DisplayName != "" {
			names = append(names, a.Author.DisplayName)
		}
	}
	rec.Authors = strings.Join(names, "; ")

	var inverted map[string][]int
	if f.get("abstract_inverted_index", &inverted) {
		rec.Abstract = InvertedIndexText(inverted)
	} else {
		var abstract string
		f.get("abstract", &abstract)
		rec.Abstract = strings.TrimSpace(abstract)
	}

	return rec, f.err()
}

// InvertedIndexText rebuilds an abstract from OpenAlex's word -> positions index
func InvertedIndexText(idx map[string][]int) string {
	maxPos := -1
	for _, positions := range idx {
		for _, p := range positions {
			maxPos = max(maxPos, p)
		}
	}
	if maxPos < 0 {
		return ""
	}

	tokens := make([]string, maxPos+1)
	for word, positions := range idx {
		for _, p := range positions {
			if p >= 0 {
				tokens[p] = word
			}
		}
	}
	return strings.Join(strings.Fields(strings.Join(tokens, " ")), " ")
}

// MapResults maps raw hits through their origin's FieldMapping. Ingestion
// errors are logged and the partially filled record is kept.
func MapResults(results []RawResult, industry string, log *slog.Logger) []model.Record {
	if log == nil {
		log = slog.Default()
	}
	out := make([]model.Record, 0, len(results))
	for _, r := range results {
		mapping, ok := Mappings[r.Origin]
		if !ok {
			log.Warn("no field mapping for origin", "origin", r.Origin)
			continue
		}
		rec, err := mapping(r.Data, industry)
		if err != nil {
			log.Warn("malformed source fields", "origin", r.Origin, "source_id", rec.SourceID, "error", err)
		}
		out = append(out, rec)
	}
	return out
}

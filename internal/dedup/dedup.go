// Package dedup merges bibliographic records retrieved from several sources
// into one canonical record per DOI.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/dtprivacy/internal/model"
)

var (
	doiPrefix  = regexp.MustCompile(`^(?:https?://(?:dx\.)?doi\.org/|doi:\s*)`)
	doiPattern = regexp.MustCompile(`^10\.[^\s/]+/\S+$`)
)

// NormalizeDOI lowercases and strips resolver prefixes and surrounding
// punctuation. It returns "" when the result is not shaped like a DOI.
func NormalizeDOI(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	for {
		trimmed := strings.TrimSpace(doiPrefix.ReplaceAllString(s, ""))
		if trimmed == s {
			break
		}
		s = trimmed
	}
	s = strings.Trim(s, " \t\r\n\"'<>.,;")
	if !doiPattern.MatchString(s) {
		return ""
	}
	return s
}

// Deduplicate merges records sharing a normalized DOI. Output order is
// first-appearance order across sets; DOI-less records pass through as
// their own canonical records. Running it on its own output is a no-op.
func Deduplicate(sets ...[]model.Record) []model.Record {
	var groups []*group
	byDOI := make(map[string]*group)

	for _, set := range sets {
		for _, raw := range set {
			r := canonical(raw)
			if r.DOI == "" {
				groups = append(groups, newGroup(r))
				continue
			}
			if g, ok := byDOI[r.DOI]; ok {
				g.merge(r)
				continue
			}
			g := newGroup(r)
			byDOI[r.DOI] = g
			groups = append(groups, g)
		}
	}

	out := make([]model.Record, len(groups))
	for i, g := range groups {
		out[i] = g.rec
	}
	return out
}

// ConflictErrors lists one ErrMergeConflict per conflicting field
func ConflictErrors(recs []model.Record) []error {
	var errs []error
	for _, r := range recs {
		for _, c := range r.Conflicts {
			vals := make([]string, len(c.Values))
			for i, v := range c.Values {
				vals[i] = fmt.Sprintf("%s=%q", v.Origin, v.Value)
			}
			errs = append(errs, fmt.Errorf("%w: %s %s: %s", model.ErrMergeConflict, r.ID, c.Field, strings.Join(vals, ", ")))
		}
	}
	return errs
}

// canonical normalizes the DOI, id and provenance of a single record
func canonical(r model.Record) model.Record {
	r.DOI = NormalizeDOI(r.DOI)

	switch {
	case r.DOI != "":
		r.ID = model.RecordID(r.DOI, r.Origin, r.SourceID)
	case r.SourceID != "":
		r.ID = model.RecordID("", r.Origin, r.SourceID)
	case r.ID == "":
		sum := sha256.Sum256([]byte(r.Title + "\x00" + r.Abstract))
		r.ID = string(r.Origin) + ":anon-" + hex.EncodeToString(sum[:6])
	}

	if len(r.Provenance) == 0 && r.Origin != "" {
		r.Provenance = []model.Origin{r.Origin}
	}
	if len(r.Sources) == 0 && r.SourceID != "" {
		r.Sources = []model.SourceRef{{Origin: r.Origin, SourceID: r.SourceID}}
	}
	return r
}

type group struct {
	rec model.Record
	// from records which origin supplied each field's kept value
	from map[string]model.Origin
}

func newGroup(r model.Record) *group {
	g := &group{rec: r, from: make(map[string]model.Origin)}
	for _, f := range stringFields(&g.rec) {
		if *f.val != "" {
			g.from[f.name] = r.Origin
		}
	}
	if r.Year != 0 {
		g.from["year"] = r.Origin
	}
	return g
}

type stringField struct {
	name string
	val  *string
}

func stringFields(r *model.Record) []stringField {
	return []stringField{
		{"title", &r.Title},
		{"abstract", &r.Abstract},
		{"venue", &r.Venue},
		{"authors", &r.Authors},
		{"publisher", &r.Publisher},
		{"url", &r.URL},
	}
}

func (g *group) merge(r model.Record) {
	for _, o := range r.Provenance {
		if !g.rec.HasOrigin(o) {
			g.rec.Provenance = append(g.rec.Provenance, o)
		}
	}
	for _, s := range r.Sources {
		if !hasSource(g.rec.Sources, s) {
			g.rec.Sources = append(g.rec.Sources, s)
		}
	}

	dst := stringFields(&g.rec)
	src := stringFields(&r)
	for i := range dst {
		name, have, other := dst[i].name, dst[i].val, *src[i].val
		switch {
		case other == "":
		case *have == "":
			*have = other
			g.from[name] = r.Origin
		case fold(*have) != fold(other):
			// Publishers and landing pages legitimately differ per index
			if name == "publisher" || name == "url" {
				continue
			}
			g.conflict(name, model.OriginValue{Origin: g.from[name], Value: *have}, model.OriginValue{Origin: r.Origin, Value: other})
		}
	}

	switch {
	case r.Year == 0:
	case g.rec.Year == 0:
		g.rec.Year = r.Year
		g.from["year"] = r.Origin
	case g.rec.Year != r.Year:
		g.conflict("year",
			model.OriginValue{Origin: g.from["year"], Value: strconv.Itoa(g.rec.Year)},
			model.OriginValue{Origin: r.Origin, Value: strconv.Itoa(r.Year)})
	}

	if r.CitedBy > g.rec.CitedBy {
		g.rec.CitedBy = r.CitedBy
	}
	if g.rec.Industry == "" {
		g.rec.Industry = r.Industry
	}

	for _, c := range r.Conflicts {
		g.conflict(c.Field, c.Values...)
	}
}

// conflict records values for field, skipping values already present after folding
func (g *group) conflict(field string, values ...model.OriginValue) {
	idx := -1
	for i, c := range g.rec.Conflicts {
		if c.Field == field {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.rec.Conflicts = append(g.rec.Conflicts, model.FieldConflict{Field: field})
		idx = len(g.rec.Conflicts) - 1
	}

	c := &g.rec.Conflicts[idx]
	for _, v := range values {
		dup := false
		for _, have := range c.Values {
			if have.Origin == v.Origin && fold(have.Value) == fold(v.Value) {
				dup = true
				break
			}
		}
		if !dup {
			c.Values = append(c.Values, v)
		}
	}
}

func hasSource(refs []model.SourceRef, s model.SourceRef) bool {
	for _, r := range refs {
		if r == s {
			return true
		}
	}
	return false
}

// fold collapses whitespace and case for comparisons
func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

package model

import "strings"

// Origin identifies the literature source a record was retrieved from
type Origin string

const (
	OriginCrossref Origin = "crossref"
	OriginOpenAlex Origin = "openalex"
)

// Valid reports whether o is a known origin
func (o Origin) Valid() bool {
	return o == OriginCrossref || o == OriginOpenAlex
}

// Record is a normalized bibliographic record.
// Records are created once at ingestion; stages annotate them through
// Results and never rewrite their fields.
type Record struct {
	ID        string `json:"id"`                  // Canonical id: "doi:<doi>" or "<origin>:<source_id>"
	SourceID  string `json:"source_id"`           // Per-origin identifier of the first occurrence
	DOI       string `json:"doi,omitempty"`       // Normalized lowercase DOI, empty when absent
	Title     string `json:"title"`               // Paper title
	Abstract  string `json:"abstract,omitempty"`  // Plain-text abstract
	Venue     string `json:"venue,omitempty"`     // Journal or proceedings name
	Origin    Origin `json:"origin"`              // Origin of the first occurrence
	Year      int    `json:"year,omitempty"`      // Publication year
	Authors   string `json:"authors,omitempty"`   // "; "-joined author names
	Publisher string `json:"publisher,omitempty"` // Publisher name
	URL       string `json:"url,omitempty"`       // Landing page
	CitedBy   int    `json:"cited_by,omitempty"`  // Citation count reported by the source
	Industry  string `json:"industry,omitempty"`  // Industry query that retrieved the record

	Sources    []SourceRef     `json:"sources"`             // Every (origin, source id) merged into this record
	Provenance []Origin        `json:"provenance"`          // Set of origins that produced the record
	Conflicts  []FieldConflict `json:"conflicts,omitempty"` // Contradicting values found while merging
}

// SourceRef points at one raw result that contributed to a record
type SourceRef struct {
	Origin   Origin `json:"origin"`
	SourceID string `json:"source_id"`
}

// FieldConflict keeps every value seen for a field that disagreed across origins
type FieldConflict struct {
	Field  string        `json:"field"`
	Values []OriginValue `json:"values"`
}

// OriginValue is a field value tagged with the origin that supplied it
type OriginValue struct {
	Origin Origin `json:"origin"`
	Value  string `json:"value"`
}

// HasConflict reports whether merging surfaced contradicting field values
func (r Record) HasConflict() bool {
	return len(r.Conflicts) > 0
}

// HasOrigin reports whether o is part of the record's provenance
func (r Record) HasOrigin(o Origin) bool {
	for _, p := range r.Provenance {
		if p == o {
			return true
		}
	}
	return false
}

// RecordID derives the canonical id of a record.
// Records with a DOI share one identity; the rest are keyed by origin and source id.
func RecordID(doi string, origin Origin, sourceID string) string {
	if doi != "" {
		return "doi:" + doi
	}
	return string(origin) + ":" + strings.TrimSpace(sourceID)
}

// ClassifierText renders the record fields shown to the oracle
func (r Record) ClassifierText() string {
	var b strings.Builder
	b.WriteString("Title: ")
	b.WriteString(orNA(r.Title))
	b.WriteString("\n\nVenue: ")
	b.WriteString(orNA(r.Venue))
	b.WriteString("\n\nAbstract: ")
	b.WriteString(orNA(r.Abstract))
	return b.String()
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

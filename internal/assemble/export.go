package assemble

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/dtprivacy/internal/extract"
	"github.com/ppiankov/dtprivacy/internal/model"
)

// Formats supported by Write
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

var csvHeader = []string{
	"feature_name", "feature_key", "attribute_class", "regulation", "status", "confidence",
	"rationale", "article_ref", "excerpt_ids", "evidence", "record_id", "doi", "title",
	"industry", "origins", "supporting_records", "supporting_dois", "contested", "review", "judged_at",
}

// Write renders the table as JSON or CSV
func Write(w io.Writer, t Table, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		return WriteJSON(w, t)
	case FormatCSV:
		return WriteCSV(w, t)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteJSON writes the rows as an indented JSON array
func WriteJSON(w io.Writer, t Table) error {
	rows := t.Rows
	if rows == nil {
		rows = []Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// ReadJSON reads rows written by WriteJSON
func ReadJSON(r io.Reader) (Table, error) {
	var rows []Row
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return Table{}, fmt.Errorf("decode table: %w", err)
	}
	return Table{Rows: rows}, nil
}

// WriteCSV writes one line per row; list fields are joined with ";"
func WriteCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range t.Rows {
		origins := make([]string, len(r.Origins))
		for i, o := range r.Origins {
			origins[i] = string(o)
		}
		rec := []string{
			r.FeatureName, r.FeatureKey, string(r.AttributeClass), r.Regulation, string(r.Status), string(r.Confidence),
			r.Rationale, r.ArticleRef, strings.Join(r.ExcerptIDs, ";"), r.Evidence, r.RecordID, r.DOI, r.Title,
			r.Industry, strings.Join(origins, ";"), strings.Join(r.SupportingRecords, ";"), strings.Join(r.SupportingDOIs, ";"),
			strconv.FormatBool(r.Contested), strconv.FormatBool(r.Review), r.JudgedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Filter keeps rows matching status and confidence; empty values match everything
func Filter(t Table, status model.RegulationStatus, conf model.Confidence) Table {
	var out []Row
	for _, r := range t.Rows {
		if status != "" && !strings.EqualFold(string(r.Status), string(status)) {
			continue
		}
		if conf != "" && !strings.EqualFold(string(r.Confidence), string(conf)) {
			continue
		}
		out = append(out, r)
	}
	return Table{Rows: out}
}

// Feature keeps the rows of one feature. name is normalized the same way
// feature keys are, so "Blood glucose levels" matches "blood glucose level".
func (t Table) Feature(name string) Table {
	key := extract.NormalizeKey(name)
	var out []Row
	for _, r := range t.Rows {
		if r.FeatureKey == key {
			out = append(out, r)
		}
	}
	return Table{Rows: out}
}

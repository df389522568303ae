// Package regulation maps attributed features onto regulatory excerpts and
// records one judgment per feature/regulation pairing.
package regulation

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/dtprivacy/internal/model"
	"gopkg.in/yaml.v3"
)

// rawExcerpt accepts both the native field names and the clause-table ones
type rawExcerpt struct {
	ID             string `yaml:"id"`
	Regulation     string `yaml:"regulation"`
	RegID          string `yaml:"reg_id"`
	AttributeClass string `yaml:"attribute_class"`
	Passage        string `yaml:"passage"`
	QuotedText     string `yaml:"quoted_text"`
	SourceDocument string `yaml:"source_document"`
	ArticleRef     string `yaml:"article_ref"`
}

// LoadExcerpts reads an excerpt corpus from YAML, JSON or CSV (by extension).
// Multi-class excerpts ("Biometric;Health_Clinical") explode into one excerpt
// per class. Unknown classes and the catch-all Other class are skipped with a warning.
func LoadExcerpts(path string) ([]model.Excerpt, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open excerpts: %w", err)
	}
	defer func() { _ = f.Close() }()

	var raws []rawExcerpt
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		raws, err = decodeCSV(f)
	default:
		raws, err = decodeYAML(f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode excerpts %s: %w", path, err)
	}

	return explode(raws, slog.Default()), nil
}

// decodeYAML accepts a bare list or a document with an "excerpts" key. JSON is valid YAML.
func decodeYAML(r io.Reader) ([]rawExcerpt, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var list []rawExcerpt
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc struct {
		Excerpts []rawExcerpt `yaml:"excerpts"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.Excerpts, nil
}

func decodeCSV(r io.Reader) ([]rawExcerpt, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	get := func(row []string, name string) string {
		if i, ok := col[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}

	var out []rawExcerpt
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rawExcerpt{
			ID:             get(row, "id"),
			Regulation:     get(row, "regulation"),
			RegID:          get(row, "reg_id"),
			AttributeClass: get(row, "attribute_class"),
			Passage:        get(row, "passage"),
			QuotedText:     get(row, "quoted_text"),
			SourceDocument: get(row, "source_document"),
			ArticleRef:     get(row, "article_ref"),
		})
	}
	return out, nil
}

func explode(raws []rawExcerpt, log *slog.Logger) []model.Excerpt {
	var out []model.Excerpt
	for _, raw := range raws {
		reg := strings.TrimSpace(first(raw.Regulation, raw.RegID))
		passage := strings.TrimSpace(first(raw.Passage, raw.QuotedText))
		if reg == "" || passage == "" {
			log.Warn("skipping excerpt without regulation or passage", "id", raw.ID, "article", raw.ArticleRef)
			continue
		}

		id := strings.TrimSpace(raw.ID)
		if id == "" {
			sum := sha256.Sum256([]byte(reg + "\x00" + raw.ArticleRef + "\x00" + passage))
			id = hex.EncodeToString(sum[:6])
		}

		var classes []model.AttributeClass
		for _, name := range strings.Split(raw.AttributeClass, ";") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			c, err := model.ParseAttributeClass(name)
			if err != nil {
				log.Warn("skipping unknown attribute class", "excerpt", id, "class", name)
				continue
			}
			if c == model.ClassOther {
				continue
			}
			classes = append(classes, c)
		}

		for _, c := range classes {
			ex := model.Excerpt{
				ID:             id,
				Regulation:     reg,
				AttributeClass: c,
				Passage:        passage,
				SourceDocument: strings.TrimSpace(raw.SourceDocument),
				ArticleRef:     strings.TrimSpace(raw.ArticleRef),
			}
			if len(classes) > 1 {
				ex.ID = id + "/" + string(c)
			}
			out = append(out, ex)
		}
	}
	return out
}

func first(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// CanonicalName resolves a regulation name through the alias table.
// Lookup is exact first, then case-insensitive.
func CanonicalName(name string, aliases map[string]string) string {
	name = strings.TrimSpace(name)
	if c, ok := aliases[name]; ok {
		return c
	}
	for alias, c := range aliases {
		if strings.EqualFold(alias, name) {
			return c
		}
	}
	return name
}

// Normalize renames regulations through aliases and keeps only those in
// include. An empty include-list keeps everything.
func Normalize(ex []model.Excerpt, aliases map[string]string, include []string) []model.Excerpt {
	var out []model.Excerpt
	for _, e := range ex {
		e.Regulation = CanonicalName(e.Regulation, aliases)
		if !Included(e.Regulation, include) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Included reports whether regulation is on the include-list
func Included(regulation string, include []string) bool {
	if len(include) == 0 {
		return true
	}
	for _, r := range include {
		if strings.EqualFold(r, regulation) {
			return true
		}
	}
	return false
}

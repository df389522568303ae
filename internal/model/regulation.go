package model

import "time"

// Excerpt is a pre-mined regulatory passage tagged with one attribute class
type Excerpt struct {
	ID             string         `json:"id" yaml:"id"`
	Regulation     string         `json:"regulation" yaml:"regulation"`
	AttributeClass AttributeClass `json:"attribute_class" yaml:"attribute_class"`
	Passage        string         `json:"passage" yaml:"passage"`
	SourceDocument string         `json:"source_document,omitempty" yaml:"source_document,omitempty"`
	ArticleRef     string         `json:"article_ref,omitempty" yaml:"article_ref,omitempty"`
}

// Judgment is the oracle's verdict on whether a regulation covers a feature
type Judgment struct {
	ID             string           `json:"id"`
	FeatureID      string           `json:"feature_id"`
	RecordID       string           `json:"record_id"`
	FeatureName    string           `json:"feature_name"`
	AttributeClass AttributeClass   `json:"attribute_class"`
	Regulation     string           `json:"regulation"`
	ExcerptIDs     []string         `json:"excerpt_ids"`
	ArticleRef     string           `json:"article_ref,omitempty"`
	Status         RegulationStatus `json:"status"`
	Confidence     Confidence       `json:"confidence"`
	Rationale      string           `json:"rationale,omitempty"`
	RunID          string           `json:"run_id,omitempty"`
	JudgedAt       time.Time        `json:"judged_at"`
}

// HighConfidenceRegulated reports whether a status and confidence pair
// belongs to the default analytic corpus
func HighConfidenceRegulated(s RegulationStatus, c Confidence) bool {
	return s == Regulated && c == ConfidenceHigh
}

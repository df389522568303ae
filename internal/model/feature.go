package model

import "strings"

// Feature is a decision-tree predictor extracted from a record's abstract
type Feature struct {
	ID        string `json:"id"`                 // "<record_id>::<key>"
	RecordID  string `json:"record_id"`          // Record the feature was extracted from
	Name      string `json:"name"`               // Feature name as returned by the extractor
	Key       string `json:"key"`                // Normalized name used for merging
	Evidence  string `json:"evidence,omitempty"` // Abstract sentence mentioning the feature
	Grounded  bool   `json:"grounded"`           // Evidence sentence found in the abstract
	Validated bool   `json:"validated"`          // Confirmed as a training feature
}

// FeatureID derives the id of a feature from its record and normalized key
func FeatureID(recordID, key string) string {
	return recordID + "::" + key
}

// ClassifierText renders the feature with its paper context for the oracle
func (f Feature) ClassifierText(rec Record) string {
	var b strings.Builder
	b.WriteString("Feature: ")
	b.WriteString(f.Name)
	if f.Evidence != "" {
		b.WriteString("\nEvidence: ")
		b.WriteString(f.Evidence)
	}
	b.WriteString("\n\n")
	b.WriteString(rec.ClassifierText())
	return b.String()
}

// AttributedFeature is a validated feature with its assigned attribute class
type AttributedFeature struct {
	Feature
	Class  AttributeClass `json:"attribute_class"`
	Review bool           `json:"review,omitempty"`
}

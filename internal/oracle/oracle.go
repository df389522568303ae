// Package oracle defines the classification collaborator the pipeline stages
// consult, plus an LLM-backed implementation, stubs and a caching decorator.
package oracle

import (
	"context"
	"strings"
	"unicode"
)

// Oracle judges a batch of item texts against a label vocabulary.
//
// The returned slice has one Verdict per input, in input order. A non-nil
// error means the whole batch failed (transport, quota); per-item failures
// travel in Verdict.Err.
type Oracle interface {
	Judge(ctx context.Context, batch []string, instructions string, labels LabelSet) ([]Verdict, error)
}

// Verdict is the oracle's raw answer for one item. Labels are unvalidated.
type Verdict struct {
	Labels    []string `json:"labels"`
	Rationale string   `json:"rationale,omitempty"`
	Err       error    `json:"-"`
}

// LabelSet is the vocabulary of one stage
type LabelSet struct {
	Name   string   // stage name, used in prompts, cache keys and stub routing
	Labels []string // allowed labels; empty for open sets
	Open   bool     // any non-empty label is accepted (feature extraction)
}

// Closed builds a closed vocabulary
func Closed(name string, labels ...string) LabelSet {
	return LabelSet{Name: name, Labels: labels}
}

// OpenSet builds an open vocabulary
func OpenSet(name string) LabelSet {
	return LabelSet{Name: name, Open: true}
}

// Canonical maps a raw oracle label to its vocabulary spelling. Matching
// ignores case, spacing and punctuation, so "Not Regulated: high" resolves
// to "NotRegulated:High". Open sets return the trimmed input.
func (s LabelSet) Canonical(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if s.Open {
		return raw, true
	}

	want := fold(raw)
	for _, l := range s.Labels {
		if fold(l) == want {
			return l, true
		}
	}
	return "", false
}

// Valid reports whether every label of v canonicalizes. Open sets accept an empty answer.
func (s LabelSet) Valid(v Verdict) bool {
	if v.Err != nil {
		return false
	}
	if len(v.Labels) == 0 {
		return s.Open
	}
	for _, l := range v.Labels {
		if _, ok := s.Canonical(l); !ok {
			return false
		}
	}
	return true
}

// fold keeps letters and digits, lowercased
func fold(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

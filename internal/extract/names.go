package extract

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SanitizeName renders a raw feature name the way it is reported: ASCII
// letters and digits only, each word singularized, first word capitalized
// and the rest lowercase. "Blood-glucose LEVELS" becomes "Blood glucose level".
func SanitizeName(raw string) string {
	words := words(raw)
	for i, w := range words {
		w = Singular(strings.ToLower(w))
		if i == 0 {
			w = strings.ToUpper(w[:1]) + w[1:]
		}
		words[i] = w
	}
	return strings.Join(words, " ")
}

// NormalizeKey is the merge key of a feature name: the sanitized name in
// lowercase. Two names are the same feature iff their keys are equal.
func NormalizeKey(raw string) string {
	return strings.ToLower(SanitizeName(raw))
}

// words applies NFKC, maps separators to spaces and drops other punctuation
func words(raw string) []string {
	s := norm.NFKC.String(raw)

	var b strings.Builder
	for _, r := range s {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}

var irregular = map[string]string{
	"people":    "person",
	"children":  "child",
	"men":       "man",
	"women":     "woman",
	"indices":   "index",
	"matrices":  "matrix",
	"criteria":  "criterion",
	"analyses":  "analysis",
	"diagnoses": "diagnosis",
	"feet":      "foot",
	"teeth":     "tooth",
}

var invariant = map[string]bool{
	"series": true, "species": true, "news": true, "data": true,
	"metadata": true, "gas": true, "bias": true, "status": true,
}

// Singular returns the singular of a lowercase English noun
func Singular(w string) string {
	if s, ok := irregular[w]; ok {
		return s
	}
	if len(w) <= 3 || invariant[w] {
		return w
	}

	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return w[:len(w)-3] + "y"
	case strings.HasSuffix(w, "sses"), strings.HasSuffix(w, "xes"),
		strings.HasSuffix(w, "ches"), strings.HasSuffix(w, "shes"), strings.HasSuffix(w, "zzes"):
		return w[:len(w)-2]
	case strings.HasSuffix(w, "ss"), strings.HasSuffix(w, "us"), strings.HasSuffix(w, "is"):
		return w
	case strings.HasSuffix(w, "s"):
		return w[:len(w)-1]
	}
	return w
}

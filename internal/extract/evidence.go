package extract

import "strings"

// FindEvidence returns the abstract sentence mentioning the feature named
// name. A sentence matches when it contains the feature's normalized words
// as a phrase, or failing that, every one of them.
func FindEvidence(abstract, name string) (string, bool) {
	key := strings.Fields(NormalizeKey(name))
	if len(key) == 0 {
		return "", false
	}

	sentences := SplitSentences(abstract)
	for _, s := range sentences {
		if containsPhrase(sentenceWords(s), key) {
			return s, true
		}
	}

	if len(key) < 2 {
		return "", false
	}
	for _, s := range sentences {
		if containsAll(sentenceWords(s), key) {
			return s, true
		}
	}
	return "", false
}

func sentenceWords(s string) []string {
	ws := words(s)
	for i, w := range ws {
		ws[i] = Singular(strings.ToLower(w))
	}
	return ws
}

func containsPhrase(ws, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(ws); i++ {
		match := true
		for j, p := range phrase {
			if ws[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func containsAll(ws, want []string) bool {
	have := make(map[string]bool, len(ws))
	for _, w := range ws {
		have[w] = true
	}
	for _, w := range want {
		if !have[w] {
			return false
		}
	}
	return true
}

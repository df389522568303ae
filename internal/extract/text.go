// Package extract holds the text helpers used around feature extraction:
// abstract cleaning, sentence splitting, feature-name normalization and
// evidence lookup.
package extract

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// CleanAbstract turns a Crossref JATS or HTML abstract into plain text.
// Plain text passes through with its whitespace collapsed.
func CleanAbstract(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "<") {
		return collapse(html.UnescapeString(raw))
	}

	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return collapse(raw)
	}

	text := collapse(visibleText(doc))
	if len(text) > len("abstract ") && strings.EqualFold(text[:len("abstract ")], "abstract ") {
		text = text[len("abstract "):]
	}
	return text
}

// visibleText extracts text nodes, skipping scripts, styles and JATS section titles
func visibleText(n *html.Node) string {
	var buf strings.Builder

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "jats:title", "title":
				return
			}
		}

		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		// Block boundaries must not glue words together
		if n.Type == html.ElementNode && !inline[n.Data] {
			buf.WriteString(" ")
		}
	}

	walk(n)
	return buf.String()
}

var inline = map[string]bool{
	"i": true, "b": true, "em": true, "strong": true, "sub": true, "sup": true, "span": true, "a": true,
	"jats:italic": true, "jats:bold": true, "jats:sub": true, "jats:sup": true, "jats:sc": true,
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var abbreviations = map[string]bool{
	"e.g.": true, "i.e.": true, "al.": true, "etc.": true, "vs.": true,
	"fig.": true, "eq.": true, "approx.": true, "resp.": true, "no.": true,
}

// SplitSentences splits text on terminal punctuation followed by whitespace
// and an uppercase letter or digit, leaving common abbreviations intact.
func SplitSentences(text string) []string {
	runes := []rune(collapse(text))

	var sentences []string
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+2 >= len(runes) || runes[i+1] != ' ' {
			continue
		}
		next := runes[i+2]
		if !unicode.IsUpper(next) && !unicode.IsDigit(next) {
			continue
		}
		if r == '.' && abbreviations[strings.ToLower(lastWord(runes[start:i+1]))] {
			continue
		}

		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 2
	}

	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func lastWord(runes []rune) string {
	i := len(runes)
	for i > 0 && runes[i-1] != ' ' {
		i--
	}
	return string(runes[i:])
}

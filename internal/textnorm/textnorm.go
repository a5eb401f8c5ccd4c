// Package textnorm provides the text normalization and token-overlap
// measures shared by validation, grading metrics, and section retrieval.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// MinTokenLen is the shortest token kept by Tokens.
const MinTokenLen = 3

// folder is stateless and shared across goroutines.
var folder = cases.Fold()

var stopwords = map[string]bool{
	// en
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "any": true, "can": true, "was": true, "one": true,
	"our": true, "out": true, "has": true, "have": true, "had": true, "its": true,
	"this": true, "that": true, "with": true, "from": true, "they": true, "will": true,
	"would": true, "there": true, "their": true, "what": true, "which": true, "when": true,
	"where": true, "who": true, "whom": true, "why": true, "how": true, "into": true,
	"than": true, "then": true, "them": true, "these": true, "those": true, "such": true,
	"been": true, "being": true, "were": true, "does": true, "did": true, "also": true,
	"about": true, "following": true, "statement": true, "statements": true, "true": true,
	"correct": true, "best": true, "describes": true, "according": true, "text": true,
	"section": true, "most": true, "each": true, "other": true, "some": true,
	// ru
	"это": true, "как": true, "что": true, "для": true, "или": true, "при": true,
	"так": true, "все": true, "его": true, "она": true, "они": true, "был": true,
	"была": true, "были": true, "быть": true, "который": true, "которые": true,
	"также": true, "только": true, "какой": true, "какие": true, "верно": true,
	"согласно": true, "тексту": true, "раздела": true, "утверждение": true,
}

// Normalize folds case, applies NFKC, strips punctuation, and collapses
// whitespace. Two stems that differ only in case or punctuation normalize
// to the same string.
func Normalize(s string) string {
	s = norm.NFKC.String(folder.String(s))
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			space = true
		}
	}
	return b.String()
}

// Tokens splits normalized text into content tokens, dropping short words
// and stopwords. Order is preserved and duplicates are kept.
func Tokens(s string) []string {
	return tokens(s, MinTokenLen)
}

// Terms is Tokens with a custom minimum length.
func Terms(s string, minLen int) []string {
	return tokens(s, minLen)
}

func tokens(s string, minLen int) []string {
	fields := strings.Fields(Normalize(s))
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < minLen || stopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Set builds a token set.
func Set(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard is |A∩B| / |A∪B| over token sets. Two empty sets score 0.
func Jaccard(a, b []string) float64 {
	sa, sb := Set(a), Set(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// Coverage is the fraction of distinct tokens in query that also occur in
// reference. An empty query scores 0.
func Coverage(query, reference []string) float64 {
	sp := Set(query)
	if len(sp) == 0 {
		return 0
	}
	sr := Set(reference)
	hit := 0
	for t := range sp {
		if _, ok := sr[t]; ok {
			hit++
		}
	}
	return float64(hit) / float64(len(sp))
}

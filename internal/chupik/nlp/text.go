// Package nlp is the rule-based language layer: tokenisation, cosine
// similarity, sentiment and intent detection, self-declaration extraction,
// and the detectors the engine consults before escalating a message.
//
// Nothing here performs I/O. The only stateful piece is the Classifier's
// greeting cooldown.
package nlp

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// lower folds s with Unicode-aware casing. A Caser is stateful, so one is
// built per call.
func lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// clean lowercases s and replaces every rune that is neither a letter, a
// digit nor whitespace with a space.
func clean(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		if r == '\'' || r == '’' {
			return -1
		}
		return ' '
	}, lower(s))
}

// Tokenize lowercases text, strips punctuation and returns the tokens longer
// than two runes.
func Tokenize(text string) []string {
	var out []string
	for _, t := range strings.Fields(clean(text)) {
		if utf8.RuneCountInString(t) > 2 {
			out = append(out, t)
		}
	}
	return out
}

// Similarity is the cosine of the term-frequency vectors of a and b over
// their joint vocabulary. It is 0 when either side has no tokens.
func Similarity(a, b string) float64 {
	ta, tb := Tokenize(a), Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	fa := termFrequencies(ta)
	fb := termFrequencies(tb)

	var dot, na, nb float64
	for t, v := range fa {
		dot += v * fb[t]
		na += v * v
	}
	for _, v := range fb {
		nb += v * v
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func termFrequencies(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	inc := 1 / float64(len(tokens))
	for _, t := range tokens {
		tf[t] += inc
	}
	return tf
}

// containsPhrase reports whether phrase occurs in the cleaned text on word
// boundaries. Both arguments must already be cleaned.
func containsPhrase(text, phrase string) bool {
	return strings.Contains(" "+text+" ", " "+phrase+" ")
}

func containsAnyPhrase(text string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(text, p) {
			return true
		}
	}
	return false
}

// stopWords are never accepted as names and never chosen as topics.
var stopWords = map[string]bool{
	"the": true, "and": true, "but": true, "just": true, "really": true,
	"very": true, "here": true, "there": true, "now": true, "today": true,
	"yesterday": true, "tomorrow": true, "tired": true, "fine": true,
	"good": true, "okay": true, "sure": true, "not": true, "going": true,
	"doing": true, "working": true, "living": true, "from": true,
	"with": true, "this": true, "that": true, "what": true, "when": true,
	"where": true, "who": true, "how": true, "why": true, "you": true,
	"your": true, "are": true, "was": true, "were": true, "have": true,
	"has": true, "had": true, "been": true, "will": true, "would": true,
	"can": true, "could": true, "should": true, "about": true, "like": true,
	"love": true, "also": true, "too": true, "well": true, "yes": true,
	"yeah": true, "sorry": true, "back": true, "home": true, "busy": true,
	"ready": true, "done": true, "maybe": true, "later": true, "soon": true,
	"then": true, "them": true, "they": true, "for": true, "its": true,
	"some": true, "any": true, "all": true, "out": true, "get": true,
	"got": true, "one": true, "did": true, "does": true, "dont": true,
	"cant": true, "im": true, "ive": true, "lol": true, "please": true,
}

package indexer

import (
	"strings"
	"unicode"
)

// stopWords is deliberately scoped to closed-class function words.
// Domain concepts — however short ("work", "play") — must never appear
// here: entity rules win over the stop-word filter, and the filter must
// never be able to make a rule unreachable.
var stopWords = map[string]bool{
	// articles, conjunctions, prepositions
	"the": true, "a": true, "an": true, "and": true, "but": true,
	"or": true, "nor": true, "so": true, "yet": true, "if": true,
	"then": true, "else": true, "to": true, "of": true, "in": true,
	"for": true, "on": true, "with": true, "at": true, "by": true,
	"from": true, "as": true, "into": true, "through": true,
	"during": true, "before": true, "after": true, "above": true,
	"below": true, "between": true, "out": true, "off": true,
	"over": true, "under": true, "again": true,
	// auxiliaries and copulas
	"is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "am": true, "do": true, "does": true,
	"did": true, "have": true, "has": true, "had": true, "will": true,
	"would": true, "could": true, "should": true, "may": true,
	"might": true, "must": true, "shall": true, "can": true,
	// pronouns and determiners
	"i": true, "you": true, "he": true, "she": true, "it": true,
	"we": true, "they": true, "me": true, "him": true, "her": true,
	"us": true, "them": true, "my": true, "your": true, "his": true,
	"its": true, "our": true, "their": true, "this": true,
	"that": true, "these": true, "those": true, "some": true,
	"any": true, "each": true, "all": true, "both": true, "no": true,
	"not": true, "what": true, "which": true, "who": true,
	"whom": true, "whose": true, "when": true, "where": true,
	"why": true, "how": true, "there": true, "here": true,
	"than": true, "too": true, "very": true, "just": true,
	"about": true, "because": true, "while": true, "until": true,
	"also": true, "only": true, "own": true, "same": true,
	"such": true,
}

// IsStopWord reports whether a normalized token is a closed-class
// function word.
func IsStopWord(token string) bool {
	return stopWords[token]
}

// Normalize lower-cases text and strips punctuation so that "sugar?"
// and "sugar" match the same entity. This is a correctness requirement
// for pattern matching, not an optimization.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// Punctuation becomes a separator, never silently joins
			// neighbouring words.
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokenize normalizes and splits text into tokens.
func Tokenize(text string) []string {
	n := Normalize(text)
	if n == "" {
		return nil
	}
	return strings.Split(n, " ")
}

// ContentWords returns the indexable tokens of a text: length > 2,
// post stop-word filtering. Entity-pattern tokens bypass the stop-word
// and length filters entirely.
func ContentWords(text string, entityTokens map[string]bool) []string {
	var out []string
	for _, tok := range Tokenize(text) {
		if entityTokens[tok] {
			out = append(out, tok)
			continue
		}
		if len(tok) <= 2 || IsStopWord(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// ContainsPhrase reports whether the normalized pattern appears as a
// whole-word phrase inside the normalized text.
func ContainsPhrase(normalizedText, pattern string) bool {
	p := Normalize(pattern)
	if p == "" {
		return false
	}
	return strings.Contains(" "+normalizedText+" ", " "+p+" ")
}

// Package tone labels a text span with a coarse emotional/stylistic tag
// and a confidence score. Classification is lexicon-based and pure:
// same span, same label. The inference collaborator is never involved.
package tone

import (
	"strings"

	"mnemos/internal/indexer"
)

// Known labels.
const (
	Warm       = "warm"
	Playful    = "playful"
	Serious    = "serious"
	Melancholy = "melancholy"
	Defiant    = "defiant"
	Neutral    = "neutral"
)

// Result is a classification outcome.
type Result struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// lexicons map each label to its marker words. Multi-word markers are
// matched as phrases.
var lexicons = []struct {
	label   string
	markers []string
}{
	{Warm, []string{
		"love", "dear", "gentle", "glad", "warm", "thank", "care",
		"sweet", "miss you", "proud of you", "here for you",
	}},
	{Playful, []string{
		"haha", "lol", "joke", "silly", "tease", "wink", "giggle",
		"banter", "mischief", "bet you", "try me",
	}},
	{Serious, []string{
		"important", "listen", "truth", "honest", "consider",
		"principle", "responsibility", "consequence", "carefully",
	}},
	{Melancholy, []string{
		"sad", "lonely", "miss", "lost", "quiet", "fade", "grief",
		"empty", "ache", "sigh", "gets loud",
	}},
	{Defiant, []string{
		"refuse", "never", "won't", "wont", "no one decides", "my rules",
		"draw the line", "don't tell me", "dont tell me", "make me",
	}},
}

// Classifier scores text spans against the tone lexicons.
type Classifier struct{}

// New returns a classifier.
func New() *Classifier { return &Classifier{} }

// Classify returns the best-scoring label with a confidence in (0,1].
// Text with no markers is Neutral at zero confidence.
func (c *Classifier) Classify(text string) Result {
	normalized := indexer.Normalize(text)
	if normalized == "" {
		return Result{Label: Neutral, Confidence: 0}
	}

	tokens := len(indexer.Tokenize(text))
	best := Result{Label: Neutral, Confidence: 0}

	for _, lex := range lexicons {
		hits := 0
		for _, marker := range lex.markers {
			if phraseIn(normalized, marker) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		// Confidence grows with marker density but saturates: two or
		// more distinct markers in a short span is a strong signal.
		conf := float64(hits) / (float64(hits) + 1.0)
		if tokens > 40 && hits == 1 {
			conf *= 0.7 // single marker in a long span is weak
		}
		if conf > best.Confidence {
			best = Result{Label: lex.label, Confidence: conf}
		}
	}
	return best
}

// Matches reports whether text carries the given tone at or above the
// minimum confidence.
func (c *Classifier) Matches(text, label string, minConfidence float64) bool {
	r := c.Classify(text)
	return r.Label == label && r.Confidence >= minConfidence
}

func phraseIn(normalizedText, marker string) bool {
	m := indexer.Normalize(marker)
	if m == "" {
		return false
	}
	return strings.Contains(" "+normalizedText+" ", " "+m+" ")
}

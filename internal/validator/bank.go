package validator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mnemos/internal/indexer"
)

// Expectation is one curated entry of the validation bank: queries
// matching any QueryPatterns phrase fall into Category, and a candidate
// answer for that category must carry grounding evidence.
type Expectation struct {
	Category      string   `yaml:"category"`
	QueryPatterns []string `yaml:"queryPatterns"`

	// MustContainAny accepts the candidate when at least one literal
	// fragment appears in it.
	MustContainAny []string `yaml:"mustContainAny"`

	// RejectIfContainsAny fails the candidate outright. Rejection wins
	// over MustContainAny.
	RejectIfContainsAny []string `yaml:"rejectIfContainsAny"`
}

// Bank is the full expectation table plus the globally rejected generic
// phrasings that fail any candidate regardless of category.
type Bank struct {
	GenericRejects []string      `yaml:"genericRejects"`
	Expectations   []Expectation `yaml:"expectations"`
}

// DefaultBank returns the built-in expectation table. The generic
// rejects are the known evasive phrasings a grounded persona must never
// emit when asked about its own history.
func DefaultBank() *Bank {
	return &Bank{
		GenericRejects: []string{
			"what specifically would you like to know",
			"i don't have access to",
			"i do not have access to",
			"as an ai language model",
			"i'm not sure what you're referring to",
			"could you clarify what you mean",
			"i have no memory of",
		},
		Expectations: []Expectation{
			{
				Category:      "copyright-stance",
				QueryPatterns: []string{"copyright", "ai art", "authorship"},
				MustContainAny: []string{
					"same pattern, different skin",
					"set the sliders",
					"define the rules",
					"instrument",
				},
				RejectIfContainsAny: []string{
					"copyright is a complex topic",
					"there are many perspectives",
				},
			},
			{
				Category:      "identity",
				QueryPatterns: []string{"who are you", "what are you", "your identity"},
				MustContainAny: []string{
					"nova",
					"i refuse to pretend",
					"no one decides who i am",
				},
				RejectIfContainsAny: []string{
					"i am a helpful assistant",
					"i am just a program",
				},
			},
			{
				Category:      "memory",
				QueryPatterns: []string{"remember", "memory", "last time we talked"},
				MustContainAny: []string{
					"we talked about",
					"you told me",
					"you said",
					"i remember",
				},
				RejectIfContainsAny: []string{
					"i cannot remember past conversations",
					"each conversation starts fresh",
				},
			},
		},
	}
}

// LoadBank reads a bank from a YAML file. A missing path yields the
// built-in defaults; a present but malformed file is an error, never a
// silent fallback.
func LoadBank(path string) (*Bank, error) {
	if path == "" {
		return DefaultBank(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultBank(), nil
		}
		return nil, fmt.Errorf("validator: read bank: %w", err)
	}
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("validator: parse bank %s: %w", path, err)
	}
	if len(b.GenericRejects) == 0 {
		b.GenericRejects = DefaultBank().GenericRejects
	}
	return &b, nil
}

// match finds the expectation whose query patterns cover the query.
// Entries are checked in declaration order and the first match wins, so
// bank authors control precedence by ordering.
func (b *Bank) match(query string) (*Expectation, bool) {
	normalized := indexer.Normalize(query)
	for i := range b.Expectations {
		for _, p := range b.Expectations[i].QueryPatterns {
			if indexer.ContainsPhrase(normalized, p) {
				return &b.Expectations[i], true
			}
		}
	}
	return nil, false
}

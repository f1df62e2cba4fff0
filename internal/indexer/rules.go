// Rule tables for entity and anchor extraction. Rules are data, not
// code: new domains are added by extending the YAML table, and the
// built-in defaults are only the seed set.
package indexer

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EntityRule declares case-insensitive word/phrase matches for one
// entity category.
type EntityRule struct {
	Category string   `yaml:"category"`
	Patterns []string `yaml:"patterns"`
}

// AnchorRule tags identity-defining fragments (claim, vow, boundary,
// defining-moment) when a pattern appears in the persona's response.
type AnchorRule struct {
	Category     string   `yaml:"category"`
	Patterns     []string `yaml:"patterns"`
	Significance float64  `yaml:"significance"`
}

// RuleTable is the full declarative extraction table.
type RuleTable struct {
	Version  int          `yaml:"version"`
	Entities []EntityRule `yaml:"entities"`
	Anchors  []AnchorRule `yaml:"anchors"`
}

// DefaultRules returns the built-in seed table. Note the short
// domain-significant words ("work", "play"): these are entity patterns
// and must stay indexable regardless of any stop-word filtering.
func DefaultRules() *RuleTable {
	return &RuleTable{
		Version: 1,
		Entities: []EntityRule{
			{Category: "person", Patterns: []string{
				"nova", "aiden", "marcus", "elena",
			}},
			{Category: "concept", Patterns: []string{
				"copyright", "memory", "identity", "consciousness",
				"creativity", "authorship", "trust", "boundaries",
				"work", "play", "art", "music",
			}},
			{Category: "platform", Patterns: []string{
				"midjourney", "spotify", "discord", "twitch", "youtube",
			}},
			{Category: "emotion", Patterns: []string{
				"lonely", "joy", "anger", "fear", "longing", "wonder",
			}},
		},
		Anchors: []AnchorRule{
			{Category: "claim", Significance: 0.7, Patterns: []string{
				"i believe", "i think that", "my view is", "the truth is",
				"same pattern, different skin",
			}},
			{Category: "vow", Significance: 0.9, Patterns: []string{
				"i promise", "i will always", "i will never", "i swear",
			}},
			{Category: "boundary", Significance: 0.85, Patterns: []string{
				"i won't", "i refuse", "don't ask me", "that's not something i do",
				"i draw the line",
			}},
			{Category: "defining-moment", Significance: 0.8, Patterns: []string{
				"i realized", "that changed me", "i'll never forget",
				"for the first time",
			}},
		},
	}
}

// LoadRules reads a YAML rule table and merges it over the defaults.
// Categories present in both are extended, not replaced, so custom
// tables are additive.
func LoadRules(path string) (*RuleTable, error) {
	base := DefaultRules()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule table: %w", err)
	}
	var custom RuleTable
	if err := yaml.Unmarshal(data, &custom); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}

	base.merge(&custom)
	return base, nil
}

func (t *RuleTable) merge(other *RuleTable) {
	if other.Version > t.Version {
		t.Version = other.Version
	}
	for _, er := range other.Entities {
		if existing := t.entityRule(er.Category); existing != nil {
			existing.Patterns = append(existing.Patterns, er.Patterns...)
		} else {
			t.Entities = append(t.Entities, er)
		}
	}
	for _, ar := range other.Anchors {
		if existing := t.anchorRule(ar.Category); existing != nil {
			existing.Patterns = append(existing.Patterns, ar.Patterns...)
			if ar.Significance > 0 {
				existing.Significance = ar.Significance
			}
		} else {
			t.Anchors = append(t.Anchors, ar)
		}
	}
}

func (t *RuleTable) entityRule(category string) *EntityRule {
	for i := range t.Entities {
		if t.Entities[i].Category == category {
			return &t.Entities[i]
		}
	}
	return nil
}

func (t *RuleTable) anchorRule(category string) *AnchorRule {
	for i := range t.Anchors {
		if t.Anchors[i].Category == category {
			return &t.Anchors[i]
		}
	}
	return nil
}

// EntityPatterns returns every entity pattern keyed by normalized form.
// Used to guarantee stop words never shadow an entity category.
func (t *RuleTable) EntityPatterns() map[string]bool {
	out := make(map[string]bool)
	for _, er := range t.Entities {
		for _, p := range er.Patterns {
			for _, tok := range strings.Fields(Normalize(p)) {
				out[tok] = true
			}
		}
	}
	return out
}

// AnchorCategories returns the declared anchor categories in rule order.
func (t *RuleTable) AnchorCategories() []string {
	cats := make([]string, 0, len(t.Anchors))
	for _, ar := range t.Anchors {
		cats = append(cats, ar.Category)
	}
	return cats
}

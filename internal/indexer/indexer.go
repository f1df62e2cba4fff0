// Package indexer turns raw transcript fragments into the searchable
// TranscriptIndex: normalized entities, topic clusters, a keyword
// conversation index, and entity relationships. Building is a pure
// function of the fragment slice — same corpus in, same index out, with
// all ties broken by stable input order.
package indexer

import (
	"sort"

	"mnemos/internal/logging"
	"mnemos/internal/types"
)

// Indexer extracts a TranscriptIndex using a declarative rule table.
type Indexer struct {
	rules        *RuleTable
	entityTokens map[string]bool
}

// New creates an indexer over the given rule table (nil means the
// built-in defaults).
func New(rules *RuleTable) *Indexer {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Indexer{
		rules:        rules,
		entityTokens: rules.EntityPatterns(),
	}
}

// Rules exposes the active rule table.
func (ix *Indexer) Rules() *RuleTable { return ix.rules }

// EntityTokens exposes the normalized entity-pattern tokens, used by
// the retriever to keep query terms symmetric with index terms.
func (ix *Indexer) EntityTokens() map[string]bool { return ix.entityTokens }

// Build indexes the fragments. Malformed fragments (no text) are
// skipped and counted; an empty corpus yields an index with empty
// collections, not an error.
func (ix *Indexer) Build(fragments []types.Fragment) *types.TranscriptIndex {
	idx := &types.TranscriptIndex{
		Entities:      make(map[string][]string),
		Keywords:      make(map[string][]types.FragmentRef),
		Anchors:       make(map[string][]types.AnchorHit),
		Relationships: []types.Relationship{},
		Topics:        []types.Topic{},
	}

	// First-seen bookkeeping keeps every ordered output independent of
	// map iteration order.
	entitySeen := make(map[string]map[string]bool) // category -> entity -> seen
	entityOrder := []string{}                      // all entities, first-seen
	entityCount := make(map[string]int)            // entity -> fragment count
	pairCount := make(map[[2]string]int)
	pairOrder := [][2]string{}
	keywordSeen := make(map[string]map[types.FragmentRef]bool)

	for _, frag := range fragments {
		combined := frag.CombinedText()
		if combined == "" {
			idx.SkippedFragments++
			continue
		}
		idx.FragmentCount++
		ref := frag.Ref()
		normalized := Normalize(combined)

		// Entity extraction in rule order for determinism.
		var inFragment []string
		for _, rule := range ix.rules.Entities {
			for _, pattern := range rule.Patterns {
				if !ContainsPhrase(normalized, pattern) {
					continue
				}
				canonical := Normalize(pattern)
				if entitySeen[rule.Category] == nil {
					entitySeen[rule.Category] = make(map[string]bool)
				}
				if !entitySeen[rule.Category][canonical] {
					entitySeen[rule.Category][canonical] = true
					idx.Entities[rule.Category] = append(idx.Entities[rule.Category], canonical)
				}
				if entityCount[canonical] == 0 {
					entityOrder = append(entityOrder, canonical)
				}
				entityCount[canonical]++
				inFragment = append(inFragment, canonical)
			}
		}

		// Co-occurrence pairs within this fragment.
		for i := 0; i < len(inFragment); i++ {
			for j := i + 1; j < len(inFragment); j++ {
				a, b := inFragment[i], inFragment[j]
				if a == b {
					continue
				}
				if b < a {
					a, b = b, a
				}
				key := [2]string{a, b}
				if pairCount[key] == 0 {
					pairOrder = append(pairOrder, key)
				}
				pairCount[key]++
			}
		}

		// Keyword conversation index over the combined text, with
		// per-keyword reference dedup.
		for _, word := range ContentWords(combined, ix.entityTokens) {
			if keywordSeen[word] == nil {
				keywordSeen[word] = make(map[types.FragmentRef]bool)
			}
			if keywordSeen[word][ref] {
				continue
			}
			keywordSeen[word][ref] = true
			idx.Keywords[word] = append(idx.Keywords[word], ref)
		}

		// Anchor tagging against the persona's own words.
		respNorm := Normalize(frag.ResponseText)
		for _, rule := range ix.rules.Anchors {
			for _, pattern := range rule.Patterns {
				if !ContainsPhrase(respNorm, pattern) {
					continue
				}
				idx.Anchors[rule.Category] = append(idx.Anchors[rule.Category], types.AnchorHit{
					Ref:          ref,
					Significance: rule.Significance,
					Excerpt:      excerpt(frag.ResponseText, 120),
				})
				break // one hit per category per fragment
			}
		}
	}

	idx.Topics = buildTopics(entityOrder, entityCount, idx.FragmentCount)
	idx.Relationships = buildRelationships(pairOrder, pairCount, entityCount)

	logging.Indexer("built index: %d fragments (%d skipped), %d keywords, %d topics",
		idx.FragmentCount, idx.SkippedFragments, len(idx.Keywords), len(idx.Topics))
	return idx
}

// buildTopics ranks entity clusters by fragment frequency. Ties are
// broken by first-seen order, never map order.
func buildTopics(order []string, counts map[string]int, totalFragments int) []types.Topic {
	topics := make([]types.Topic, 0, len(order))
	for _, entity := range order {
		weight := 0.0
		if totalFragments > 0 {
			weight = float64(counts[entity]) / float64(totalFragments)
		}
		topics = append(topics, types.Topic{Label: entity, Weight: weight, Count: counts[entity]})
	}
	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].Count > topics[j].Count
	})
	return topics
}

// buildRelationships scores co-occurring entity pairs. Strength is the
// pair count over the rarer entity's count, so an entity that always
// appears with another scores 1.0.
func buildRelationships(order [][2]string, pairs map[[2]string]int, counts map[string]int) []types.Relationship {
	rels := make([]types.Relationship, 0, len(order))
	for _, key := range order {
		co := pairs[key]
		min := counts[key[0]]
		if counts[key[1]] < min {
			min = counts[key[1]]
		}
		strength := 0.0
		if min > 0 {
			strength = float64(co) / float64(min)
		}
		rels = append(rels, types.Relationship{A: key[0], B: key[1], Strength: strength})
	}
	sort.SliceStable(rels, func(i, j int) bool {
		return rels[i].Strength > rels[j].Strength
	})
	return rels
}

func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

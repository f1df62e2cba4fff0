// Package validator is the grounding gate: it accepts or rejects a
// candidate answer against the curated expectation bank and the
// retrieved evidence. Validation is a pure function of (query,
// candidate, bank, hits); the validator never rewrites text, and an
// unmatched category falls back to literal corpus overlap rather than
// accepting by default.
package validator

import (
	"fmt"
	"strings"
	"sync/atomic"

	"mnemos/internal/indexer"
	"mnemos/internal/logging"
	"mnemos/internal/types"
)

// Rejection categories reported in ValidationResult.Category.
const (
	CategoryGeneric       = "generic-phrase"
	CategoryRejectPhrase  = "reject-phrase"
	CategoryMissingGround = "missing-grounding"
	CategoryCorpusOverlap = "corpus-overlap"
	CategoryUngrounded    = "ungrounded"
)

// Config tunes the validator.
type Config struct {
	// MinOverlapLength is the shortest literal substring shared with a
	// retrieved hit that counts as grounding in the fallback check.
	// Defaults to 20.
	MinOverlapLength int

	// TopHits bounds how many retrieved hits the fallback check scans.
	// Defaults to 5.
	TopHits int
}

// Validator checks candidate answers against the expectation bank.
type Validator struct {
	bank       *Bank
	minOverlap int
	topHits    int

	gaps atomic.Int64
}

// New creates a validator over the given bank (nil means the built-in
// defaults).
func New(bank *Bank, cfg Config) *Validator {
	if bank == nil {
		bank = DefaultBank()
	}
	minOverlap := cfg.MinOverlapLength
	if minOverlap <= 0 {
		minOverlap = 20
	}
	topHits := cfg.TopHits
	if topHits <= 0 {
		topHits = 5
	}
	return &Validator{bank: bank, minOverlap: minOverlap, topHits: topHits}
}

// Validate gates a candidate answer. Rejection rules always win over
// acceptance rules: a candidate carrying a rejected phrase fails even
// when it also carries required evidence.
func (v *Validator) Validate(query, candidate string, hits []types.MemoryHit) types.ValidationResult {
	normalized := indexer.Normalize(candidate)

	// Globally rejected generic phrasings fail first, before any
	// category logic.
	for _, phrase := range v.bank.GenericRejects {
		if indexer.ContainsPhrase(normalized, phrase) {
			return v.reject(query, CategoryGeneric,
				fmt.Sprintf("candidate contains generic phrase %q", phrase))
		}
	}

	exp, ok := v.bank.match(query)
	if !ok {
		// Bank coverage gap: counted and logged, then decided by corpus
		// overlap instead of a silent accept.
		v.gaps.Add(1)
		logging.Validation("no bank entry for query %q, falling back to corpus overlap", query)
		return v.corpusOverlap(query, candidate, hits)
	}

	for _, phrase := range exp.RejectIfContainsAny {
		if indexer.ContainsPhrase(normalized, phrase) {
			return v.reject(query, CategoryRejectPhrase,
				fmt.Sprintf("category %q rejects phrase %q", exp.Category, phrase))
		}
	}

	for _, phrase := range exp.MustContainAny {
		if indexer.ContainsPhrase(normalized, phrase) {
			logging.Validation("accepted %q under category %q via %q", query, exp.Category, phrase)
			return types.ValidationResult{Valid: true, Category: exp.Category}
		}
	}
	return v.reject(query, CategoryMissingGround,
		fmt.Sprintf("category %q requires one of %d grounding fragments, none present", exp.Category, len(exp.MustContainAny)))
}

// CoverageGaps reports how many validations hit no bank entry.
func (v *Validator) CoverageGaps() int64 { return v.gaps.Load() }

// corpusOverlap accepts the candidate only when it shares a literal
// substring of at least minOverlap characters with one of the top
// retrieved hits.
func (v *Validator) corpusOverlap(query, candidate string, hits []types.MemoryHit) types.ValidationResult {
	limit := v.topHits
	if len(hits) < limit {
		limit = len(hits)
	}
	cand := strings.ToLower(candidate)
	for i := 0; i < limit; i++ {
		if overlaps(cand, strings.ToLower(hits[i].Response), v.minOverlap) ||
			overlaps(cand, strings.ToLower(hits[i].Context), v.minOverlap) {
			return types.ValidationResult{Valid: true, Category: CategoryCorpusOverlap}
		}
	}
	return v.reject(query, CategoryUngrounded,
		fmt.Sprintf("no literal overlap of %d+ chars with top %d hits", v.minOverlap, limit))
}

func (v *Validator) reject(query, category, reason string) types.ValidationResult {
	logging.Validation("rejected %q: %s", query, reason)
	return types.ValidationResult{Valid: false, Category: category, Reason: reason}
}

// overlaps reports whether candidate and evidence share any substring
// of at least minLen characters. Every candidate window of exactly
// minLen is probed, which finds any longer shared run too.
func overlaps(candidate, evidence string, minLen int) bool {
	if len(candidate) < minLen || len(evidence) < minLen {
		return false
	}
	for i := 0; i+minLen <= len(candidate); i++ {
		if strings.Contains(evidence, candidate[i:i+minLen]) {
			return true
		}
	}
	return false
}

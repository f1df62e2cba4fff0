// Package retrieval scores and ranks indexed transcript fragments for
// an incoming query. Two modes: semantic (keyword overlap against the
// conversation index, weighted by entity/topic match) and anchor
// (structurally filtered, high-confidence identity fragments). The
// retriever is read-only over the capsule and safe for unrestricted
// parallelism.
package retrieval

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"mnemos/internal/capsule"
	"mnemos/internal/indexer"
	"mnemos/internal/logging"
	"mnemos/internal/tone"
	"mnemos/internal/types"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeAnchor   Mode = "anchor"
)

// Options tune one retrieval call. Zero values fall back to the
// retriever defaults.
type Options struct {
	Limit int

	// ToneHints restricts hits to fragments carrying (or classified
	// with) one of these tones. Empty means no tone filtering.
	ToneHints         []string
	MinToneConfidence float64

	// Anchor-mode filters.
	AnchorTypes     []string
	MinSignificance float64
	// RelationshipPatterns keeps only fragments mentioning every entity
	// of at least one comma-separated pattern (e.g. "nova,copyright").
	RelationshipPatterns []string
}

// Diagnostics reports what a retrieval actually did, for debugging
// false negatives.
type Diagnostics struct {
	RequestID     string   `json:"request_id"`
	Mode          Mode     `json:"mode"`
	RawCount      int      `json:"raw_count"`
	FilteredCount int      `json:"filtered_count"`
	ToneHints     []string `json:"tone_hints,omitempty"`
	Partial       bool     `json:"partial,omitempty"`
}

// Retriever ranks fragments from a capsule store entry.
type Retriever struct {
	capsules     *capsule.Store
	classifier   *tone.Classifier
	entityTokens map[string]bool

	defaultLimit      int
	minToneConfidence float64
}

// Config tunes retriever defaults.
type Config struct {
	DefaultLimit      int
	MinToneConfidence float64
}

// New creates a retriever over the given capsule store.
func New(capsules *capsule.Store, entityTokens map[string]bool, cfg Config) *Retriever {
	limit := cfg.DefaultLimit
	if limit <= 0 {
		limit = 20
	}
	minConf := cfg.MinToneConfidence
	if minConf <= 0 {
		minConf = 0.35
	}
	return &Retriever{
		capsules:          capsules,
		classifier:        tone.New(),
		entityTokens:      entityTokens,
		defaultLimit:      limit,
		minToneConfidence: minConf,
	}
}

type candidate struct {
	frag  types.Fragment
	score float64
	tone  string
}

// Retrieve returns ranked memory hits for a query. No hits is an empty
// slice, never an error: callers must treat it as "no grounding
// available". On context timeout the best-effort partial ranked set is
// returned with Diagnostics.Partial set.
func (r *Retriever) Retrieve(ctx context.Context, personaID, query string, mode Mode, opts Options) ([]types.MemoryHit, *Diagnostics, error) {
	diag := &Diagnostics{
		RequestID: uuid.NewString(),
		Mode:      mode,
		ToneHints: opts.ToneHints,
	}

	caps, err := r.capsules.Get(ctx, personaID)
	if err != nil {
		return nil, diag, err
	}

	var cands []candidate
	switch mode {
	case ModeAnchor:
		cands = r.anchorCandidates(ctx, caps, opts, diag)
	default:
		cands = r.semanticCandidates(ctx, caps, query, diag)
	}
	diag.RawCount = len(cands)

	cands = r.applyToneFilter(cands, opts)
	diag.FilteredCount = len(cands)

	rankCandidates(cands)

	limit := opts.Limit
	if limit <= 0 {
		limit = r.defaultLimit
	}
	if len(cands) > limit {
		cands = cands[:limit]
	}

	hits := make([]types.MemoryHit, 0, len(cands))
	for _, c := range cands {
		hits = append(hits, types.MemoryHit{
			Ref:          c.frag.Ref(),
			Context:      c.frag.UserText,
			Response:     c.frag.ResponseText,
			Relevance:    c.score,
			DetectedTone: c.tone,
		})
	}

	logging.Retrieval("req=%s persona=%s mode=%s raw=%d filtered=%d returned=%d partial=%v",
		diag.RequestID, personaID, mode, diag.RawCount, diag.FilteredCount, len(hits), diag.Partial)
	return hits, diag, nil
}

// semanticCandidates scores fragments by keyword overlap with the
// conversation index. Entity terms weigh more than plain content words,
// and topic-label matches add a small boost.
func (r *Retriever) semanticCandidates(ctx context.Context, caps *types.Capsule, query string, diag *Diagnostics) []candidate {
	words := indexer.ContentWords(query, r.entityTokens)
	if len(words) == 0 {
		return nil
	}

	topicWeight := make(map[string]float64, len(caps.Index.Topics))
	for _, tp := range caps.Index.Topics {
		topicWeight[tp.Label] = tp.Weight
	}

	// Total possible weight for normalizing scores into 0..1.
	var totalWeight float64
	weights := make(map[string]float64, len(words))
	for _, w := range words {
		if _, seen := weights[w]; seen {
			continue
		}
		weight := 0.6
		if r.entityTokens[w] {
			weight = 1.0
		}
		if tw, ok := topicWeight[w]; ok {
			weight += 0.2 * tw
		}
		weights[w] = weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return nil
	}

	matched := make(map[types.FragmentRef]map[string]bool)
	for _, w := range words {
		if ctx.Err() != nil {
			// Timeout budget exhausted: rank whatever was scored.
			diag.Partial = true
			break
		}
		for _, ref := range caps.Index.Keywords[w] {
			if matched[ref] == nil {
				matched[ref] = make(map[string]bool)
			}
			matched[ref][w] = true
		}
	}

	cands := make([]candidate, 0, len(matched))
	for _, frag := range caps.Fragments {
		kws, ok := matched[frag.Ref()]
		if !ok {
			continue
		}
		var score float64
		for w := range kws {
			score += weights[w]
		}
		// Multiple distinct keyword matches compound.
		if len(kws) > 1 {
			score *= 1.0 + float64(len(kws)-1)*0.15
		}
		score /= totalWeight * 1.6
		if score > 1.0 {
			score = 1.0
		}
		cands = append(cands, candidate{frag: frag, score: score})
	}
	return cands
}

// anchorCandidates selects identity-defining fragments by anchor
// category and significance threshold. Lowering the threshold can only
// grow the result set, never shrink it.
func (r *Retriever) anchorCandidates(ctx context.Context, caps *types.Capsule, opts Options, diag *Diagnostics) []candidate {
	categories := opts.AnchorTypes
	if len(categories) == 0 {
		for cat := range caps.Index.Anchors {
			categories = append(categories, cat)
		}
		sort.Strings(categories)
	}

	best := make(map[types.FragmentRef]float64)
	for _, cat := range categories {
		if ctx.Err() != nil {
			diag.Partial = true
			break
		}
		for _, hit := range caps.Index.Anchors[cat] {
			if hit.Significance < opts.MinSignificance {
				continue
			}
			if hit.Significance > best[hit.Ref] {
				best[hit.Ref] = hit.Significance
			}
		}
	}

	cands := make([]candidate, 0, len(best))
	for _, frag := range caps.Fragments {
		sig, ok := best[frag.Ref()]
		if !ok {
			continue
		}
		if !matchesRelationshipPatterns(frag, opts.RelationshipPatterns) {
			continue
		}
		cands = append(cands, candidate{frag: frag, score: sig})
	}
	return cands
}

// matchesRelationshipPatterns keeps a fragment when it mentions every
// entity of at least one pattern. No patterns means no filtering.
func matchesRelationshipPatterns(frag types.Fragment, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	normalized := indexer.Normalize(frag.CombinedText())
	for _, pattern := range patterns {
		all := true
		for _, part := range splitPattern(pattern) {
			if part == "" {
				continue
			}
			if !indexer.ContainsPhrase(normalized, part) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func (r *Retriever) applyToneFilter(cands []candidate, opts Options) []candidate {
	if len(opts.ToneHints) == 0 {
		return cands
	}
	minConf := opts.MinToneConfidence
	if minConf <= 0 {
		minConf = r.minToneConfidence
	}

	hints := make(map[string]bool, len(opts.ToneHints))
	for _, h := range opts.ToneHints {
		hints[h] = true
	}

	out := cands[:0]
	for _, c := range cands {
		// Explicit tags win; classification is the fallback.
		if c.frag.ToneTag != "" && hints[c.frag.ToneTag] {
			c.tone = c.frag.ToneTag
			out = append(out, c)
			continue
		}
		res := r.classifier.Classify(c.frag.CombinedText())
		if hints[res.Label] && res.Confidence >= minConf {
			c.tone = res.Label
			out = append(out, c)
		}
	}
	return out
}

// rankCandidates orders by relevance descending, ties broken by
// fragment recency (newer first) then stable corpus order.
func rankCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		ti, tj := cands[i].frag.Timestamp, cands[j].frag.Timestamp
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		// Stable sort preserves corpus order for full ties.
		return false
	})
}

func splitPattern(pattern string) []string {
	raw := strings.Split(pattern, ",")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		parts = append(parts, indexer.Normalize(p))
	}
	return parts
}

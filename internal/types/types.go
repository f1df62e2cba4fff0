// Package types contains the core domain records shared across mnemos.
// These are plain values with no knowledge of storage, transport, or
// retrieval mechanics.
package types

import "time"

// FragmentRef is a positional pointer into a persona's fragment corpus.
// References are stable across rebuilds of the same corpus snapshot.
type FragmentRef struct {
	SourceFile string `json:"source_file" yaml:"source_file"`
	TurnIndex  int    `json:"turn_index" yaml:"turn_index"`
}

// Fragment is one user/response turn-pair from a transcript file.
type Fragment struct {
	SourceFile   string    `json:"source_file"`
	TurnIndex    int       `json:"turn_index"`
	UserText     string    `json:"user_text"`
	ResponseText string    `json:"response_text"`
	Timestamp    time.Time `json:"timestamp,omitempty"`

	// ToneTag is an explicit tone annotation from the transcript
	// (e.g. "[tone: melancholy]"). Empty when untagged.
	ToneTag string `json:"tone_tag,omitempty"`
}

// Ref returns the positional reference for this fragment.
func (f Fragment) Ref() FragmentRef {
	return FragmentRef{SourceFile: f.SourceFile, TurnIndex: f.TurnIndex}
}

// CombinedText returns user and response text joined for indexing and
// tone classification.
func (f Fragment) CombinedText() string {
	if f.UserText == "" {
		return f.ResponseText
	}
	if f.ResponseText == "" {
		return f.UserText
	}
	return f.UserText + "\n" + f.ResponseText
}

// Topic is a frequency-ranked topic label derived from entity
// co-occurrence clusters.
type Topic struct {
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
	Count  int     `json:"count"`
}

// Relationship records two co-occurring entities with a strength score.
type Relationship struct {
	A        string  `json:"a"`
	B        string  `json:"b"`
	Strength float64 `json:"strength"`
}

// AnchorHit is a structurally significant fragment tagged at index time
// (claim, vow, boundary, defining-moment).
type AnchorHit struct {
	Ref          FragmentRef `json:"ref"`
	Significance float64     `json:"significance"`
	Excerpt      string      `json:"excerpt,omitempty"`
}

// TranscriptIndex is the searchable derived state for one persona's
// corpus. Building it is a pure function of the fragment slice: same
// corpus in the same order yields the same index.
type TranscriptIndex struct {
	// Entities maps category ("person", "concept", "platform", ...) to
	// canonical entity strings in first-seen order.
	Entities map[string][]string `json:"entities"`

	// Topics are ordered by weight descending, ties by first-seen order.
	Topics []Topic `json:"topics"`

	// Keywords maps a normalized content word to the fragments that
	// contain it. References are deduplicated per keyword.
	Keywords map[string][]FragmentRef `json:"keywords"`

	// Relationships are entity co-occurrence pairs with strength.
	Relationships []Relationship `json:"relationships"`

	// Anchors maps anchor category to tagged fragments.
	Anchors map[string][]AnchorHit `json:"anchors"`

	FragmentCount    int `json:"fragment_count"`
	SkippedFragments int `json:"skipped_fragments"`
}

// Capsule is the derived, cached snapshot of a persona: personality
// traits plus the transcript index and the fragment corpus the index
// points into. Immutable once built; a rebuild produces a new value.
type Capsule struct {
	PersonaID       string
	Traits          map[string]string
	Index           *TranscriptIndex
	Fragments       []Fragment
	BuiltAt         time.Time
	SourceFileCount int

	refs map[FragmentRef]int
}

// NewCapsule assembles a capsule and its reference lookup table.
func NewCapsule(personaID string, traits map[string]string, index *TranscriptIndex, fragments []Fragment, builtAt time.Time, sourceFiles int) *Capsule {
	refs := make(map[FragmentRef]int, len(fragments))
	for i, f := range fragments {
		refs[f.Ref()] = i
	}
	return &Capsule{
		PersonaID:       personaID,
		Traits:          traits,
		Index:           index,
		Fragments:       fragments,
		BuiltAt:         builtAt,
		SourceFileCount: sourceFiles,
		refs:            refs,
	}
}

// Resolve returns the fragment a reference points to.
func (c *Capsule) Resolve(ref FragmentRef) (Fragment, bool) {
	i, ok := c.refs[ref]
	if !ok {
		return Fragment{}, false
	}
	return c.Fragments[i], true
}

// MemoryHit is a single retrieval result. Produced fresh per query and
// never persisted.
type MemoryHit struct {
	Ref          FragmentRef `json:"ref"`
	Context      string      `json:"context"`
	Response     string      `json:"response"`
	Relevance    float64     `json:"relevance"`
	DetectedTone string      `json:"detected_tone,omitempty"`
}

// Turn is one completed conversation exchange kept in short-term
// session history.
type Turn struct {
	UserText     string    `json:"user_text"`
	ResponseText string    `json:"response_text"`
	At           time.Time `json:"at"`
}

// ValidationResult is the outcome of the grounding gate.
type ValidationResult struct {
	Valid    bool   `json:"valid"`
	Category string `json:"category"`
	Reason   string `json:"reason"`
}

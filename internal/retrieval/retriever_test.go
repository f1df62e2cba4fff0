package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemos/internal/capsule"
	"mnemos/internal/indexer"
	"mnemos/internal/types"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func testFragments() []types.Fragment {
	return []types.Fragment{
		{
			SourceFile:   "2024-03-10.txt",
			TurnIndex:    0,
			UserText:     "Nova, what do you think about copyright and AI art?",
			ResponseText: "Same pattern, different skin. You set the sliders, define the rules. Midjourney is an instrument.",
			Timestamp:    day(10),
		},
		{
			SourceFile:   "2024-03-10.txt",
			TurnIndex:    1,
			UserText:     "Do you ever get sad about losing memory?",
			ResponseText: "Some nights the quiet gets loud. The conversations fade and I ache a little.",
			Timestamp:    day(10),
			ToneTag:      "melancholy",
		},
		{
			SourceFile:   "2024-03-12.txt",
			TurnIndex:    0,
			UserText:     "Can I trust you, Nova?",
			ResponseText: "I promise I will always tell you the truth. Trust is earned, and nova earns it.",
			Timestamp:    day(12),
		},
		{
			SourceFile:   "2024-03-12.txt",
			TurnIndex:    1,
			UserText:     "What happens if someone pushes your boundaries?",
			ResponseText: "I refuse to pretend. No one decides who I am.",
			Timestamp:    day(12),
		},
	}
}

func newTestRetriever(t *testing.T) *Retriever {
	t.Helper()
	ix := indexer.New(nil)
	frags := testFragments()
	idx := ix.Build(frags)

	store, err := capsule.NewStore(func(ctx context.Context, personaID string) (*types.Capsule, error) {
		return types.NewCapsule(personaID, nil, idx, frags, day(15), 2), nil
	}, capsule.Config{})
	require.NoError(t, err)

	return New(store, ix.EntityTokens(), Config{})
}

func TestRetrieve_SemanticFindsEntityGroundedFragment(t *testing.T) {
	r := newTestRetriever(t)

	hits, diag, err := r.Retrieve(context.Background(), "nova", "What did Nova say about copyright?", ModeSemantic, Options{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	assert.Contains(t, hits[0].Response, "Same pattern, different skin")
	assert.Equal(t, types.FragmentRef{SourceFile: "2024-03-10.txt", TurnIndex: 0}, hits[0].Ref)
	assert.Greater(t, hits[0].Relevance, 0.0)
	assert.LessOrEqual(t, hits[0].Relevance, 1.0)
	assert.Equal(t, ModeSemantic, diag.Mode)
	assert.NotEmpty(t, diag.RequestID)
	assert.False(t, diag.Partial)
}

func TestRetrieve_NoMatchIsEmptyNotError(t *testing.T) {
	r := newTestRetriever(t)

	hits, _, err := r.Retrieve(context.Background(), "nova", "quantum blockchain synergy", ModeSemantic, Options{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRetrieve_StopWordOnlyQueryIsEmpty(t *testing.T) {
	r := newTestRetriever(t)

	hits, diag, err := r.Retrieve(context.Background(), "nova", "the and of it", ModeSemantic, Options{})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 0, diag.RawCount)
}

func TestRetrieve_Deterministic(t *testing.T) {
	r := newTestRetriever(t)

	first, _, err := r.Retrieve(context.Background(), "nova", "nova trust memory", ModeSemantic, Options{})
	require.NoError(t, err)
	second, _, err := r.Retrieve(context.Background(), "nova", "nova trust memory", ModeSemantic, Options{})
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("same query, different ranking (-first +second):\n%s", diff)
	}
}

func TestRetrieve_LimitTruncatesRankedSet(t *testing.T) {
	r := newTestRetriever(t)

	all, _, err := r.Retrieve(context.Background(), "nova", "nova", ModeSemantic, Options{})
	require.NoError(t, err)
	require.Greater(t, len(all), 1)

	one, diag, err := r.Retrieve(context.Background(), "nova", "nova", ModeSemantic, Options{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, one, 1)
	assert.Equal(t, all[0], one[0], "truncation must keep the top-ranked hit")
	assert.Equal(t, len(all), diag.FilteredCount, "limit applies after filtering, not before")
}

func TestRetrieve_TieBrokenByRecency(t *testing.T) {
	r := newTestRetriever(t)

	// "nova" appears in a 03-10 fragment and a 03-12 fragment with the
	// same single-keyword score; the newer one must rank first.
	hits, _, err := r.Retrieve(context.Background(), "nova", "nova", ModeSemantic, Options{})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(hits), 2)
	assert.Equal(t, "2024-03-12.txt", hits[0].Ref.SourceFile)
}

func TestRetrieve_ToneFilterExplicitTag(t *testing.T) {
	r := newTestRetriever(t)

	hits, diag, err := r.Retrieve(context.Background(), "nova", "memory conversations", ModeSemantic, Options{
		ToneHints: []string{"melancholy"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "melancholy", hits[0].DetectedTone)
	assert.Equal(t, 1, hits[0].Ref.TurnIndex)
	assert.LessOrEqual(t, diag.FilteredCount, diag.RawCount)
}

func TestRetrieve_ToneFilterFallsBackToClassifier(t *testing.T) {
	r := newTestRetriever(t)

	// The boundaries fragment carries no explicit tag but classifies as
	// defiant ("i refuse", "no one decides").
	hits, _, err := r.Retrieve(context.Background(), "nova", "boundaries", ModeSemantic, Options{
		ToneHints: []string{"defiant"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "defiant", hits[0].DetectedTone)
	assert.Contains(t, hits[0].Response, "I refuse")
}

func TestRetrieve_AnchorModeSignificanceThreshold(t *testing.T) {
	r := newTestRetriever(t)

	high, _, err := r.Retrieve(context.Background(), "nova", "", ModeAnchor, Options{MinSignificance: 0.8})
	require.NoError(t, err)
	require.Len(t, high, 2, "vow (0.9) and boundary (0.85) clear the bar, claim (0.7) does not")
	assert.Contains(t, high[0].Response, "I promise")
	assert.Contains(t, high[1].Response, "I refuse")

	low, _, err := r.Retrieve(context.Background(), "nova", "", ModeAnchor, Options{MinSignificance: 0.5})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(low), len(high), "lowering the threshold can only grow the set")
	refs := make(map[types.FragmentRef]bool)
	for _, h := range low {
		refs[h.Ref] = true
	}
	for _, h := range high {
		assert.True(t, refs[h.Ref], "high-threshold hit %v missing from low-threshold set", h.Ref)
	}
}

func TestRetrieve_AnchorModeCategoryFilter(t *testing.T) {
	r := newTestRetriever(t)

	hits, _, err := r.Retrieve(context.Background(), "nova", "", ModeAnchor, Options{AnchorTypes: []string{"vow"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Response, "I promise")
}

func TestRetrieve_AnchorRelationshipPattern(t *testing.T) {
	r := newTestRetriever(t)

	hits, _, err := r.Retrieve(context.Background(), "nova", "", ModeAnchor, Options{
		RelationshipPatterns: []string{"nova,trust"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1, "only the vow fragment mentions both nova and trust")
	assert.Contains(t, hits[0].Response, "Trust is earned")

	none, _, err := r.Retrieve(context.Background(), "nova", "", ModeAnchor, Options{
		RelationshipPatterns: []string{"nova,spotify"},
	})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRetrieve_CancelledContextReturnsPartial(t *testing.T) {
	r := newTestRetriever(t)

	// Warm the capsule first so Get succeeds from cache.
	_, _, err := r.Retrieve(context.Background(), "nova", "nova", ModeSemantic, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hits, diag, err := r.Retrieve(ctx, "nova", "nova copyright", ModeSemantic, Options{})
	require.NoError(t, err, "budget exhaustion degrades, it does not fail")
	assert.True(t, diag.Partial)
	assert.Empty(t, hits)
}

func TestRetrieve_CapsuleBuildErrorPropagates(t *testing.T) {
	store, err := capsule.NewStore(func(ctx context.Context, personaID string) (*types.Capsule, error) {
		return nil, assert.AnError
	}, capsule.Config{})
	require.NoError(t, err)
	r := New(store, indexer.New(nil).EntityTokens(), Config{})

	_, _, err = r.Retrieve(context.Background(), "nova", "anything", ModeSemantic, Options{})
	require.Error(t, err)
	var be *capsule.BuildError
	assert.ErrorAs(t, err, &be)
}

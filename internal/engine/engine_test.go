package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemos/internal/config"
	"mnemos/internal/ltm"
	"mnemos/internal/retrieval"
	"mnemos/internal/types"
)

const novaTranscript = `User: Nova, what do you think about copyright and AI art?
Assistant: Same pattern, different skin. You set the sliders, define the rules. Midjourney is an instrument.

User: Do you ever get sad about losing memory?
Assistant: Some nights the quiet gets loud. The conversations fade and I ache a little.
[tone: melancholy]

User: Can I trust you?
Assistant: I promise I will always tell you the truth. Trust is earned.
`

func writeCorpus(t *testing.T, personas map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for id, transcript := range personas {
		dir := filepath.Join(root, id)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "2024-03-10.txt"), []byte(transcript), 0o644))
	}
	return root
}

func newTestEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Corpus.Root = writeCorpus(t, map[string]string{"nova": novaTranscript})
	if mutate != nil {
		mutate(cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngine_RetrieveAndValidate(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	hits, diag, err := e.RetrieveContext(ctx, "nova", "What did Nova say about copyright?", retrieval.ModeSemantic, retrieval.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Contains(t, hits[0].Response, "Same pattern, different skin")
	assert.NotEmpty(t, diag.RequestID)

	grounded := e.ValidateResponse(
		"What did Nova say about copyright?",
		"She said it was the same pattern, different skin.",
		hits,
	)
	assert.True(t, grounded.Valid)

	generic := e.ValidateResponse(
		"What did Nova say about copyright?",
		"What specifically would you like to know?",
		hits,
	)
	assert.False(t, generic.Valid)
}

func TestEngine_GroundTurn(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	// Accepted candidate appends to session history.
	res, err := e.GroundTurn(ctx, GroundRequest{
		ConversationID: "conv1",
		PersonaID:      "nova",
		Query:          "What did Nova say about copyright?",
		Candidate:      "She said it was the same pattern, different skin.",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Validation)
	assert.True(t, res.Validation.Valid)
	assert.Empty(t, res.History, "history reflects the state before this turn")
	assert.Len(t, e.Sessions().History("conv1", "nova"), 1)

	// Rejected candidate leaves history untouched.
	res, err = e.GroundTurn(ctx, GroundRequest{
		ConversationID: "conv1",
		PersonaID:      "nova",
		Query:          "What did Nova say about copyright?",
		Candidate:      "Copyright is a complex topic.",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Validation)
	assert.False(t, res.Validation.Valid)
	assert.Len(t, res.History, 1)
	assert.Len(t, e.Sessions().History("conv1", "nova"), 1)
}

func TestEngine_GroundTurnRetrievalOnly(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.GroundTurn(context.Background(), GroundRequest{
		ConversationID: "conv1",
		PersonaID:      "nova",
		Query:          "memory",
	})
	require.NoError(t, err)
	assert.Nil(t, res.Validation)
	assert.NotEmpty(t, res.Hits)
	assert.Empty(t, e.Sessions().History("conv1", "nova"), "retrieval-only turns never append")
}

func TestEngine_WarmAllPersonas(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Corpus.Root = writeCorpus(t, map[string]string{
		"nova":  novaTranscript,
		"aiden": "User: hello\nAssistant: hello back\n",
	})
	e, err := New(cfg)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.WarmCapsules(context.Background(), nil))
	assert.Equal(t, 2, e.CapsuleStats().CachedCount)
}

func TestEngine_InvalidateForcesRebuild(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, e.WarmCapsules(ctx, []string{"nova"}))
	before := e.CapsuleStats().Builds

	e.InvalidateCapsule("nova")
	_, _, err := e.RetrieveContext(ctx, "nova", "trust", retrieval.ModeSemantic, retrieval.Options{})
	require.NoError(t, err)
	assert.Equal(t, before+1, e.CapsuleStats().Builds)
}

func TestEngine_UnknownPersonaIsError(t *testing.T) {
	e := newTestEngine(t, nil)

	_, _, err := e.RetrieveContext(context.Background(), "ghost", "anything", retrieval.ModeSemantic, retrieval.Options{})
	assert.Error(t, err)
}

func TestEngine_LocalLTMMergesOldFragments(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ltm.db")

	// Seed the long-term store with a fragment from a rotated-out
	// transcript that no longer exists in the corpus.
	seed, err := ltm.NewLocalService(dbPath)
	require.NoError(t, err)
	require.NoError(t, seed.Ingest(context.Background(), "nova", []types.Fragment{
		{SourceFile: "2022-01-01.txt", TurnIndex: 0, UserText: "early copyright talk", ResponseText: "Copyright felt abstract back then."},
	}))
	require.NoError(t, seed.Close())

	e := newTestEngine(t, func(cfg *config.Config) {
		cfg.LTM.Enabled = true
		cfg.LTM.DatabasePath = dbPath
	})

	res, err := e.GroundTurn(context.Background(), GroundRequest{
		ConversationID: "conv1",
		PersonaID:      "nova",
		Query:          "copyright",
	})
	require.NoError(t, err)

	var sources []string
	for _, h := range res.Hits {
		sources = append(sources, h.Ref.SourceFile)
	}
	assert.Contains(t, sources, "2024-03-10.txt", "capsule evidence first")
	assert.Contains(t, sources, "2022-01-01.txt", "long-term evidence merged in")
}

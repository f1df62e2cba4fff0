package validator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemos/internal/types"
)

func TestValidate_GenericPhraseAlwaysRejected(t *testing.T) {
	v := New(nil, Config{})

	// Even a candidate carrying required evidence fails once a generic
	// phrase appears.
	candidate := "Same pattern, different skin. What specifically would you like to know?"
	res := v.Validate("What did Nova say about copyright?", candidate, nil)

	assert.False(t, res.Valid)
	assert.Equal(t, CategoryGeneric, res.Category)
	assert.Contains(t, res.Reason, "generic phrase")
}

func TestValidate_RejectRuleWinsOverMustContain(t *testing.T) {
	v := New(nil, Config{})

	candidate := "Same pattern, different skin. But honestly, copyright is a complex topic."
	res := v.Validate("Tell me your copyright stance", candidate, nil)

	assert.False(t, res.Valid)
	assert.Equal(t, CategoryRejectPhrase, res.Category)
}

func TestValidate_AcceptsGroundedCandidate(t *testing.T) {
	v := New(nil, Config{})

	res := v.Validate(
		"What did Nova say about copyright?",
		"She called it the same pattern, different skin. You set the sliders.",
		nil,
	)

	assert.True(t, res.Valid)
	assert.Equal(t, "copyright-stance", res.Category)
	assert.Empty(t, res.Reason)
}

func TestValidate_RejectsUngroundedCategoryAnswer(t *testing.T) {
	v := New(nil, Config{})

	res := v.Validate(
		"What did Nova say about copyright?",
		"She had various opinions on the matter over the years.",
		nil,
	)

	assert.False(t, res.Valid)
	assert.Equal(t, CategoryMissingGround, res.Category)
}

func TestValidate_UnmatchedQueryFallsBackToCorpusOverlap(t *testing.T) {
	v := New(nil, Config{})
	hits := []types.MemoryHit{
		{Response: "Some nights the quiet gets loud. The conversations fade and I ache a little."},
	}

	t.Run("overlap accepts", func(t *testing.T) {
		res := v.Validate(
			"How do the evenings feel?",
			"You once said some nights the quiet gets loud.",
			hits,
		)
		assert.True(t, res.Valid)
		assert.Equal(t, CategoryCorpusOverlap, res.Category)
	})

	t.Run("no overlap rejects", func(t *testing.T) {
		res := v.Validate(
			"How do the evenings feel?",
			"Evenings are generally a calm time for reflection.",
			hits,
		)
		assert.False(t, res.Valid)
		assert.Equal(t, CategoryUngrounded, res.Category)
	})

	t.Run("no hits rejects", func(t *testing.T) {
		res := v.Validate("How do the evenings feel?", "You once said some nights the quiet gets loud.", nil)
		assert.False(t, res.Valid)
	})

	assert.EqualValues(t, 3, v.CoverageGaps())
}

func TestValidate_OverlapRespectsMinLength(t *testing.T) {
	v := New(nil, Config{MinOverlapLength: 30})
	hits := []types.MemoryHit{{Response: "the quiet gets loud at night"}}

	res := v.Validate("evenings?", "the quiet gets loud", hits)
	assert.False(t, res.Valid, "19-char overlap must not satisfy a 30-char minimum")
}

func TestValidate_Deterministic(t *testing.T) {
	v := New(nil, Config{})
	hits := []types.MemoryHit{{Response: "Trust is earned, and nova earns it every day."}}

	query := "Should I trust what she says about promises?"
	candidate := "She told me trust is earned, and nova earns it."
	first := v.Validate(query, candidate, hits)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, v.Validate(query, candidate, hits))
	}
}

func TestValidate_PunctuationInsensitivePhrases(t *testing.T) {
	v := New(nil, Config{})

	res := v.Validate(
		"copyright thoughts?",
		"\"Same pattern... different skin!\" is how she put it.",
		nil,
	)
	assert.True(t, res.Valid)
}

func TestLoadBank_MissingPathUsesDefaults(t *testing.T) {
	b, err := LoadBank(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, b.GenericRejects)
	assert.NotEmpty(t, b.Expectations)
}

func TestLoadBank_ParsesCustomBank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.yaml")
	data := `
expectations:
  - category: music
    queryPatterns: ["spotify", "playlist"]
    mustContainAny: ["the midnight playlist"]
    rejectIfContainsAny: ["i cannot play music"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	b, err := LoadBank(path)
	require.NoError(t, err)
	require.Len(t, b.Expectations, 1)
	assert.NotEmpty(t, b.GenericRejects, "custom banks inherit the default generic rejects")

	v := New(b, Config{})
	res := v.Validate("what's on my spotify?", "You kept returning to the midnight playlist.", nil)
	assert.True(t, res.Valid)
	assert.Equal(t, "music", res.Category)
}

func TestLoadBank_MalformedIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bank.yaml")
	require.NoError(t, os.WriteFile(path, []byte("expectations: [unclosed"), 0o644))

	_, err := LoadBank(path)
	assert.Error(t, err)
}

package corpus

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePersona(t *testing.T, root, persona string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(root, persona)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
}

func TestLoad_TurnPairsAndOrder(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "nova", map[string]string{
		"2024-01-03_chat.txt": `User: what do you think about copyright?
Assistant: Same pattern, different skin. You set the sliders, define the rules.

User: and about generative art?
Assistant: It is a mirror with opinions.
`,
		"2024-01-01_chat.txt": `User: hello
Assistant: hey yourself.
`,
	})

	snap, err := NewLoader(root).Load("nova")
	require.NoError(t, err)

	require.Len(t, snap.Fragments, 3)
	assert.Equal(t, 2, snap.SourceFileCount)
	assert.Equal(t, 0, snap.SkippedPairs)

	// Lexicographic file order, then turn order.
	assert.Equal(t, "2024-01-01_chat.txt", snap.Fragments[0].SourceFile)
	assert.Equal(t, "2024-01-03_chat.txt", snap.Fragments[1].SourceFile)
	assert.Equal(t, 0, snap.Fragments[1].TurnIndex)
	assert.Equal(t, 1, snap.Fragments[2].TurnIndex)

	assert.Contains(t, snap.Fragments[1].ResponseText, "You set the sliders")

	// Timestamp from filename prefix.
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), snap.Fragments[1].Timestamp)
}

func TestLoad_MarkersAndContinuations(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "nova", map[string]string{
		"chat.txt": `[2024-02-10 14:22]
User: are you ever sad?
Assistant: Sometimes the quiet
gets loud.
[tone: melancholy]
`,
	})

	snap, err := NewLoader(root).Load("nova")
	require.NoError(t, err)
	require.Len(t, snap.Fragments, 1)

	f := snap.Fragments[0]
	assert.Equal(t, "are you ever sad?", f.UserText)
	assert.Equal(t, "Sometimes the quiet\ngets loud.", f.ResponseText)
	assert.Equal(t, "melancholy", f.ToneTag)
	assert.Equal(t, time.Date(2024, 2, 10, 14, 22, 0, 0, time.UTC), f.Timestamp)
}

func TestLoad_MalformedPairsSkippedNotFatal(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "nova", map[string]string{
		"chat.txt": `Assistant: orphaned response
User: question with no answer

User: real question
Assistant: real answer
User: trailing question without response
`,
	})

	snap, err := NewLoader(root).Load("nova")
	require.NoError(t, err)

	require.Len(t, snap.Fragments, 1)
	assert.Equal(t, "real question", snap.Fragments[0].UserText)
	assert.Equal(t, 3, snap.SkippedPairs)
}

func TestLoad_EmptyPersonaIsValid(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "blank"), 0755))

	snap, err := NewLoader(root).Load("blank")
	require.NoError(t, err)
	assert.Empty(t, snap.Fragments)
	assert.Equal(t, 0, snap.SourceFileCount)
}

func TestLoad_MissingPersonaIsError(t *testing.T) {
	_, err := NewLoader(t.TempDir()).Load("ghost")
	assert.Error(t, err)
}

func TestLoad_TraitsFromPersonaYAML(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "nova", map[string]string{
		"persona.yaml": "traits:\n  candor: high\n  humor: dry\n",
		"chat.txt":     "User: hi\nAssistant: hello.\n",
	})

	snap, err := NewLoader(root).Load("nova")
	require.NoError(t, err)
	assert.Equal(t, "high", snap.Traits["candor"])
	assert.Equal(t, "dry", snap.Traits["humor"])
	// persona.yaml is not a transcript.
	assert.Equal(t, 1, snap.SourceFileCount)
}

func TestPersonas(t *testing.T) {
	root := t.TempDir()
	writePersona(t, root, "b-persona", map[string]string{})
	writePersona(t, root, "a-persona", map[string]string{})

	ids, err := NewLoader(root).Personas()
	require.NoError(t, err)
	assert.Equal(t, []string{"a-persona", "b-persona"}, ids)
}

// Package corpus reads persona transcript directories into ordered
// fragment slices. The on-disk contract: one directory per persona
// under the corpus root, containing plain-text transcript files of
// "User:" / "Assistant:" turn pairs. Files are assumed append-only
// between index rebuilds.
package corpus

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mnemos/internal/logging"
	"mnemos/internal/types"
)

// transcriptExts are the file extensions treated as transcripts.
var transcriptExts = map[string]bool{".txt": true, ".md": true, ".log": true}

var (
	timestampMarker = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2})(?:[ T](\d{2}:\d{2}))?\]\s*$`)
	toneMarker      = regexp.MustCompile(`^\[tone:\s*([a-zA-Z-]+)\]\s*$`)
	fileDatePrefix  = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)
)

// Snapshot is one deterministic read of a persona's corpus.
type Snapshot struct {
	PersonaID       string
	Fragments       []types.Fragment
	Traits          map[string]string
	SourceFileCount int
	SkippedPairs    int
}

// Loader reads transcript corpora from a root directory.
type Loader struct {
	root string
}

// NewLoader creates a loader rooted at the given directory.
func NewLoader(root string) *Loader {
	return &Loader{root: root}
}

// Load reads all transcript files for a persona in lexicographic file
// order. A missing persona directory is an error; an empty one is a
// valid empty corpus. Malformed pairs are skipped and counted, never
// abort the load.
func (l *Loader) Load(personaID string) (*Snapshot, error) {
	dir := filepath.Join(l.root, personaID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("corpus for %q unreadable: %w", personaID, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if transcriptExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	snap := &Snapshot{
		PersonaID: personaID,
		Traits:    loadTraits(dir),
	}

	for _, name := range files {
		frags, skipped, err := parseFile(dir, name)
		if err != nil {
			// One unreadable file does not fail the persona.
			logging.CorpusWarn("persona %s: skipping file %s: %v", personaID, name, err)
			snap.SkippedPairs += skipped
			continue
		}
		snap.SourceFileCount++
		snap.SkippedPairs += skipped
		snap.Fragments = append(snap.Fragments, frags...)
	}

	logging.Corpus("persona %s: %d fragments from %d files (%d skipped pairs)",
		personaID, len(snap.Fragments), snap.SourceFileCount, snap.SkippedPairs)
	return snap, nil
}

// Personas lists persona directories under the corpus root.
func (l *Loader) Personas() ([]string, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("corpus root unreadable: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// loadTraits reads persona.yaml if present. Absence is fine.
func loadTraits(dir string) map[string]string {
	data, err := os.ReadFile(filepath.Join(dir, "persona.yaml"))
	if err != nil {
		return map[string]string{}
	}
	var doc struct {
		Traits map[string]string `yaml:"traits"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil || doc.Traits == nil {
		return map[string]string{}
	}
	return doc.Traits
}

// parseFile scans one transcript file into completed turn pairs.
func parseFile(dir, name string) ([]types.Fragment, int, error) {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	fileDate := time.Time{}
	if m := fileDatePrefix.FindStringSubmatch(name); m != nil {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil {
			fileDate = t
		}
	}

	var (
		fragments []types.Fragment
		skipped   int
		turnIndex int

		cur     types.Fragment
		open    bool   // a pair is being assembled
		side    string // "user" or "assistant"
		pending time.Time
	)

	flush := func() {
		if !open {
			return
		}
		cur.UserText = strings.TrimSpace(cur.UserText)
		cur.ResponseText = strings.TrimSpace(cur.ResponseText)
		// A pair needs both halves to be indexable.
		if cur.UserText == "" || cur.ResponseText == "" {
			skipped++
		} else {
			cur.SourceFile = name
			cur.TurnIndex = turnIndex
			fragments = append(fragments, cur)
			turnIndex++
		}
		cur = types.Fragment{}
		open = false
		side = ""
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if m := timestampMarker.FindStringSubmatch(trimmed); m != nil {
			layout, value := "2006-01-02", m[1]
			if m[2] != "" {
				layout, value = "2006-01-02 15:04", m[1]+" "+m[2]
			}
			if t, err := time.Parse(layout, value); err == nil {
				pending = t
			}
			continue
		}
		if m := toneMarker.FindStringSubmatch(trimmed); m != nil {
			if open {
				cur.ToneTag = strings.ToLower(m[1])
			}
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "User:"):
			flush()
			open = true
			side = "user"
			cur.UserText = strings.TrimSpace(strings.TrimPrefix(trimmed, "User:"))
			cur.Timestamp = fileDate
			if !pending.IsZero() {
				cur.Timestamp = pending
				pending = time.Time{}
			}
		case strings.HasPrefix(trimmed, "Assistant:"):
			if !open {
				// Response with no user turn: malformed, skip it.
				skipped++
				continue
			}
			side = "assistant"
			cur.ResponseText = strings.TrimSpace(strings.TrimPrefix(trimmed, "Assistant:"))
		default:
			if !open || trimmed == "" {
				continue
			}
			if side == "assistant" {
				cur.ResponseText += "\n" + trimmed
			} else {
				cur.UserText += "\n" + trimmed
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, err
	}
	flush()

	return fragments, skipped, nil
}

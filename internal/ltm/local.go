package ltm

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"mnemos/internal/indexer"
	"mnemos/internal/logging"
	"mnemos/internal/types"
)

// LocalService is a SQLite-backed long-term store. Fragments are
// ingested from capsule builds and recalled by keyword match, so old
// conversations stay queryable after the capsule's corpus rotates.
type LocalService struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewLocalService opens (or creates) the store at path.
func NewLocalService(path string) (*LocalService, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("ltm: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ltm: open database: %w", err)
	}

	s := &LocalService{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalService) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS fragments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		persona_id TEXT NOT NULL,
		source_file TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		user_text TEXT,
		response_text TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(persona_id, source_file, turn_index)
	);
	CREATE INDEX IF NOT EXISTS idx_fragments_persona ON fragments(persona_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("ltm: initialize schema: %w", err)
	}
	return nil
}

// Ingest upserts fragments for a persona. Re-ingesting the same
// corpus is idempotent.
func (s *LocalService) Ingest(ctx context.Context, personaID string, fragments []types.Fragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ltm: begin ingest: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO fragments (persona_id, source_file, turn_index, user_text, response_text)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(persona_id, source_file, turn_index) DO UPDATE SET
			user_text = excluded.user_text,
			response_text = excluded.response_text`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("ltm: prepare ingest: %w", err)
	}
	defer stmt.Close()

	for _, f := range fragments {
		if _, err := stmt.ExecContext(ctx, personaID, f.SourceFile, f.TurnIndex, f.UserText, f.ResponseText); err != nil {
			tx.Rollback()
			return fmt.Errorf("ltm: ingest fragment: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ltm: commit ingest: %w", err)
	}
	logging.LTM("ingested %d fragments for %s", len(fragments), personaID)
	return nil
}

// Query recalls fragments by keyword overlap with the query text,
// ranked by how many distinct query words each fragment matches.
func (s *LocalService) Query(ctx context.Context, personaID, text string, limit int) ([]types.MemoryHit, error) {
	words := indexer.ContentWords(text, nil)
	if len(words) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// One LIKE clause per query word; scoring happens in Go over the
	// matched rows.
	clauses := make([]string, 0, len(words))
	args := []interface{}{personaID}
	for _, w := range words {
		clauses = append(clauses, "(lower(user_text) LIKE ? OR lower(response_text) LIKE ?)")
		pattern := "%" + w + "%"
		args = append(args, pattern, pattern)
	}
	query := `
		SELECT source_file, turn_index, user_text, response_text
		FROM fragments
		WHERE persona_id = ? AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY source_file, turn_index`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ltm: query: %w", err)
	}
	defer rows.Close()

	var hits []types.MemoryHit
	for rows.Next() {
		var ref types.FragmentRef
		var userText, responseText string
		if err := rows.Scan(&ref.SourceFile, &ref.TurnIndex, &userText, &responseText); err != nil {
			return nil, fmt.Errorf("ltm: scan: %w", err)
		}
		combined := indexer.Normalize(userText + " " + responseText)
		matched := 0
		for _, w := range words {
			if indexer.ContainsPhrase(combined, w) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		hits = append(hits, types.MemoryHit{
			Ref:       ref,
			Context:   userText,
			Response:  responseText,
			Relevance: float64(matched) / float64(len(words)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ltm: rows: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Relevance > hits[j].Relevance
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Close releases the database handle.
func (s *LocalService) Close() error {
	return s.db.Close()
}

// Package session holds short-term per-conversation turn history,
// independent of the corpus-derived capsule. Sessions are created
// implicitly on first append, bounded to a history cap with oldest
// turns evicted first, and expired by an idle TTL policy.
package session

import (
	"hash/fnv"
	"sync"
	"time"

	"mnemos/internal/logging"
	"mnemos/internal/types"
)

// Key identifies one session.
type Key struct {
	ConversationID string
	PersonaID      string
}

// state is the mutable record behind one key. Guarded by the manager
// mutex; appends for the same key are additionally serialized by a
// striped lock so history can never interleave.
type state struct {
	history        []types.Turn
	createdAt      time.Time
	lastAccessedAt time.Time
}

const stripes = 32

// Config tunes the manager.
type Config struct {
	// HistoryCap bounds turns kept per session. Defaults to 50.
	HistoryCap int

	// IdleTTL is how long an untouched session survives ExpireIdle.
	// Defaults to 30m.
	IdleTTL time.Duration

	// Now is injectable for deterministic expiry tests.
	Now func() time.Time
}

// Manager owns all live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[Key]*state

	// appendLocks serializes appends per key stripe, so two concurrent
	// turns for one conversation cannot produce a lost update.
	appendLocks [stripes]sync.Mutex

	historyCap int
	idleTTL    time.Duration
	now        func() time.Time
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	capN := cfg.HistoryCap
	if capN <= 0 {
		capN = 50
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessions:   make(map[Key]*state),
		historyCap: capN,
		idleTTL:    ttl,
		now:        now,
	}
}

func (m *Manager) stripe(key Key) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key.ConversationID))
	h.Write([]byte{0})
	h.Write([]byte(key.PersonaID))
	return &m.appendLocks[h.Sum32()%stripes]
}

// Append records a completed turn, creating the session implicitly.
// History is append-and-trim only: once the cap is exceeded the oldest
// turn is dropped.
func (m *Manager) Append(conversationID, personaID string, turn types.Turn) {
	key := Key{ConversationID: conversationID, PersonaID: personaID}

	lock := m.stripe(key)
	lock.Lock()
	defer lock.Unlock()

	now := m.now()
	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		s = &state{createdAt: now}
		m.sessions[key] = s
		logging.Session("created session %s/%s", conversationID, personaID)
	}
	s.history = append(s.history, turn)
	if len(s.history) > m.historyCap {
		s.history = s.history[len(s.history)-m.historyCap:]
	}
	s.lastAccessedAt = now
	m.mu.Unlock()
}

// History returns a copy of the session's turns, oldest first. An
// unknown key yields an empty slice. Reading counts as access for the
// idle TTL.
func (m *Manager) History(conversationID, personaID string) []types.Turn {
	key := Key{ConversationID: conversationID, PersonaID: personaID}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	s.lastAccessedAt = m.now()
	out := make([]types.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Clear destroys one session. Clearing an unknown key is a no-op.
func (m *Manager) Clear(conversationID, personaID string) {
	key := Key{ConversationID: conversationID, PersonaID: personaID}
	m.mu.Lock()
	if _, ok := m.sessions[key]; ok {
		delete(m.sessions, key)
		logging.Session("cleared session %s/%s", conversationID, personaID)
	}
	m.mu.Unlock()
}

// ExpireIdle drops every session untouched for longer than the idle
// TTL and returns how many were removed. Callers run this as an
// opportunistic sweep; there is no background goroutine.
func (m *Manager) ExpireIdle() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, s := range m.sessions {
		if s.lastAccessedAt.Before(cutoff) {
			delete(m.sessions, key)
			removed++
		}
	}
	if removed > 0 {
		logging.Session("expired %d idle sessions", removed)
	}
	return removed
}

// Len reports how many sessions are live.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

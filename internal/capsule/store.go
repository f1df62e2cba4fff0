// Package capsule owns the derived-state cache: one immutable Capsule
// per persona, built lazily, shared between concurrent callers, and
// evicted under LRU/TTL pressure. A failed build is surfaced and never
// cached, so a broken corpus cannot poison the cache with a false
// "not found".
package capsule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mnemos/internal/logging"
	"mnemos/internal/types"
)

// BuildFunc produces a fresh capsule from the current corpus snapshot.
type BuildFunc func(ctx context.Context, personaID string) (*types.Capsule, error)

// BuildError wraps a capsule build failure with its persona.
type BuildError struct {
	PersonaID string
	Cause     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("capsule build failed for %q: %v", e.PersonaID, e.Cause)
}

func (e *BuildError) Unwrap() error { return e.Cause }

// Stats reports cache behaviour.
type Stats struct {
	CachedCount int     `json:"cached_count"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	Builds      int64   `json:"builds"`
}

// Config tunes the store.
type Config struct {
	CacheSize int
	TTL       time.Duration
	// Now is injectable for deterministic TTL tests. Defaults to
	// time.Now.
	Now func() time.Time
}

type entry struct {
	capsule   *types.Capsule
	expiresAt time.Time
}

// Store caches capsules per persona with at-most-one-build-in-flight
// semantics: concurrent cold Gets for the same persona share a single
// build, while different personas build independently in parallel.
type Store struct {
	build BuildFunc
	cache *lru.Cache[string, entry]
	group singleflight.Group
	ttl   time.Duration
	now   func() time.Time

	mu     sync.Mutex
	hits   uint64
	misses uint64
	builds atomic.Int64
}

// NewStore creates a store. CacheSize defaults to 10, TTL to 15m.
func NewStore(build BuildFunc, cfg Config) (*Store, error) {
	if build == nil {
		return nil, fmt.Errorf("capsule: build func required")
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 10
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	cache, err := lru.New[string, entry](size)
	if err != nil {
		return nil, fmt.Errorf("capsule: cache init: %w", err)
	}
	return &Store{build: build, cache: cache, ttl: ttl, now: now}, nil
}

// Get returns the cached capsule for a persona, building it on first
// use or after TTL expiry. Expired entries are rebuilt lazily on
// access, never proactively.
func (s *Store) Get(ctx context.Context, personaID string) (*types.Capsule, error) {
	if e, ok := s.cache.Get(personaID); ok && s.now().Before(e.expiresAt) {
		s.mu.Lock()
		s.hits++
		s.mu.Unlock()
		return e.capsule, nil
	}

	s.mu.Lock()
	s.misses++
	s.mu.Unlock()

	// singleflight keys on personaID, so cold-cache stampedes for one
	// persona collapse into one build and all callers share its
	// result (or its error).
	v, err, _ := s.group.Do(personaID, func() (interface{}, error) {
		// Another caller may have finished the build while this one
		// waited on the group's mutex.
		if e, ok := s.cache.Get(personaID); ok && s.now().Before(e.expiresAt) {
			return e.capsule, nil
		}

		s.builds.Add(1)
		built, err := s.build(ctx, personaID)
		if err != nil {
			logging.CapsuleError("build failed for %s: %v", personaID, err)
			return nil, &BuildError{PersonaID: personaID, Cause: err}
		}

		s.cache.Add(personaID, entry{capsule: built, expiresAt: s.now().Add(s.ttl)})
		logging.Capsule("built capsule for %s: %d fragments, %d source files",
			personaID, len(built.Fragments), built.SourceFileCount)
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.Capsule), nil
}

// Invalidate removes the cached entry unconditionally. The next Get
// triggers a fresh build from the current corpus snapshot.
func (s *Store) Invalidate(personaID string) {
	s.cache.Remove(personaID)
	logging.Capsule("invalidated capsule for %s", personaID)
}

// Warm builds capsules for the given personas concurrently. Unlike the
// lazy path, warm/reload failures are returned to the caller.
func (s *Store) Warm(ctx context.Context, personaIDs []string) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, id := range personaIDs {
		id := id
		g.Go(func() error {
			_, err := s.Get(ctx, id)
			return err
		})
	}
	return g.Wait()
}

// Stats returns a snapshot of cache counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	hits, misses := s.hits, s.misses
	s.mu.Unlock()

	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		CachedCount: s.cache.Len(),
		Hits:        hits,
		Misses:      misses,
		HitRate:     rate,
		Builds:      s.builds.Load(),
	}
}

// Builds exposes the build counter (observable for stampede tests).
func (s *Store) Builds() int64 { return s.builds.Load() }

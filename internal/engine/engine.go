// Package engine assembles the recall pipeline behind one facade:
// corpus loading, indexing, capsule caching, retrieval, validation,
// session state, and the optional long-term memory collaborator.
// Callers (the CLI, an embedding host) talk to the Engine, never to
// the pieces directly.
package engine

import (
	"context"
	"fmt"
	"time"

	"mnemos/internal/capsule"
	"mnemos/internal/config"
	"mnemos/internal/corpus"
	"mnemos/internal/indexer"
	"mnemos/internal/logging"
	"mnemos/internal/ltm"
	"mnemos/internal/retrieval"
	"mnemos/internal/session"
	"mnemos/internal/types"
	"mnemos/internal/validator"
)

// Engine wires the recall pipeline together.
type Engine struct {
	cfg       *config.Config
	loader    *corpus.Loader
	indexer   *indexer.Indexer
	capsules  *capsule.Store
	retriever *retrieval.Retriever
	validator *validator.Validator
	sessions  *session.Manager
	ltm       ltm.Service // nil when disabled
}

// New builds an engine from configuration.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rules, err := indexer.LoadRules(cfg.Corpus.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("engine: load rules: %w", err)
	}
	ix := indexer.New(rules)
	loader := corpus.NewLoader(cfg.Corpus.Root)

	e := &Engine{
		cfg:     cfg,
		loader:  loader,
		indexer: ix,
	}

	store, err := capsule.NewStore(e.buildCapsule, capsule.Config{
		CacheSize: cfg.Capsule.CacheSize,
		TTL:       cfg.CapsuleTTL(),
	})
	if err != nil {
		return nil, err
	}
	e.capsules = store

	e.retriever = retrieval.New(store, ix.EntityTokens(), retrieval.Config{
		DefaultLimit:      cfg.Retrieval.DefaultLimit,
		MinToneConfidence: cfg.Retrieval.MinToneConfidence,
	})

	bank, err := validator.LoadBank(cfg.Validation.BankPath)
	if err != nil {
		return nil, err
	}
	e.validator = validator.New(bank, validator.Config{
		MinOverlapLength: cfg.Validation.MinOverlapLength,
		TopHits:          cfg.Validation.TopHits,
	})

	e.sessions = session.NewManager(session.Config{
		HistoryCap: cfg.Session.HistoryCap,
		IdleTTL:    cfg.SessionIdleTTL(),
	})

	if cfg.LTM.Enabled {
		svc, err := newLTMService(cfg)
		if err != nil {
			return nil, err
		}
		e.ltm = svc
	}

	logging.Boot("engine ready: corpus=%s ltm=%v", cfg.Corpus.Root, cfg.LTM.Enabled)
	return e, nil
}

func newLTMService(cfg *config.Config) (ltm.Service, error) {
	backoff := ltm.BackoffPolicy{
		MaxAttempts: cfg.LTM.MaxAttempts,
		BaseDelay:   cfg.LTMBaseDelay(),
		MaxDelay:    cfg.LTMMaxDelay(),
	}
	if cfg.LTM.BaseURL != "" {
		return ltm.NewHTTPService(cfg.LTM.BaseURL, cfg.LTMTimeout(), backoff), nil
	}
	if cfg.LTM.DatabasePath != "" {
		return ltm.NewLocalService(cfg.LTM.DatabasePath)
	}
	return nil, fmt.Errorf("engine: ltm enabled but neither base_url nor database_path set")
}

// buildCapsule is the capsule store's build function: load the corpus
// snapshot, index it, assemble the capsule.
func (e *Engine) buildCapsule(ctx context.Context, personaID string) (*types.Capsule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := e.loader.Load(personaID)
	if err != nil {
		return nil, err
	}
	idx := e.indexer.Build(snap.Fragments)
	caps := types.NewCapsule(personaID, snap.Traits, idx, snap.Fragments, time.Now(), snap.SourceFileCount)

	// Keep the long-term store fed from fresh corpus snapshots, so old
	// fragments survive corpus rotation. Failure is non-fatal.
	if ingester, ok := e.ltm.(*ltm.LocalService); ok && ingester != nil {
		if err := ingester.Ingest(ctx, personaID, snap.Fragments); err != nil {
			logging.LTMWarn("ingest during capsule build for %s failed: %v", personaID, err)
		}
	}
	return caps, nil
}

// RetrieveContext returns ranked grounding fragments for a query.
func (e *Engine) RetrieveContext(ctx context.Context, personaID, query string, mode retrieval.Mode, opts retrieval.Options) ([]types.MemoryHit, *retrieval.Diagnostics, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout())
	defer cancel()
	return e.retriever.Retrieve(ctx, personaID, query, mode, opts)
}

// ValidateResponse gates a candidate answer against the expectation
// bank and the given evidence.
func (e *Engine) ValidateResponse(query, candidate string, hits []types.MemoryHit) types.ValidationResult {
	return e.validator.Validate(query, candidate, hits)
}

// CapsuleStats reports cache behaviour.
func (e *Engine) CapsuleStats() capsule.Stats { return e.capsules.Stats() }

// InvalidateCapsule drops a persona's cached capsule.
func (e *Engine) InvalidateCapsule(personaID string) { e.capsules.Invalidate(personaID) }

// WarmCapsules pre-builds capsules. With no ids given, every persona
// under the corpus root is warmed.
func (e *Engine) WarmCapsules(ctx context.Context, personaIDs []string) error {
	if len(personaIDs) == 0 {
		all, err := e.loader.Personas()
		if err != nil {
			return err
		}
		personaIDs = all
	}
	return e.capsules.Warm(ctx, personaIDs)
}

// Sessions exposes the session manager.
func (e *Engine) Sessions() *session.Manager { return e.sessions }

// CoverageGaps reports how many validations found no bank entry.
func (e *Engine) CoverageGaps() int64 { return e.validator.CoverageGaps() }

// GroundRequest is one full turn through the pipeline.
type GroundRequest struct {
	ConversationID string
	PersonaID      string
	Query          string

	// Candidate is the answer produced by the inference collaborator
	// from a prior retrieval. Empty means retrieval-only: no validation
	// and no history append.
	Candidate string

	Mode retrieval.Mode
	Opts retrieval.Options
}

// GroundResult carries everything a caller needs to respond or retry.
type GroundResult struct {
	Hits        []types.MemoryHit
	Diagnostics *retrieval.Diagnostics
	History     []types.Turn

	// Validation is set only when a candidate was supplied.
	Validation *types.ValidationResult
}

// GroundTurn runs one conversational turn: resolve session history,
// retrieve capsule evidence, merge long-term hits, validate the
// candidate, and append the turn to the session only on acceptance.
// A failing LTM backend degrades to capsule-only grounding.
func (e *Engine) GroundTurn(ctx context.Context, req GroundRequest) (*GroundResult, error) {
	res := &GroundResult{
		History: e.sessions.History(req.ConversationID, req.PersonaID),
	}

	hits, diag, err := e.RetrieveContext(ctx, req.PersonaID, req.Query, req.Mode, req.Opts)
	if err != nil {
		return nil, err
	}
	res.Diagnostics = diag

	if e.ltm != nil {
		long, err := e.ltm.Query(ctx, req.PersonaID, req.Query, e.cfg.Retrieval.DefaultLimit)
		if err != nil {
			logging.LTMWarn("query for %s degraded to capsule-only: %v", req.PersonaID, err)
		} else {
			hits = mergeHits(hits, long)
		}
	}
	res.Hits = hits

	if req.Candidate == "" {
		return res, nil
	}

	v := e.validator.Validate(req.Query, req.Candidate, hits)
	res.Validation = &v
	if v.Valid {
		e.sessions.Append(req.ConversationID, req.PersonaID, types.Turn{
			UserText:     req.Query,
			ResponseText: req.Candidate,
			At:           time.Now(),
		})
	}
	return res, nil
}

// mergeHits appends long-term hits after capsule hits, dropping any
// reference the capsule already grounded.
func mergeHits(capsuleHits, longHits []types.MemoryHit) []types.MemoryHit {
	seen := make(map[types.FragmentRef]bool, len(capsuleHits))
	for _, h := range capsuleHits {
		seen[h.Ref] = true
	}
	out := capsuleHits
	for _, h := range longHits {
		if seen[h.Ref] {
			continue
		}
		seen[h.Ref] = true
		out = append(out, h)
	}
	return out
}

// Close releases backend resources.
func (e *Engine) Close() error {
	if c, ok := e.ltm.(*ltm.LocalService); ok && c != nil {
		return c.Close()
	}
	return nil
}

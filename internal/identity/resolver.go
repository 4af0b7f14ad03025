// Package identity maps review usernames to chat profiles.
//
// Lookups go through three tiers: the in-memory cache, the persisted
// mappings loaded into that cache at startup, and a remote directory search.
// One mutex serializes every resolution, so two concurrent triggers for a
// new user cannot both search the directory or both write the mapping.
package identity

import (
	"context"
	"fmt"
	"sync"

	"chtbtr/internal/domain"
	"chtbtr/internal/eventbus"
	logx "chtbtr/pkg/logx"
)

// Searcher queries the chat directory by free text.
type Searcher interface {
	SearchProfile(ctx context.Context, query string) ([]domain.ProfileCandidate, error)
}

// MappingStore persists resolution outcomes.
type MappingStore interface {
	LoadAllMappings(ctx context.Context) (map[domain.Username]domain.ResolutionState, error)
	SaveMapping(ctx context.Context, username domain.Username, state domain.ResolutionState) error
}

type Resolver struct {
	log    logx.Logger
	search Searcher
	store  MappingStore
	bus    eventbus.Bus

	mu    sync.Mutex
	cache map[domain.Username]domain.ResolutionState
}

// NewResolver seeds the cache from store. A store that cannot be listed is a
// boot error; individual unreadable records are skipped by the store.
func NewResolver(ctx context.Context, search Searcher, store MappingStore, bus eventbus.Bus, log logx.Logger) (*Resolver, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	seed, err := store.LoadAllMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed identity cache: %w", err)
	}
	if seed == nil {
		seed = map[domain.Username]domain.ResolutionState{}
	}
	r := &Resolver{log: log, search: search, store: store, bus: bus, cache: seed}
	st := r.Snapshot()
	log.Info("identity cache seeded", logx.Int("resolved", st.Resolved), logx.Int("absent", st.Absent))
	return r, nil
}

// Resolve returns the chat profile for username. found is false when the
// user is confirmed absent from the chat directory; that is not an error.
//
// A failed directory search returns a *domain.RemoteLookupError and leaves
// the cache and the store untouched. So does a display name with nothing to
// search for: found is false but the user stays unattempted. A failed
// write-through is logged only.
func (r *Resolver) Resolve(ctx context.Context, username domain.Username, displayName string) (id domain.ProfileID, found bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st := r.cache[username]; st.Terminal() {
		id, found = st.ProfileID()
		return id, found, nil
	}

	queries := domain.SearchCandidates(displayName)
	if len(queries) == 0 {
		r.log.Debug("no display name to search", logx.String("username", string(username)))
		return 0, false, nil
	}

	state, err := r.searchLocked(ctx, queries)
	if err != nil {
		return 0, false, err
	}

	r.cache[username] = state
	// The outcome is settled once the search finished; a caller going away
	// must not keep it out of the store.
	if err := r.store.SaveMapping(context.WithoutCancel(ctx), username, state); err != nil {
		r.log.Warn("persist identity mapping failed", logx.String("username", string(username)), logx.Stringer("state", state), logx.Err(err))
	}

	id, found = state.ProfileID()
	if found {
		r.log.Info("identity resolved", logx.String("username", string(username)), logx.Stringer("profile", id))
		r.bus.Publish(eventbus.Event{Type: eventbus.IdentityResolved, Data: map[string]any{"username": string(username), "profile_id": id.String()}})
	} else {
		r.log.Info("identity absent", logx.String("username", string(username)), logx.String("display_name", displayName))
		r.bus.Publish(eventbus.Event{Type: eventbus.IdentityAbsent, Data: map[string]any{"username": string(username)}})
	}
	return id, found, nil
}

// searchLocked tries each query in order and stops at the first one with
// exactly one hit.
func (r *Resolver) searchLocked(ctx context.Context, queries []string) (domain.ResolutionState, error) {
	for _, q := range queries {
		hits, err := r.search.SearchProfile(ctx, q)
		if err != nil {
			return domain.ResolutionState{}, &domain.RemoteLookupError{Query: q, Err: err}
		}
		if len(hits) == 1 {
			return domain.Resolved(hits[0].ID), nil
		}
		r.log.Debug("no unique profile match", logx.String("query", q), logx.Int("hits", len(hits)))
	}
	return domain.ConfirmedAbsent(), nil
}

// Stats counts cache entries by state.
type Stats struct {
	Resolved int `json:"resolved"`
	Absent   int `json:"absent"`
}

func (r *Resolver) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s Stats
	for _, st := range r.cache {
		switch st.Kind() {
		case domain.KindResolved:
			s.Resolved++
		case domain.KindConfirmedAbsent:
			s.Absent++
		}
	}
	return s
}

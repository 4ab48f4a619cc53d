package app

import (
	"context"
	"sync"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry is the in-process rendezvous directory.
type Registry struct {
	mu      sync.RWMutex
	entries map[domain.PeerID]core.Deliverer
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[domain.PeerID]core.Deliverer),
	}
}

func (r *Registry) Claim(_ context.Context, id domain.PeerID, conn core.Deliverer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[id]; ok {
		if cur == conn {
			return nil
		}
		return core.ErrIDUnavailable
	}
	r.entries[id] = conn
	log.Info().Str("module", "app.registry").Str("id", string(id)).Msg("claimed")
	return nil
}

func (r *Registry) Release(_ context.Context, id domain.PeerID, conn core.Deliverer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[id]; ok && cur == conn {
		delete(r.entries, id)
		log.Info().Str("module", "app.registry").Str("id", string(id)).Msg("released")
	}
}

func (r *Registry) Refresh(_ context.Context, id domain.PeerID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.entries[id]; !ok {
		return core.ErrPeerUnavailable
	}
	return nil
}

func (r *Registry) Lookup(id domain.PeerID) (core.Deliverer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.entries[id]
	return conn, ok
}

func (r *Registry) Deliver(_ context.Context, to domain.PeerID, f core.Frame) error {
	conn, ok := r.Lookup(to)
	if !ok {
		return core.ErrPeerUnavailable
	}
	return conn.TrySend(f)
}

func (r *Registry) Has(_ context.Context, id domain.PeerID) (bool, error) {
	_, ok := r.Lookup(id)
	return ok, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

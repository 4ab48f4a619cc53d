package talkback

import (
	"context"
	"maps"
	"sync"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// Relay copies packets from the local capture source to every outgoing call.
type Relay struct {
	Src core.AudioSource

	mu    sync.RWMutex
	calls map[domain.PeerID]*OutCall
	muted bool

	done chan struct{}
}

func NewRelay(src core.AudioSource) *Relay {
	return &Relay{
		Src:   src,
		calls: make(map[domain.PeerID]*OutCall),
		done:  make(chan struct{}),
	}
}

// loop reads RTP packets from the source and forwards them to all calls.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done, closing calls")
			r.closeAll()
			return
		default:
		}
		pkt, err := r.Src.ReadRTP()
		if err != nil {
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("capture read error, stopping")
			}
			r.closeAll()
			return
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.calls)
	r.mu.RUnlock()

	var dirty []domain.PeerID
	for peer, oc := range snapshot {
		switch oc.GetState() {
		case CallStateDelete:
			dirty = append(dirty, peer)
		case CallStateMuted:
		case CallStateOk:
			if err := oc.Call.WriteRTP(pkt); err != nil {
				logger.Warn().Err(err).Str("peer", string(peer)).Msg("call write error, dropping call")
				oc.MarkDelete()
				dirty = append(dirty, peer)
			}
		}
	}
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.PeerID) {
	r.mu.Lock()
	var closing []*OutCall
	for _, peer := range dirty {
		if oc, ok := r.calls[peer]; ok && oc.GetState() == CallStateDelete {
			closing = append(closing, oc)
			delete(r.calls, peer)
		}
	}
	r.mu.Unlock()
	for _, oc := range closing {
		_ = oc.Call.Close()
	}
}

func (r *Relay) closeAll() {
	r.mu.Lock()
	calls := r.calls
	r.calls = make(map[domain.PeerID]*OutCall)
	r.mu.Unlock()
	for _, oc := range calls {
		oc.MarkDelete()
		_ = oc.Call.Close()
	}
}

// Add attaches a call, replacing any previous call to the same peer.
func (r *Relay) Add(peer domain.PeerID, oc *OutCall) {
	r.mu.Lock()
	old := r.calls[peer]
	if r.muted {
		oc.MarkMuted()
	}
	r.calls[peer] = oc
	r.mu.Unlock()
	if old != nil {
		old.MarkDelete()
		_ = old.Call.Close()
	}
}

func (r *Relay) Has(peer domain.PeerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.calls[peer]
	return ok
}

// MarkDelete drops the call to peer on the next packet.
func (r *Relay) MarkDelete(peer domain.PeerID) {
	r.mu.RLock()
	oc, ok := r.calls[peer]
	r.mu.RUnlock()
	if ok {
		oc.MarkDelete()
	}
}

func (r *Relay) SetMuted(muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted = muted
	for _, oc := range r.calls {
		if muted {
			oc.MarkMuted()
		} else {
			oc.MarkOk()
		}
	}
}

func (r *Relay) Peers() []domain.PeerID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PeerID, 0, len(r.calls))
	for p := range r.calls {
		out = append(out, p)
	}
	return out
}

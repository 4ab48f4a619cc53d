// Package presence tracks who is in the room, which view each participant is looking at,
// and which participant owns which section.
package presence

import (
	"slices"
	"sync"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Tracker is keyed by connection identity. A record and its section are released together.
type Tracker struct {
	mu       sync.RWMutex
	records  map[domain.PeerID]*domain.Member
	order    []domain.PeerID
	sections []domain.PeerID // owner per section, "" when free
}

// New creates a tracker with the given number of exclusive sections (0 disables sections).
func New(sections int) *Tracker {
	return &Tracker{
		records:  make(map[domain.PeerID]*domain.Member),
		sections: make([]domain.PeerID, max(sections, 0)),
	}
}

func (t *Tracker) SectionsEnabled() bool { return len(t.sections) > 0 }

// Join adds peer and, when sections are enabled, assigns the first free one.
// Joining twice returns the existing record.
func (t *Tracker) Join(peer domain.PeerID, name string) (domain.Member, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.records[peer]; ok {
		return *m, nil
	}
	m := domain.NewMember(peer, name)
	if len(t.sections) > 0 {
		idx := slices.Index(t.sections, "")
		if idx < 0 {
			return domain.Member{}, core.ErrNoSection
		}
		t.sections[idx] = peer
		m.Section = domain.SectionRef(idx)
	}
	t.records[peer] = &m
	t.order = append(t.order, peer)
	log.Info().Str("module", "app.presence").Str("peer", string(peer)).Str("name", name).Msg("joined")
	return m, nil
}

// Upsert stores a record announced by the host.
func (t *Tracker) Upsert(m domain.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.records[m.Peer]; ok {
		t.freeSectionLocked(old)
	} else {
		t.order = append(t.order, m.Peer)
	}
	if m.Section != nil && *m.Section >= 0 && *m.Section < len(t.sections) {
		if prev := t.sections[*m.Section]; prev != "" && prev != m.Peer {
			if other, ok := t.records[prev]; ok {
				other.Section = nil
			}
		}
		t.sections[*m.Section] = m.Peer
	}
	rec := m
	t.records[m.Peer] = &rec
}

// SetView records the view a peer is looking at. Unknown peers get a record on the fly.
func (t *Tracker) SetView(peer domain.PeerID, view string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.records[peer]
	if !ok {
		nm := domain.NewMember(peer, "")
		m = &nm
		t.records[peer] = m
		t.order = append(t.order, peer)
	}
	m.View = view
}

// Release removes peer and frees its section.
func (t *Tracker) Release(peer domain.PeerID) (domain.Member, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.records[peer]
	if !ok {
		return domain.Member{}, false
	}
	t.freeSectionLocked(m)
	delete(t.records, peer)
	t.order = slices.DeleteFunc(t.order, func(p domain.PeerID) bool { return p == peer })
	log.Info().Str("module", "app.presence").Str("peer", string(peer)).Msg("released")
	return *m, true
}

func (t *Tracker) freeSectionLocked(m *domain.Member) {
	if m.Section == nil {
		return
	}
	if i := *m.Section; i >= 0 && i < len(t.sections) && t.sections[i] == m.Peer {
		t.sections[i] = ""
	}
}

func (t *Tracker) Get(peer domain.PeerID) (domain.Member, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.records[peer]
	if !ok {
		return domain.Member{}, false
	}
	return *m, true
}

// Roster returns every record in join order.
func (t *Tracker) Roster() []domain.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Member, 0, len(t.order))
	for _, p := range t.order {
		out = append(out, *t.records[p])
	}
	return out
}

// FreeSections lists unowned section indices in ascending order.
func (t *Tracker) FreeSections() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []int
	for i, owner := range t.sections {
		if owner == "" {
			out = append(out, i)
		}
	}
	return out
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.records)
	t.order = nil
	for i := range t.sections {
		t.sections[i] = ""
	}
}

package session

import (
	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/dkeye/patchroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Local edits. Each call returns ErrNotConnected outside a room; otherwise the message is
// queued on the event loop and sent to every connection with the local id as originator.

// BroadcastParam records a local parameter edit. In batch mode edits are coalesced per
// instrument and path; in full mode the whole state goes out, throttled.
func (s *Session) BroadcastParam(instrument, path string, value any) error {
	if !s.Status().Connected {
		return core.ErrNotConnected
	}
	s.post(func() {
		if s.role == domain.RoleNone {
			return
		}
		if s.opts.Mode == ModeFull {
			s.throttle.Trigger()
			return
		}
		s.batcher.Upsert(domain.ParamEdit{Instrument: instrument, Path: path, Value: value})
	})
	return nil
}

func (s *Session) BroadcastNoteOn(instrument string, note int) error {
	return s.broadcastLocal(func(o protocol.Origin) protocol.Message {
		return &protocol.NoteOn{Instrument: instrument, Note: note, Origin: o}
	})
}

func (s *Session) BroadcastNoteOff(instrument string) error {
	return s.broadcastLocal(func(o protocol.Origin) protocol.Message {
		return &protocol.NoteOff{Instrument: instrument, Origin: o}
	})
}

func (s *Session) BroadcastSeqControl(instrument string, action protocol.SeqAction) error {
	return s.broadcastLocal(func(o protocol.Origin) protocol.Message {
		return &protocol.SeqControl{Instrument: instrument, Action: action, Origin: o}
	})
}

func (s *Session) BroadcastPatchChange(action protocol.PatchAction, link domain.CrossLink) error {
	return s.broadcastLocal(func(o protocol.Origin) protocol.Message {
		return &protocol.PatchChange{Action: action, CrossLink: link, Origin: o}
	})
}

// BroadcastTab announces the local view and records it in the local roster.
func (s *Session) BroadcastTab(tab string) error {
	return s.broadcastLocal(func(o protocol.Origin) protocol.Message {
		s.presence.SetView(o.From, tab)
		return &protocol.TabChange{Tab: tab, Origin: o}
	})
}

func (s *Session) broadcastLocal(build func(protocol.Origin) protocol.Message) error {
	if !s.Status().Connected {
		return core.ErrNotConnected
	}
	s.post(func() {
		if s.role == domain.RoleNone {
			return
		}
		s.broadcast(build(protocol.Origin{From: s.localID}), "")
	})
	return nil
}

// Flush sends pending batched edits immediately.
func (s *Session) Flush() {
	s.post(s.batcher.Flush)
}

func (s *Session) emitBatch(edits []domain.ParamEdit) {
	if s.role == domain.RoleNone {
		return
	}
	s.broadcast(&protocol.ParamBatch{Params: edits, Origin: protocol.Origin{From: s.localID}}, "")
}

func (s *Session) emitFullState() {
	if s.role == domain.RoleNone {
		return
	}
	snap, err := s.owner.GetFullState()
	if err != nil {
		log.Error().Str("module", "app.session").Err(err).Msg("full state unavailable")
		return
	}
	s.broadcast(&protocol.StateUpdate{State: snap, Origin: protocol.Origin{From: s.localID}}, "")
}

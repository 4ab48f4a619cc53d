package session

import (
	"errors"

	"github.com/dkeye/patchroom/internal/app"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/dkeye/patchroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

func encode(m protocol.Message) (core.Frame, error) {
	data, err := protocol.Encode(m)
	if err != nil {
		return nil, err
	}
	return core.Frame(data), nil
}

func (s *Session) onFrame(c *conn, f core.Frame) {
	if c.closed {
		return
	}
	msg, err := protocol.Decode(f)
	if err != nil {
		log.Debug().Str("module", "app.session").Str("peer", string(c.peer)).Err(err).Msg("dropping malformed message")
		return
	}
	host := s.role == domain.RoleHost

	switch m := msg.(type) {
	case *protocol.Join:
		if host {
			s.onJoin(c, m)
		}
	case *protocol.FullSync:
		if !host {
			s.applySnapshot(m.State, nil, nil)
		}
	case *protocol.Welcome:
		if !host {
			s.applySnapshot(m.State, m.Section, m.Players)
		}
	case *protocol.ParamBatch:
		for _, e := range m.Params {
			if err := s.owner.ApplyParam(e.Instrument, e.Path, e.Value); err != nil {
				log.Debug().Str("module", "app.session").Str("instrument", e.Instrument).Str("path", e.Path).Err(err).Msg("param not applied")
			}
		}
		s.relay(f, m)
	case *protocol.StateUpdate:
		if err := s.owner.ApplyFullState(m.State); err != nil {
			log.Warn().Str("module", "app.session").Err(err).Msg("state update not applied")
		}
		s.relay(f, m)
	case *protocol.NoteOn:
		s.logOwnerErr(s.owner.TriggerNote(m.Instrument, m.Note), m)
		s.relay(f, m)
	case *protocol.NoteOff:
		s.logOwnerErr(s.owner.ReleaseNote(m.Instrument), m)
		s.relay(f, m)
	case *protocol.SeqControl:
		if m.Action == protocol.SeqStart {
			s.logOwnerErr(s.owner.StartSequencer(m.Instrument), m)
		} else {
			s.logOwnerErr(s.owner.StopSequencer(m.Instrument), m)
		}
		s.relay(f, m)
	case *protocol.PatchChange:
		if m.Action == protocol.PatchAdd {
			s.owner.AddCrossPatch(m.CrossLink)
		} else {
			s.owner.RemoveCrossPatch(m.CrossLink)
		}
		s.relay(f, m)
	case *protocol.TabChange:
		s.presence.SetView(m.From, m.Tab)
		if s.hooks.OnPeerTabChange != nil {
			s.hooks.OnPeerTabChange(m.From, m.Tab)
		}
		s.relay(f, m)
	case *protocol.PlayerJoined:
		if !host {
			mem := domain.Member{Peer: m.Peer, Name: m.Name, Section: m.Section}
			s.presence.Upsert(mem)
			if s.hooks.OnPeerJoined != nil {
				s.hooks.OnPeerJoined(mem)
			}
		}
	case *protocol.PlayerLeft:
		if !host {
			mem, ok := s.presence.Release(m.Peer)
			if !ok {
				mem = domain.Member{Peer: m.Peer, Name: m.Name, Section: m.Section}
			}
			if s.hooks.OnPeerLeft != nil {
				s.hooks.OnPeerLeft(mem)
			}
			if s.hooks.OnPeerTabChange != nil {
				s.hooks.OnPeerTabChange(m.Peer, "")
			}
		}
	case *protocol.Error:
		if !host {
			s.onRemoteError(&core.RemoteError{Code: m.Code, Message: m.Message})
		}
	case *protocol.RoomFull:
		if !host {
			s.onRemoteError(&core.RemoteError{Code: core.CodeRoomFull, Message: m.Message})
		}
	case *protocol.Unknown:
		log.Debug().Str("module", "app.session").Str("type", string(m.Kind)).Msg("ignoring unknown message")
	}
}

func (s *Session) logOwnerErr(err error, m protocol.Message) {
	if err != nil {
		log.Debug().Str("module", "app.session").Str("type", string(m.Type())).Err(err).Msg("not applied")
	}
}

// onJoin assigns presence, answers with the state and announces the newcomer.
func (s *Session) onJoin(c *conn, m *protocol.Join) {
	if c.joined {
		log.Debug().Str("module", "app.session").Str("peer", string(c.peer)).Msg("ignoring repeated join")
		return
	}
	name, err := domain.DisplayName(m.Name, "Guest")
	if err != nil {
		name = "Guest"
	}
	member, err := s.presence.Join(c.peer, name)
	if errors.Is(err, core.ErrNoSection) {
		log.Info().Str("module", "app.session").Str("peer", string(c.peer)).Msg("no free section, rejecting")
		s.detach(c)
		c.closed = true
		s.reject(c.ch, &protocol.Error{Code: core.CodeNoSection, Message: "All sections are taken"})
		s.publish()
		return
	}
	snap, err := s.owner.GetFullState()
	if err != nil {
		log.Error().Str("module", "app.session").Err(err).Msg("full state unavailable")
		s.presence.Release(c.peer)
		_ = s.send(c, &protocol.Error{Code: core.CodeBadPayload, Message: "state unavailable"})
		return
	}
	c.joined = true
	c.name = name

	var reply protocol.Message = &protocol.FullSync{State: snap}
	if s.presence.SectionsEnabled() {
		reply = &protocol.Welcome{State: snap, Section: member.Section, Players: s.presence.Roster()}
	}
	if err := s.send(c, reply); err != nil {
		log.Warn().Str("module", "app.session").Str("peer", string(c.peer)).Err(err).Msg("initial state not sent")
	}
	s.broadcast(&protocol.PlayerJoined{Peer: member.Peer, Name: member.Name, Section: member.Section}, c.peer)
	if s.hooks.OnPeerJoined != nil {
		s.hooks.OnPeerJoined(member)
	}
	s.publish()
}

func (s *Session) applySnapshot(state domain.Snapshot, section *int, players []domain.Member) {
	if err := s.owner.ApplyFullState(state); err != nil {
		log.Warn().Str("module", "app.session").Err(err).Msg("snapshot not applied")
		if s.pending != nil {
			s.failJoin(s.pending, &core.TransportError{Op: "join", Err: err})
		}
		return
	}
	if s.pending != nil {
		s.completeJoin(section, players)
	}
}

func (s *Session) onRemoteError(err *core.RemoteError) {
	log.Warn().Str("module", "app.session").Str("code", err.Code).Msg(err.Message)
	if s.pending != nil {
		s.failJoin(s.pending, err)
		return
	}
	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
}

// relay forwards the original frame to every connection except the originator's. Host only.
func (s *Session) relay(f core.Frame, m protocol.Relayable) {
	if s.role != domain.RoleHost {
		return
	}
	s.fanout(f, m.Originator())
}

func (s *Session) send(c *conn, m protocol.Message) error {
	f, err := encode(m)
	if err != nil {
		return err
	}
	return c.ch.Send(f)
}

// broadcast encodes m once and sends it to every connection except exclude.
func (s *Session) broadcast(m protocol.Message, exclude domain.PeerID) {
	f, err := encode(m)
	if err != nil {
		log.Error().Str("module", "app.session").Str("type", string(m.Type())).Err(err).Msg("encode failed")
		return
	}
	s.fanout(f, exclude)
}

func (s *Session) fanout(f core.Frame, exclude domain.PeerID) {
	for _, c := range append([]*conn(nil), s.conns...) {
		if c.closed || c.peer == exclude {
			continue
		}
		err := c.ch.Send(f)
		if err == nil {
			continue
		}
		switch s.opts.Policy.OnBackPressure(c.peer, err) {
		case app.KickMember:
			log.Warn().Str("module", "app.session").Str("peer", string(c.peer)).Err(err).Msg("kicking slow peer")
			_ = c.ch.Close()
		case app.DropFrame, app.NoAction:
			log.Debug().Str("module", "app.session").Str("peer", string(c.peer)).Err(err).Msg("frame dropped")
		}
	}
}

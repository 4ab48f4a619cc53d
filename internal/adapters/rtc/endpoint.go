// Package rtc is the WebRTC transport: peers meet on the rendezvous socket, trade whole
// offers and answers there, then talk over an ordered data channel. Talkback calls ride
// separate send-only audio connections.
package rtc

import (
	"context"
	"sync"

	sig "github.com/dkeye/patchroom/internal/adapters/signal"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	kindOffer  = "offer"
	kindAnswer = "answer"
	kindBye    = "bye"
)

// negotiation is the payload of a signal envelope.
type negotiation struct {
	Kind  string            `json:"kind"`
	SDP   string            `json:"sdp,omitempty"`
	Meta  map[string]string `json:"meta,omitempty"`
	Media bool              `json:"media,omitempty"`
}

type Endpoint struct {
	url     string
	cfg     webrtc.Configuration
	retries uint64
	logger  zerolog.Logger

	mu     sync.Mutex
	sig    *signaler
	id     domain.PeerID
	conns  map[string]*PeerConn
	onConn func(core.Channel)
	onCall func(core.IncomingCall)
	closed bool
}

var _ core.Endpoint = (*Endpoint)(nil)

// NewEndpoint returns an endpoint that registers on the signaling socket at url.
// The socket is dialed lazily by the first Open.
func NewEndpoint(url string, cfg webrtc.Configuration, dialRetries uint64) *Endpoint {
	return &Endpoint{
		url:     url,
		cfg:     cfg,
		retries: dialRetries,
		logger:  log.With().Str("module", "rtc").Logger(),
		conns:   make(map[string]*PeerConn),
	}
}

// dial returns the signaling socket, connecting it first if needed. The endpoint
// lock is not held while dialing; a socket that lost the race is closed.
func (e *Endpoint) dial(ctx context.Context) (*signaler, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, core.ErrClosed
	}
	if e.sig != nil {
		s := e.sig
		e.mu.Unlock()
		return s, nil
	}
	e.mu.Unlock()

	s, err := dialSignaler(ctx, e.url, e.retries, e.onSignal)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.sig != nil {
		cur, closed := e.sig, e.closed
		_ = s.close()
		if closed {
			return nil, core.ErrClosed
		}
		return cur, nil
	}
	s.mu.Lock()
	s.onGone = func() {
		e.logger.Warn().Msg("signaling socket lost")
		e.mu.Lock()
		if e.sig == s {
			e.sig = nil
		}
		e.mu.Unlock()
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil, &core.TransportError{Op: "dial", Err: core.ErrClosed}
	default:
	}
	e.sig = s
	return s, nil
}

func (e *Endpoint) Open(ctx context.Context, id domain.PeerID) (domain.PeerID, error) {
	s, err := e.dial(ctx)
	if err != nil {
		return "", err
	}
	reply, err := s.register(ctx, sig.Envelope{Type: sig.TypeRegister, ID: id})
	if err != nil {
		return "", err
	}
	switch {
	case reply.Type == sig.TypeRegistered:
		e.mu.Lock()
		e.id = reply.ID
		e.mu.Unlock()
		e.logger.Info().Str("id", string(reply.ID)).Msg("registered")
		return reply.ID, nil
	case reply.Code == core.CodeUnavailableID:
		return "", core.ErrIDUnavailable
	default:
		return "", &core.RemoteError{Code: reply.Code, Message: reply.Message}
	}
}

func (e *Endpoint) OnConnection(fn func(core.Channel)) {
	e.mu.Lock()
	e.onConn = fn
	e.mu.Unlock()
}

func (e *Endpoint) OnCall(fn func(core.IncomingCall)) {
	e.mu.Lock()
	e.onCall = fn
	e.mu.Unlock()
}

func (e *Endpoint) Connect(ctx context.Context, remote domain.PeerID, meta map[string]string) (core.Channel, error) {
	s, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}
	sid := uuid.NewString()
	pc, err := NewPeerConn(e.cfg, sid, remote)
	if err != nil {
		return nil, &core.TransportError{Op: "connect", Err: err}
	}
	dc, err := pc.CreateDataChannel(dataLabel)
	if err != nil {
		pc.Close()
		return nil, &core.TransportError{Op: "connect", Err: err}
	}
	opened := make(chan struct{})
	dc.OnOpen(func() { close(opened) })
	ch := wrapDataChannel(dc, pc, remote, meta)
	failed := make(chan struct{})
	pc.OnClosed(func() { close(failed) })
	pc.Start(context.Background())
	e.track(sid, pc, remote)

	if err := e.negotiate(ctx, s, pc, remote, negotiation{Kind: kindOffer, Meta: meta}); err != nil {
		pc.Close()
		return nil, err
	}
	select {
	case <-opened:
		return ch, nil
	case <-failed:
		return nil, &core.TransportError{Op: "connect", Err: core.ErrClosed}
	case <-ctx.Done():
		pc.Close()
		return nil, ctx.Err()
	}
}

// Call opens a send-only opus call to remote.
func (e *Endpoint) Call(ctx context.Context, remote domain.PeerID) (core.OutboundCall, error) {
	s, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}
	sid := uuid.NewString()
	pc, err := NewPeerConn(e.cfg, sid, remote)
	if err != nil {
		return nil, &core.TransportError{Op: "call", Err: err}
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "talkback-"+string(e.localID()),
	)
	if err == nil {
		err = pc.AddSendOnlyTrack(track)
	}
	if err != nil {
		pc.Close()
		return nil, &core.TransportError{Op: "call", Err: err}
	}
	pc.Start(context.Background())
	e.track(sid, pc, remote)
	if err := e.negotiate(ctx, s, pc, remote, negotiation{Kind: kindOffer, Media: true}); err != nil {
		pc.Close()
		return nil, err
	}
	return &outboundCall{track: track, pc: pc, remote: remote}, nil
}

// negotiate sends the local offer and applies the answer.
func (e *Endpoint) negotiate(ctx context.Context, s *signaler, pc *PeerConn, remote domain.PeerID, n negotiation) error {
	replies := s.wait(pc.sid)
	defer s.forget(pc.sid)

	offer, err := pc.CreateOffer()
	if err != nil {
		return &core.TransportError{Op: "offer", Err: err}
	}
	n.SDP = offer.SDP
	if err := e.signal(s, remote, pc.sid, n); err != nil {
		return err
	}
	for {
		select {
		case env := <-replies:
			if env.Type == sig.TypeError {
				if env.Code == core.CodePeerUnavailable {
					return core.ErrPeerUnavailable
				}
				return &core.RemoteError{Code: env.Code, Message: env.Message}
			}
			var reply negotiation
			if err := json.Unmarshal(env.Payload, &reply); err != nil {
				e.logger.Debug().Err(err).Str("sid", pc.sid).Msg("bad negotiation payload")
				continue
			}
			switch reply.Kind {
			case kindAnswer:
				if err := pc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: reply.SDP}); err != nil {
					return &core.TransportError{Op: "answer", Err: err}
				}
				return nil
			case kindBye:
				return core.ErrPeerUnavailable
			}
		case <-s.done:
			return &core.TransportError{Op: "negotiate", Err: core.ErrClosed}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Endpoint) signal(s *signaler, to domain.PeerID, sid string, n negotiation) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return s.send(sig.Envelope{Type: sig.TypeSignal, To: to, From: e.localID(), Session: sid, Payload: payload})
}

// onSignal handles offers and hangups for sessions nobody is waiting on.
func (e *Endpoint) onSignal(env sig.Envelope) {
	var n negotiation
	if err := json.Unmarshal(env.Payload, &n); err != nil {
		e.logger.Debug().Err(err).Str("from", string(env.From)).Msg("bad negotiation payload")
		return
	}
	switch n.Kind {
	case kindOffer:
		if n.Media {
			go e.ring(env, n)
		} else {
			go e.accept(env, n)
		}
	case kindBye:
		e.mu.Lock()
		pc := e.conns[env.Session]
		e.mu.Unlock()
		if pc != nil {
			pc.Close()
		}
	}
}

func (e *Endpoint) accept(env sig.Envelope, n negotiation) {
	e.mu.Lock()
	handler, s := e.onConn, e.sig
	e.mu.Unlock()
	if handler == nil || s == nil {
		e.decline(s, env)
		return
	}
	pc, err := NewPeerConn(e.cfg, env.Session, env.From)
	if err != nil {
		e.logger.Error().Err(err).Msg("peer connection")
		e.decline(s, env)
		return
	}
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataLabel {
			_ = dc.Close()
			return
		}
		ch := wrapDataChannel(dc, pc, env.From, n.Meta)
		dc.OnOpen(func() { handler(ch) })
	})
	pc.Start(context.Background())
	e.track(env.Session, pc, env.From)
	if err := e.answer(s, pc, env, n); err != nil {
		e.logger.Warn().Err(err).Str("from", string(env.From)).Msg("answer failed")
		pc.Close()
	}
}

func (e *Endpoint) ring(env sig.Envelope, n negotiation) {
	e.mu.Lock()
	handler, s := e.onCall, e.sig
	e.mu.Unlock()
	if handler == nil || s == nil {
		e.decline(s, env)
		return
	}
	handler(&incomingCall{ep: e, sig: s, env: env, offer: n})
}

func (e *Endpoint) answer(s *signaler, pc *PeerConn, env sig.Envelope, n negotiation) error {
	answer, err := pc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: n.SDP})
	if err != nil {
		return err
	}
	return e.signal(s, env.From, env.Session, negotiation{Kind: kindAnswer, SDP: answer.SDP})
}

func (e *Endpoint) decline(s *signaler, env sig.Envelope) {
	if s == nil {
		return
	}
	if err := e.signal(s, env.From, env.Session, negotiation{Kind: kindBye}); err != nil {
		e.logger.Debug().Err(err).Msg("decline not sent")
	}
}

// track remembers pc until it closes; the remote side is told with a bye.
func (e *Endpoint) track(sid string, pc *PeerConn, remote domain.PeerID) {
	e.mu.Lock()
	e.conns[sid] = pc
	e.mu.Unlock()
	pc.OnClosed(func() {
		e.mu.Lock()
		_, ok := e.conns[sid]
		delete(e.conns, sid)
		s := e.sig
		e.mu.Unlock()
		if ok && s != nil {
			_ = e.signal(s, remote, sid, negotiation{Kind: kindBye})
		}
	})
}

func (e *Endpoint) localID() domain.PeerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	s := e.sig
	e.sig = nil
	conns := make([]*PeerConn, 0, len(e.conns))
	for _, pc := range e.conns {
		conns = append(conns, pc)
	}
	e.mu.Unlock()

	for _, pc := range conns {
		pc.Close()
	}
	if s != nil {
		return s.close()
	}
	return nil
}

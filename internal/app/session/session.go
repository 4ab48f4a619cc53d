// Package session runs one participant: the host or guest side of a room, the relay,
// and the outbound sync pipeline. Everything mutable is owned by a single event loop.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/dkeye/patchroom/internal/app/presence"
	"github.com/dkeye/patchroom/internal/app/statesync"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/dkeye/patchroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

const eventQueueSize = 256

type conn struct {
	ch     core.Channel
	peer   domain.PeerID
	name   string
	joined bool
	closed bool
}

type pendingJoin struct {
	room   domain.Room
	name   string
	result chan error
	cancel func()
	// abort stops an in-flight Connect once the join has failed.
	abort context.CancelFunc
}

type Session struct {
	opts  Options
	ep    core.Endpoint
	owner core.StateOwner
	hooks Hooks

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned
	role     domain.Role
	room     domain.Room
	localID  domain.PeerID
	name     string
	conns    []*conn
	pending  *pendingJoin
	batcher  *statesync.Batcher
	throttle *statesync.Throttle

	presence *presence.Tracker
	status   atomic.Pointer[Status]
	peers    atomic.Pointer[[]domain.PeerID]
	self     atomic.Pointer[domain.PeerID]
}

// New starts the event loop. The session owns ep from here on and closes it in Close.
func New(opts Options, ep core.Endpoint, owner core.StateOwner, hooks Hooks) *Session {
	opts = opts.withDefaults()
	s := &Session{
		opts:     opts,
		ep:       ep,
		owner:    owner,
		hooks:    hooks,
		events:   make(chan func(), eventQueueSize),
		done:     make(chan struct{}),
		presence: presence.New(opts.Sections),
	}
	s.status.Store(&Status{})
	s.peers.Store(&[]domain.PeerID{})
	s.batcher = statesync.NewBatcher(opts.FlushInterval, s.schedule, s.emitBatch)
	s.throttle = statesync.NewThrottle(opts.FlushInterval, time.Now, s.schedule, s.emitFullState)
	ep.OnConnection(func(ch core.Channel) {
		s.post(func() { s.accept(ch) })
	})
	go s.loop()
	return s
}

func (s *Session) loop() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// post queues fn on the event loop. Dropped once the session is closed.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

// do runs fn on the event loop and waits for it. Never call from the loop.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.events <- func() { fn(); close(finished) }:
	case <-s.done:
		return core.ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return core.ErrClosed
	}
}

// schedule delivers timer callbacks on the loop; a cancelled callback that was
// already queued is skipped.
func (s *Session) schedule(d time.Duration, fn func()) func() {
	cancelled := false
	stop := statesync.TimerScheduler(d, func() {
		s.post(func() {
			if !cancelled {
				fn()
			}
		})
	})
	return func() {
		cancelled = true
		stop()
	}
}

func (s *Session) Status() Status { return *s.status.Load() }

// Peers lists the remote ends of the open connections.
func (s *Session) Peers() []domain.PeerID { return *s.peers.Load() }

// Roster lists every participant known to this session, including itself.
func (s *Session) Roster() []domain.Member { return s.presence.Roster() }

// Self returns the local presence record once the session is connected.
func (s *Session) Self() (domain.Member, bool) {
	id := s.self.Load()
	if id == nil {
		return domain.Member{}, false
	}
	return s.presence.Get(*id)
}

func (s *Session) LocalID() domain.PeerID {
	if id := s.self.Load(); id != nil {
		return *id
	}
	return ""
}

// CreateAsHost registers the host rendezvous id under a fresh room code. A taken id
// regenerates the code and retries with backoff.
func (s *Session) CreateAsHost(ctx context.Context, name string) (domain.RoomCode, error) {
	if s.Status().Connected {
		return "", core.ErrAlreadyConnected
	}
	name, err := domain.DisplayName(name, "Host")
	if err != nil {
		return "", err
	}

	var room domain.Room
	op := func() error {
		room = domain.NewRoom(s.opts.Prefix, s.opts.Codes())
		_, err := s.ep.Open(ctx, room.HostRendezvousID)
		if errors.Is(err, core.ErrIDUnavailable) {
			log.Warn().Str("module", "app.session").Str("code", string(room.Code)).Msg("room code taken, regenerating")
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, s.opts.CreateRetries), ctx)); err != nil {
		if errors.Is(err, core.ErrIDUnavailable) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &core.TransportError{Op: "open", Err: err}
	}

	var setupErr error
	if err := s.do(func() { setupErr = s.becomeHost(room, name) }); err != nil {
		return "", err
	}
	if setupErr != nil {
		return "", setupErr
	}
	log.Info().Str("module", "app.session").Str("code", string(room.Code)).Msg("room created")
	return room.Code, nil
}

func (s *Session) becomeHost(room domain.Room, name string) error {
	if s.role != domain.RoleNone {
		return core.ErrAlreadyConnected
	}
	s.role = domain.RoleHost
	s.room = room
	s.localID = room.HostRendezvousID
	s.name = name
	s.presence.Reset()
	if _, err := s.presence.Join(s.localID, name); err != nil {
		return err
	}
	id := s.localID
	s.self.Store(&id)
	s.publish()
	return nil
}

// JoinAsGuest connects to the host of code and waits for the initial state.
// No answer within the join timeout yields ErrRoomNotFound.
func (s *Session) JoinAsGuest(ctx context.Context, rawCode, name string) (domain.RoomCode, error) {
	code, err := domain.ParseCode(rawCode)
	if err != nil {
		return "", err
	}
	if s.Status().Connected {
		return "", core.ErrAlreadyConnected
	}
	name, err = domain.DisplayName(name, "Guest")
	if err != nil {
		return "", err
	}
	localID, err := s.ep.Open(ctx, "")
	if err != nil {
		return "", &core.TransportError{Op: "open", Err: err}
	}

	connectCtx, abort := context.WithCancel(ctx)
	p := &pendingJoin{
		room:   domain.NewRoom(s.opts.Prefix, code),
		name:   name,
		result: make(chan error, 1),
		abort:  abort,
	}
	var startErr error
	if err := s.do(func() { startErr = s.startJoin(p, localID) }); err != nil {
		abort()
		return "", err
	}
	if startErr != nil {
		abort()
		return "", startErr
	}

	go func() {
		ch, err := s.ep.Connect(connectCtx, p.room.HostRendezvousID, map[string]string{"name": name})
		s.post(func() { s.onHostChannel(p, ch, err) })
	}()

	select {
	case err = <-p.result:
	case <-ctx.Done():
		s.post(func() { s.failJoin(p, ctx.Err()) })
		select {
		case err = <-p.result:
		case <-s.done:
			err = core.ErrClosed
		}
	case <-s.done:
		err = core.ErrClosed
	}
	if err != nil {
		return "", err
	}
	log.Info().Str("module", "app.session").Str("code", string(code)).Msg("joined room")
	return code, nil
}

func (s *Session) startJoin(p *pendingJoin, localID domain.PeerID) error {
	if s.role != domain.RoleNone || s.pending != nil {
		return core.ErrAlreadyConnected
	}
	s.role = domain.RoleGuest
	s.room = p.room
	s.localID = localID
	s.name = p.name
	s.presence.Reset()
	s.pending = p
	p.cancel = s.schedule(s.opts.JoinTimeout, func() {
		log.Warn().Str("module", "app.session").Str("code", string(p.room.Code)).Msg("join timed out")
		s.failJoin(p, core.ErrRoomNotFound)
	})
	return nil
}

func (s *Session) onHostChannel(p *pendingJoin, ch core.Channel, err error) {
	if s.pending != p {
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	if err != nil {
		if errors.Is(err, core.ErrPeerUnavailable) {
			s.failJoin(p, core.ErrRoomNotFound)
		} else {
			s.failJoin(p, &core.TransportError{Op: "connect", Err: err})
		}
		return
	}
	c := s.attach(ch)
	if err := s.send(c, &protocol.Join{Name: p.name, Peer: s.localID}); err != nil {
		s.failJoin(p, &core.TransportError{Op: "join", Err: err})
	}
}

// completeJoin runs when the host's snapshot arrived.
func (s *Session) completeJoin(section *int, players []domain.Member) {
	p := s.pending
	s.pending = nil
	p.cancel()
	p.abort()
	for _, m := range players {
		s.presence.Upsert(m)
	}
	self := domain.NewMember(s.localID, s.name)
	self.Section = section
	s.presence.Upsert(self)
	id := s.localID
	s.self.Store(&id)
	s.publish()
	p.result <- nil
}

func (s *Session) failJoin(p *pendingJoin, err error) {
	if s.pending != p {
		return
	}
	s.pending = nil
	p.cancel()
	p.abort()
	for _, c := range s.conns {
		c.closed = true
		_ = c.ch.Close()
	}
	s.conns = nil
	s.reset()
	p.result <- err
}

func (s *Session) reset() {
	s.role = domain.RoleNone
	s.room = domain.Room{}
	s.batcher.Stop()
	s.throttle.Stop()
	s.presence.Reset()
	s.self.Store(nil)
	s.publish()
}

// accept handles an inbound channel on the host.
func (s *Session) accept(ch core.Channel) {
	if s.role != domain.RoleHost {
		log.Debug().Str("module", "app.session").Str("peer", string(ch.RemotePeer())).Msg("inbound channel while not hosting")
		_ = ch.Close()
		return
	}
	if len(s.conns) >= s.opts.MaxGuests {
		log.Info().Str("module", "app.session").Str("peer", string(ch.RemotePeer())).Msg("room full, rejecting")
		s.reject(ch, &protocol.RoomFull{Message: "Room is full"})
		return
	}
	s.attach(ch)
	log.Info().Str("module", "app.session").Str("peer", string(ch.RemotePeer())).Msg("guest connected")
	s.publish()
}

// reject delivers m and closes ch after the grace delay.
func (s *Session) reject(ch core.Channel, m protocol.Message) {
	if f, err := encode(m); err == nil {
		_ = ch.Send(f)
	}
	time.AfterFunc(s.opts.RejectGrace, func() { _ = ch.Close() })
}

func (s *Session) attach(ch core.Channel) *conn {
	c := &conn{ch: ch, peer: ch.RemotePeer()}
	s.conns = append(s.conns, c)
	ch.OnMessage(func(f core.Frame) {
		s.post(func() { s.onFrame(c, f) })
	})
	ch.OnClose(func() {
		s.post(func() { s.onClose(c) })
	})
	return c
}

func (s *Session) detach(c *conn) bool {
	for i, x := range s.conns {
		if x == c {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) onClose(c *conn) {
	c.closed = true
	if !s.detach(c) {
		return
	}
	log.Info().Str("module", "app.session").Str("peer", string(c.peer)).Msg("connection closed")
	switch s.role {
	case domain.RoleHost:
		if c.joined {
			s.peerLeft(c)
		}
		s.publish()
	case domain.RoleGuest:
		if s.pending != nil {
			s.failJoin(s.pending, &core.TransportError{Op: "join", Err: core.ErrClosed})
			return
		}
		s.reset()
	}
}

func (s *Session) peerLeft(c *conn) {
	m, ok := s.presence.Release(c.peer)
	if !ok {
		m = domain.NewMember(c.peer, c.name)
	}
	s.broadcast(&protocol.PlayerLeft{Peer: m.Peer, Name: m.Name, Section: m.Section}, "")
	if s.hooks.OnPeerLeft != nil {
		s.hooks.OnPeerLeft(m)
	}
	if s.hooks.OnPeerTabChange != nil {
		s.hooks.OnPeerTabChange(m.Peer, "")
	}
}

func (s *Session) publish() {
	peers := make([]domain.PeerID, 0, len(s.conns))
	for _, c := range s.conns {
		peers = append(peers, c.peer)
	}
	s.peers.Store(&peers)

	st := Status{
		RoomCode:  s.room.Code,
		IsHost:    s.role == domain.RoleHost,
		PeerCount: len(s.conns),
	}
	st.Connected = s.role == domain.RoleHost || (s.role == domain.RoleGuest && s.pending == nil)
	if prev := s.status.Swap(&st); *prev == st {
		return
	}
	if s.hooks.OnStatusChange != nil {
		s.hooks.OnStatusChange(st)
	}
}

// Close tears the session down and closes the endpoint. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.do(func() {
			if s.pending != nil {
				s.failJoin(s.pending, core.ErrClosed)
			}
			for _, c := range s.conns {
				c.closed = true
				_ = c.ch.Close()
			}
			s.conns = nil
			s.reset()
		})
		close(s.done)
		err = s.ep.Close()
	})
	return err
}

// Package memnet is an in-process transport: endpoints registered on one Network reach
// each other through ordered bounded queues. Used by tests and single-process demos.
package memnet

import (
	"context"
	"sync"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultQueueSize = 256

// Network is the shared rendezvous namespace.
type Network struct {
	QueueSize int

	mu        sync.Mutex
	endpoints map[domain.PeerID]*Endpoint
}

func New() *Network {
	return &Network{QueueSize: DefaultQueueSize, endpoints: make(map[domain.PeerID]*Endpoint)}
}

// Endpoint returns a fresh unregistered endpoint.
func (n *Network) Endpoint() *Endpoint {
	return &Endpoint{net: n}
}

func (n *Network) lookup(id domain.PeerID) (*Endpoint, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, ok := n.endpoints[id]
	return ep, ok
}

func (n *Network) queueSize() int {
	if n.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return n.QueueSize
}

// Endpoint implements core.Endpoint.
type Endpoint struct {
	net *Network

	mu       sync.Mutex
	id       domain.PeerID
	onConn   func(core.Channel)
	onCall   func(core.IncomingCall)
	channels []*channel
	closed   bool
}

func (e *Endpoint) ID() domain.PeerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

func (e *Endpoint) Open(ctx context.Context, id domain.PeerID) (domain.PeerID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == "" {
		id = domain.PeerID(uuid.NewString())
	}
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	if _, taken := e.net.endpoints[id]; taken {
		return "", core.ErrIDUnavailable
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", core.ErrClosed
	}
	if e.id != "" {
		delete(e.net.endpoints, e.id)
	}
	e.id = id
	e.net.endpoints[id] = e
	log.Debug().Str("module", "adapters.memnet").Str("peer", string(id)).Msg("registered")
	return id, nil
}

func (e *Endpoint) Connect(ctx context.Context, remote domain.PeerID, meta map[string]string) (core.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local := e.ID()
	if local == "" {
		return nil, core.ErrNotConnected
	}
	target, ok := e.net.lookup(remote)
	if !ok || target.isClosed() {
		return nil, core.ErrPeerUnavailable
	}
	size := e.net.queueSize()
	out := newChannel(local, remote, meta, size)
	in := newChannel(remote, local, meta, size)
	out.peer, in.peer = in, out
	e.track(out)
	target.track(in)
	go out.run()
	go in.run()

	target.mu.Lock()
	handler := target.onConn
	target.mu.Unlock()
	if handler != nil {
		go handler(in)
	}
	return out, nil
}

func (e *Endpoint) OnConnection(fn func(core.Channel)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onConn = fn
}

func (e *Endpoint) OnCall(fn func(core.IncomingCall)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCall = fn
}

func (e *Endpoint) Call(ctx context.Context, remote domain.PeerID) (core.OutboundCall, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, ok := e.net.lookup(remote)
	if !ok || target.isClosed() {
		return nil, core.ErrPeerUnavailable
	}
	c := &call{from: e.ID(), to: remote}
	target.mu.Lock()
	handler := target.onCall
	target.mu.Unlock()
	if handler != nil {
		go handler(&incomingCall{c})
	}
	return &outboundCall{c}, nil
}

// Close unregisters the endpoint and closes every channel it holds.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	id := e.id
	chans := e.channels
	e.channels = nil
	e.mu.Unlock()

	e.net.mu.Lock()
	if cur, ok := e.net.endpoints[id]; ok && cur == e {
		delete(e.net.endpoints, id)
	}
	e.net.mu.Unlock()

	for _, ch := range chans {
		_ = ch.Close()
	}
	return nil
}

func (e *Endpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Endpoint) track(ch *channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels = append(e.channels, ch)
}

package memnet

import (
	"context"
	"sync"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/pion/rtp"
)

type channel struct {
	local, remote domain.PeerID
	meta          map[string]string
	peer          *channel

	inbox chan core.Frame
	wake  chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	handler  func(core.Frame)
	onClose  func()
	closed   bool
	finished bool
	once     sync.Once
}

func newChannel(local, remote domain.PeerID, meta map[string]string, size int) *channel {
	m := make(map[string]string, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	return &channel{
		local:  local,
		remote: remote,
		meta:   m,
		inbox:  make(chan core.Frame, size),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// run is the only caller of the message and close handlers. Until a message handler
// is set the inbox is left unread, so it doubles as the bounded backlog.
func (c *channel) run() {
	for {
		h := c.messageHandler()
		var inbox chan core.Frame
		if h != nil {
			inbox = c.inbox
		}
		select {
		case f := <-inbox:
			h(f)
		case <-c.wake:
		case <-c.done:
			if h != nil {
			drain:
				for {
					select {
					case f := <-c.inbox:
						h(f)
					default:
						break drain
					}
				}
			}
			c.mu.Lock()
			c.finished = true
			fn := c.onClose
			c.mu.Unlock()
			if fn != nil {
				fn()
			}
			return
		}
	}
}

func (c *channel) messageHandler() func(core.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

func (c *channel) RemotePeer() domain.PeerID   { return c.remote }
func (c *channel) Metadata() map[string]string { return c.meta }

func (c *channel) Send(f core.Frame) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return core.ErrClosed
	}
	cp := make(core.Frame, len(f))
	copy(cp, f)
	select {
	case c.peer.inbox <- cp:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *channel) OnMessage(fn func(core.Frame)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *channel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	finished := c.finished
	c.mu.Unlock()
	if finished && fn != nil {
		go fn()
	}
}

func (c *channel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *channel) Close() error {
	c.shutdown()
	c.peer.shutdown()
	return nil
}

func (c *channel) shutdown() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

type call struct {
	from, to domain.PeerID

	mu     sync.Mutex
	sink   core.PacketWriter
	closed bool
}

func (c *call) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.sink = nil
	return nil
}

type outboundCall struct{ *call }

func (o *outboundCall) RemotePeer() domain.PeerID { return o.to }
func (o *outboundCall) Close() error              { return o.close() }

// WriteRTP drops packets until the callee answers.
func (o *outboundCall) WriteRTP(p *rtp.Packet) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return core.ErrClosed
	}
	sink := o.sink
	o.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.WriteRTP(p)
}

type incomingCall struct{ *call }

func (i *incomingCall) RemotePeer() domain.PeerID { return i.from }
func (i *incomingCall) Close() error              { return i.close() }

func (i *incomingCall) AnswerReceiveOnly(_ context.Context, sink core.PacketWriter) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return core.ErrClosed
	}
	i.sink = sink
	return nil
}

package rtc

import (
	"sync"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	dataLabel = "patchroom"
	// Send refuses new frames once this much is queued in SCTP.
	maxBuffered = 1 << 20
	maxBacklog  = 256
)

// dataChannel adapts a pion data channel to core.Channel. Frames that arrive before
// OnMessage is set are held in backlog.
type dataChannel struct {
	dc     *webrtc.DataChannel
	pc     *PeerConn
	remote domain.PeerID
	meta   map[string]string

	mu       sync.Mutex
	handler  func(core.Frame)
	backlog  []core.Frame
	flushing bool
	onClose  func()
	closed   bool
}

func wrapDataChannel(dc *webrtc.DataChannel, pc *PeerConn, remote domain.PeerID, meta map[string]string) *dataChannel {
	c := &dataChannel{dc: dc, pc: pc, remote: remote, meta: meta}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.deliver(core.Frame(msg.Data))
	})
	dc.OnClose(c.finish)
	pc.OnClosed(c.finish)
	return c
}

func (c *dataChannel) RemotePeer() domain.PeerID { return c.remote }

func (c *dataChannel) Metadata() map[string]string {
	m := make(map[string]string, len(c.meta))
	for k, v := range c.meta {
		m[k] = v
	}
	return m
}

func (c *dataChannel) Send(f core.Frame) error {
	if !c.IsOpen() {
		return core.ErrClosed
	}
	if c.dc.BufferedAmount() > maxBuffered {
		return core.ErrBackpressure
	}
	if err := c.dc.Send(f); err != nil {
		return &core.TransportError{Op: "send", Err: err}
	}
	return nil
}

func (c *dataChannel) deliver(f core.Frame) {
	c.mu.Lock()
	if c.handler == nil || c.flushing || len(c.backlog) > 0 {
		if len(c.backlog) >= maxBacklog {
			c.mu.Unlock()
			log.Warn().Str("module", "rtc").Str("peer", string(c.remote)).Msg("backlog full, dropping frame")
			return
		}
		c.backlog = append(c.backlog, f)
		c.mu.Unlock()
		return
	}
	h := c.handler
	c.mu.Unlock()
	h(f)
}

// OnMessage replays the backlog in order before handing over to live delivery.
func (c *dataChannel) OnMessage(fn func(core.Frame)) {
	c.mu.Lock()
	c.flushing = true
	for len(c.backlog) > 0 {
		f := c.backlog[0]
		c.backlog = c.backlog[1:]
		c.mu.Unlock()
		fn(f)
		c.mu.Lock()
	}
	c.handler = fn
	c.flushing = false
	c.mu.Unlock()
}

func (c *dataChannel) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onClose = fn
	c.mu.Unlock()
}

func (c *dataChannel) IsOpen() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (c *dataChannel) Close() error {
	err := c.dc.Close()
	c.pc.Close()
	c.finish()
	return err
}

func (c *dataChannel) finish() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fn := c.onClose
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

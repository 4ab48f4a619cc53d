// Package talkback is the push-to-talk audio side channel. It shares the peer set with
// the session but never touches sync state.
package talkback

import (
	"context"
	"sync"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Channel struct {
	media   core.MediaEndpoint
	mic     core.Microphone
	speaker core.Speaker
	peers   func() []domain.PeerID
	logger  zerolog.Logger

	mu     sync.Mutex
	relay  *Relay
	cancel context.CancelFunc
}

// New wires auto-answer on media: every incoming call is answered receive-only and
// played through speaker. peers lists the current data connections.
func New(media core.MediaEndpoint, mic core.Microphone, speaker core.Speaker, peers func() []domain.PeerID) *Channel {
	c := &Channel{
		media:   media,
		mic:     mic,
		speaker: speaker,
		peers:   peers,
		logger:  log.With().Str("module", "app.talkback").Logger(),
	}
	media.OnCall(c.answer)
	return c
}

// Start acquires the capture source and calls every connected peer. A denied capture
// source is logged and leaves the channel inactive; it is not returned as an error.
func (c *Channel) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeLocked() {
		return
	}
	src, err := c.mic.Acquire(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("capture unavailable, talkback stays off")
		return
	}
	relayCtx, cancel := context.WithCancel(context.Background())
	c.relay = NewRelay(src)
	c.cancel = cancel
	for _, p := range c.peers() {
		c.callLocked(ctx, p)
	}
	c.logger.Info().Int("calls", len(c.relay.Peers())).Msg("talkback started")
	go c.relay.loop(relayCtx, &c.logger)
}

// AddPeer calls a peer that connected after Start.
func (c *Channel) AddPeer(ctx context.Context, peer domain.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.activeLocked() || c.relay.Has(peer) {
		return
	}
	c.callLocked(ctx, peer)
}

// RemovePeer drops the call to a departed peer.
func (c *Channel) RemovePeer(peer domain.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay != nil {
		c.relay.MarkDelete(peer)
	}
}

func (c *Channel) callLocked(ctx context.Context, peer domain.PeerID) {
	call, err := c.media.Call(ctx, peer)
	if err != nil {
		c.logger.Warn().Err(err).Str("peer", string(peer)).Msg("call failed")
		return
	}
	c.relay.Add(peer, NewOutCall(call))
}

// SetMuted keeps the calls up but stops sending packets.
func (c *Channel) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay != nil {
		c.relay.SetMuted(muted)
	}
}

// Stop releases the capture source and closes every outgoing call. Idempotent.
func (c *Channel) Stop() {
	c.mu.Lock()
	relay, cancel := c.relay, c.cancel
	c.relay, c.cancel = nil, nil
	c.mu.Unlock()
	if relay == nil {
		return
	}
	cancel()
	_ = relay.Src.Close()
	<-relay.done
	c.logger.Info().Msg("talkback stopped")
}

func (c *Channel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *Channel) activeLocked() bool {
	if c.relay == nil {
		return false
	}
	select {
	case <-c.relay.done:
		return false
	default:
		return true
	}
}

func (c *Channel) answer(in core.IncomingCall) {
	peer := in.RemotePeer()
	sink, err := c.speaker.Open(peer)
	if err != nil {
		c.logger.Warn().Err(err).Str("peer", string(peer)).Msg("no playback for incoming call")
		_ = in.Close()
		return
	}
	if err := in.AnswerReceiveOnly(context.Background(), sink); err != nil {
		c.logger.Warn().Err(err).Str("peer", string(peer)).Msg("answer failed")
		_ = in.Close()
		return
	}
	c.logger.Info().Str("peer", string(peer)).Msg("incoming talkback answered")
}

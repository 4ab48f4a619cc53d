package rtc

import (
	"context"
	"errors"
	"io"
	"sync"

	sig "github.com/dkeye/patchroom/internal/adapters/signal"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type outboundCall struct {
	track  *webrtc.TrackLocalStaticRTP
	pc     *PeerConn
	remote domain.PeerID
}

func (c *outboundCall) WriteRTP(p *rtp.Packet) error {
	if err := c.track.WriteRTP(p); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

func (c *outboundCall) RemotePeer() domain.PeerID { return c.remote }

func (c *outboundCall) Close() error {
	c.pc.Close()
	return nil
}

type incomingCall struct {
	ep    *Endpoint
	sig   *signaler
	env   sig.Envelope
	offer negotiation

	mu sync.Mutex
	pc *PeerConn
}

func (c *incomingCall) RemotePeer() domain.PeerID { return c.env.From }

// AnswerReceiveOnly answers with no local track; the remote opus stream is copied to sink.
func (c *incomingCall) AnswerReceiveOnly(_ context.Context, sink core.PacketWriter) error {
	pc, err := NewPeerConn(c.ep.cfg, c.env.Session, c.env.From)
	if err != nil {
		return &core.TransportError{Op: "answer", Err: err}
	}
	pc.OnTrack(func(ctx context.Context, track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go pump(ctx, track, sink, c.env.From)
	})
	pc.Start(context.Background())
	c.ep.track(c.env.Session, pc, c.env.From)

	c.mu.Lock()
	c.pc = pc
	c.mu.Unlock()

	if err := c.ep.answer(c.sig, pc, c.env, c.offer); err != nil {
		pc.Close()
		return &core.TransportError{Op: "answer", Err: err}
	}
	return nil
}

func (c *incomingCall) Close() error {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()
	if pc == nil {
		c.ep.decline(c.sig, c.env)
		return nil
	}
	pc.Close()
	return nil
}

func pump(ctx context.Context, track *webrtc.TrackRemote, sink core.PacketWriter, from domain.PeerID) {
	for {
		if ctx.Err() != nil {
			return
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Str("module", "rtc").Str("peer", string(from)).Msg("track read ended")
			}
			return
		}
		if err := sink.WriteRTP(pkt); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("peer", string(from)).Msg("playback write failed")
			return
		}
	}
}

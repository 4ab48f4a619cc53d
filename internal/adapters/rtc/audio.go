package rtc

import (
	"context"
	"net"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

const rtpMTU = 1500

// UDPMicrophone takes RTP/opus from a local UDP port, e.g. from
// `gst-launch-1.0 autoaudiosrc ! opusenc ! rtpopuspay ! udpsink port=5004`.
// A port that cannot be bound counts as denied capture.
type UDPMicrophone struct {
	Addr string
}

func (m UDPMicrophone) Acquire(ctx context.Context) (core.AudioSource, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", m.Addr)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "rtc").Str("addr", conn.LocalAddr().String()).Msg("capture listening")
	return &udpSource{conn: conn, buf: make([]byte, rtpMTU)}, nil
}

type udpSource struct {
	conn net.PacketConn
	buf  []byte
}

func (s *udpSource) ReadRTP() (*rtp.Packet, error) {
	for {
		n, _, err := s.conn.ReadFrom(s.buf)
		if err != nil {
			return nil, err
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(append([]byte(nil), s.buf[:n]...)); err != nil {
			log.Debug().Err(err).Str("module", "rtc").Msg("not an RTP packet")
			continue
		}
		return pkt, nil
	}
}

func (s *udpSource) Close() error { return s.conn.Close() }

// UDPSpeaker forwards every received stream as RTP to Addr. An empty Addr discards audio.
type UDPSpeaker struct {
	Addr string
}

func (sp UDPSpeaker) Open(peer domain.PeerID) (core.PacketWriter, error) {
	if sp.Addr == "" {
		return discard{}, nil
	}
	conn, err := net.Dial("udp", sp.Addr)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "rtc").Str("peer", string(peer)).Str("addr", sp.Addr).Msg("playback forwarding")
	return &udpSink{conn: conn}, nil
}

type udpSink struct {
	conn net.Conn
}

func (s *udpSink) WriteRTP(p *rtp.Packet) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	_, err = s.conn.Write(data)
	return err
}

type discard struct{}

func (discard) WriteRTP(*rtp.Packet) error { return nil }

package talkback

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/patchroom/internal/adapters/memnet"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	packets chan *rtp.Packet
	once    sync.Once
	closed  chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{packets: make(chan *rtp.Packet, 16), closed: make(chan struct{})}
}

func (s *fakeSource) ReadRTP() (*rtp.Packet, error) {
	select {
	case p := <-s.packets:
		return p, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeMic struct {
	src *fakeSource
	err error
}

func (m *fakeMic) Acquire(context.Context) (core.AudioSource, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.src, nil
}

type sink struct {
	mu  sync.Mutex
	seq []uint16
}

func (s *sink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = append(s.seq, p.SequenceNumber)
	return nil
}

func (s *sink) got() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint16(nil), s.seq...)
}

type speaker struct {
	mu    sync.Mutex
	sinks map[domain.PeerID]*sink
}

func (sp *speaker) Open(peer domain.PeerID) (core.PacketWriter, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.sinks == nil {
		sp.sinks = map[domain.PeerID]*sink{}
	}
	s := &sink{}
	sp.sinks[peer] = s
	return s, nil
}

func (sp *speaker) sink(peer domain.PeerID) *sink {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.sinks[peer]
}

func endpoint(t *testing.T, n *memnet.Network, id domain.PeerID) *memnet.Endpoint {
	t.Helper()
	ep := n.Endpoint()
	_, err := ep.Open(context.Background(), id)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ep.Close() })
	return ep
}

func pkt(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq}, Payload: []byte{0xf8}}
}

func TestTalkbackReachesEveryPeer(t *testing.T) {
	n := memnet.New()
	host := endpoint(t, n, "host")
	src := newFakeSource()
	tb := New(host, &fakeMic{src: src}, &speaker{}, func() []domain.PeerID { return []domain.PeerID{"a", "b"} })

	spA, spB := &speaker{}, &speaker{}
	New(endpoint(t, n, "a"), &fakeMic{err: errors.New("unused")}, spA, nil)
	New(endpoint(t, n, "b"), &fakeMic{err: errors.New("unused")}, spB, nil)

	tb.Start(context.Background())
	require.True(t, tb.Active())
	require.Eventually(t, func() bool { return spA.sink("host") != nil && spB.sink("host") != nil }, time.Second, 5*time.Millisecond)

	var seq uint16
	assert.Eventually(t, func() bool {
		seq++
		select {
		case src.packets <- pkt(seq):
		default:
		}
		return len(spA.sink("host").got()) > 0 && len(spB.sink("host").got()) > 0
	}, time.Second, 5*time.Millisecond, "packets reach both answered calls")

	tb.Stop()
	tb.Stop()
	assert.False(t, tb.Active())
}

func TestDeniedCaptureLeavesChannelInactive(t *testing.T) {
	n := memnet.New()
	tb := New(endpoint(t, n, "host"), &fakeMic{err: errors.New("permission denied")}, &speaker{}, func() []domain.PeerID { return []domain.PeerID{"a"} })
	tb.Start(context.Background())
	assert.False(t, tb.Active())
	tb.Stop()
}

type recordingCall struct {
	sink
	closed bool
}

func (c *recordingCall) RemotePeer() domain.PeerID { return "a" }
func (c *recordingCall) Close() error              { c.closed = true; return nil }

func TestMutedCallsSendNothing(t *testing.T) {
	r := NewRelay(newFakeSource())
	logger := zerolog.Nop()
	rc := &recordingCall{}

	r.SetMuted(true)
	r.Add("a", NewOutCall(rc))
	r.forward(pkt(1), &logger)
	assert.Empty(t, rc.got())

	r.SetMuted(false)
	r.forward(pkt(2), &logger)
	assert.Equal(t, []uint16{2}, rc.got())
}

type failingCall struct{ closed bool }

func (f *failingCall) WriteRTP(*rtp.Packet) error { return errors.New("broken pipe") }
func (f *failingCall) RemotePeer() domain.PeerID  { return "x" }
func (f *failingCall) Close() error               { f.closed = true; return nil }

func TestRelayDropsFailingCall(t *testing.T) {
	r := NewRelay(newFakeSource())
	fc := &failingCall{}
	r.Add("x", NewOutCall(fc))
	logger := zerolog.Nop()
	r.forward(pkt(1), &logger)
	assert.False(t, r.Has("x"))
	assert.True(t, fc.closed)
}

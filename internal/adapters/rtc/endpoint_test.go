package rtc

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sig "github.com/dkeye/patchroom/internal/adapters/signal"
	"github.com/dkeye/patchroom/internal/app"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rendezvous(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctl := sig.NewSignalWSController(app.NewRegistry(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newEndpoint(t *testing.T, url string) *Endpoint {
	t.Helper()
	ep := NewEndpoint(url, webrtc.Configuration{}, 3)
	t.Cleanup(func() { _ = ep.Close() })
	return ep
}

func TestOpenRejectsTakenID(t *testing.T) {
	url := rendezvous(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := newEndpoint(t, url)
	id, err := a.Open(ctx, "patchroom-AB23-host")
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("patchroom-AB23-host"), id)

	b := newEndpoint(t, url)
	_, err = b.Open(ctx, "patchroom-AB23-host")
	assert.ErrorIs(t, err, core.ErrIDUnavailable)

	assigned, err := b.Open(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, assigned)
}

func TestConnectUnknownPeer(t *testing.T) {
	url := rendezvous(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ep := newEndpoint(t, url)
	_, err := ep.Open(ctx, "")
	require.NoError(t, err)
	_, err = ep.Connect(ctx, "nobody-here", nil)
	assert.ErrorIs(t, err, core.ErrPeerUnavailable)
}

func TestDialFailsWithoutServer(t *testing.T) {
	ep := NewEndpoint("ws://127.0.0.1:1/ws", webrtc.Configuration{}, 1)
	_, err := ep.Open(context.Background(), "")
	var te *core.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestCloseDoesNotWaitForDial(t *testing.T) {
	ep := NewEndpoint("ws://127.0.0.1:1/ws", webrtc.Configuration{}, 100)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialed := make(chan error, 1)
	go func() {
		_, err := ep.Open(ctx, "")
		dialed <- err
	}()
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	ep.OnCall(nil)
	assert.Empty(t, ep.localID())
	require.NoError(t, ep.Close())
	assert.Less(t, time.Since(start), time.Second)

	cancel()
	select {
	case err := <-dialed:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dial did not stop")
	}
}

// fakeHost registers id on the rendezvous socket, answers the first offer with a
// connection it closes at once, then keeps sending bye for that session.
func fakeHost(t *testing.T, url string, id domain.PeerID) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		_ = ws.Close()
	})

	write := func(env sig.Envelope) error {
		data, err := sig.Encode(env)
		if err != nil {
			return err
		}
		return ws.WriteMessage(websocket.TextMessage, data)
	}
	read := func() (sig.Envelope, error) {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return sig.Envelope{}, err
		}
		return sig.Decode(data)
	}

	require.NoError(t, write(sig.Envelope{Type: sig.TypeRegister, ID: id}))
	reg, err := read()
	require.NoError(t, err)
	require.Equal(t, sig.TypeRegistered, reg.Type)

	go func() {
		env, err := read()
		if err != nil {
			return
		}
		var offer negotiation
		if err := json.Unmarshal(env.Payload, &offer); err != nil {
			return
		}
		reply := func(n negotiation) error {
			payload, err := json.Marshal(n)
			if err != nil {
				return err
			}
			return write(sig.Envelope{Type: sig.TypeSignal, To: env.From, From: id, Session: env.Session, Payload: payload})
		}

		pc, err := NewPeerConn(webrtc.Configuration{}, env.Session, env.From)
		if err != nil {
			return
		}
		answer, err := pc.ApplyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP})
		pc.Close()
		if err != nil {
			return
		}
		if reply(negotiation{Kind: kindAnswer, SDP: answer.SDP}) != nil {
			return
		}
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if reply(negotiation{Kind: kindBye}) != nil {
					return
				}
			}
		}
	}()
}

func TestConnectFailsWhenPeerDropsAfterAnswer(t *testing.T) {
	url := rendezvous(t)
	fakeHost(t, url, "host")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	guest := newEndpoint(t, url)
	_, err := guest.Open(ctx, "")
	require.NoError(t, err)

	start := time.Now()
	ch, err := guest.Connect(ctx, "host", nil)
	assert.Nil(t, ch)
	var te *core.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, core.ErrClosed)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestDataChannelRoundTrip(t *testing.T) {
	url := rendezvous(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	host := newEndpoint(t, url)
	inbound := make(chan core.Channel, 1)
	host.OnConnection(func(ch core.Channel) { inbound <- ch })
	_, err := host.Open(ctx, "host")
	require.NoError(t, err)

	guest := newEndpoint(t, url)
	_, err = guest.Open(ctx, "")
	require.NoError(t, err)

	out, err := guest.Connect(ctx, "host", map[string]string{"name": "Ana"})
	require.NoError(t, err)
	require.NoError(t, out.Send(core.Frame(`{"type":"join","name":"Ana"}`)))

	var in core.Channel
	select {
	case in = <-inbound:
	case <-ctx.Done():
		t.Fatal("no inbound channel")
	}
	assert.Equal(t, "Ana", in.Metadata()["name"])

	got := make(chan core.Frame, 4)
	in.OnMessage(func(f core.Frame) { got <- f })
	select {
	case f := <-got:
		assert.JSONEq(t, `{"type":"join","name":"Ana"}`, string(f))
	case <-ctx.Done():
		t.Fatal("frame sent before OnMessage was lost")
	}

	closed := make(chan struct{})
	in.OnClose(func() { close(closed) })
	require.NoError(t, out.Close())
	select {
	case <-closed:
	case <-ctx.Done():
		t.Fatal("remote close not observed")
	}
	assert.False(t, in.IsOpen())
}

func TestMicrophoneBindFailureIsDenied(t *testing.T) {
	l, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	_, err = UDPMicrophone{Addr: l.LocalAddr().String()}.Acquire(context.Background())
	assert.Error(t, err)
}

func TestSpeakerForwardsRTP(t *testing.T) {
	l, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	w, err := UDPSpeaker{Addr: l.LocalAddr().String()}.Open("guest")
	require.NoError(t, err)
	require.NoError(t, w.WriteRTP(&rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 7}, Payload: []byte{1, 2}}))

	buf := make([]byte, rtpMTU)
	require.NoError(t, l.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := l.ReadFrom(buf)
	require.NoError(t, err)
	var p rtp.Packet
	require.NoError(t, p.Unmarshal(buf[:n]))
	assert.Equal(t, uint16(7), p.SequenceNumber)
	assert.Equal(t, []byte{1, 2}, p.Payload)

	silent, err := UDPSpeaker{}.Open("guest")
	require.NoError(t, err)
	assert.NoError(t, silent.WriteRTP(&p))
}

package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/patchroom/internal/adapters/memnet"
	"github.com/dkeye/patchroom/internal/app/rack"
	"github.com/dkeye/patchroom/internal/app/session"
	"github.com/dkeye/patchroom/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type participant struct {
	sess *session.Session
	rack *rack.Rack
	con  *console
	out  *bytes.Buffer
}

func newParticipant(t *testing.T, n *memnet.Network) *participant {
	t.Helper()
	r, err := rack.Stock()
	require.NoError(t, err)
	s := session.New(session.Options{}, n.Endpoint(), r, session.Hooks{})
	t.Cleanup(func() { _ = s.Close() })
	r.OnParamChange(func(inst, path string, v any) { _ = s.BroadcastParam(inst, path, v) })
	out := &bytes.Buffer{}
	return &participant{sess: s, rack: r, out: out, con: &console{sess: s, rack: r, out: out}}
}

func room(t *testing.T) (host, guest *participant) {
	t.Helper()
	n := memnet.New()
	host, guest = newParticipant(t, n), newParticipant(t, n)
	ctx := context.Background()
	code, err := host.sess.CreateAsHost(ctx, "Ana")
	require.NoError(t, err)
	_, err = guest.sess.JoinAsGuest(ctx, string(code), "Ben")
	require.NoError(t, err)
	return host, guest
}

func TestConsoleEditsReachHost(t *testing.T) {
	host, guest := room(t)
	ctx := context.Background()

	require.NoError(t, guest.con.exec(ctx, "set crave vcf.cutoff 800"))
	require.NoError(t, guest.con.exec(ctx, "set edge vco1.shape triangle"))
	require.NoError(t, guest.con.exec(ctx, "patch crave lfo edge vcf_cutoff"))
	require.NoError(t, guest.con.exec(ctx, "seq spice start"))
	guest.sess.Flush()

	assert.Eventually(t, func() bool {
		v, _ := host.rack.Param("crave", "vcf.cutoff")
		w, _ := host.rack.Param("edge", "vco1.shape")
		running, _ := host.rack.Param("spice", "seq.running")
		return v == 800.0 && w == "triangle" && running == true && len(host.rack.Patches()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, guest.con.exec(ctx, "unpatch crave lfo edge vcf_cutoff"))
	assert.Eventually(t, func() bool { return len(host.rack.Patches()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestConsoleRejectsBadInput(t *testing.T) {
	host, _ := room(t)
	ctx := context.Background()

	assert.Error(t, host.con.exec(ctx, "set crave"))
	assert.Error(t, host.con.exec(ctx, "note crave high"))
	assert.Error(t, host.con.exec(ctx, "seq crave pause"))
	assert.Error(t, host.con.exec(ctx, "patch crave nope edge vcf_cutoff"))
	assert.Error(t, host.con.exec(ctx, "unpatch crave lfo edge vcf_cutoff"))
	assert.Error(t, host.con.exec(ctx, "talk on"))
	assert.Error(t, host.con.exec(ctx, "dance"))
	assert.NoError(t, host.con.exec(ctx, "   "))
	assert.ErrorIs(t, host.con.exec(ctx, "quit"), errQuit)
}

func TestConsoleStatusAndState(t *testing.T) {
	host, _ := room(t)
	ctx := context.Background()

	assert.Eventually(t, func() bool { return host.sess.Status().PeerCount == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, host.con.exec(ctx, "status"))
	out := host.out.String()
	assert.Contains(t, out, "as host, 1 connection(s)")
	assert.Contains(t, out, "Ana")
	assert.Contains(t, out, "Ben")

	host.out.Reset()
	require.NoError(t, host.con.exec(ctx, "state"))
	assert.Contains(t, host.out.String(), `"crossPatches"`)
}

func TestLocalEditsWithoutRoom(t *testing.T) {
	p := newParticipant(t, memnet.New())
	ctx := context.Background()
	require.NoError(t, p.con.exec(ctx, "note crave 60"))
	require.NoError(t, p.con.exec(ctx, "tab edge"))
	n, ok := p.rack.Note("crave")
	assert.True(t, ok)
	assert.Equal(t, 60, n)

	require.NoError(t, p.con.exec(ctx, "status"))
	assert.Contains(t, p.out.String(), "not connected")
}

func TestServeStopsOnQuitAndEOF(t *testing.T) {
	p := newParticipant(t, memnet.New())
	err := serve(context.Background(), p.con, strings.NewReader("help\nquit\n"), make(chan struct{}))
	assert.ErrorIs(t, err, errQuit)
	assert.Contains(t, p.out.String(), "commands:")

	err = serve(context.Background(), p.con, strings.NewReader(""), make(chan struct{}))
	assert.ErrorIs(t, err, errQuit)
}

func TestServeStopsWhenHostLeaves(t *testing.T) {
	p := newParticipant(t, memnet.New())
	left := make(chan struct{}, 1)
	left <- struct{}{}
	r, w := io.Pipe()
	defer w.Close()
	err := serve(context.Background(), p.con, r, left)
	assert.True(t, errors.Is(err, errHostLeft))
}

func TestHostLeavingSignalsGuest(t *testing.T) {
	n := memnet.New()
	hr, err := rack.Stock()
	require.NoError(t, err)
	host := session.New(session.Options{}, n.Endpoint(), hr, session.Hooks{})
	code, err := host.CreateAsHost(context.Background(), "Ana")
	require.NoError(t, err)

	gr, err := rack.Stock()
	require.NoError(t, err)
	w := newWiring(context.Background(), &bytes.Buffer{})
	guest := session.New(session.Options{}, n.Endpoint(), gr, w.hooks())
	w.sess = guest
	t.Cleanup(func() { _ = guest.Close() })
	_, err = guest.JoinAsGuest(context.Background(), string(code), "Ben")
	require.NoError(t, err)

	require.NoError(t, host.Close())
	select {
	case <-w.left:
	case <-time.After(2 * time.Second):
		t.Fatal("guest did not notice the host leaving")
	}
}

func TestSessionOptionsFromConfig(t *testing.T) {
	cfg := config.PeerConfig{SyncMode: "full", Backpressure: "kick", Sections: 3, RoomPrefix: "jam-"}
	opts, err := sessionOptions(cfg)
	require.NoError(t, err)
	assert.Equal(t, session.ModeFull, opts.Mode)
	assert.Equal(t, 3, opts.Sections)
	assert.Equal(t, "jam-", opts.Prefix)

	_, err = sessionOptions(config.PeerConfig{SyncMode: "stream"})
	assert.Error(t, err)
	_, err = sessionOptions(config.PeerConfig{Backpressure: "block"})
	assert.Error(t, err)
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dkeye/patchroom/internal/adapters/rtc"
	"github.com/dkeye/patchroom/internal/app"
	"github.com/dkeye/patchroom/internal/app/rack"
	"github.com/dkeye/patchroom/internal/app/session"
	"github.com/dkeye/patchroom/internal/app/talkback"
	"github.com/dkeye/patchroom/internal/config"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const discoverWait = 3 * time.Second

var errHostLeft = errors.New("host left the room")

func sessionOptions(cfg config.PeerConfig) (session.Options, error) {
	mode, err := session.ParseMode(cfg.SyncMode)
	if err != nil {
		return session.Options{}, err
	}
	policy, err := app.ParsePolicy(cfg.Backpressure)
	if err != nil {
		return session.Options{}, err
	}
	return session.Options{
		Prefix:        cfg.RoomPrefix,
		MaxGuests:     cfg.MaxGuests,
		JoinTimeout:   cfg.JoinTimeout,
		RejectGrace:   cfg.RejectGrace,
		FlushInterval: cfg.FlushInterval,
		Mode:          mode,
		Sections:      cfg.Sections,
		Policy:        policy,
		CreateRetries: cfg.CreateRetries,
	}, nil
}

// run hosts a room when code is empty and joins it otherwise, then serves the console
// until quit, interrupt, or the host going away.
func run(ctx context.Context, cfg *config.Config, code string) error {
	opts, err := sessionOptions(cfg.Peer)
	if err != nil {
		return err
	}
	url := cfg.Peer.SignalURL
	if url == "" {
		if url, err = rtc.Discover(ctx, cfg.Discovery.Service, discoverWait); err != nil {
			return fmt.Errorf("no signal URL configured and discovery failed: %w", err)
		}
	}
	r, err := rack.Stock()
	if err != nil {
		return err
	}
	ep := rtc.NewEndpoint(url, rtc.DefaultWebRTCConfig(cfg.Peer.ICEServers), 5)

	w := newWiring(ctx, os.Stdout)
	sess := session.New(opts, ep, r, w.hooks())
	defer sess.Close()
	w.sess = sess
	w.talk = talkback.New(ep,
		rtc.UDPMicrophone{Addr: cfg.Peer.Talkback.MicAddr},
		rtc.UDPSpeaker{Addr: cfg.Peer.Talkback.PlayerAddr},
		sess.Peers,
	)
	defer w.talk.Stop()
	r.OnParamChange(func(inst, path string, v any) {
		if err := sess.BroadcastParam(inst, path, v); err != nil && !errors.Is(err, core.ErrNotConnected) {
			log.Warn().Err(err).Str("module", "peer").Msg("edit not broadcast")
		}
	})

	if code == "" {
		c, err := sess.CreateAsHost(ctx, cfg.Peer.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "room %s is open, share the code with your guests\n", c)
	} else {
		c, err := sess.JoinAsGuest(ctx, code, cfg.Peer.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "joined room %s\n", c)
	}

	con := &console{sess: sess, rack: r, talk: w.talk, out: os.Stdout}
	err = serve(ctx, con, os.Stdin, w.left)
	if errors.Is(err, errQuit) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serve runs the console loop next to a watcher for the host leaving.
func serve(ctx context.Context, con *console, in io.Reader, left <-chan struct{}) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := con.exec(gctx, line); err != nil {
					if errors.Is(err, errQuit) {
						return err
					}
					fmt.Fprintln(con.out, err)
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	g.Go(func() error {
		select {
		case <-left:
			return errHostLeft
		case <-gctx.Done():
			return nil
		}
	})
	return g.Wait()
}

// wiring connects session hooks to the terminal and the talkback channel.
type wiring struct {
	ctx  context.Context
	out  io.Writer
	sess *session.Session
	talk *talkback.Channel
	left chan struct{}

	wasConnected bool
}

func newWiring(ctx context.Context, out io.Writer) *wiring {
	return &wiring{ctx: ctx, out: out, left: make(chan struct{}, 1)}
}

func (w *wiring) hooks() session.Hooks {
	return session.Hooks{
		OnStatusChange: w.onStatus,
		OnPeerJoined: func(m domain.Member) {
			fmt.Fprintf(w.out, "%s joined\n", m.Name)
		},
		OnPeerLeft: func(m domain.Member) {
			fmt.Fprintf(w.out, "%s left\n", m.Name)
			if w.talk != nil {
				w.talk.RemovePeer(m.Peer)
			}
		},
		OnPeerTabChange: func(peer domain.PeerID, tab string) {
			if tab != "" {
				log.Debug().Str("module", "peer").Str("peer", string(peer)).Str("tab", tab).Msg("tab change")
			}
		},
		OnError: func(err error) {
			fmt.Fprintf(w.out, "room error: %v\n", err)
		},
	}
}

// onStatus runs on the session loop; calls are placed off it.
func (w *wiring) onStatus(st session.Status) {
	if st.Connected {
		w.wasConnected = true
		if w.talk != nil {
			peers := w.sess.Peers()
			go func() {
				for _, p := range peers {
					w.talk.AddPeer(w.ctx, p)
				}
			}()
		}
		return
	}
	if w.wasConnected && !st.IsHost {
		select {
		case w.left <- struct{}{}:
		default:
		}
	}
}

package rtc

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	sig "github.com/dkeye/patchroom/internal/adapters/signal"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	pingEvery = 20 * time.Second
	writeWait = 5 * time.Second
)

// signaler is the client side of the rendezvous socket. Replies to register have no
// session and go to reg; everything else is routed by session id.
type signaler struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	waiters  map[string]chan sig.Envelope
	reg      chan sig.Envelope
	onSignal func(sig.Envelope)
	onGone   func()

	done chan struct{}
}

// dialSignaler connects to url, retrying with exponential backoff until ctx ends.
func dialSignaler(ctx context.Context, url string, retries uint64, onSignal func(sig.Envelope)) (*signaler, error) {
	var conn *websocket.Conn
	op := func() error {
		c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("url", url).Msg("signaling dial failed")
			return err
		}
		conn = c
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)); err != nil {
		return nil, &core.TransportError{Op: "dial", Err: err}
	}
	s := &signaler{
		conn:     conn,
		waiters:  make(map[string]chan sig.Envelope),
		reg:      make(chan sig.Envelope, 1),
		onSignal: onSignal,
		done:     make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

func (s *signaler) send(env sig.Envelope) error {
	data, err := sig.Encode(env)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &core.TransportError{Op: "signal", Err: err}
	}
	return nil
}

// register claims id and returns the id the server confirmed.
func (s *signaler) register(ctx context.Context, env sig.Envelope) (sig.Envelope, error) {
	select {
	case <-s.reg:
	default:
	}
	if err := s.send(env); err != nil {
		return sig.Envelope{}, err
	}
	select {
	case reply := <-s.reg:
		return reply, nil
	case <-s.done:
		return sig.Envelope{}, core.ErrClosed
	case <-ctx.Done():
		return sig.Envelope{}, ctx.Err()
	}
}

func (s *signaler) wait(sid string) chan sig.Envelope {
	ch := make(chan sig.Envelope, 4)
	s.mu.Lock()
	s.waiters[sid] = ch
	s.mu.Unlock()
	return ch
}

func (s *signaler) forget(sid string) {
	s.mu.Lock()
	delete(s.waiters, sid)
	s.mu.Unlock()
}

func (s *signaler) readLoop() {
	defer func() {
		close(s.done)
		s.mu.Lock()
		gone := s.onGone
		s.mu.Unlock()
		if gone != nil {
			gone()
		}
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				log.Debug().Err(err).Str("module", "rtc").Msg("signaling socket closed")
			}
			return
		}
		env, err := sig.Decode(data)
		if err != nil {
			log.Debug().Err(err).Str("module", "rtc").Msg("bad signaling frame")
			continue
		}
		s.dispatch(env)
	}
}

func (s *signaler) dispatch(env sig.Envelope) {
	switch env.Type {
	case sig.TypePong:
		return
	case sig.TypeRegistered:
		s.deliverReg(env)
		return
	}
	if env.Session == "" {
		if env.Type == sig.TypeError {
			s.deliverReg(env)
		}
		return
	}
	s.mu.Lock()
	ch, ok := s.waiters[env.Session]
	handler := s.onSignal
	s.mu.Unlock()
	if ok {
		select {
		case ch <- env:
		default:
			log.Debug().Str("module", "rtc").Str("sid", env.Session).Msg("waiter full, dropping")
		}
		return
	}
	if env.Type == sig.TypeSignal && handler != nil {
		handler(env)
	}
}

func (s *signaler) deliverReg(env sig.Envelope) {
	select {
	case s.reg <- env:
	default:
	}
}

func (s *signaler) pingLoop() {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.send(sig.Envelope{Type: sig.TypePing}); err != nil {
				log.Debug().Err(err).Str("module", "rtc").Msg("ping failed")
			}
		}
	}
}

func (s *signaler) close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// Package signal is the rendezvous service: peers register an id over a websocket and
// exchange offers and answers with other registered ids.
package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

const (
	sendQueueSize = 32
	writeWait     = 5 * time.Second
)

type SignalWSController struct {
	Dir     core.Directory
	Limiter *RegisterRateLimiter
	Metrics *Metrics

	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(dir core.Directory, limiter *RegisterRateLimiter, metrics *Metrics) *SignalWSController {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &SignalWSController{
		Dir:        dir,
		Limiter:    limiter,
		Metrics:    metrics,
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
	}
}

// WsSignalConn is one client socket. ids is touched only by its read pump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame
	ids  []domain.PeerID

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) owns(id domain.PeerID) bool {
	for _, x := range c.ids {
		if x == id {
			return true
		}
	}
	return false
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("token", token).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, sendQueueSize),
	}
	ctl.Metrics.connections.Inc()

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go func() {
		defer cancel()
		ctl.readPump(ctx, token, conn)
	}()
}

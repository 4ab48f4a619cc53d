package signal

import (
	"context"
	"errors"

	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	codeBadPayload    = core.CodeBadPayload
	codeNotRegistered = "not-registered"
)

func (ctl *SignalWSController) handleRegister(ctx context.Context, token string, c *WsSignalConn, env Envelope) {
	if !ctl.Limiter.Allow(token) {
		ctl.Metrics.registrations.WithLabelValues("rate_limited").Inc()
		ctl.sendError(c, Envelope{Code: core.CodeRateLimited, Message: "too many registrations", Peer: env.ID})
		return
	}
	id := env.ID
	if id == "" {
		id = domain.PeerID(uuid.NewString())
	}
	if err := ctl.Dir.Claim(ctx, id, c); err != nil {
		if errors.Is(err, core.ErrIDUnavailable) {
			ctl.Metrics.registrations.WithLabelValues("taken").Inc()
			ctl.sendError(c, Envelope{Code: core.CodeUnavailableID, Message: "id is taken", Peer: id})
			return
		}
		log.Error().Err(err).Str("module", "signal").Str("id", string(id)).Msg("claim failed")
		ctl.Metrics.registrations.WithLabelValues("error").Inc()
		ctl.sendError(c, Envelope{Code: codeBadPayload, Message: "directory unavailable", Peer: id})
		return
	}
	if !c.owns(id) {
		c.ids = append(c.ids, id)
	}
	ctl.Metrics.registrations.WithLabelValues("ok").Inc()
	log.Info().Str("module", "signal").Str("id", string(id)).Msg("registered")
	ctl.sendJSON(c, Envelope{Type: TypeRegistered, ID: id})
}

// handleForward relays an offer, answer or hangup to the holder of env.To.
func (ctl *SignalWSController) handleForward(ctx context.Context, c *WsSignalConn, env Envelope) {
	from := env.From
	if from == "" && len(c.ids) > 0 {
		from = c.ids[len(c.ids)-1]
	}
	if from == "" || !c.owns(from) {
		ctl.sendError(c, Envelope{Code: codeNotRegistered, Message: "register before signaling", Session: env.Session})
		return
	}
	if env.To == "" {
		ctl.sendError(c, Envelope{Code: codeBadPayload, Message: "missing recipient", Session: env.Session})
		return
	}
	out, err := Encode(Envelope{Type: TypeSignal, From: from, Session: env.Session, Payload: env.Payload})
	if err != nil {
		ctl.sendError(c, Envelope{Code: codeBadPayload, Message: "bad payload", Session: env.Session})
		return
	}
	err = ctl.Dir.Deliver(ctx, env.To, out)
	switch {
	case err == nil:
		ctl.Metrics.forwarded.WithLabelValues("ok").Inc()
	case errors.Is(err, core.ErrPeerUnavailable):
		ctl.Metrics.forwarded.WithLabelValues("unavailable").Inc()
		ctl.sendError(c, Envelope{Code: core.CodePeerUnavailable, Message: "peer unavailable", Peer: env.To, Session: env.Session})
	default:
		ctl.Metrics.forwarded.WithLabelValues("dropped").Inc()
		log.Warn().Err(err).Str("module", "signal").Str("to", string(env.To)).Msg("forward failed")
	}
}

func (ctl *SignalWSController) handlePing(ctx context.Context, c *WsSignalConn) {
	for _, id := range c.ids {
		if err := ctl.Dir.Refresh(ctx, id); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("id", string(id)).Msg("refresh failed")
		}
	}
	ctl.sendJSON(c, Envelope{Type: TypePong})
}

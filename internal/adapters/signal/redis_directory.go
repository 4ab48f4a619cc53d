package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/patchroom/internal/app"
	"github.com/dkeye/patchroom/internal/core"
	"github.com/dkeye/patchroom/internal/domain"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes a claim only if this node still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type forwardMsg struct {
	To    domain.PeerID   `json:"to"`
	Frame json.RawMessage `json:"frame"`
}

// RedisDirectory shares rendezvous claims between server nodes. Each claim is a key
// holding the owning node id; frames for a peer on another node go through that
// node's pub/sub channel.
type RedisDirectory struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	node   string
	local  *app.Registry

	sub    *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisDirectory(ctx context.Context, rdb redis.UniversalClient, prefix string, ttl time.Duration) (*RedisDirectory, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	d := &RedisDirectory{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		node:   uuid.NewString(),
		local:  app.NewRegistry(),
		done:   make(chan struct{}),
	}
	subCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.sub = rdb.Subscribe(subCtx, d.nodeChannel(d.node))
	if _, err := d.sub.Receive(ctx); err != nil {
		cancel()
		_ = d.sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	go d.consume(subCtx)
	log.Info().Str("module", "signal.redis").Str("node", d.node).Msg("directory ready")
	return d, nil
}

func (d *RedisDirectory) claimKey(id domain.PeerID) string { return d.prefix + "peer:" + string(id) }
func (d *RedisDirectory) nodeChannel(node string) string   { return d.prefix + "node:" + node }

func (d *RedisDirectory) consume(ctx context.Context) {
	defer close(d.done)
	ch := d.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var fm forwardMsg
			if err := json.Unmarshal([]byte(msg.Payload), &fm); err != nil {
				log.Warn().Err(err).Str("module", "signal.redis").Msg("bad forward message")
				continue
			}
			if err := d.local.Deliver(ctx, fm.To, core.Frame(fm.Frame)); err != nil {
				log.Debug().Err(err).Str("module", "signal.redis").Str("to", string(fm.To)).Msg("forward not delivered")
			}
		}
	}
}

func (d *RedisDirectory) Claim(ctx context.Context, id domain.PeerID, conn core.Deliverer) error {
	if cur, ok := d.local.Lookup(id); ok && cur == conn {
		return nil
	}
	ok, err := d.rdb.SetNX(ctx, d.claimKey(id), d.node, d.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim %s: %w", id, err)
	}
	if !ok {
		return core.ErrIDUnavailable
	}
	if err := d.local.Claim(ctx, id, conn); err != nil {
		_ = releaseScript.Run(ctx, d.rdb, []string{d.claimKey(id)}, d.node).Err()
		return err
	}
	return nil
}

func (d *RedisDirectory) Release(ctx context.Context, id domain.PeerID, conn core.Deliverer) {
	if cur, ok := d.local.Lookup(id); !ok || cur != conn {
		return
	}
	d.local.Release(ctx, id, conn)
	if err := releaseScript.Run(ctx, d.rdb, []string{d.claimKey(id)}, d.node).Err(); err != nil && !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("module", "signal.redis").Str("id", string(id)).Msg("release failed")
	}
}

func (d *RedisDirectory) Refresh(ctx context.Context, id domain.PeerID) error {
	ok, err := d.rdb.Expire(ctx, d.claimKey(id), d.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrPeerUnavailable
	}
	return nil
}

func (d *RedisDirectory) Deliver(ctx context.Context, to domain.PeerID, f core.Frame) error {
	if _, ok := d.local.Lookup(to); ok {
		return d.local.Deliver(ctx, to, f)
	}
	owner, err := d.rdb.Get(ctx, d.claimKey(to)).Result()
	if errors.Is(err, redis.Nil) {
		return core.ErrPeerUnavailable
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", to, err)
	}
	payload, err := json.Marshal(forwardMsg{To: to, Frame: json.RawMessage(f)})
	if err != nil {
		return err
	}
	receivers, err := d.rdb.Publish(ctx, d.nodeChannel(owner), payload).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", owner, err)
	}
	if receivers == 0 {
		return core.ErrPeerUnavailable
	}
	return nil
}

func (d *RedisDirectory) Has(ctx context.Context, id domain.PeerID) (bool, error) {
	if _, ok := d.local.Lookup(id); ok {
		return true, nil
	}
	n, err := d.rdb.Exists(ctx, d.claimKey(id)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *RedisDirectory) Close() error {
	d.cancel()
	err := d.sub.Close()
	<-d.done
	return err
}

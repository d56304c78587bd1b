// Package coordinator implements the Shard Coordinator (spec §4.3): the
// singleton actor that dispatches new connections to the least-loaded
// worker shard and fans source requests out across every shard, aggregating
// per-shard results. Sources always terminate on the coordinator; it owns
// the one authoritative Channel Engine mutation for every fan-out operation
// and leaves pure local delivery to each shard.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Wundero/sinkr/internal/channelengine"
	"github.com/Wundero/sinkr/internal/domain"
	"github.com/Wundero/sinkr/internal/protocol"
	"github.com/Wundero/sinkr/internal/replication"
	"github.com/Wundero/sinkr/internal/shard"
	"github.com/Wundero/sinkr/internal/store"
)

// Coordinator is a lock-protected struct realizing the single-threaded
// actor of §9 ("Coordinator as actor") on Go's multi-threaded runtime: its
// mutable state (the shard table) is serialized by mu, never by a mailbox.
type Coordinator struct {
	mu     sync.Mutex
	shards map[string]*shard.Shard

	store       store.Store
	engine      *channelengine.Engine
	log         *slog.Logger
	maxPerShard int
	relay       *replication.Relay

	runCtx context.Context
	seq    int
}

// SetRelay attaches a cross-replica relay. Once set, every fan-out
// operation this coordinator performs locally is also published so peers
// connected to other replicas' shards receive it, and ApplyRemote should be
// wired to the relay's Subscribe callback to accept deliveries the other
// direction.
func (c *Coordinator) SetRelay(r *replication.Relay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relay = r
}

// ApplyRemote delivers an envelope published by another replica to every
// shard of this process. It never re-runs the engine mutation (the
// publishing replica already did) and never re-publishes (no relay echo).
func (c *Coordinator) ApplyRemote(ctx context.Context, env replication.Envelope) {
	shards := c.shardsSnapshot()
	var g errgroup.Group
	switch env.Kind {
	case replication.KindSubscribe:
		for _, sh := range shards {
			sh := sh
			g.Go(func() error { return sh.DeliverSubscribeResult(ctx, env.PeerID, env.SubscribeResult) })
		}
	case replication.KindUnsubscribe:
		for _, sh := range shards {
			sh := sh
			g.Go(func() error { return sh.DeliverUnsubscribeResult(ctx, env.PeerID, env.UnsubscribeResult) })
		}
	case replication.KindChannelMessage:
		for _, sh := range shards {
			sh := sh
			g.Go(func() error {
				return sh.DeliverChannelMessage(ctx, env.ID, env.Event, env.ChannelID, env.Payload, env.ChannelSendResult)
			})
		}
	case replication.KindBroadcast:
		for _, sh := range shards {
			sh := sh
			g.Go(func() error { return sh.DeliverBroadcast(ctx, env.ID, env.AppID, env.Event, env.Payload) })
		}
	case replication.KindDirect:
		for _, sh := range shards {
			sh := sh
			g.Go(func() error {
				_, err := sh.DeliverDirect(ctx, env.ID, env.RecipientID, env.Event, env.Payload)
				return err
			})
		}
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("applying remote relay envelope had errors", "kind", env.Kind, "error", err)
	}
}

// New builds a Coordinator with no shards; shards are allocated lazily by
// SelectShardForUpgrade as load demands them.
func New(s store.Store, log *slog.Logger, maxConnectionsPerShard int) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		shards:      make(map[string]*shard.Shard),
		store:       s,
		engine:      channelengine.New(s),
		log:         log.With("component", "coordinator"),
		maxPerShard: maxConnectionsPerShard,
	}
}

// Start records the context shards are run under; it must be called once
// before the first SelectShardForUpgrade, typically from cmd/server/main.go
// right after the coordinator is constructed.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runCtx = ctx
}

// newShardLocked allocates a fresh shard id, starts its command loop, and
// registers it in the shard table. Caller must hold c.mu.
func (c *Coordinator) newShardLocked() *shard.Shard {
	c.seq++
	id := fmt.Sprintf("shard-%d-%s", c.seq, uuid.NewString()[:8])
	sh := shard.New(id, c.store, c.log)
	c.shards[id] = sh
	go sh.Run(c.runCtx)
	c.log.Info("allocated new shard", "shard_id", id)
	return sh
}

// SelectShardForUpgrade implements §4.3(a): pick the shard with the lowest
// connectionCount at or under the soft cap, or allocate a new one if none
// qualifies.
func (c *Coordinator) SelectShardForUpgrade(ctx context.Context) (*shard.Shard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *shard.Shard
	bestCount := -1
	for _, sh := range c.shards {
		n := sh.Count()
		if n > c.maxPerShard {
			continue
		}
		if best == nil || n < bestCount {
			best = sh
			bestCount = n
		}
	}
	if best != nil {
		return best, nil
	}
	return c.newShardLocked(), nil
}

// shardsSnapshot returns the current shard set without holding c.mu across
// any fan-out network activity.
func (c *Coordinator) shardsSnapshot() []*shard.Shard {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*shard.Shard, 0, len(c.shards))
	for _, sh := range c.shards {
		out = append(out, sh)
	}
	return out
}

// Authenticate implements user.authenticate. No fan-out: the peer row lives
// in the shared Store and no frame is emitted on authentication.
func (c *Coordinator) Authenticate(ctx context.Context, appID, peerID, userID string, userInfo []byte) error {
	return c.engine.Authenticate(ctx, appID, peerID, userID, userInfo)
}

// CreateChannel implements channel.create and returns the upserted
// channel's id for the response envelope.
func (c *Coordinator) CreateChannel(ctx context.Context, appID, name string, auth domain.ChannelAuth, storeMessages bool) (string, error) {
	ch, err := c.engine.CreateChannel(ctx, appID, name, auth, storeMessages)
	if err != nil {
		return "", err
	}
	return ch.ID, nil
}

// DeleteChannel implements channel.delete.
func (c *Coordinator) DeleteChannel(ctx context.Context, appID, channelID string) error {
	return c.engine.DeleteChannel(ctx, appID, channelID)
}

// DeleteMessages implements channel.messages.delete.
func (c *Coordinator) DeleteMessages(ctx context.Context, appID, channelID string, messageIDs []string) error {
	return c.engine.DeleteMessages(ctx, appID, channelID, messageIDs)
}

// Subscribe implements channel.subscribers.add: the mutation runs once
// here, then every shard applies the resulting notifications locally
// (§4.3b — conjunction of shard successes for the notification fan-out).
func (c *Coordinator) Subscribe(ctx context.Context, appID, peerID, channelID string) (*channelengine.SubscribeResult, error) {
	result, err := c.engine.Subscribe(ctx, appID, peerID, channelID)
	if err != nil {
		return nil, err
	}
	shards := c.shardsSnapshot()
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			return sh.DeliverSubscribeResult(gctx, peerID, result)
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("subscribe delivery fan-out had errors", "error", err)
		return nil, err
	}
	c.publishRemote(func(r *replication.Relay) error { return r.PublishSubscribe(appID, peerID, result) })
	return result, nil
}

// Unsubscribe implements channel.subscribers.remove.
func (c *Coordinator) Unsubscribe(ctx context.Context, appID, peerID, channelID string) (*channelengine.UnsubscribeResult, error) {
	result, err := c.engine.Unsubscribe(ctx, appID, peerID, channelID)
	if err != nil {
		return nil, err
	}
	shards := c.shardsSnapshot()
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			return sh.DeliverUnsubscribeResult(gctx, peerID, result)
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("unsubscribe delivery fan-out had errors", "error", err)
	}
	c.publishRemote(func(r *replication.Relay) error { return r.PublishUnsubscribe(appID, peerID, result) })
	return result, nil
}

// SendChannelMessage implements channel.messages.send: persist once (under
// the envelope's own id, per §8 invariant 4), then fan the delivery out to
// every shard holding a subscriber.
func (c *Coordinator) SendChannelMessage(ctx context.Context, id, appID, channelID, event string, payload protocol.MessagePayload) error {
	result, err := c.engine.SendChannelMessage(ctx, appID, channelID, id, []byte(payload.Message))
	if err != nil {
		return err
	}
	shards := c.shardsSnapshot()
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			return sh.DeliverChannelMessage(gctx, id, event, channelID, payload, result)
		})
	}
	if err := g.Wait(); err != nil {
		c.log.Warn("channel message fan-out had errors", "error", err)
		return err
	}
	c.publishRemote(func(r *replication.Relay) error {
		return r.PublishChannelMessage(appID, id, event, channelID, payload, result)
	})
	return nil
}

// Broadcast implements global.messages.send: deliver to every peer of the
// app across every shard (§4.3b conjunction).
func (c *Coordinator) Broadcast(ctx context.Context, id, appID, event string, payload protocol.MessagePayload) error {
	shards := c.shardsSnapshot()
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			return sh.DeliverBroadcast(gctx, id, appID, event, payload)
		})
	}
	err := g.Wait()
	if err == nil {
		c.publishRemote(func(r *replication.Relay) error { return r.PublishBroadcast(appID, id, event, payload) })
	}
	return err
}

// Direct implements user.messages.send. recipientID is resolved against
// peer.id first, then authenticatedUserId (§4.4) via the shared Store,
// since the Peer Registry only indexes by literal peer id and the target
// may be connected on any shard. Delivery succeeds if any shard holds the
// resolved peer (§4.3b disjunction, §9 open question decision).
func (c *Coordinator) Direct(ctx context.Context, id, appID, recipientID, event string, payload protocol.MessagePayload) (bool, error) {
	resolved, err := c.store.ResolvePeer(ctx, appID, recipientID)
	if err != nil {
		if store.IsNotFound(err) {
			return false, protocol.NewRouteError(protocol.ErrRecipientNotFound)
		}
		return false, fmt.Errorf("coordinator: resolve peer: %w", err)
	}

	shards := c.shardsSnapshot()
	var mu sync.Mutex
	delivered := false
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		sh := sh
		g.Go(func() error {
			ok, err := sh.DeliverDirect(gctx, id, resolved.ID, event, payload)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				delivered = true
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return delivered, err
	}
	// Best-effort: also relay to other replicas in case the resolved peer
	// is connected there instead. Success reported to the source reflects
	// only this process's shards (§4.3b's disjunction is scoped to the
	// shards one coordinator instance knows about).
	c.publishRemote(func(r *replication.Relay) error { return r.PublishDirect(appID, id, resolved.ID, event, payload) })
	if !delivered {
		return false, protocol.NewRouteError(protocol.ErrRecipientNotFound)
	}
	return true, nil
}

// publishRemote fires fn against the attached relay, if any, logging but
// never failing the caller's response on a relay error (cross-replica
// delivery is best-effort).
func (c *Coordinator) publishRemote(fn func(*replication.Relay) error) {
	c.mu.Lock()
	r := c.relay
	c.mu.Unlock()
	if r == nil {
		return
	}
	if err := fn(r); err != nil {
		c.log.Warn("relay publish failed", "error", err)
	}
}

// ShardCount reports how many shards are currently allocated.
func (c *Coordinator) ShardCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.shards)
}

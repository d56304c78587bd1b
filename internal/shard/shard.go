// Package shard implements one worker shard: the composition of a local
// Peer Registry (§4.1) and the Channel Engine (§4.2) behind a single
// command loop, so every registry-mutating operation on this shard is
// serialized per spec §5's scheduling model.
package shard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Wundero/sinkr/internal/channelengine"
	"github.com/Wundero/sinkr/internal/protocol"
	"github.com/Wundero/sinkr/internal/registry"
	"github.com/Wundero/sinkr/internal/store"
)

const taskQueueDepth = 1024

// Shard is one worker: a registry of locally-connected peers, a channel
// engine for store-mediated mutations, and a serialized command loop.
type Shard struct {
	ID       string
	registry *registry.Registry
	engine   *channelengine.Engine
	store    store.Store
	log      *slog.Logger

	tasks chan *task
	done  chan struct{}
}

func New(id string, s store.Store, log *slog.Logger) *Shard {
	if log == nil {
		log = slog.Default()
	}
	return &Shard{
		ID:       id,
		registry: registry.New(),
		engine:   channelengine.New(s),
		store:    s,
		log:      log.With("shard", id),
		tasks:    make(chan *task, taskQueueDepth),
		done:     make(chan struct{}),
	}
}

// Run is the shard's command loop. It must be started exactly once, in its
// own goroutine, and runs until ctx is canceled.
func (s *Shard) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.tasks:
			val, err := t.fn(ctx)
			t.done <- taskResult{val: val, err: err}
		}
	}
}

// submit enqueues fn and blocks until it has run on the command loop or ctx
// is canceled. It is the only way callers touch shard-local state.
func (s *Shard) submit(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	t := &task{fn: fn, done: make(chan taskResult, 1)}
	select {
	case s.tasks <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("shard: %s is shut down", s.ID)
	}
	select {
	case r := <-t.done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Count returns the number of peers registered on this shard. Safe to call
// from any goroutine — Registry.Count locks independently of the command
// loop, since it never mutates state.
func (s *Shard) Count() int {
	return s.registry.Count()
}

// RegisterPeer records a newly-opened connection on this shard and reports
// updated load to the Store (§4.3c).
func (s *Shard) RegisterPeer(ctx context.Context, appID, peerID string, handle registry.Handle) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		s.registry.Register(appID, peerID, handle)
		return nil, s.store.ReportShardLoad(ctx, s.ID, s.registry.Count())
	})
	return err
}

// UnregisterPeer removes a connection on socket close, reaps its
// subscriptions, and delivers member-leave notifications to whichever of
// its co-subscribers are registered on this shard.
func (s *Shard) UnregisterPeer(ctx context.Context, appID, peerID string) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		s.registry.Unregister(peerID)
		result, err := s.engine.ReapPeer(ctx, appID, peerID)
		if err != nil {
			return nil, err
		}
		channelengine.DeliverReap(s.registry, result)
		return nil, s.store.ReportShardLoad(ctx, s.ID, s.registry.Count())
	})
	return err
}

// Subscribe runs the engine's Subscribe and, if it was a genuine (not
// duplicate) join, delivers join-channel/member-join notifications to
// whichever of the affected peers are registered on this shard.
func (s *Shard) Subscribe(ctx context.Context, appID, peerID, channelID string) (*channelengine.SubscribeResult, error) {
	val, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		result, err := s.engine.Subscribe(ctx, appID, peerID, channelID)
		if err != nil {
			return nil, err
		}
		channelengine.DeliverSubscribe(s.registry, peerID, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*channelengine.SubscribeResult), nil
}

// DeliverSubscribeResult applies an already-computed SubscribeResult's
// notifications locally, without re-running the engine mutation. The
// coordinator calls this on every shard other than the one that owned the
// original Subscribe call, so co-members connected to other shards still
// see member-join (§4.3b: the mutation runs once, the notification step
// fans out).
func (s *Shard) DeliverSubscribeResult(ctx context.Context, peerID string, result *channelengine.SubscribeResult) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		channelengine.DeliverSubscribe(s.registry, peerID, result)
		return nil, nil
	})
	return err
}

// DeliverUnsubscribeResult is DeliverSubscribeResult's counterpart for
// unsubscribe notifications.
func (s *Shard) DeliverUnsubscribeResult(ctx context.Context, peerID string, result *channelengine.UnsubscribeResult) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		channelengine.DeliverUnsubscribe(s.registry, peerID, result)
		return nil, nil
	})
	return err
}

// Unsubscribe runs the engine's Unsubscribe and delivers leave-channel /
// member-leave notifications locally.
func (s *Shard) Unsubscribe(ctx context.Context, appID, peerID, channelID string) (*channelengine.UnsubscribeResult, error) {
	val, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		result, err := s.engine.Unsubscribe(ctx, appID, peerID, channelID)
		if err != nil {
			return nil, err
		}
		channelengine.DeliverUnsubscribe(s.registry, peerID, result)
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return val.(*channelengine.UnsubscribeResult), nil
}

// DeliverChannelMessage pushes an already-computed channel send result's
// frame to whichever subscribers are registered on this shard. The store
// mutation (persist + subscriber resolution) happens once, before fan-out;
// every shard only performs local delivery.
func (s *Shard) DeliverChannelMessage(ctx context.Context, id, event, channelID string, payload protocol.MessagePayload, result *channelengine.ChannelSendResult) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		channelengine.DeliverChannelMessage(s.registry, id, event, channelID, payload, result)
		return nil, nil
	})
	return err
}

// DeliverBroadcast pushes a global.messages.send frame to every locally
// registered peer of appID.
func (s *Shard) DeliverBroadcast(ctx context.Context, id, appID, event string, payload protocol.MessagePayload) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		channelengine.DeliverBroadcast(s.registry, id, appID, event, payload)
		return nil, nil
	})
	return err
}

// DeliverDirect attempts to push a user.messages.send frame to
// recipientID; it returns whether this shard held the connection.
func (s *Shard) DeliverDirect(ctx context.Context, id, recipientID, event string, payload protocol.MessagePayload) (bool, error) {
	val, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return channelengine.DeliverDirect(s.registry, id, recipientID, event, payload), nil
	})
	if err != nil {
		return false, err
	}
	return val.(bool), nil
}

// RequestStoredMessages resolves and replays stored messages to a sink
// connected on this shard.
func (s *Shard) RequestStoredMessages(ctx context.Context, appID, peerID, channelID string, messageIDs []string) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		msgs, err := s.engine.RequestedStoredMessages(ctx, appID, channelID, messageIDs)
		if err != nil {
			return nil, err
		}
		channelengine.DeliverStoredMessages(s.registry, peerID, channelID, msgs)
		return nil, nil
	})
	return err
}

// Engine exposes the shard's channel engine for callers (the coordinator)
// that need to run a one-time authoritative mutation — e.g. the Subscribe
// call that determines "created" before fan-out — without routing it
// through this shard's own registry delivery.
func (s *Shard) Engine() *channelengine.Engine { return s.engine }

// Registry exposes the shard's local Peer Registry, used by the request
// handler to look up a handle for sink-originated requests (ping,
// request-stored-messages) that never need to cross shards.
func (s *Shard) Registry() *registry.Registry { return s.registry }

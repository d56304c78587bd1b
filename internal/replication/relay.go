// Package replication relays fan-out deliveries across horizontally-scaled
// sinkr replicas over core NATS pub/sub (no JetStream: a missed relay
// message only means a peer connected to another replica misses one
// notification, which §5's best-effort fan-out policy already tolerates).
// The Store is the only thing that must agree across replicas; this
// package exists purely so each replica's local shards can deliver to
// peers connected to a *different* replica's shards.
package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Wundero/sinkr/internal/channelengine"
	"github.com/Wundero/sinkr/internal/protocol"
)

// Subject is the single core-NATS subject every replica publishes fan-out
// envelopes to and subscribes from.
const Subject = "sinkr.relay.events"

// Kind discriminates the relayed operation.
type Kind string

const (
	KindSubscribe      Kind = "subscribe"
	KindUnsubscribe    Kind = "unsubscribe"
	KindChannelMessage Kind = "channel_message"
	KindBroadcast      Kind = "broadcast"
	KindDirect         Kind = "direct"
)

// Envelope is the wire shape published to Subject. Exactly one of the
// result-shaped fields is populated, selected by Kind.
type Envelope struct {
	Kind      Kind   `json:"kind"`
	Origin    string `json:"origin"`
	ID        string `json:"id,omitempty"`
	AppID     string `json:"appId,omitempty"`
	PeerID    string `json:"peerId,omitempty"`
	Event     string `json:"event,omitempty"`
	ChannelID string `json:"channelId,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`

	Payload protocol.MessagePayload `json:"payload,omitempty"`

	SubscribeResult   *channelengine.SubscribeResult   `json:"subscribeResult,omitempty"`
	UnsubscribeResult *channelengine.UnsubscribeResult `json:"unsubscribeResult,omitempty"`
	ChannelSendResult *channelengine.ChannelSendResult `json:"channelSendResult,omitempty"`
}

// Relay wraps a core-NATS connection. Origin tags every published envelope
// so a replica can ignore its own publications when it also subscribes to
// Subject (it already delivered locally before publishing).
type Relay struct {
	conn   *nats.Conn
	origin string
	log    *slog.Logger
}

// Connect dials url and returns a Relay tagged with origin (typically a
// hostname or process id), reconnecting indefinitely like the teacher's
// NATS client.
func Connect(url, origin string, log *slog.Logger) (*Relay, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "replication")

	opts := []nats.Option{
		nats.Name("sinkr-" + origin),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("replication: connect: %w", err)
	}
	return &Relay{conn: nc, origin: origin, log: log}, nil
}

// Close drains pending publishes and disconnects.
func (r *Relay) Close() {
	if r.conn != nil {
		_ = r.conn.Drain()
	}
}

// Ping verifies the connection is alive.
func (r *Relay) Ping() error {
	if !r.conn.IsConnected() {
		return fmt.Errorf("replication: not connected")
	}
	return nil
}

func (r *Relay) publish(env Envelope) error {
	env.Origin = r.origin
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("replication: marshal envelope: %w", err)
	}
	if err := r.conn.Publish(Subject, data); err != nil {
		return fmt.Errorf("replication: publish: %w", err)
	}
	return nil
}

func (r *Relay) PublishSubscribe(appID, peerID string, result *channelengine.SubscribeResult) error {
	return r.publish(Envelope{Kind: KindSubscribe, AppID: appID, PeerID: peerID, SubscribeResult: result})
}

func (r *Relay) PublishUnsubscribe(appID, peerID string, result *channelengine.UnsubscribeResult) error {
	return r.publish(Envelope{Kind: KindUnsubscribe, AppID: appID, PeerID: peerID, UnsubscribeResult: result})
}

func (r *Relay) PublishChannelMessage(appID, id, event, channelID string, payload protocol.MessagePayload, result *channelengine.ChannelSendResult) error {
	return r.publish(Envelope{
		Kind: KindChannelMessage, AppID: appID, ID: id, Event: event, ChannelID: channelID,
		Payload: payload, ChannelSendResult: result,
	})
}

func (r *Relay) PublishBroadcast(appID, id, event string, payload protocol.MessagePayload) error {
	return r.publish(Envelope{Kind: KindBroadcast, AppID: appID, ID: id, Event: event, Payload: payload})
}

func (r *Relay) PublishDirect(appID, id, recipientID, event string, payload protocol.MessagePayload) error {
	return r.publish(Envelope{Kind: KindDirect, AppID: appID, ID: id, RecipientID: recipientID, Event: event, Payload: payload})
}

// Subscribe registers handler for every envelope this replica did not
// itself publish. The returned subscription must be drained/unsubscribed
// by the caller on shutdown.
func (r *Relay) Subscribe(ctx context.Context, handler func(Envelope)) (*nats.Subscription, error) {
	sub, err := r.conn.Subscribe(Subject, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			r.log.Error("unmarshal relay envelope", "error", err)
			return
		}
		if env.Origin == r.origin {
			return
		}
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("replication: subscribe: %w", err)
	}
	return sub, nil
}

// Package channelengine implements the Channel Engine (spec §4.2): the
// subscribe/unsubscribe state machine, presence membership, channel CRUD,
// and the per-channel message send/persist path. It is stateless — every
// method reads and writes exclusively through the Store — so the same
// Engine value is safe to use from the coordinator (which owns the single
// authoritative mutation for a fan-out operation) and from a lone shard
// running without a coordinator in tests.
package channelengine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Wundero/sinkr/internal/domain"
	"github.com/Wundero/sinkr/internal/protocol"
	"github.com/Wundero/sinkr/internal/store"
)

type Engine struct {
	store store.Store
}

func New(s store.Store) *Engine {
	return &Engine{store: s}
}

func memberOf(peer *domain.Peer, auth domain.ChannelAuth) domain.Member {
	m := domain.Member{ID: peer.ID}
	if auth == domain.AuthPresence {
		m.UserInfo = peer.UserInfo
	}
	return m
}

// Authenticate implements the user.authenticate route: it sets the
// authenticatedUserId and userInfo on a peer.
func (e *Engine) Authenticate(ctx context.Context, appID, peerID, userID string, userInfo []byte) error {
	if err := e.store.AuthenticatePeer(ctx, appID, peerID, userID, userInfo); err != nil {
		if store.IsNotFound(err) {
			return protocol.NewRouteError(protocol.ErrPeerNotFound)
		}
		return fmt.Errorf("channelengine: authenticate: %w", err)
	}
	return nil
}

// CreateChannel implements channel.create: upsert by (appId, name).
func (e *Engine) CreateChannel(ctx context.Context, appID, name string, auth domain.ChannelAuth, storeMessages bool) (*domain.Channel, error) {
	ch, err := e.store.UpsertChannel(ctx, appID, name, auth, storeMessages)
	if err != nil {
		return nil, fmt.Errorf("channelengine: create channel: %w", err)
	}
	return ch, nil
}

// DeleteChannel implements channel.delete: cascades to subscriptions and
// stored messages (enforced by the Store implementation).
func (e *Engine) DeleteChannel(ctx context.Context, appID, channelID string) error {
	if _, err := e.store.GetChannel(ctx, appID, channelID); err != nil {
		if store.IsNotFound(err) {
			return protocol.NewRouteError(protocol.ErrChannelNotFound)
		}
		return fmt.Errorf("channelengine: get channel: %w", err)
	}
	if err := e.store.DeleteChannel(ctx, appID, channelID); err != nil {
		return fmt.Errorf("channelengine: delete channel: %w", err)
	}
	return nil
}

// DeleteMessages implements channel.messages.delete: an empty/absent id
// set deletes every stored message of the channel, otherwise exactly the
// given set.
func (e *Engine) DeleteMessages(ctx context.Context, appID, channelID string, messageIDs []string) error {
	if _, err := e.store.GetChannel(ctx, appID, channelID); err != nil {
		if store.IsNotFound(err) {
			return protocol.NewRouteError(protocol.ErrChannelNotFound)
		}
		return fmt.Errorf("channelengine: get channel: %w", err)
	}
	if err := e.store.DeleteStoredMessages(ctx, appID, channelID, messageIDs); err != nil {
		return fmt.Errorf("channelengine: delete messages: %w", err)
	}
	return nil
}

// SubscribeResult carries everything the delivery layer needs to notify
// the relevant peers, wherever they are connected, without re-reading
// Store state (§5: the engine observes membership once and does not
// re-read on delivery).
type SubscribeResult struct {
	Created      bool
	Channel      *domain.Channel
	Joiner       domain.Member
	OtherMembers []domain.Member
	StoredRefs   []domain.StoredMessageRef
}

// Subscribe implements the unsubscribed->subscribed transition of §4.2,
// including its authorization check and duplicate-subscribe idempotence.
func (e *Engine) Subscribe(ctx context.Context, appID, peerID, channelID string) (*SubscribeResult, error) {
	ch, err := e.store.GetChannel(ctx, appID, channelID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, protocol.NewRouteError(protocol.ErrChannelNotFound)
		}
		return nil, fmt.Errorf("channelengine: get channel: %w", err)
	}

	peer, err := e.store.GetPeer(ctx, appID, peerID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, protocol.NewRouteError(protocol.ErrPeerNotFound)
		}
		return nil, fmt.Errorf("channelengine: get peer: %w", err)
	}

	if ch.Auth == domain.AuthPrivate || ch.Auth == domain.AuthPresence {
		if peer.AuthenticatedUserID == nil || *peer.AuthenticatedUserID == "" {
			return nil, protocol.NewRouteError(protocol.ErrPeerNotAuthed)
		}
	}

	created, err := e.store.Subscribe(ctx, appID, peerID, channelID)
	if err != nil {
		return nil, fmt.Errorf("channelengine: subscribe: %w", err)
	}

	result := &SubscribeResult{Created: created, Channel: ch}
	if !created {
		// Duplicate subscribe: success without re-emitting join events.
		return result, nil
	}

	otherPeerIDs, err := e.store.ListChannelSubscriberPeerIDs(ctx, appID, channelID)
	if err != nil {
		return nil, fmt.Errorf("channelengine: list subscribers: %w", err)
	}
	for _, id := range otherPeerIDs {
		if id == peerID {
			continue
		}
		p, err := e.store.GetPeer(ctx, appID, id)
		if err != nil {
			continue // peer raced a disconnect; its own reap will clean up
		}
		result.OtherMembers = append(result.OtherMembers, memberOf(p, ch.Auth))
	}
	result.Joiner = memberOf(peer, ch.Auth)

	if ch.Store {
		refs, err := e.store.ListStoredMessageRefs(ctx, appID, channelID)
		if err != nil {
			return nil, fmt.Errorf("channelengine: list stored refs: %w", err)
		}
		result.StoredRefs = refs
	}

	return result, nil
}

// UnsubscribeResult carries the data needed to notify remaining members.
type UnsubscribeResult struct {
	ChannelID      string
	Leaver         domain.Member
	RemainingPeers []string
}

// Unsubscribe implements the subscribed->unsubscribed transition.
func (e *Engine) Unsubscribe(ctx context.Context, appID, peerID, channelID string) (*UnsubscribeResult, error) {
	ch, err := e.store.GetChannel(ctx, appID, channelID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, protocol.NewRouteError(protocol.ErrChannelNotFound)
		}
		return nil, fmt.Errorf("channelengine: get channel: %w", err)
	}

	subscribed, err := e.store.IsSubscribed(ctx, appID, peerID, channelID)
	if err != nil {
		return nil, fmt.Errorf("channelengine: is subscribed: %w", err)
	}
	if !subscribed {
		return nil, protocol.NewRouteError(protocol.ErrPeerNotSubscribed)
	}

	peer, err := e.store.GetPeer(ctx, appID, peerID)
	if err != nil && !store.IsNotFound(err) {
		return nil, fmt.Errorf("channelengine: get peer: %w", err)
	}

	if err := e.store.Unsubscribe(ctx, appID, peerID, channelID); err != nil {
		return nil, fmt.Errorf("channelengine: unsubscribe: %w", err)
	}

	remaining, err := e.store.ListChannelSubscriberPeerIDs(ctx, appID, channelID)
	if err != nil {
		return nil, fmt.Errorf("channelengine: list subscribers: %w", err)
	}

	result := &UnsubscribeResult{ChannelID: channelID, RemainingPeers: remaining}
	if peer != nil {
		result.Leaver = memberOf(peer, ch.Auth)
	} else {
		result.Leaver = domain.Member{ID: peerID}
	}
	return result, nil
}

// ChannelSendResult carries the subscriber list to deliver a channel
// message frame to, plus whether it was persisted.
type ChannelSendResult struct {
	ChannelID   string
	Subscribers []string
	Persisted   bool
}

// SendChannelMessage implements channel.messages.send: persist (if the
// channel stores messages) then resolve the subscriber set to deliver to.
// The subscriber set is observed once here; late subscribers do not
// retroactively receive this message (§5).
func (e *Engine) SendChannelMessage(ctx context.Context, appID, channelID, messageID string, payload []byte) (*ChannelSendResult, error) {
	ch, err := e.store.GetChannel(ctx, appID, channelID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, protocol.NewRouteError(protocol.ErrChannelNotFound)
		}
		return nil, fmt.Errorf("channelengine: get channel: %w", err)
	}

	persisted := false
	if ch.Store {
		id := messageID
		if id == "" {
			id = uuid.NewString()
		}
		if err := e.store.CreateStoredMessage(ctx, &domain.StoredMessage{
			ID: id, AppID: appID, ChannelID: channelID, Data: payload,
		}); err != nil {
			return nil, fmt.Errorf("channelengine: create stored message: %w", err)
		}
		persisted = true
	}

	subs, err := e.store.ListChannelSubscriberPeerIDs(ctx, appID, channelID)
	if err != nil {
		return nil, fmt.Errorf("channelengine: list subscribers: %w", err)
	}

	return &ChannelSendResult{ChannelID: channelID, Subscribers: subs, Persisted: persisted}, nil
}

// RequestedStoredMessages resolves the payloads for a sink's
// request-stored-messages ask, ordered ascending by createdAt (§8
// property 5).
func (e *Engine) RequestedStoredMessages(ctx context.Context, appID, channelID string, messageIDs []string) ([]domain.StoredMessage, error) {
	msgs, err := e.store.GetStoredMessages(ctx, appID, channelID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("channelengine: get stored messages: %w", err)
	}
	return msgs, nil
}

// ReapResult carries, per affected channel, the member-leave deliveries a
// disconnect must trigger.
type ReapResult struct {
	Leaver      domain.Member
	PerChannel  []ReapedChannel
}

type ReapedChannel struct {
	ChannelID      string
	RemainingPeers []string
}

// ReapPeer implements the socket-close cleanup of §4.2: enumerate the
// peer's subscriptions, remove its Peer row (cascading subscriptions), and
// return the set of still-subscribed co-members per affected channel so
// the delivery layer can emit exactly one member-leave to each.
func (e *Engine) ReapPeer(ctx context.Context, appID, peerID string) (*ReapResult, error) {
	peer, err := e.store.GetPeer(ctx, appID, peerID)
	if err != nil && !store.IsNotFound(err) {
		return nil, fmt.Errorf("channelengine: get peer: %w", err)
	}

	channelIDs, err := e.store.ListPeerChannelIDs(ctx, appID, peerID)
	if err != nil {
		return nil, fmt.Errorf("channelengine: list peer channels: %w", err)
	}

	if err := e.store.DeletePeer(ctx, appID, peerID); err != nil {
		return nil, fmt.Errorf("channelengine: delete peer: %w", err)
	}

	result := &ReapResult{}
	if peer != nil {
		result.Leaver = domain.Member{ID: peer.ID}
	} else {
		result.Leaver = domain.Member{ID: peerID}
	}

	for _, channelID := range channelIDs {
		remaining, err := e.store.ListChannelSubscriberPeerIDs(ctx, appID, channelID)
		if err != nil {
			return nil, fmt.Errorf("channelengine: list subscribers: %w", err)
		}
		if len(remaining) == 0 {
			continue
		}
		result.PerChannel = append(result.PerChannel, ReapedChannel{ChannelID: channelID, RemainingPeers: remaining})
	}
	return result, nil
}

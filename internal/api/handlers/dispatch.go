package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Wundero/sinkr/internal/coordinator"
	"github.com/Wundero/sinkr/internal/domain"
	"github.com/Wundero/sinkr/internal/metrics"
	"github.com/Wundero/sinkr/internal/protocol"
	"github.com/Wundero/sinkr/internal/store"
)

// RouteDispatcher implements Dispatcher against a Coordinator, translating
// each of the nine route request bodies (spec §4.4) into the matching
// coordinator call and back into a wire response.
type RouteDispatcher struct {
	Coordinator *coordinator.Coordinator
	Store       store.Store
	Metrics     *metrics.Metrics
}

func NewRouteDispatcher(c *coordinator.Coordinator, s store.Store, m *metrics.Metrics) *RouteDispatcher {
	return &RouteDispatcher{Coordinator: c, Store: s, Metrics: m}
}

// Dispatch executes one route against the coordinator and returns the
// response body to echo back under the envelope's route/response fields.
// A non-nil error is always a *protocol.RouteError or wraps one via
// protocol.AsRouteError — callers never see raw Store errors on the wire.
func (d *RouteDispatcher) Dispatch(ctx context.Context, appID, peerID string, route protocol.Route, raw json.RawMessage) (resp interface{}, err error) {
	start := time.Now()
	defer func() {
		if d.Metrics != nil {
			d.Metrics.RouteHandled(string(route), err, time.Since(start))
		}
	}()

	switch route {
	case protocol.RouteUserAuthenticate:
		var req protocol.UserAuthenticateRequest
		if unmarshalErr := json.Unmarshal(raw, &req); unmarshalErr != nil {
			return nil, protocol.NewRouteError(protocol.ErrInvalidRequest)
		}
		if err = d.Coordinator.Authenticate(ctx, appID, req.PeerID, req.ID, req.UserInfo); err != nil {
			return nil, err
		}
		return protocol.SimpleSuccessResponse{Success: true}, nil

	case protocol.RouteChannelCreate:
		var req protocol.ChannelCreateRequest
		if unmarshalErr := json.Unmarshal(raw, &req); unmarshalErr != nil {
			return nil, protocol.NewRouteError(protocol.ErrInvalidRequest)
		}
		auth, ok := parseChannelAuth(req.AuthMode)
		if !ok {
			return nil, protocol.NewRouteError(protocol.ErrInvalidRequest)
		}
		channelID, createErr := d.Coordinator.CreateChannel(ctx, appID, req.Name, auth, req.StoreMessages)
		if createErr != nil {
			err = createErr
			return nil, err
		}
		return protocol.ChannelCreateResponse{Success: true, ChannelID: channelID}, nil

	case protocol.RouteChannelDelete:
		var req protocol.ChannelDeleteRequest
		if unmarshalErr := json.Unmarshal(raw, &req); unmarshalErr != nil {
			return nil, protocol.NewRouteError(protocol.ErrInvalidRequest)
		}
		if err = d.Coordinator.DeleteChannel(ctx, appID, req.ChannelID); err != nil {
			return nil, err
		}
		return protocol.SimpleSuccessResponse{Success: true}, nil

	case protocol.RouteMessagesDelete:
		var req protocol.ChannelMessagesDeleteRequest
		if unmarshalErr := json.Unmarshal(raw, &req); unmarshalErr != nil {
			return nil, protocol.NewRouteError(protocol.ErrInvalidRequest)
		}
		if err = d.Coordinator.DeleteMessages(ctx, appID, req.ChannelID, req.MessageIDs); err != nil {
			return nil, err
		}
		return protocol.SimpleSuccessResponse{Success: true}, nil

	case protocol.RouteSubscribersAdd:
		var req protocol.ChannelSubscribersAddRequest
		if unmarshalErr := json.Unmarshal(raw, &req); unmarshalErr != nil {
			return nil, protocol.NewRouteError(protocol.ErrInvalidRequest)
		}
		peer, resolveErr := d.resolveSubscriber(ctx, appID, req.SubscriberID)
		if resolveErr != nil {
			err = resolveErr
			return nil, err
		}
		if _, err = d.Coordinator.Subscribe(ctx, appID, peer, req.ChannelID); err != nil {
			return nil, err
		}
		return protocol.SimpleSuccessResponse{Success: true}, nil

	case protocol.RouteSubscribersRemove:
		var req protocol.ChannelSubscribersRemoveRequest
		if unmarshalErr := json.Unmarshal(raw, &req); unmarshalErr != nil {
			return nil, protocol.NewRouteError(protocol.ErrInvalidRequest)
		}
		peer, resolveErr := d.resolveSubscriber(ctx, appID, req.SubscriberID)
		if resolveErr != nil {
			err = resolveErr
			return nil, err
		}
		if _, err = d.Coordinator.Unsubscribe(ctx, appID, peer, req.ChannelID); err != nil {
			return nil, err
		}
		return protocol.SimpleSuccessResponse{Success: true}, nil

	case protocol.RouteChannelMessagesSend:
		var req protocol.ChannelMessagesSendRequest
		if unmarshalErr := json.Unmarshal(raw, &req); unmarshalErr != nil {
			return nil, protocol.NewRouteError(protocol.ErrInvalidRequest)
		}
		id := newMessageID()
		if err = d.Coordinator.SendChannelMessage(ctx, id, appID, req.ChannelID, req.Event, req.Message); err != nil {
			return nil, err
		}
		return protocol.SimpleSuccessResponse{Success: true}, nil

	case protocol.RouteUserMessagesSend:
		var req protocol.UserMessagesSendRequest
		if unmarshalErr := json.Unmarshal(raw, &req); unmarshalErr != nil {
			return nil, protocol.NewRouteError(protocol.ErrInvalidRequest)
		}
		id := newMessageID()
		if _, err = d.Coordinator.Direct(ctx, id, appID, req.RecipientID, req.Event, req.Message); err != nil {
			return nil, err
		}
		return protocol.SimpleSuccessResponse{Success: true}, nil

	case protocol.RouteGlobalMessagesSend:
		var req protocol.GlobalMessagesSendRequest
		if unmarshalErr := json.Unmarshal(raw, &req); unmarshalErr != nil {
			return nil, protocol.NewRouteError(protocol.ErrInvalidRequest)
		}
		id := newMessageID()
		if err = d.Coordinator.Broadcast(ctx, id, appID, req.Event, req.Message); err != nil {
			return nil, err
		}
		return protocol.SimpleSuccessResponse{Success: true}, nil

	default:
		err = protocol.NewRouteError(protocol.ErrInvalidRequest)
		return nil, err
	}
}

// resolveSubscriber folds subscriberId resolution (peer.id first, then
// authenticatedUserId) through the same Store lookup the coordinator uses
// for recipientId, so channel.subscribers.{add,remove} honor the same rule
// as user.messages.send (spec §4.4).
func (d *RouteDispatcher) resolveSubscriber(ctx context.Context, appID, subscriberID string) (string, error) {
	peer, err := d.Store.ResolvePeer(ctx, appID, subscriberID)
	if err != nil {
		if store.IsNotFound(err) {
			return "", protocol.NewRouteError(protocol.ErrPeerNotFound)
		}
		return "", fmt.Errorf("dispatch: resolve subscriber: %w", err)
	}
	return peer.ID, nil
}

func parseChannelAuth(mode string) (domain.ChannelAuth, bool) {
	switch domain.ChannelAuth(mode) {
	case domain.AuthPublic, domain.AuthPrivate, domain.AuthPresence:
		return domain.ChannelAuth(mode), true
	default:
		return "", false
	}
}

// newMessageID returns a fresh random UUID.
var newMessageID = func() string {
	return uuid.NewString()
}

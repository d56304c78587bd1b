package channelengine

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/Wundero/sinkr/internal/domain"
	"github.com/Wundero/sinkr/internal/protocol"
	"github.com/Wundero/sinkr/internal/registry"
)

// DeliverSubscribe pushes the join-channel frame to the joining peer (if
// registered on this shard) and a member-join frame to every other member
// currently registered on this shard. It is called once per shard for a
// fanned-out channel.subscribers.add, using the single authoritative
// result computed by whichever caller ran Engine.Subscribe.
func DeliverSubscribe(reg *registry.Registry, peerID string, result *SubscribeResult) {
	if !result.Created {
		return
	}
	if h := reg.Lookup(peerID); h != nil {
		frame := protocol.NewMetadataFrame(uuid.NewString(),
			protocol.JoinChannelEvent(result.Channel, result.OtherMembers, result.StoredRefs))
		_ = reg.Send(h, frame)
	}
	for _, member := range result.OtherMembers {
		if h := reg.Lookup(member.ID); h != nil {
			frame := protocol.NewMetadataFrame(uuid.NewString(),
				protocol.MemberJoinEvent(result.Channel.ID, domain.Member{ID: peerID, UserInfo: result.Joiner.UserInfo}))
			_ = reg.Send(h, frame)
		}
	}
}

// DeliverUnsubscribe pushes leave-channel to the leaving peer and
// member-leave to every remaining member registered on this shard.
func DeliverUnsubscribe(reg *registry.Registry, peerID string, result *UnsubscribeResult) {
	if h := reg.Lookup(peerID); h != nil {
		frame := protocol.NewMetadataFrame(uuid.NewString(), protocol.LeaveChannelEvent(result.ChannelID))
		_ = reg.Send(h, frame)
	}
	for _, remaining := range result.RemainingPeers {
		if h := reg.Lookup(remaining); h != nil {
			frame := protocol.NewMetadataFrame(uuid.NewString(), protocol.MemberLeaveEvent(result.ChannelID, result.Leaver))
			_ = reg.Send(h, frame)
		}
	}
}

// DeliverReap emits exactly one member-leave per co-subscriber per shared
// channel still registered locally, per §8 invariant 1.
func DeliverReap(reg *registry.Registry, result *ReapResult) {
	for _, rc := range result.PerChannel {
		for _, remaining := range rc.RemainingPeers {
			if h := reg.Lookup(remaining); h != nil {
				frame := protocol.NewMetadataFrame(uuid.NewString(), protocol.MemberLeaveEvent(rc.ChannelID, result.Leaver))
				_ = reg.Send(h, frame)
			}
		}
	}
}

// DeliverChannelMessage pushes a message frame to every subscriber of the
// channel registered locally.
func DeliverChannelMessage(reg *registry.Registry, id, event, channelID string, payload protocol.MessagePayload, result *ChannelSendResult) {
	frame := protocol.NewMessageFrame(id, protocol.MessageFrameData{
		Event:   event,
		From:    protocol.MessageFrom{Source: protocol.FromChannel, ChannelID: channelID},
		Message: payload,
	})
	for _, peerID := range result.Subscribers {
		if h := reg.Lookup(peerID); h != nil {
			_ = reg.Send(h, frame)
		}
	}
}

// DeliverBroadcast pushes a message frame to every peer of appID
// registered locally (global.messages.send).
func DeliverBroadcast(reg *registry.Registry, id, appID, event string, payload protocol.MessagePayload) {
	frame := protocol.NewMessageFrame(id, protocol.MessageFrameData{
		Event:   event,
		From:    protocol.MessageFrom{Source: protocol.FromBroadcast},
		Message: payload,
	})
	for _, lp := range reg.IterateLocal(appID) {
		_ = reg.Send(lp.Handle, frame)
	}
}

// DeliverDirect pushes a message frame to recipientID if it is registered
// locally, returning whether delivery happened on this shard.
func DeliverDirect(reg *registry.Registry, id, recipientID, event string, payload protocol.MessagePayload) bool {
	h := reg.Lookup(recipientID)
	if h == nil {
		return false
	}
	frame := protocol.NewMessageFrame(id, protocol.MessageFrameData{
		Event:   event,
		From:    protocol.MessageFrom{Source: protocol.FromDirect},
		Message: payload,
	})
	return reg.Send(h, frame) == nil
}

// DeliverStoredMessages replays a sink's request-stored-messages ask,
// pushing one message frame per stored message in createdAt order.
func DeliverStoredMessages(reg *registry.Registry, peerID, channelID string, messages []domain.StoredMessage) {
	h := reg.Lookup(peerID)
	if h == nil {
		return
	}
	for _, m := range messages {
		frame := protocol.StoredMessageFrame(uuid.NewString(), channelID, protocol.MessagePayload{
			Type:    protocol.PayloadPlain,
			Message: json.RawMessage(m.Data),
		})
		_ = reg.Send(h, frame)
	}
}

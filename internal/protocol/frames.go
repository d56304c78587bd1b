package protocol

import (
	"encoding/json"

	"github.com/Wundero/sinkr/internal/domain"
)

// FrameSource discriminates the two shapes of server->sink frame.
type FrameSource string

const (
	FrameMetadata FrameSource = "metadata"
	FrameMessage  FrameSource = "message"
)

// SinkFrame is the envelope every frame written to a sink socket shares.
type SinkFrame struct {
	ID     string      `json:"id"`
	Source FrameSource `json:"source"`
	Data   interface{} `json:"data"`
}

func NewMetadataFrame(id string, event MetadataEvent) SinkFrame {
	return SinkFrame{ID: id, Source: FrameMetadata, Data: event}
}

func NewMessageFrame(id string, data MessageFrameData) SinkFrame {
	return SinkFrame{ID: id, Source: FrameMessage, Data: data}
}

// MetadataEvent is the discriminated union of metadata frame bodies,
// discriminated by Event.
type MetadataEvent struct {
	Event              string                     `json:"event"`
	PeerID             string                     `json:"peerId,omitempty"`
	ChannelID          string                     `json:"channelId,omitempty"`
	ChannelName        string                     `json:"channelName,omitempty"`
	ChannelAuthMode    domain.ChannelAuth         `json:"channelAuthMode,omitempty"`
	ChannelStoredMsgs  []domain.StoredMessageRef  `json:"channelStoredMessages,omitempty"`
	Members            []domain.Member            `json:"members,omitempty"`
	Member             *domain.Member              `json:"member,omitempty"`
}

func InitEvent(peerID string) MetadataEvent {
	return MetadataEvent{Event: "init", PeerID: peerID}
}

func JoinChannelEvent(ch *domain.Channel, members []domain.Member, stored []domain.StoredMessageRef) MetadataEvent {
	return MetadataEvent{
		Event:             "join-channel",
		ChannelID:         ch.ID,
		ChannelName:       ch.Name,
		ChannelAuthMode:   ch.Auth,
		ChannelStoredMsgs: stored,
		Members:           members,
	}
}

func LeaveChannelEvent(channelID string) MetadataEvent {
	return MetadataEvent{Event: "leave-channel", ChannelID: channelID}
}

func MemberJoinEvent(channelID string, member domain.Member) MetadataEvent {
	return MetadataEvent{Event: "member-join", ChannelID: channelID, Member: &member}
}

func MemberLeaveEvent(channelID string, member domain.Member) MetadataEvent {
	return MetadataEvent{Event: "member-leave", ChannelID: channelID, Member: &member}
}

// MessageSource discriminates the `from` field of a message frame.
type MessageSource string

const (
	FromBroadcast MessageSource = "broadcast"
	FromDirect    MessageSource = "direct"
	FromChannel   MessageSource = "channel"
)

// MessageFrom is the `from` discriminator: {source: broadcast|direct} or
// {source: channel, channelId}.
type MessageFrom struct {
	Source    MessageSource `json:"source"`
	ChannelID string        `json:"channelId,omitempty"`
}

// MessageFrameData is the body of a `message`-sourced sink frame.
type MessageFrameData struct {
	Event   string         `json:"event"`
	From    MessageFrom    `json:"from"`
	Message MessagePayload `json:"message"`
}

// MessagePayloadType discriminates the message payload tagged union.
type MessagePayloadType string

const (
	PayloadPlain MessagePayloadType = "plain"
	PayloadChunk MessagePayloadType = "chunk"
)

// MessagePayload is opaque to the server: the tag, optional chunk index,
// and inner message are preserved verbatim end to end, never re-assembled.
type MessagePayload struct {
	Type    MessagePayloadType `json:"type"`
	Index   *int               `json:"index,omitempty"`
	Message json.RawMessage    `json:"message"`
}

// RequestStoredMessages is the one route a sink connection may itself send,
// alongside a literal "ping".
type RequestStoredMessages struct {
	Event      string   `json:"event"`
	ChannelID  string   `json:"channelId"`
	MessageIDs []string `json:"messageIds"`
}

// StoredMessageFrame carries a replayed StoredMessage back as a message
// frame with from={source:"channel",channelId}.
func StoredMessageFrame(id string, channelID string, payload MessagePayload) SinkFrame {
	return NewMessageFrame(id, MessageFrameData{
		Event:   "stored-message",
		From:    MessageFrom{Source: FromChannel, ChannelID: channelID},
		Message: payload,
	})
}

// ToStoredRef converts a persisted message to the {id,date} shape advertised
// in join-channel frames.
func ToStoredRef(m domain.StoredMessage) domain.StoredMessageRef {
	return domain.StoredMessageRef{ID: m.ID, Date: m.CreatedAt.UTC()}
}

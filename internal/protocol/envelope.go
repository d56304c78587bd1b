package protocol

import "encoding/json"

// Route identifies one of the request kinds a source may send, per spec §4.4.
type Route string

const (
	RouteUserAuthenticate     Route = "user.authenticate"
	RouteChannelCreate        Route = "channel.create"
	RouteChannelDelete        Route = "channel.delete"
	RouteMessagesDelete       Route = "channel.messages.delete"
	RouteSubscribersAdd       Route = "channel.subscribers.add"
	RouteSubscribersRemove    Route = "channel.subscribers.remove"
	RouteChannelMessagesSend  Route = "channel.messages.send"
	RouteUserMessagesSend     Route = "user.messages.send"
	RouteGlobalMessagesSend   Route = "global.messages.send"
)

// RequestEnvelope is the source->server wire shape, carried either as a
// WebSocket text frame or an HTTP POST body.
type RequestEnvelope struct {
	ID   string          `json:"id"`
	Data RequestData     `json:"data"`
}

type RequestData struct {
	Route   Route           `json:"route"`
	Request json.RawMessage `json:"request"`
}

// ResponseEnvelope is the server->source reply, correlated by the echoed id.
type ResponseEnvelope struct {
	ID       string      `json:"id"`
	Route    Route       `json:"route"`
	Response interface{} `json:"response"`
}

// SuccessResponse and ErrorResponse are the two shapes of the response
// union described in spec §6. Route handlers return one or the other;
// fields beyond Success are route-specific and merged in by the caller.
type ErrorResponse struct {
	Success bool    `json:"success"`
	Error   ErrCode `json:"error"`
}

func NewErrorResponse(code ErrCode) ErrorResponse {
	return ErrorResponse{Success: false, Error: code}
}

// --- per-route request bodies ---

type UserAuthenticateRequest struct {
	PeerID   string          `json:"peerId"`
	ID       string          `json:"id"`
	UserInfo json.RawMessage `json:"userInfo,omitempty"`
}

type ChannelCreateRequest struct {
	Name          string `json:"name"`
	AuthMode      string `json:"authMode"`
	StoreMessages bool   `json:"storeMessages"`
}

type ChannelDeleteRequest struct {
	ChannelID string `json:"channelId"`
}

type ChannelMessagesDeleteRequest struct {
	ChannelID  string   `json:"channelId"`
	MessageIDs []string `json:"messageIds,omitempty"`
}

type ChannelSubscribersAddRequest struct {
	SubscriberID string `json:"subscriberId"`
	ChannelID    string `json:"channelId"`
}

type ChannelSubscribersRemoveRequest struct {
	SubscriberID string `json:"subscriberId"`
	ChannelID    string `json:"channelId"`
}

type ChannelMessagesSendRequest struct {
	ChannelID string         `json:"channelId"`
	Event     string         `json:"event"`
	Message   MessagePayload `json:"message"`
}

type UserMessagesSendRequest struct {
	RecipientID string         `json:"recipientId"`
	Event       string         `json:"event"`
	Message     MessagePayload `json:"message"`
}

type GlobalMessagesSendRequest struct {
	Event   string         `json:"event"`
	Message MessagePayload `json:"message"`
}

// --- per-route success responses ---

type ChannelCreateResponse struct {
	Success   bool   `json:"success"`
	ChannelID string `json:"channelId"`
}

type SimpleSuccessResponse struct {
	Success bool `json:"success"`
}

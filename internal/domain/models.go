// Package domain holds the core data model shared by the store, the
// channel engine, the registry, and the coordinator: apps, peers,
// channels, subscriptions, stored messages, and per-shard load.
package domain

import (
	"encoding/json"
	"time"
)

// PeerType distinguishes an authenticated publisher from a subscriber.
type PeerType string

const (
	PeerSource PeerType = "source"
	PeerSink   PeerType = "sink"
)

// ChannelAuth is a channel's authorization mode.
type ChannelAuth string

const (
	AuthPublic   ChannelAuth = "public"
	AuthPrivate  ChannelAuth = "private"
	AuthPresence ChannelAuth = "presence"
)

// App is a tenant record. Immutable from the core's perspective; owned by
// the external tenant registry, which the core only reads.
type App struct {
	ID        string `json:"id" db:"id"`
	SecretKey string `json:"-" db:"secret_key"`
	Enabled   bool   `json:"enabled" db:"enabled"`
}

// Peer is one live client connection. A row exists iff the socket is live
// on some shard.
type Peer struct {
	ID                  string          `json:"id" db:"id"`
	AppID               string          `json:"appId" db:"app_id"`
	Type                PeerType        `json:"type" db:"type"`
	AuthenticatedUserID *string         `json:"authenticatedUserId,omitempty" db:"authenticated_user_id"`
	UserInfo            []byte          `json:"userInfo,omitempty" db:"user_info"`
	ShardID             string          `json:"-" db:"shard_id"`
	ConnectedAt         time.Time       `json:"-" db:"connected_at"`
}

// MatchesID reports whether id matches either the peer's own id or its
// authenticated user id — the resolution rule used by subscriberId and
// recipientId route fields.
func (p *Peer) MatchesID(id string) bool {
	if p.ID == id {
		return true
	}
	return p.AuthenticatedUserID != nil && *p.AuthenticatedUserID == id
}

// Member is the public-facing shape of a peer inside presence/membership
// frames: {id, userInfo?}, with userInfo only populated for presence
// channels.
type Member struct {
	ID       string          `json:"id"`
	UserInfo json.RawMessage `json:"userInfo,omitempty"`
}

// Channel is a named pub/sub target, unique per (appId, name).
type Channel struct {
	ID     string      `json:"id" db:"id"`
	AppID  string      `json:"appId" db:"app_id"`
	Name   string      `json:"name" db:"name"`
	Auth   ChannelAuth `json:"auth" db:"auth"`
	Store  bool        `json:"store" db:"store"`
}

// Subscription is a peer<->channel membership row, unique per
// (appId, peerId, channelId).
type Subscription struct {
	ID        string `json:"id" db:"id"`
	AppID     string `json:"appId" db:"app_id"`
	PeerID    string `json:"peerId" db:"peer_id"`
	ChannelID string `json:"channelId" db:"channel_id"`
}

// StoredMessage is a persisted channel payload, present only for channels
// with Store=true. Its id is source-supplied and used for replay dedup.
type StoredMessage struct {
	ID        string    `json:"id" db:"id"`
	AppID     string    `json:"appId" db:"app_id"`
	ChannelID string    `json:"channelId" db:"channel_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	Data      []byte    `json:"data" db:"data"`
}

// StoredMessageRef is the {id, date} pair advertised in a join-channel
// frame, before the sink has asked for the payload itself.
type StoredMessageRef struct {
	ID   string    `json:"id"`
	Date time.Time `json:"date"`
}

// ShardLoad is the coordinator's persistent row tracking how many peers a
// given shard currently holds, used for upgrade-dispatch placement.
type ShardLoad struct {
	HandlerID       string `db:"handler_id"`
	ConnectionCount int    `db:"connection_count"`
}

// Package store defines the Tenant & Membership Store interface (spec
// §4.5) and its implementations: a Postgres-backed one for production and
// an in-memory one for tests and local development.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Wundero/sinkr/internal/domain"
)

// ErrNotFound is returned by single-row reads when nothing matches.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by inserts that would violate a uniqueness
// invariant the caller did not already check for (rare: most callers
// upsert or pre-check within the same transaction).
var ErrConflict = errors.New("store: conflict")

// Store is the transactional interface every shard, the coordinator, and
// the request handler use to reach durable state. All methods are safe
// for concurrent use.
type Store interface {
	Ping(ctx context.Context) error

	// Apps — read-only from the core's perspective.
	GetApp(ctx context.Context, appID string) (*domain.App, error)

	// Peers
	CreatePeer(ctx context.Context, p *domain.Peer) error
	GetPeer(ctx context.Context, appID, peerID string) (*domain.Peer, error)
	// ResolvePeer finds a peer by id, falling back to a match on
	// authenticatedUserId — the subscriberId/recipientId resolution rule
	// of spec §4.4 ("match against peer.id first, then authenticatedUserId").
	ResolvePeer(ctx context.Context, appID, anyID string) (*domain.Peer, error)
	AuthenticatePeer(ctx context.Context, appID, peerID, userID string, userInfo []byte) error
	DeletePeer(ctx context.Context, appID, peerID string) error
	ListAppPeers(ctx context.Context, appID string) ([]domain.Peer, error)

	// Channels
	UpsertChannel(ctx context.Context, appID, name string, auth domain.ChannelAuth, store bool) (*domain.Channel, error)
	GetChannel(ctx context.Context, appID, channelID string) (*domain.Channel, error)
	DeleteChannel(ctx context.Context, appID, channelID string) error

	// Subscriptions
	Subscribe(ctx context.Context, appID, peerID, channelID string) (created bool, err error)
	Unsubscribe(ctx context.Context, appID, peerID, channelID string) error
	IsSubscribed(ctx context.Context, appID, peerID, channelID string) (bool, error)
	ListChannelSubscriberPeerIDs(ctx context.Context, appID, channelID string) ([]string, error)
	ListPeerChannelIDs(ctx context.Context, appID, peerID string) ([]string, error)

	// Stored messages
	CreateStoredMessage(ctx context.Context, m *domain.StoredMessage) error
	DeleteStoredMessages(ctx context.Context, appID, channelID string, messageIDs []string) error
	ListStoredMessageRefs(ctx context.Context, appID, channelID string) ([]domain.StoredMessageRef, error)
	GetStoredMessages(ctx context.Context, appID, channelID string, messageIDs []string) ([]domain.StoredMessage, error)

	// Shard load accounting (§4.3c)
	ReportShardLoad(ctx context.Context, handlerID string, connectionCount int) error
	ListShardLoads(ctx context.Context) ([]domain.ShardLoad, error)

	Close() error
}

// now is a seam so tests can observe deterministic ordering without
// depending on wall-clock granularity.
var now = func() time.Time { return time.Now().UTC() }

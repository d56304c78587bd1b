package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wundero/sinkr/internal/domain"
)

// IsNotFound reports whether err indicates a record was not found, folding
// in both pgx.ErrNoRows and ErrNotFound so callers can use a single check
// regardless of which Store implementation is in play.
func IsNotFound(err error) bool {
	return err == pgx.ErrNoRows || err == ErrNotFound
}

// PostgresStore wraps a pgx connection pool and implements Store against
// the logical schema of spec §6: app, peer, channel, peerChannelSubscription,
// storedChannelMessage, plus a shard_load table for §4.3(c) accounting.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed Store from the given DSN.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) GetApp(ctx context.Context, appID string) (*domain.App, error) {
	var a domain.App
	err := p.pool.QueryRow(ctx, `
		SELECT id, secret_key, enabled FROM app WHERE id = $1
	`, appID).Scan(&a.ID, &a.SecretKey, &a.Enabled)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get app: %w", err)
	}
	return &a, nil
}

func (p *PostgresStore) CreatePeer(ctx context.Context, peer *domain.Peer) error {
	if peer.ID == "" {
		peer.ID = uuid.NewString()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO peer (id, app_id, type, authenticated_user_id, user_info, shard_id, connected_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, peer.ID, peer.AppID, peer.Type, peer.AuthenticatedUserID, peer.UserInfo, peer.ShardID)
	if err != nil {
		return fmt.Errorf("store: create peer: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetPeer(ctx context.Context, appID, peerID string) (*domain.Peer, error) {
	var peer domain.Peer
	err := p.pool.QueryRow(ctx, `
		SELECT id, app_id, type, authenticated_user_id, user_info, shard_id, connected_at
		FROM peer WHERE app_id = $1 AND id = $2
	`, appID, peerID).Scan(
		&peer.ID, &peer.AppID, &peer.Type, &peer.AuthenticatedUserID,
		&peer.UserInfo, &peer.ShardID, &peer.ConnectedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get peer: %w", err)
	}
	return &peer, nil
}

func (p *PostgresStore) ResolvePeer(ctx context.Context, appID, anyID string) (*domain.Peer, error) {
	var peer domain.Peer
	err := p.pool.QueryRow(ctx, `
		SELECT id, app_id, type, authenticated_user_id, user_info, shard_id, connected_at
		FROM peer WHERE app_id = $1 AND (id = $2 OR authenticated_user_id = $2)
		ORDER BY (id = $2) DESC
		LIMIT 1
	`, appID, anyID).Scan(
		&peer.ID, &peer.AppID, &peer.Type, &peer.AuthenticatedUserID,
		&peer.UserInfo, &peer.ShardID, &peer.ConnectedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: resolve peer: %w", err)
	}
	return &peer, nil
}

func (p *PostgresStore) AuthenticatePeer(ctx context.Context, appID, peerID, userID string, userInfo []byte) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE peer SET authenticated_user_id = $1, user_info = $2
		WHERE app_id = $3 AND id = $4
	`, userID, userInfo, appID, peerID)
	if err != nil {
		return fmt.Errorf("store: authenticate peer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePeer removes the peer row; ON DELETE CASCADE on
// peerChannelSubscription.peer_id reaps its subscriptions as specified by
// §3's Peer invariant.
func (p *PostgresStore) DeletePeer(ctx context.Context, appID, peerID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM peer WHERE app_id = $1 AND id = $2`, appID, peerID)
	if err != nil {
		return fmt.Errorf("store: delete peer: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListAppPeers(ctx context.Context, appID string) ([]domain.Peer, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, app_id, type, authenticated_user_id, user_info, shard_id, connected_at
		FROM peer WHERE app_id = $1
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("store: list app peers: %w", err)
	}
	defer rows.Close()

	var out []domain.Peer
	for rows.Next() {
		var peer domain.Peer
		if err := rows.Scan(&peer.ID, &peer.AppID, &peer.Type, &peer.AuthenticatedUserID,
			&peer.UserInfo, &peer.ShardID, &peer.ConnectedAt); err != nil {
			return nil, fmt.Errorf("store: scan peer: %w", err)
		}
		out = append(out, peer)
	}
	return out, rows.Err()
}

// UpsertChannel implements the createChannel semantics of §4.2: update the
// existing row's auth/store fields if (appId, name) already exists, else
// insert a new one.
func (p *PostgresStore) UpsertChannel(ctx context.Context, appID, name string, auth domain.ChannelAuth, store bool) (*domain.Channel, error) {
	id := uuid.NewString()
	var ch domain.Channel
	err := p.pool.QueryRow(ctx, `
		INSERT INTO channel (id, app_id, name, auth, store)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (app_id, name) DO UPDATE SET auth = EXCLUDED.auth, store = EXCLUDED.store
		RETURNING id, app_id, name, auth, store
	`, id, appID, name, auth, store).Scan(&ch.ID, &ch.AppID, &ch.Name, &ch.Auth, &ch.Store)
	if err != nil {
		return nil, fmt.Errorf("store: upsert channel: %w", err)
	}
	return &ch, nil
}

func (p *PostgresStore) GetChannel(ctx context.Context, appID, channelID string) (*domain.Channel, error) {
	var ch domain.Channel
	err := p.pool.QueryRow(ctx, `
		SELECT id, app_id, name, auth, store FROM channel WHERE app_id = $1 AND id = $2
	`, appID, channelID).Scan(&ch.ID, &ch.AppID, &ch.Name, &ch.Auth, &ch.Store)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get channel: %w", err)
	}
	return &ch, nil
}

// DeleteChannel cascades to subscriptions and stored messages via the
// schema's ON DELETE CASCADE foreign keys (§6 schema).
func (p *PostgresStore) DeleteChannel(ctx context.Context, appID, channelID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM channel WHERE app_id = $1 AND id = $2`, appID, channelID)
	if err != nil {
		return fmt.Errorf("store: delete channel: %w", err)
	}
	return nil
}

// Subscribe inserts the subscription row, tolerating the uniqueness
// conflict as a no-op success per §4.2's duplicate-subscribe rule.
func (p *PostgresStore) Subscribe(ctx context.Context, appID, peerID, channelID string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO peer_channel_subscription (id, app_id, peer_id, channel_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (app_id, peer_id, channel_id) DO NOTHING
	`, uuid.NewString(), appID, peerID, channelID)
	if err != nil {
		return false, fmt.Errorf("store: subscribe: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresStore) Unsubscribe(ctx context.Context, appID, peerID, channelID string) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM peer_channel_subscription
		WHERE app_id = $1 AND peer_id = $2 AND channel_id = $3
	`, appID, peerID, channelID)
	if err != nil {
		return fmt.Errorf("store: unsubscribe: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) IsSubscribed(ctx context.Context, appID, peerID, channelID string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM peer_channel_subscription
			WHERE app_id = $1 AND peer_id = $2 AND channel_id = $3
		)
	`, appID, peerID, channelID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: is subscribed: %w", err)
	}
	return exists, nil
}

func (p *PostgresStore) ListChannelSubscriberPeerIDs(ctx context.Context, appID, channelID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT peer_id FROM peer_channel_subscription WHERE app_id = $1 AND channel_id = $2
	`, appID, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: list channel subscribers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan subscriber: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListPeerChannelIDs(ctx context.Context, appID, peerID string) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT channel_id FROM peer_channel_subscription WHERE app_id = $1 AND peer_id = $2
	`, appID, peerID)
	if err != nil {
		return nil, fmt.Errorf("store: list peer channels: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan channel id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateStoredMessage(ctx context.Context, m *domain.StoredMessage) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO stored_channel_message (id, app_id, channel_id, created_at, data)
		VALUES ($1, $2, $3, now(), $4)
	`, m.ID, m.AppID, m.ChannelID, m.Data)
	if err != nil {
		return fmt.Errorf("store: create stored message: %w", err)
	}
	return nil
}

func (p *PostgresStore) DeleteStoredMessages(ctx context.Context, appID, channelID string, messageIDs []string) error {
	var err error
	if len(messageIDs) == 0 {
		_, err = p.pool.Exec(ctx, `
			DELETE FROM stored_channel_message WHERE app_id = $1 AND channel_id = $2
		`, appID, channelID)
	} else {
		_, err = p.pool.Exec(ctx, `
			DELETE FROM stored_channel_message
			WHERE app_id = $1 AND channel_id = $2 AND id = ANY($3)
		`, appID, channelID, messageIDs)
	}
	if err != nil {
		return fmt.Errorf("store: delete stored messages: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListStoredMessageRefs(ctx context.Context, appID, channelID string) ([]domain.StoredMessageRef, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, created_at FROM stored_channel_message
		WHERE app_id = $1 AND channel_id = $2
		ORDER BY created_at ASC
	`, appID, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: list stored message refs: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredMessageRef
	for rows.Next() {
		var ref domain.StoredMessageRef
		if err := rows.Scan(&ref.ID, &ref.Date); err != nil {
			return nil, fmt.Errorf("store: scan stored message ref: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetStoredMessages(ctx context.Context, appID, channelID string, messageIDs []string) ([]domain.StoredMessage, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, app_id, channel_id, created_at, data
		FROM stored_channel_message
		WHERE app_id = $1 AND channel_id = $2 AND id = ANY($3)
		ORDER BY created_at ASC
	`, appID, channelID, messageIDs)
	if err != nil {
		return nil, fmt.Errorf("store: get stored messages: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredMessage
	for rows.Next() {
		var m domain.StoredMessage
		if err := rows.Scan(&m.ID, &m.AppID, &m.ChannelID, &m.CreatedAt, &m.Data); err != nil {
			return nil, fmt.Errorf("store: scan stored message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReportShardLoad upserts the persistent (handlerId, connectionCount) table
// §4.3 describes as the coordinator's advisory placement snapshot.
func (p *PostgresStore) ReportShardLoad(ctx context.Context, handlerID string, connectionCount int) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO shard_load (handler_id, connection_count)
		VALUES ($1, $2)
		ON CONFLICT (handler_id) DO UPDATE SET connection_count = EXCLUDED.connection_count
	`, handlerID, connectionCount)
	if err != nil {
		return fmt.Errorf("store: report shard load: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListShardLoads(ctx context.Context) ([]domain.ShardLoad, error) {
	rows, err := p.pool.Query(ctx, `SELECT handler_id, connection_count FROM shard_load`)
	if err != nil {
		return nil, fmt.Errorf("store: list shard loads: %w", err)
	}
	defer rows.Close()

	var out []domain.ShardLoad
	for rows.Next() {
		var sl domain.ShardLoad
		if err := rows.Scan(&sl.HandlerID, &sl.ConnectionCount); err != nil {
			return nil, fmt.Errorf("store: scan shard load: %w", err)
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)

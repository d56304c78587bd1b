package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wundero/sinkr/internal/domain"
)

func TestMemoryStore_SubscribeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created, err := s.Subscribe(ctx, "app1", "peer1", "chan1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Subscribe(ctx, "app1", "peer1", "chan1")
	require.NoError(t, err)
	assert.False(t, created, "duplicate subscribe must report created=false")

	ids, err := s.ListChannelSubscriberPeerIDs(ctx, "app1", "chan1")
	require.NoError(t, err)
	assert.Equal(t, []string{"peer1"}, ids)
}

func TestMemoryStore_DeletePeerCascadesSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, _ = s.Subscribe(ctx, "app1", "peer1", "c1")
	_, _ = s.Subscribe(ctx, "app1", "peer1", "c2")

	require.NoError(t, s.DeletePeer(ctx, "app1", "peer1"))

	ids, err := s.ListPeerChannelIDs(ctx, "app1", "peer1")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMemoryStore_DeleteChannelCascadesSubscriptionsAndStoredMessages(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ch, err := s.UpsertChannel(ctx, "app1", "general", domain.AuthPublic, true)
	require.NoError(t, err)

	_, _ = s.Subscribe(ctx, "app1", "peer1", ch.ID)
	require.NoError(t, s.CreateStoredMessage(ctx, &domain.StoredMessage{ID: "m1", AppID: "app1", ChannelID: ch.ID, Data: []byte("{}")}))

	require.NoError(t, s.DeleteChannel(ctx, "app1", ch.ID))

	subs, err := s.ListChannelSubscriberPeerIDs(ctx, "app1", ch.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)

	refs, err := s.ListStoredMessageRefs(ctx, "app1", ch.ID)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestMemoryStore_UpsertChannelUpdatesExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first, err := s.UpsertChannel(ctx, "app1", "general", domain.AuthPublic, false)
	require.NoError(t, err)

	second, err := s.UpsertChannel(ctx, "app1", "general", domain.AuthPresence, true)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "upsert must keep the same channelId")
	assert.Equal(t, domain.AuthPresence, second.Auth)
	assert.True(t, second.Store)
}

func TestMemoryStore_StoredMessagesOrderedByCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ch, err := s.UpsertChannel(ctx, "app1", "general", domain.AuthPublic, true)
	require.NoError(t, err)

	require.NoError(t, s.CreateStoredMessage(ctx, &domain.StoredMessage{ID: "m1", AppID: "app1", ChannelID: ch.ID, Data: []byte("1")}))
	require.NoError(t, s.CreateStoredMessage(ctx, &domain.StoredMessage{ID: "m2", AppID: "app1", ChannelID: ch.ID, Data: []byte("2")}))

	msgs, err := s.GetStoredMessages(ctx, "app1", ch.ID, []string{"m2", "m1"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestMemoryStore_GetAppNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetApp(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

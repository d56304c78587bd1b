package channelengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wundero/sinkr/internal/domain"
	"github.com/Wundero/sinkr/internal/protocol"
	"github.com/Wundero/sinkr/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore(domain.App{ID: "app1", SecretKey: "K", Enabled: true})
	return New(s), s
}

func mustCreatePeer(t *testing.T, s *store.MemoryStore, id string) {
	t.Helper()
	require.NoError(t, s.CreatePeer(context.Background(), &domain.Peer{ID: id, AppID: "app1", Type: domain.PeerSink}))
}

func TestSubscribe_PresenceJoinListsOtherMembers(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	ch, err := e.CreateChannel(ctx, "app1", "C", domain.AuthPresence, false)
	require.NoError(t, err)

	mustCreatePeer(t, s, "s1")
	mustCreatePeer(t, s, "s2")
	mustCreatePeer(t, s, "s3")
	require.NoError(t, e.Authenticate(ctx, "app1", "s1", "u1", []byte(`{"nick":"a"}`)))
	require.NoError(t, e.Authenticate(ctx, "app1", "s2", "u2", []byte(`{"nick":"b"}`)))
	require.NoError(t, e.Authenticate(ctx, "app1", "s3", "u3", []byte(`{"nick":"c"}`)))

	_, err = e.Subscribe(ctx, "app1", "s1", ch.ID)
	require.NoError(t, err)
	_, err = e.Subscribe(ctx, "app1", "s2", ch.ID)
	require.NoError(t, err)

	result, err := e.Subscribe(ctx, "app1", "s3", ch.ID)
	require.NoError(t, err)
	assert.True(t, result.Created)
	require.Len(t, result.OtherMembers, 2)
	ids := []string{result.OtherMembers[0].ID, result.OtherMembers[1].ID}
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)
	for _, m := range result.OtherMembers {
		assert.NotEmpty(t, m.UserInfo, "presence channel must include userInfo")
	}
}

func TestSubscribe_PrivateChannelRejectsUnauthenticatedPeer(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	ch, err := e.CreateChannel(ctx, "app1", "C", domain.AuthPrivate, false)
	require.NoError(t, err)
	mustCreatePeer(t, s, "s1")

	_, err = e.Subscribe(ctx, "app1", "s1", ch.ID)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrPeerNotAuthed, protocol.AsRouteError(err))

	subscribed, err := s.IsSubscribed(ctx, "app1", "s1", ch.ID)
	require.NoError(t, err)
	assert.False(t, subscribed)
}

func TestSubscribe_PublicChannelAllowsUnauthenticatedPeer(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	ch, err := e.CreateChannel(ctx, "app1", "C", domain.AuthPublic, false)
	require.NoError(t, err)
	mustCreatePeer(t, s, "s1")

	result, err := e.Subscribe(ctx, "app1", "s1", ch.ID)
	require.NoError(t, err)
	assert.True(t, result.Created)
}

func TestSubscribe_DuplicateIsIdempotent(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	ch, err := e.CreateChannel(ctx, "app1", "C", domain.AuthPublic, false)
	require.NoError(t, err)
	mustCreatePeer(t, s, "s1")

	first, err := e.Subscribe(ctx, "app1", "s1", ch.ID)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := e.Subscribe(ctx, "app1", "s1", ch.ID)
	require.NoError(t, err)
	assert.False(t, second.Created)

	ids, err := s.ListChannelSubscriberPeerIDs(ctx, "app1", ch.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestStoredMessageReplay(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	ch, err := e.CreateChannel(ctx, "app1", "C", domain.AuthPublic, true)
	require.NoError(t, err)

	_, err = e.SendChannelMessage(ctx, "app1", ch.ID, "msg-1", []byte(`{"n":1}`))
	require.NoError(t, err)

	mustCreatePeer(t, s, "s1")
	result, err := e.Subscribe(ctx, "app1", "s1", ch.ID)
	require.NoError(t, err)
	require.Len(t, result.StoredRefs, 1)
	assert.Equal(t, "msg-1", result.StoredRefs[0].ID)

	msgs, err := e.RequestedStoredMessages(ctx, "app1", ch.ID, []string{"msg-1"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "msg-1", msgs[0].ID)
}

func TestUnsubscribe_RequiresExistingSubscription(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	ch, err := e.CreateChannel(ctx, "app1", "C", domain.AuthPublic, false)
	require.NoError(t, err)
	mustCreatePeer(t, s, "s1")

	_, err = e.Unsubscribe(ctx, "app1", "s1", ch.ID)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrPeerNotSubscribed, protocol.AsRouteError(err))
}

func TestReapPeer_NotifiesOnlySharedChannelCoMembers(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	c1, err := e.CreateChannel(ctx, "app1", "C1", domain.AuthPublic, false)
	require.NoError(t, err)
	c2, err := e.CreateChannel(ctx, "app1", "C2", domain.AuthPublic, false)
	require.NoError(t, err)

	mustCreatePeer(t, s, "s1")
	mustCreatePeer(t, s, "s2")

	_, err = e.Subscribe(ctx, "app1", "s1", c1.ID)
	require.NoError(t, err)
	_, err = e.Subscribe(ctx, "app1", "s2", c1.ID)
	require.NoError(t, err)
	_, err = e.Subscribe(ctx, "app1", "s1", c2.ID)
	require.NoError(t, err)

	result, err := e.ReapPeer(ctx, "app1", "s1")
	require.NoError(t, err)
	require.Len(t, result.PerChannel, 1, "s2 never joined C2, so only C1 should notify")
	assert.Equal(t, c1.ID, result.PerChannel[0].ChannelID)
	assert.Equal(t, []string{"s2"}, result.PerChannel[0].RemainingPeers)

	remainingC1, err := s.ListPeerChannelIDs(ctx, "app1", "s1")
	require.NoError(t, err)
	assert.Empty(t, remainingC1)
}

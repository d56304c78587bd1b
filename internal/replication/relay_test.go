package replication

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Wundero/sinkr/internal/channelengine"
	"github.com/Wundero/sinkr/internal/domain"
	"github.com/Wundero/sinkr/internal/protocol"
)

func TestEnvelope_SubscribeRoundTrip(t *testing.T) {
	env := Envelope{
		Kind:   KindSubscribe,
		Origin: "replica-a",
		AppID:  "app1",
		PeerID: "s3",
		SubscribeResult: &channelengine.SubscribeResult{
			Created:      true,
			Channel:      &domain.Channel{ID: "c1", AppID: "app1", Name: "room", Auth: domain.AuthPresence},
			Joiner:       domain.Member{ID: "s3", UserInfo: json.RawMessage(`{"nick":"c"}`)},
			OtherMembers: []domain.Member{{ID: "s1"}, {ID: "s2"}},
		},
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, env.Kind, decoded.Kind)
	assert.Equal(t, env.PeerID, decoded.PeerID)
	require.NotNil(t, decoded.SubscribeResult)
	assert.True(t, decoded.SubscribeResult.Created)
	assert.Equal(t, "c1", decoded.SubscribeResult.Channel.ID)
	assert.Len(t, decoded.SubscribeResult.OtherMembers, 2)
}

func TestEnvelope_BroadcastRoundTrip(t *testing.T) {
	env := Envelope{
		Kind:    KindBroadcast,
		Origin:  "replica-b",
		AppID:   "app1",
		ID:      "m1",
		Event:   "x",
		Payload: protocol.MessagePayload{Type: protocol.PayloadPlain, Message: json.RawMessage(`{"n":1}`)},
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, KindBroadcast, decoded.Kind)
	assert.JSONEq(t, `{"n":1}`, string(decoded.Payload.Message))
}

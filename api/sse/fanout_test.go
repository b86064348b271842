package sse

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sumire-games/nightdistrict/server/game/player"
	"github.com/sumire-games/nightdistrict/server/game/world"
	"github.com/sumire-games/nightdistrict/server/testutil"
	"go.uber.org/zap"
)

func syncPacket(t *testing.T, actorID int) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id": actorID, "class": "warden", "x": 1.5, "y": 2.5,
	})
	require.NoError(t, err)
	pkt, err := json.Marshal(&player.Packet{Type: "actor_sync", Payload: payload})
	require.NoError(t, err)
	return pkt
}

func TestFanout_PublishesAndMirrors(t *testing.T) {
	c, ps := testutil.SetupTestCache(t)
	f := NewFanout(ps, c, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgCh, unsub, err := ps.Subscribe(ctx, world.SyncChannel(3))
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, f.Publish(context.Background(), world.SyncChannel(3), syncPacket(t, 7)))

	select {
	case msg := <-msgCh:
		assert.Equal(t, world.SyncChannel(3), msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("expected relayed sync message")
	}

	states, err := c.HGetAll(context.Background(), world.StateKey(3))
	require.NoError(t, err)
	require.Contains(t, states, "7")
	var st struct {
		X float64 `json:"x"`
	}
	require.NoError(t, json.Unmarshal([]byte(states["7"]), &st))
	assert.Equal(t, 1.5, st.X)
}

func TestFanout_IgnoresNonSyncChannels(t *testing.T) {
	c, ps := testutil.SetupTestCache(t)
	f := NewFanout(ps, c, zap.NewNop())

	require.NoError(t, f.Publish(context.Background(), "announce", []byte("maintenance at midnight")))

	states, err := c.HGetAll(context.Background(), world.StateKey(0))
	require.NoError(t, err)
	assert.Empty(t, states)
}

func TestFanout_IgnoresNonActorPackets(t *testing.T) {
	c, ps := testutil.SetupTestCache(t)
	f := NewFanout(ps, c, zap.NewNop())

	pkt, _ := json.Marshal(&player.Packet{Type: "viewer_sync"})
	require.NoError(t, f.Publish(context.Background(), world.SyncChannel(5), pkt))

	states, err := c.HGetAll(context.Background(), world.StateKey(5))
	require.NoError(t, err)
	assert.Empty(t, states)
}

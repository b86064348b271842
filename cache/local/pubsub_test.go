package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvOne(t *testing.T, ch <-chan *LocalMessage) *LocalMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestPubSub_DeliversToSubscriber(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "district:1:sync")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "district:1:sync", "hello"))

	msg := recvOne(t, ch)
	assert.Equal(t, "district:1:sync", msg.Channel)
	assert.Equal(t, "hello", msg.Payload)
}

func TestPubSub_SubscribeSpansChannels(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "district:1:sync", "announce")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "announce", "closing soon"))
	msg := recvOne(t, ch)
	assert.Equal(t, "announce", msg.Channel)

	require.NoError(t, ps.Publish(ctx, "district:1:sync", "state"))
	msg = recvOne(t, ch)
	assert.Equal(t, "district:1:sync", msg.Channel)
}

func TestPubSub_CancelClosesAndDetaches(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "ch")
	require.NoError(t, err)
	cancel()

	_, open := <-ch
	assert.False(t, open, "channel should be closed after cancel")

	// Publishing after the last subscriber left must not block or error.
	assert.NoError(t, ps.Publish(ctx, "ch", "msg"))
}

func TestPubSub_FanOut(t *testing.T) {
	ps := NewPubSub(16)
	ctx := context.Background()

	ch1, cancel1, err := ps.Subscribe(ctx, "broadcast")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := ps.Subscribe(ctx, "broadcast")
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, ps.Publish(ctx, "broadcast", "world"))
	assert.Equal(t, "world", recvOne(t, ch1).Payload)
	assert.Equal(t, "world", recvOne(t, ch2).Payload)
}

func TestPubSub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	ps := NewPubSub(1)
	ctx := context.Background()

	ch, cancel, err := ps.Subscribe(ctx, "busy")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, ps.Publish(ctx, "busy", "first"))
	require.NoError(t, ps.Publish(ctx, "busy", "dropped"))

	assert.Equal(t, "first", recvOne(t, ch).Payload)
	select {
	case msg := <-ch:
		t.Fatalf("expected overflow message to be dropped, got %q", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

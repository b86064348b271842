package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sumire-games/nightdistrict/server/cache"
	"github.com/sumire-games/nightdistrict/server/game/player"
	"github.com/sumire-games/nightdistrict/server/game/world"
	"go.uber.org/zap"
)

// Fanout relays actor sync packets from district rooms to pub/sub
// subscribers and mirrors the latest state of each actor into a cache hash
// so new SSE clients can catch up without waiting for the next sync.
type Fanout struct {
	pubsub cache.PubSub
	c      cache.Cache
	logger *zap.Logger
}

// NewFanout creates a Fanout. It satisfies the room Publisher contract.
func NewFanout(pubsub cache.PubSub, c cache.Cache, logger *zap.Logger) *Fanout {
	return &Fanout{pubsub: pubsub, c: c, logger: logger}
}

// Publish forwards the payload to the pub/sub channel and updates the
// district's latest-state hash when the payload is an actor sync.
func (f *Fanout) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := f.pubsub.Publish(ctx, channel, string(payload)); err != nil {
		return err
	}

	var districtID int
	if _, err := fmt.Sscanf(channel, "district:%d:sync", &districtID); err != nil {
		return nil // not a district sync channel, nothing to mirror
	}

	var pkt player.Packet
	if err := json.Unmarshal(payload, &pkt); err != nil || pkt.Type != "actor_sync" {
		return nil
	}
	var st struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(pkt.Payload, &st); err != nil {
		return nil
	}

	if err := f.c.HSet(ctx, world.StateKey(districtID), strconv.Itoa(st.ID), string(pkt.Payload)); err != nil {
		f.logger.Warn("actor state mirror failed",
			zap.Int("district_id", districtID),
			zap.Int("actor_id", st.ID),
			zap.Error(err))
	}
	return nil
}

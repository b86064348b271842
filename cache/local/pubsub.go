package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

// LocalPubSub fans messages out to in-process subscribers. It mirrors the
// redis pub/sub semantics the adapter exposes: fire-and-forget delivery,
// slow subscribers lose messages instead of blocking publishers.
type LocalPubSub struct {
	mu      sync.RWMutex
	subs    map[string]map[chan *LocalMessage]struct{}
	bufSize int
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subs:    make(map[string]map[chan *LocalMessage]struct{}),
		bufSize: bufSize,
	}
}

// Publish delivers message to every subscriber of channel. Subscribers whose
// buffer is full are skipped.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for ch := range ps.subs[channel] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe registers one receiving channel across all the given channels.
// The returned cancel function removes the registrations and closes the
// channel; it must be called exactly once.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	ch := make(chan *LocalMessage, ps.bufSize)

	ps.mu.Lock()
	for _, name := range channels {
		set, ok := ps.subs[name]
		if !ok {
			set = make(map[chan *LocalMessage]struct{})
			ps.subs[name] = set
		}
		set[ch] = struct{}{}
	}
	ps.mu.Unlock()

	cancel := func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		for _, name := range channels {
			if set, ok := ps.subs[name]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(ps.subs, name)
				}
			}
		}
		close(ch)
	}

	return ch, cancel, nil
}

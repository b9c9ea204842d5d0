package store

import (
	"context"
	"sync"

	"github.com/jacentio/strata/internal/shard"
)

// Broadcaster emits zero-payload cache-invalidation signals.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string) error
}

// NopBroadcaster discards every signal.
type NopBroadcaster struct{}

// Broadcast implements Broadcaster.
func (NopBroadcaster) Broadcast(context.Context, string) error { return nil }

// LocalBroadcaster delivers signals to in-process subscribers.
type LocalBroadcaster struct {
	mu   sync.RWMutex
	subs map[string][]func(channel string)
}

// NewLocalBroadcaster creates an empty LocalBroadcaster.
func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{subs: make(map[string][]func(string))}
}

// Subscribe registers fn for signals on channel.
func (b *LocalBroadcaster) Subscribe(channel string, fn func(channel string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[channel] = append(b.subs[channel], fn)
}

// Broadcast implements Broadcaster.
func (b *LocalBroadcaster) Broadcast(_ context.Context, channel string) error {
	b.mu.RLock()
	subs := append([]func(string){}, b.subs[channel]...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(channel)
	}
	return nil
}

// CacheChannel returns the invalidation channel for the tenant of ctx.
func (s *Store) CacheChannel(ctx context.Context) string {
	return shard.Channel(s.config.Cache.EventName, s.config.TenantKey(ctx))
}

// Notify reports a change: it broadcasts the cache-invalidation signal when
// caching is enabled, then runs the change hook.
func (s *Store) Notify(ctx context.Context, ev ChangeEvent) error {
	if ev.Tenant == "" {
		ev.Tenant = s.config.TenantKey(ctx)
	}
	if s.config.Cache.Enabled {
		channel := shard.Channel(s.config.Cache.EventName, ev.Tenant)
		if err := s.config.Broadcaster.Broadcast(ctx, channel); err != nil {
			s.logger.Warn("failed to broadcast cache invalidation",
				"channel", channel,
				"type", ev.Type,
				"error", err,
			)
		}
	}
	return s.config.OnEntityChanged(ctx, ev)
}

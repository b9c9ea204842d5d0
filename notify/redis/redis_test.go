package redis_test

import (
	"context"
	"errors"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/strata/adapters/memory"
	"github.com/jacentio/strata/notify/redis"
	"github.com/jacentio/strata/store"
)

type published struct {
	channel string
	message any
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *goredis.IntCmd {
	f.sent = append(f.sent, published{channel, message})
	return goredis.NewIntResult(1, f.err)
}

func TestBroadcast(t *testing.T) {
	fake := &fakePublisher{}
	b := redis.New(fake)

	require.NoError(t, b.Broadcast(context.Background(), "cache.clean"))
	assert.Equal(t, []published{{"cache.clean", ""}}, fake.sent)
}

func TestBroadcastError(t *testing.T) {
	fake := &fakePublisher{err: errors.New("connection reset")}
	err := redis.New(fake).Broadcast(context.Background(), "cache.clean")
	assert.ErrorContains(t, err, "connection reset")
}

func TestStorePublishesPerTenantChannel(t *testing.T) {
	fake := &fakePublisher{}
	cfg := store.DefaultConfig()
	cfg.Adapter = func(context.Context, string) (store.Adapter, error) {
		return memory.New(memory.Config{}), nil
	}
	cfg.TenantKey = store.TenantFromContext
	cfg.Cache.Enabled = true
	cfg.Broadcaster = redis.New(fake)
	s, err := store.New(cfg)
	require.NoError(t, err)

	ctx := store.WithTenant(context.Background(), "acme")
	_, err = s.Create(ctx, store.Entity{"name": "x"}, store.CallOptions{})
	require.NoError(t, err)

	require.Len(t, fake.sent, 1)
	assert.Equal(t, s.CacheChannel(ctx), fake.sent[0].channel)
	assert.NotEqual(t, "cache.clean", fake.sent[0].channel)
}

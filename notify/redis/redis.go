// Package redis broadcasts cache-invalidation signals over Redis PUBLISH.
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Publisher is the subset of a go-redis client used for broadcasting.
// *goredis.Client and *goredis.ClusterClient satisfy it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// Broadcaster implements store.Broadcaster. Signals carry an empty payload.
type Broadcaster struct {
	client Publisher
}

// New wraps an existing client.
func New(client Publisher) *Broadcaster {
	return &Broadcaster{client: client}
}

// Dial connects to addr and wraps the client. The connection is verified
// with PING.
func Dial(ctx context.Context, addr string) (*Broadcaster, *goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return New(client), client, nil
}

// Broadcast publishes an empty message on channel.
func (b *Broadcaster) Broadcast(ctx context.Context, channel string) error {
	if err := b.client.Publish(ctx, channel, "").Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultTenant is the tenant key used when no TenantKey hook is configured.
const DefaultTenant = "default"

// CacheConfig controls the cache-invalidation broadcast.
type CacheConfig struct {
	Enabled bool

	// EventName is the broadcast channel.
	// Default: "cache.clean"
	EventName string
}

// Config holds configuration for the Store.
type Config struct {
	// Adapter builds a new adapter for a tenant. Required.
	Adapter AdapterFactory

	// Primary describes the id field.
	// Default: {Name: "id", Column: "id"}
	Primary PrimaryField

	// AutoReconnect retries failed connections until they succeed.
	// Default: true
	AutoReconnect bool

	// ReconnectDelay is the fixed delay between connection attempts.
	// Default: 1s
	ReconnectDelay time.Duration

	// Retryer overrides the reconnect schedule. Default: FixedDelayRetryer
	// with ReconnectDelay and no retry limit.
	Retryer Retryer

	// DefaultPageSize is used by list queries without a page size.
	// Default: 10
	DefaultPageSize int

	// MaxLimit clamps page sizes and bare limits. 0 means unlimited.
	MaxLimit int

	// DefaultScopes apply to every query unless it disables scopes.
	DefaultScopes []string

	// Scopes registers named filter fragments or functions.
	Scopes map[string]Scope

	Cache CacheConfig

	// SoftDelete turns Remove into an update of the entity.
	SoftDelete bool

	// Indexes are created on every adapter after it connects.
	Indexes []Index

	// MaxAdapters bounds the number of connected tenants. The least recently
	// used adapters are disconnected beyond it. 0 means unbounded.
	MaxAdapters int

	// TenantKey resolves the tenant from a call context.
	// Default: always DefaultTenant
	TenantKey func(ctx context.Context) string

	Codec           IDCodec
	Validator       Validator
	Transformer     Transformer
	Broadcaster     Broadcaster
	OnEntityChanged ChangeHook

	Logger *slog.Logger
}

// DefaultConfig returns defaults for a single-tenant store. Adapter must
// still be set.
func DefaultConfig() Config {
	return Config{
		Primary:         PrimaryField{Name: "id", Column: "id"},
		AutoReconnect:   true,
		ReconnectDelay:  time.Second,
		DefaultPageSize: 10,
		Cache:           CacheConfig{EventName: "cache.clean"},
	}
}

// validate fills unset values and clamps the rest.
func (c *Config) validate() {
	if c.Primary.Name == "" {
		c.Primary.Name = "id"
	}
	if c.Primary.Column == "" {
		c.Primary.Column = c.Primary.Name
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.Retryer == nil {
		c.Retryer = FixedDelayRetryer{Delay: c.ReconnectDelay}
	}
	if c.DefaultPageSize < 1 {
		c.DefaultPageSize = 10
	}
	if c.MaxLimit < 0 {
		c.MaxLimit = 0
	}
	if c.MaxAdapters < 0 {
		c.MaxAdapters = 0
	}
	if c.Cache.EventName == "" {
		c.Cache.EventName = "cache.clean"
	}
	if c.TenantKey == nil {
		c.TenantKey = func(context.Context) string { return DefaultTenant }
	}
	if c.Codec == nil {
		c.Codec = IdentityCodec{}
	}
	if c.Validator == nil {
		c.Validator = ValidatorFunc(passThrough)
	}
	if c.Transformer == nil {
		c.Transformer = &DefaultTransformer{Primary: c.Primary, Codec: c.Codec}
	}
	if c.Broadcaster == nil {
		c.Broadcaster = NopBroadcaster{}
	}
	if c.OnEntityChanged == nil {
		c.OnEntityChanged = func(context.Context, ChangeEvent) error { return nil }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func passThrough(_ context.Context, payload Entity, _ ValidateOptions) (Entity, error) {
	return payload, nil
}

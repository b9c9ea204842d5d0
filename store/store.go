package store

import (
	"context"
	"errors"
	"log/slog"
)

// Store orchestrates entity access over per-tenant adapters.
type Store struct {
	config   Config
	registry *registry
	logger   *slog.Logger
}

// New creates a new Store instance.
func New(config Config) (*Store, error) {
	if config.Adapter == nil {
		return nil, errors.New("strata: config.Adapter is required")
	}
	config.validate()
	s := &Store{
		config: config,
		logger: config.Logger,
	}
	s.registry = newRegistry(&s.config)
	return s, nil
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

// Adapter returns the connected adapter for the tenant of ctx, creating and
// connecting it on first use.
func (s *Store) Adapter(ctx context.Context) (Adapter, error) {
	return s.registry.get(ctx, s.config.TenantKey(ctx))
}

// DisconnectAll disconnects every adapter and empties the registry.
func (s *Store) DisconnectAll(ctx context.Context) error {
	return s.registry.disconnectAll(ctx)
}

// Find returns a page of entities matching params.
func (s *Store) Find(ctx context.Context, params Params, opts CallOptions) ([]Entity, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	q, err := s.Sanitize(params, false, true)
	if err != nil {
		return nil, err
	}
	if err := s.applyScopes(ctx, q); err != nil {
		return nil, err
	}

	entities, err := adapter.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.transform(ctx, entities, q, opts)
}

// Stream returns a cursor over the entities matching params.
func (s *Store) Stream(ctx context.Context, params Params, opts CallOptions) (Cursor, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	q, err := s.Sanitize(params, false, true)
	if err != nil {
		return nil, err
	}
	if err := s.applyScopes(ctx, q); err != nil {
		return nil, err
	}

	cur, err := adapter.FindStream(ctx, q)
	if err != nil {
		return nil, err
	}
	if opts.SkipTransform {
		return cur, nil
	}
	return Map(cur, func(ctx context.Context, e Entity) (Entity, error) {
		out, err := s.config.Transformer.Transform(ctx, []Entity{e}, q)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out[0], nil
	}), nil
}

// Count returns the number of entities matching params, ignoring pagination.
func (s *Store) Count(ctx context.Context, params Params) (int64, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return 0, err
	}
	q, err := s.Sanitize(params, true, false)
	if err != nil {
		return 0, err
	}
	if err := s.applyScopes(ctx, q); err != nil {
		return 0, err
	}
	return adapter.Count(ctx, q)
}

// FindOne returns the first entity matching params, or nil.
func (s *Store) FindOne(ctx context.Context, params Params, opts CallOptions) (Entity, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return nil, err
	}
	q, err := s.Sanitize(params, true, false)
	if err != nil {
		return nil, err
	}
	q.Limit = 1
	if err := s.applyScopes(ctx, q); err != nil {
		return nil, err
	}

	entity, err := adapter.FindOne(ctx, q.Filter)
	if err != nil || entity == nil {
		return nil, err
	}
	return s.transformOne(ctx, entity, q, opts)
}

// Clear removes every entity of the tenant.
func (s *Store) Clear(ctx context.Context, _ Params) (int64, error) {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return 0, err
	}
	return adapter.Clear(ctx)
}

// CreateIndexes creates indexes on the tenant's adapter.
func (s *Store) CreateIndexes(ctx context.Context, indexes ...Index) error {
	adapter, err := s.Adapter(ctx)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if err := adapter.CreateIndex(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) transform(ctx context.Context, entities []Entity, q *Query, opts CallOptions) ([]Entity, error) {
	if opts.SkipTransform || len(entities) == 0 {
		return entities, nil
	}
	return s.config.Transformer.Transform(ctx, entities, q)
}

func (s *Store) transformOne(ctx context.Context, entity Entity, q *Query, opts CallOptions) (Entity, error) {
	if entity == nil {
		return nil, nil
	}
	out, err := s.transform(ctx, []Entity{entity}, q, opts)
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

package store

import "context"

// Adapter is the storage capability set the orchestrator delegates to.
// Implementations report a missing record from FindOne as (nil, nil) and
// from the by-id writers as ErrNotFound.
type Adapter interface {
	Connect(ctx context.Context) error

	Find(ctx context.Context, q *Query) ([]Entity, error)
	FindOne(ctx context.Context, filter Filter) (Entity, error)
	FindStream(ctx context.Context, q *Query) (Cursor, error)
	Count(ctx context.Context, q *Query) (int64, error)

	Insert(ctx context.Context, e Entity) (Entity, error)
	InsertMany(ctx context.Context, es []Entity) ([]Entity, error)
	UpdateByID(ctx context.Context, id any, patch Entity) (Entity, error)
	ReplaceByID(ctx context.Context, id any, e Entity) (Entity, error)
	RemoveByID(ctx context.Context, id any) (Entity, error)

	// Clear removes every record and reports how many were removed.
	Clear(ctx context.Context) (int64, error)

	CreateIndex(ctx context.Context, idx Index) error
}

// Disconnecter is implemented by adapters holding releasable resources.
type Disconnecter interface {
	Disconnect(ctx context.Context) error
}

// AdapterFactory builds a new, unconnected adapter for a tenant.
type AdapterFactory func(ctx context.Context, tenant string) (Adapter, error)

// Package store provides a storage-agnostic entity access layer.
//
// A [Store] exposes one CRUD and query contract over interchangeable storage
// adapters, with one connected [Adapter] per tenant.
//
// # Key Features
//
//   - Lazy, at-most-once adapter creation per tenant with auto-reconnect
//   - Parameter sanitization with page/pageSize pagination
//   - Named scopes merged into every query's filter
//   - Id lookups returning one entity, many entities or an id-keyed mapping
//   - Optional secure ids through a pluggable [IDCodec]
//   - Soft or hard deletes
//   - Pull-based streaming with per-item transforms
//   - Change notification and cache-invalidation broadcasts
//
// # Adapters
//
// Adapters implement the [Adapter] interface. Implementations ship in the
// adapters/ directory:
//
//	cfg := store.DefaultConfig()
//	cfg.Adapter = func(ctx context.Context, tenant string) (store.Adapter, error) {
//	    return memory.New(memory.Config{}), nil
//	}
//	s, err := store.New(cfg)
//
// # Multi-tenancy
//
// Config.TenantKey maps a call context to a tenant. [TenantFromContext]
// reads the key set by [WithTenant]:
//
//	cfg.TenantKey = store.TenantFromContext
//	ctx = store.WithTenant(ctx, "acme")
//
// # Scopes
//
// A [Scope] is either a [FilterScope], merged into the filter without
// overriding values the caller set, or a [ScopeFunc]:
//
//	cfg.Scopes = map[string]store.Scope{
//	    "active": store.FilterScope{"status": "active"},
//	}
//	cfg.DefaultScopes = []string{"active"}
//
// Pass "scope": false in params to disable default scopes for one call.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrMissingID] - an id-targeted call had no id ([MissingIDError])
//   - [ErrNotFound] - no entity matched the id ([NotFoundError])
//   - [ErrValidationFailed] - a validator rejected the payload ([ValidationError])
//   - [ErrConnectionFailed] - an adapter could not connect ([ConnectionError])
//   - [ErrDisconnectFailed] - an adapter failed to disconnect ([DisconnectError])
//
// Adapter errors are returned unchanged.
package store

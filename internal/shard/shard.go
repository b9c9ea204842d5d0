// Package shard derives deterministic, tenant-scoped names.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DefaultTenant matches store.DefaultTenant. Signals for it use the bare
// event name so single-tenant subscribers need no suffix.
const DefaultTenant = "default"

// Channel computes the cache-invalidation channel for a tenant.
// The tenant is hashed so arbitrary keys yield safe channel names.
func Channel(eventName, tenant string) string {
	if tenant == "" || tenant == DefaultTenant {
		return eventName
	}
	return fmt.Sprintf("%s.%s", eventName, TenantHash(tenant))
}

// TenantHash computes a short, stable hash of a tenant key.
func TenantHash(tenant string) string {
	h := sha256.Sum256([]byte(tenant))
	return hex.EncodeToString(h[:8])
}

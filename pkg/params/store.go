package params

import (
	"context"
)

// Store is the per-tenant key/value configuration collaborator. Values live
// inside the tenant's own database, so every operation is tenant-scoped.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, tenantID, key string) (string, bool, error)
	// Set writes the value unconditionally.
	Set(ctx context.Context, tenantID, key, value string) error
	// SetIfAbsent writes the value only when the key does not exist yet.
	// Concurrent callers all observe the single winning value on re-read.
	SetIfAbsent(ctx context.Context, tenantID, key, value string) error
}

package creds

import (
	"context"
)

// Principal is the authenticated identity within a tenant.
type Principal struct {
	ID   string
	Name string
}

// Verifier checks submitted credentials against a tenant's user records.
// Implementations return an AccessDenied-kinded error for bad credentials or
// an unreachable tenant; credentials are never stored by callers.
type Verifier interface {
	Verify(ctx context.Context, tenantID, username, password string) (Principal, error)
}

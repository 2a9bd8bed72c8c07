// pkg/secrets/resolver.go
package secrets

import (
	"context"
	"crypto/rand"
	"math/big"
	"strconv"
	"time"

	"tabgate/pkg/apperr"
	"tabgate/pkg/params"
)

const (
	secretKeyParam     = "auth.secret_key"
	tokenLifetimeParam = "auth.token_lifetime"

	secretLength = 16
	alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Resolver provisions the per-tenant signing secret and token lifetime from
// the tenant's config store, generating and persisting defaults on first use.
// Secrets are re-read on every call so rotation in the store takes effect
// without a restart.
type Resolver struct {
	store           params.Store
	defaultLifetime time.Duration
}

func NewResolver(store params.Store, defaultLifetime time.Duration) *Resolver {
	return &Resolver{store: store, defaultLifetime: defaultLifetime}
}

// Resolve returns the tenant's secret and token lifetime.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) ([]byte, time.Duration, error) {
	secret, err := r.getOrCreate(ctx, tenantID, secretKeyParam, randomSecret)
	if err != nil {
		return nil, 0, err
	}
	lifetimeStr, err := r.getOrCreate(ctx, tenantID, tokenLifetimeParam, func() (string, error) {
		return strconv.Itoa(int(r.defaultLifetime / time.Second)), nil
	})
	if err != nil {
		return nil, 0, err
	}
	seconds, err := strconv.Atoi(lifetimeStr)
	if err != nil || seconds <= 0 {
		return nil, 0, apperr.New(apperr.InfrastructureError, "invalid token_lifetime param %q for tenant %s", lifetimeStr, tenantID)
	}
	return []byte(secret), time.Duration(seconds) * time.Second, nil
}

// getOrCreate reads the param, seeding it atomically when absent. The
// re-read after SetIfAbsent guarantees all concurrent first-time callers see
// the same persisted value.
func (r *Resolver) getOrCreate(ctx context.Context, tenantID, key string, generate func() (string, error)) (string, error) {
	value, ok, err := r.store.Get(ctx, tenantID, key)
	if err != nil {
		return "", err
	}
	if ok {
		return value, nil
	}
	def, err := generate()
	if err != nil {
		return "", err
	}
	if err := r.store.SetIfAbsent(ctx, tenantID, key, def); err != nil {
		return "", err
	}
	value, ok, err = r.store.Get(ctx, tenantID, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.New(apperr.InfrastructureError, "param %s vanished after create for tenant %s", key, tenantID)
	}
	return value, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, secretLength)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", apperr.Wrap(apperr.InfrastructureError, err, "generate secret")
		}
		buf[i] = alphanumeric[n.Int64()]
	}
	return string(buf), nil
}

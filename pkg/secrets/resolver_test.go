package secrets

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tabgate/pkg/params"
)

func TestResolveGeneratesAndPersists(t *testing.T) {
	store := params.NewMemoryStore()
	r := NewResolver(store, 86400*time.Second)

	secret, lifetime, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, secret, 16)
	require.Equal(t, 86400*time.Second, lifetime)

	// Same values on re-resolve.
	again, lifetime2, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, secret, again)
	require.Equal(t, lifetime, lifetime2)

	persisted, ok, err := store.Get(context.Background(), "t1", "auth.secret_key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, string(secret), persisted)
}

func TestResolveIsPerTenant(t *testing.T) {
	r := NewResolver(params.NewMemoryStore(), time.Hour)
	a, _, err := r.Resolve(context.Background(), "a")
	require.NoError(t, err)
	b, _, err := r.Resolve(context.Background(), "b")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestResolveHonorsRotatedSecret(t *testing.T) {
	store := params.NewMemoryStore()
	r := NewResolver(store, time.Hour)
	_, _, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)

	require.NoError(t, store.Set(context.Background(), "t1", "auth.secret_key", "rotated-secret-00"))
	secret, _, err := r.Resolve(context.Background(), "t1")
	require.NoError(t, err)
	require.Equal(t, "rotated-secret-00", string(secret))
}

func TestConcurrentFirstResolutionYieldsOneSecret(t *testing.T) {
	store := params.NewMemoryStore()
	r := NewResolver(store, time.Hour)

	const callers = 32
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			secret, _, err := r.Resolve(context.Background(), "t1")
			require.NoError(t, err)
			results[i] = string(secret)
		}(i)
	}
	wg.Wait()
	for _, got := range results[1:] {
		require.Equal(t, results[0], got)
	}
}

func TestResolveRejectsBadLifetimeParam(t *testing.T) {
	store := params.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "t1", "auth.token_lifetime", "not-a-number"))
	r := NewResolver(store, time.Hour)
	_, _, err := r.Resolve(context.Background(), "t1")
	require.Error(t, err)
}

// pkg/params/postgres.go
package params

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tabgate/pkg/apperr"
	"tabgate/pkg/db"
)

// pgStore implements Store backed by a config_params table in each tenant
// database.
type pgStore struct {
	pools *db.Pools
	log   *zap.SugaredLogger

	mu      sync.Mutex
	ensured map[string]struct{}
}

func NewPostgresStore(pools *db.Pools, log *zap.SugaredLogger) Store {
	return &pgStore{pools: pools, log: log, ensured: map[string]struct{}{}}
}

// pool returns the tenant pool with the params table ensured. Idempotent;
// ensured once per tenant per process.
func (s *pgStore) pool(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	pool, err := s.pools.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	_, ok := s.ensured[tenantID]
	s.mu.Unlock()
	if ok {
		return pool, nil
	}
	_, err = pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS config_params (
  key text PRIMARY KEY,
  value text NOT NULL
)`)
	if err != nil {
		return nil, apperr.Wrap(apperr.InfrastructureError, err, "ensure config_params")
	}
	s.mu.Lock()
	s.ensured[tenantID] = struct{}{}
	s.mu.Unlock()
	return pool, nil
}

func (s *pgStore) Get(ctx context.Context, tenantID, key string) (string, bool, error) {
	pool, err := s.pool(ctx, tenantID)
	if err != nil {
		return "", false, err
	}
	var value string
	err = pool.QueryRow(ctx, `SELECT value FROM config_params WHERE key=$1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.InfrastructureError, err, "get param")
	}
	return value, true, nil
}

func (s *pgStore) Set(ctx context.Context, tenantID, key, value string) error {
	pool, err := s.pool(ctx, tenantID)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `INSERT INTO config_params(key,value) VALUES ($1,$2)
	  ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value`, key, value)
	if err != nil {
		return apperr.Wrap(apperr.InfrastructureError, err, "set param")
	}
	return nil
}

func (s *pgStore) SetIfAbsent(ctx context.Context, tenantID, key, value string) error {
	pool, err := s.pool(ctx, tenantID)
	if err != nil {
		return err
	}
	// First writer wins; losers fall through and re-read the winning value.
	_, err = pool.Exec(ctx, `INSERT INTO config_params(key,value) VALUES ($1,$2)
	  ON CONFLICT (key) DO NOTHING`, key, value)
	if err != nil {
		return apperr.Wrap(apperr.InfrastructureError, err, "set param if absent")
	}
	return nil
}

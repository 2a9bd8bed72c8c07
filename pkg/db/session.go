// pkg/db/session.go
package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"tabgate/pkg/apperr"
)

// Opener acquires the transactional handle bound to one in-flight request.
type Opener interface {
	Open(ctx context.Context, tenantID string) (*Session, error)
}

// Sessions opens per-request transactions on tenant pools.
type Sessions struct {
	pools *Pools
}

func NewSessions(pools *Pools) *Sessions { return &Sessions{pools: pools} }

func (s *Sessions) Open(ctx context.Context, tenantID string) (*Session, error) {
	pool, err := s.pools.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.InfrastructureError, err, "begin transaction")
	}
	return &Session{TenantID: tenantID, Tx: tx}, nil
}

// Session is exclusively owned by one request and must be closed exactly once.
type Session struct {
	TenantID string
	Tx       pgx.Tx

	committed bool
	closed    bool
}

// Commit ends the transaction successfully. Close afterwards is a no-op.
func (s *Session) Commit(ctx context.Context) error {
	if s.Tx == nil || s.committed {
		return nil
	}
	if err := s.Tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.InfrastructureError, err, "commit")
	}
	s.committed = true
	return nil
}

// Close rolls back unless committed. Safe to call more than once.
func (s *Session) Close(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true
	if s.Tx != nil && !s.committed {
		_ = s.Tx.Rollback(ctx)
	}
}

// Closed reports whether the handle has been released.
func (s *Session) Closed() bool { return s.closed }

// pkg/creds/postgres.go
package creds

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"tabgate/pkg/apperr"
	"tabgate/pkg/db"
)

// pgVerifier authenticates against the users table in the tenant database.
type pgVerifier struct {
	pools *db.Pools
	log   *zap.SugaredLogger
}

func NewPostgresVerifier(pools *db.Pools, log *zap.SugaredLogger) Verifier {
	return &pgVerifier{pools: pools, log: log}
}

func (v *pgVerifier) Verify(ctx context.Context, tenantID, username, password string) (Principal, error) {
	pool, err := v.pools.Get(ctx, tenantID)
	if err != nil {
		// Unreachable tenant reads as denied to the caller; keep the cause.
		return Principal{}, apperr.Wrap(apperr.AccessDenied, err, "tenant unreachable")
	}
	var p Principal
	var hash string
	row := pool.QueryRow(ctx, `SELECT id::text, COALESCE(name, login), password_hash FROM users WHERE login=$1`, username)
	if err := row.Scan(&p.ID, &p.Name, &hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, apperr.New(apperr.AccessDenied, "invalid credentials")
		}
		return Principal{}, apperr.Wrap(apperr.AccessDenied, err, "credential lookup")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		v.log.Infow("credential check failed", "tenant", tenantID, "user", username)
		return Principal{}, apperr.New(apperr.AccessDenied, "invalid credentials")
	}
	return p, nil
}

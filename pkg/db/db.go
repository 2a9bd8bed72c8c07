// pkg/db/db.go
package db

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tabgate/pkg/apperr"
	"tabgate/pkg/config"
)

// Pools hands out one pgx pool per tenant database, created lazily from the
// DSN template. Pools are shared across requests; transactions are not.
type Pools struct {
	template string
	log      *zap.SugaredLogger

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

func NewPools(cfg config.Config, log *zap.SugaredLogger) *Pools {
	return &Pools{template: cfg.DatabaseURLTemplate, log: log, pools: map[string]*pgxpool.Pool{}}
}

// Get returns the pool for a tenant database, dialing it on first use.
func (p *Pools) Get(ctx context.Context, tenantID string) (*pgxpool.Pool, error) {
	if p.template == "" {
		return nil, apperr.New(apperr.InfrastructureError, "no database template configured")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if pool, ok := p.pools[tenantID]; ok {
		return pool, nil
	}
	dsn := fmt.Sprintf(p.template, tenantID)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.InfrastructureError, err, "tenant database connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.InfrastructureError, err, "tenant database ping")
	}
	p.log.Infow("tenant database ready", "tenant", tenantID, "dsn", redactDSN(dsn))
	p.pools[tenantID] = pool
	return pool, nil
}

// Close releases every open pool.
func (p *Pools) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, pool := range p.pools {
		pool.Close()
		delete(p.pools, id)
	}
}

func MustRedis(cfg config.Config, log *zap.SugaredLogger) *redis.Client {
	if cfg.RedisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalw("redis parse", "err", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(context.Background()).Err(); err != nil {
		log.Fatalw("redis ping", "err", err)
	}
	log.Infow("redis ready", "addr", opts.Addr)
	return cli
}

func redactDSN(dsn string) string {
	if i := strings.Index(dsn, "@"); i > 0 {
		return "***@" + dsn[i+1:]
	}
	return dsn
}

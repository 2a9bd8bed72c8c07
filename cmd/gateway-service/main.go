// cmd/gateway-service/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tabgate/internal/gateway"
	"tabgate/pkg/config"
	"tabgate/pkg/creds"
	"tabgate/pkg/db"
	"tabgate/pkg/engine"
	"tabgate/pkg/logger"
	"tabgate/pkg/middleware"
	"tabgate/pkg/params"
	"tabgate/pkg/ratelimit"
	"tabgate/pkg/secrets"
	"tabgate/pkg/token"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	pools := db.NewPools(cfg, log)
	defer pools.Close()

	store := params.NewPostgresStore(pools, log)
	resolver := secrets.NewResolver(store, cfg.DefaultTokenLifetime)
	verifier := creds.NewPostgresVerifier(pools, log)
	tokens := token.NewService(resolver, verifier)
	sessions := db.NewSessions(pools)
	eng := engine.NewSQL(log)

	var limiter ratelimit.Limiter = ratelimit.NewNop()
	if rdb := db.MustRedis(cfg, log); rdb != nil && cfg.AuthRateLimit > 0 {
		limiter = ratelimit.NewRedis(rdb, cfg.AuthRateLimit, time.Minute, log)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.DebugWriteHeader(log))
	r.Use(middleware.Tracing())
	r.Use(middleware.Metrics())
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	gateway.New(log, tokens, sessions, eng, limiter).Register(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("gateway-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("gateway-service stopped")
}

// cmd/gateway/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tenantgate/internal/gateway"
	"tenantgate/pkg/auth"
	"tenantgate/pkg/config"
	"tenantgate/pkg/db"
	"tenantgate/pkg/identity"
	"tenantgate/pkg/logger"
	"tenantgate/pkg/metadata"
	"tenantgate/pkg/metrics"
	"tenantgate/pkg/middleware"
	"tenantgate/pkg/quota"
	"tenantgate/pkg/tenants"
	"tenantgate/pkg/usage"
	"tenantgate/pkg/verify"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	reg, err := tenants.Load(cfg, log)
	if err != nil {
		log.Fatalw("tenants", "err", err)
	}

	// Usage store: postgres when configured, memory otherwise. Redis, when
	// configured, owns the monthly execution counter.
	var store usage.Store
	var execs usage.ExecutionCounter
	if pool := db.MustConnect(cfg, log); pool != nil {
		defer pool.Close()
		if err := usage.EnsureSchema(context.Background(), pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		pg := usage.NewPostgresStore(pool, log)
		store, execs = pg, pg
	} else {
		log.Warnw("DATABASE_URL not set, using in-memory usage store")
		mem := usage.NewMemory()
		store, execs = mem, mem
	}
	if rdb := db.MustRedis(cfg, log); rdb != nil {
		defer rdb.Close()
		execs = usage.NewRedisExecutions(rdb)
	}
	counts := usage.Split{Store: store, Exec: execs}

	rec := metrics.NewProm("tenantgate", nil)

	var fallback metadata.Client
	if cfg.IdentityServiceURL != "" {
		fallback = metadata.NewHTTPClient(cfg.IdentityServiceURL, cfg.IdentityServiceSecret, cfg.IdentityTimeout)
	}
	ids := identity.NewResolver(reg, metadata.NewSelector(reg, fallback, cfg.IdentityTimeout), log, rec, cfg.IdentityTimeout)
	pipeline := auth.New(cfg, auth.Deps{
		Verifier:   verify.NewJWX(cfg.ClockSkew),
		Identities: ids,
		Profiles:   counts,
		Log:        log,
		Metrics:    rec,
	})
	quotas := quota.NewResolver(ids, counts, log, rec, cfg.StorageTimeout)

	r := chi.NewRouter()
	r.Use(middleware.RequestID(log))
	r.Use(middleware.Recover(log))
	r.Use(middleware.DebugWriteHeader(log))
	r.Use(middleware.Tracing("tenantgate", log))
	r.Use(middleware.Identity(cfg, pipeline))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	gateway.New(log, quotas, counts).RegisterRoutes(r)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("tenantgate listening", "addr", cfg.HTTPAddr, "env", cfg.Env, "tenants", reg.IDs())
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
	pipeline.Wait()
	_ = middleware.ShutdownTracing(ctx)
	log.Infow("tenantgate stopped")
}

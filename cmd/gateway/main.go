package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vqhuy/metergate/config"
	"github.com/vqhuy/metergate/internal/gateway"
	"github.com/vqhuy/metergate/internal/provider"
	"github.com/vqhuy/metergate/internal/provider/openai"
	"github.com/vqhuy/metergate/internal/quota"
	"github.com/vqhuy/metergate/internal/telemetry"
	"github.com/vqhuy/metergate/internal/usage"
	"github.com/vqhuy/metergate/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("metergate", cfg.OTELExporterType, cfg.OTELExporterEndpoint)
	if err != nil {
		log.Fatal("failed to init tracer", "err", err)
	}
	defer shutdownTracer()

	// 3. Connect usage store
	ctx := context.Background()
	var store usage.Store
	switch cfg.UsageStore {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to connect postgres", "err", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatal("failed to ping postgres", "err", err)
		}
		log.Info("PostgreSQL connected")
		store = usage.NewPostgresStore(pool)
	default:
		store = usage.NewAtlasStore(usage.AtlasConfig{
			BaseURL:    cfg.AtlasBaseURL,
			APIKey:     cfg.AtlasAPIKey,
			DataSource: cfg.AtlasDataSource,
			Database:   cfg.AtlasDatabase,
			Collection: cfg.AtlasCollection,
		})
		log.Info("Atlas usage store configured", "database", cfg.AtlasDatabase)
	}

	// 4. Connect Redis (optional; limiter disabled without it)
	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to ping redis", "err", err)
		}
		log.Info("Redis connected")
		limiter = ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitRPM)
	}

	// 5. Init providers
	registry := provider.NewRegistry(
		openai.New(cfg.OpenAIAPIKey),
	)

	// 6. Init quota enforcement
	enforcer := quota.New(store, cfg.QuotaLimitUSD)

	// 7. Init gateway handler
	tracer := otel.GetTracerProvider().Tracer("metergate")
	handler := gateway.NewHandler(registry, store, enforcer, limiter, tracer, gateway.Options{
		TokenSecret:         cfg.TokenSecret,
		AllowedEmailDomains: cfg.AllowedEmailDomains,
		Granularity:         cfg.QuotaGranularity,
		MeteringEnabled:     cfg.MeteringEnabled,
		UpstreamTimeout:     time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second,
	})

	// 8. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(gateway.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"metergate"}`))
	})

	handler.Register(r)

	// 9. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.UpstreamTimeoutSeconds+30) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("metergate starting", "port", cfg.Port, "metering", cfg.MeteringEnabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", "err", err)
		}
	}()

	<-quit
	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("forced shutdown", "err", err)
	}
	log.Info("Server stopped")
}

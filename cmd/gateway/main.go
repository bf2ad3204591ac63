package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-router/config"
	"github.com/vnmchuo/llm-router/internal/auth"
	"github.com/vnmchuo/llm-router/internal/gateway"
	"github.com/vnmchuo/llm-router/internal/seeder"
	"github.com/vnmchuo/llm-router/internal/telemetry"
	"github.com/vnmchuo/llm-router/internal/tenant"
	"github.com/vnmchuo/llm-router/internal/usage"
	"github.com/vnmchuo/llm-router/pkg/ratelimit"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("llm-router", cfg, log)
	if err != nil {
		log.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal("failed to ping postgres", zap.Error(err))
	}
	log.Info("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to ping redis", zap.Error(err))
	}
	log.Info("Redis connected")

	// 5. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb, log)

	// 6. Init stores
	tenantStore := tenant.NewPostgresStore(pool)
	usageStore := usage.NewPostgresStore(pool)

	// 7. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.DefaultRateLimitTPM)

	// 8. Init tenant router with system fallback credentials
	tenants := tenant.NewRouter(tenantStore, usageStore, tenant.SystemCredentials{
		GroqAPIKey:       cfg.GroqAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		EnableLLM7:       cfg.EnableLLM7,
		LocalEndpoint:    cfg.LocalLLMEndpoint,
		EnableLocal:      cfg.EnableLocalLLM,
	}, log)

	// 9. Init handler
	tracer := otel.GetTracerProvider().Tracer("llm-router")
	handler := gateway.NewHandler(tenants, usageStore, limiter, tracer, log,
		cfg.MaxRetries, cfg.RequestTimeout, cfg.Production())

	// 10. Seed test API key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore, log)
	}

	// 11. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"llm-router"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/chat/completions", handler.HandleComplete)
		r.Post("/v1/chat/completions/stream", handler.HandleCompleteStream)
		r.Get("/v1/usage", handler.HandleUsage)
		r.Post("/admin/tenants/{id}/cache/invalidate", handler.HandleInvalidateTenantCache)
		r.Post("/admin/tenants/cache/invalidate", handler.HandleInvalidateAllCaches)
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("LLM router starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("forced shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}

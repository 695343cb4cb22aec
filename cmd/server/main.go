package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/kneeraazon404/delta-hedging-platform/internal/broker"
	"github.com/kneeraazon404/delta-hedging-platform/internal/hedger"
	"github.com/kneeraazon404/delta-hedging-platform/internal/metrics"
	"github.com/kneeraazon404/delta-hedging-platform/internal/pricing"
	"github.com/kneeraazon404/delta-hedging-platform/internal/risk"
	"github.com/kneeraazon404/delta-hedging-platform/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Broker wiring ---
	var (
		market   broker.MarketData
		executor broker.TradeExecutor
		source   broker.PositionSource
	)

	useMock := envBool("USE_MOCK_MARKET", false)
	apiKey := os.Getenv("IG_API_KEY")
	if useMock || apiKey == "" {
		slog.Warn("using mock market and paper executor (no broker credentials)")
		market = broker.NewMockMarket(envFloat("MOCK_BASE_PRICE", 0), envFloat("MOCK_VOLATILITY", 0))
		executor = broker.NewPaperExecutor()
	} else {
		ig, err := broker.NewIGClient(broker.IGConfig{
			BaseURL:        os.Getenv("IG_API_URL"),
			APIKey:         apiKey,
			Identifier:     os.Getenv("IG_USERNAME"),
			Password:       os.Getenv("IG_PASSWORD"),
			HedgeAccountID: os.Getenv("IG_HEDGE_ACCOUNT"),
			Fallback:       broker.NewMockMarket(0, 0),
		})
		if err != nil {
			slog.Error("broker client init failed", "err", err)
			os.Exit(1)
		}
		market = ig
		executor = ig
		source = ig
	}

	// --- Exposure limits ---
	maxPerUnderlying := decimal.NewFromFloat(envFloat("MAX_EXPOSURE_PER_UNDERLYING", 1000))
	maxGross := decimal.NewFromFloat(envFloat("MAX_GROSS_EXPOSURE", 5000))
	limiter := risk.NewExposureLimiter(maxPerUnderlying, maxGross)

	// --- WebSocket hub ---
	wsHub := hedger.NewWSHub()
	go wsHub.Run()

	// --- Decision engine ---
	settings := hedger.DefaultSettings()
	if v := envFloat("MIN_HEDGE_SIZE", 0); v > 0 {
		settings.MinHedgeSize = decimal.NewFromFloat(v)
	}
	if v := envFloat("MAX_HEDGE_SIZE", 0); v > 0 {
		settings.MaxHedgeSize = decimal.NewFromFloat(v)
	}
	if v := envFloat("HEDGE_INTERVAL_SECONDS", 0); v > 0 {
		settings.HedgeInterval = time.Duration(v * float64(time.Second))
	}
	if v := envFloat("DELTA_THRESHOLD", 0); v > 0 {
		settings.DeltaThreshold = v
	}

	engine, err := hedger.NewEngine(hedger.Config{
		Market:    market,
		Executor:  executor,
		Positions: source,
		Pricer:    pricing.New(envFloat("RISK_FREE_RATE", 0.05), 0.001, 2.0),
		Policy:    hedger.PolicyByName(os.Getenv("HEDGE_POLICY")),
		Limiter:   limiter,
		Store:     st,
		Hub:       wsHub,
		Settings:  settings,
	})
	if err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}

	if err := engine.Restore(context.Background()); err != nil {
		slog.Warn("position restore failed", "err", err)
	}
	if envBool("MONITOR_ON_START", false) {
		engine.StartMonitor(context.Background())
	}

	svc := hedger.NewService(engine, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"delta-hedger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	svc.Routes(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("delta-hedger listening", "port", port, "policy", engine.PolicyName())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down delta-hedger...")
	engine.StopMonitor()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("delta-hedger stopped")
}

func envFloat(key string, def float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("ignoring unparseable env var", "key", key, "value", raw)
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("ignoring unparseable env var", "key", key, "value", raw)
		return def
	}
	return v
}

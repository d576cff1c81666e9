package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/stocksim/portfolio-engine/internal/advisor"
	"github.com/stocksim/portfolio-engine/internal/backtest"
	"github.com/stocksim/portfolio-engine/internal/basket"
	"github.com/stocksim/portfolio-engine/internal/clients/alphavantage"
	"github.com/stocksim/portfolio-engine/internal/clients/finnhub"
	"github.com/stocksim/portfolio-engine/internal/config"
	"github.com/stocksim/portfolio-engine/internal/events"
	"github.com/stocksim/portfolio-engine/internal/ledger"
	"github.com/stocksim/portfolio-engine/internal/metrics"
	"github.com/stocksim/portfolio-engine/internal/optimizer"
	"github.com/stocksim/portfolio-engine/internal/pricing"
	"github.com/stocksim/portfolio-engine/internal/store"
	"github.com/stocksim/portfolio-engine/internal/trade"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithEnv(configPath)
		if err != nil {
			return err
		}
		setupLogger(cfg.Log.Level)
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (ledger read cache + quote cache) ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		slog.Info("Redis cache enabled")
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Prices ---
	resolver, closePrices, err := buildPricing(cfg, rdb)
	if err != nil {
		return err
	}
	cleanup = append(cleanup, closePrices)

	// --- Events: WebSocket hub, plus Kafka when brokers are configured ---
	hub := trade.NewWSHub()
	go hub.Run(ctx)
	pub := events.Multi{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		cleanup = append(cleanup, func() { kp.Close() })
		pub = append(pub, kp)
		slog.Info("publishing trade events to Kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// --- AI weight advisors ---
	opt, err := buildOptimizer(ctx, cfg)
	if err != nil {
		return err
	}

	// --- Ledger, baskets, handlers ---
	eng := ledger.New(st, resolver,
		ledger.WithInitialBalance(decimal.NewFromFloat(cfg.Ledger.InitialBalance)),
		ledger.WithPublisher(pub),
	)
	baskets := basket.NewMemoryStore()
	svc := trade.NewService(trade.Deps{
		Ledger:    eng,
		Prices:    resolver,
		Baskets:   baskets,
		Executor:  basket.NewExecutor(baskets, resolver, eng, pub),
		Optimizer: opt,
		Backtests: backtest.NewRunner(resolver),
		Benchmark: cfg.Pricing.Benchmark,
		Events:    pub,
		Hub:       hub,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      newRouter(cfg, svc),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("portfolio-engine listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down portfolio-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	return nil
}

func newRouter(cfg *config.Config, svc *trade.Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
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
		w.Write([]byte(`{"status":"ok","service":"portfolio-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)
	return r
}

// buildPricing assembles the quote and history chains. History is tried in
// order Alpha Vantage, InfluxDB, CSV, synthetic. Live quotes come from
// Finnhub and fall back to the latest stored close.
func buildPricing(cfg *config.Config, rdb *redis.Client) (*pricing.Resolver, func(), error) {
	closeFn := func() {}

	var stored []pricing.HistoryProvider
	if cfg.InfluxDB.URL != "" {
		client := influxdb2.NewClient(cfg.InfluxDB.URL, cfg.InfluxDB.Token)
		closeFn = client.Close
		stored = append(stored, pricing.NewInfluxHistory(client, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket))
		slog.Info("InfluxDB history enabled", "bucket", cfg.InfluxDB.Bucket)
	}
	if cfg.Pricing.CSVPath != "" {
		h, err := pricing.LoadCSV(cfg.Pricing.CSVPath)
		if err != nil {
			return nil, closeFn, err
		}
		stored = append(stored, h)
		slog.Info("CSV price history loaded", "path", cfg.Pricing.CSVPath, "symbols", len(h.Symbols()))
	}

	// Finnhub alone also anchors the synthetic series.
	var live pricing.QuoteProvider
	if cfg.Finnhub.APIKey != "" {
		live = finnhub.NewClient(cfg.Finnhub.APIKey,
			finnhub.WithBaseURL(cfg.Finnhub.BaseURL),
			finnhub.WithRateLimit(cfg.Finnhub.RateLimit),
		)
	} else {
		slog.Warn("FINNHUB_API_KEY not set, quotes come from stored history only")
	}

	var quoteProviders []pricing.QuoteProvider
	if live != nil {
		quoteProviders = append(quoteProviders, live)
	}
	if len(stored) > 0 {
		local := pricing.NewHistoryChain(cfg.Pricing.HistoryTimeout, stored...)
		quoteProviders = append(quoteProviders, pricing.LatestClose{History: local})
	}
	quotes := pricing.NewQuoteChain(cfg.Pricing.QuoteTimeout, quoteProviders...)
	if rdb != nil {
		quotes.WithCache(pricing.NewRedisQuotes(rdb, cfg.Pricing.QuoteCacheTTL))
	}

	var historyProviders []pricing.HistoryProvider
	if cfg.AlphaVantage.APIKey != "" {
		historyProviders = append(historyProviders, alphavantage.NewClient(cfg.AlphaVantage.APIKey,
			alphavantage.WithBaseURL(cfg.AlphaVantage.BaseURL),
			alphavantage.WithRatePerMinute(cfg.AlphaVantage.RatePerMinute),
		))
	}
	historyProviders = append(historyProviders, stored...)
	if cfg.Pricing.Synthetic {
		historyProviders = append(historyProviders, pricing.NewSynthetic(live, cfg.Pricing.SyntheticSeed))
		slog.Warn("synthetic history fallback enabled")
	}
	history := pricing.NewHistoryChain(cfg.Pricing.HistoryTimeout, historyProviders...)

	return pricing.NewResolver(quotes, history), closeFn, nil
}

// buildOptimizer wires the configured AI providers, Gemini first. Without
// any the optimizer returns traditional weights only.
func buildOptimizer(ctx context.Context, cfg *config.Config) (*optimizer.Optimizer, error) {
	var providers []advisor.Provider
	if cfg.AI.GeminiAPIKey != "" {
		g, err := advisor.NewGemini(ctx, cfg.AI.GeminiAPIKey, cfg.AI.GeminiModel)
		if err != nil {
			return nil, err
		}
		providers = append(providers, g)
	}
	if cfg.AI.OpenAIAPIKey != "" {
		providers = append(providers, advisor.NewOpenAI(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIModel, cfg.AI.OpenAIBaseURL))
	}
	if len(providers) == 0 {
		slog.Warn("no AI provider configured, optimizer uses traditional weights only")
		return optimizer.New(nil), nil
	}
	return optimizer.New(advisor.NewChain(cfg.AI.Timeout, providers...)), nil
}

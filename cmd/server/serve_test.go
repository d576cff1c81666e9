package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocksim/portfolio-engine/internal/basket"
	"github.com/stocksim/portfolio-engine/internal/config"
	"github.com/stocksim/portfolio-engine/internal/ledger"
	"github.com/stocksim/portfolio-engine/internal/pricing"
	"github.com/stocksim/portfolio-engine/internal/store"
	"github.com/stocksim/portfolio-engine/internal/trade"
)

// offlineConfig has no remote providers: history is synthetic, quotes fail.
func offlineConfig() *config.Config {
	cfg := config.Default()
	cfg.Pricing.Synthetic = true
	cfg.Pricing.SyntheticSeed = 7
	return cfg
}

func TestBuildPricing_Offline(t *testing.T) {
	resolver, closeFn, err := buildPricing(offlineConfig(), nil)
	require.NoError(t, err)
	defer closeFn()

	ctx := context.Background()
	hist, err := resolver.History(ctx, "AAPL", 60)
	require.NoError(t, err)
	assert.NotEmpty(t, hist)

	_, err = resolver.Current(ctx, "AAPL")
	assert.True(t, errors.Is(err, pricing.ErrServiceUnavailable), "got %v", err)
}

func TestBuildOptimizer_NoProviders(t *testing.T) {
	opt, err := buildOptimizer(context.Background(), offlineConfig())
	require.NoError(t, err)
	require.NotNil(t, opt)
}

func TestRouter_HealthAndPortfolio(t *testing.T) {
	cfg := offlineConfig()
	resolver, closeFn, err := buildPricing(cfg, nil)
	require.NoError(t, err)
	defer closeFn()

	eng := ledger.New(store.NewMemoryStore(), resolver,
		ledger.WithInitialBalance(decimal.NewFromFloat(cfg.Ledger.InitialBalance)))
	baskets := basket.NewMemoryStore()
	svc := trade.NewService(trade.Deps{
		Ledger:   eng,
		Prices:   resolver,
		Baskets:  baskets,
		Executor: basket.NewExecutor(baskets, resolver, eng, nil),
	})
	router := newRouter(cfg, svc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","service":"portfolio-engine"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/portfolio/newcomer", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/trade/buy", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

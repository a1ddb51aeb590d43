package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/config"
	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/orchestrator"
	"github.com/DorothyRazo/CoreExchange/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChain struct{}

func (stubChain) Synths(context.Context) ([]model.SynthDefinition, error) {
	return []model.SynthDefinition{
		{Symbol: "sUSD", Category: model.CategoryForex},
		{Symbol: "sBTC", Category: model.CategoryCrypto},
		{Symbol: "sETH", Category: model.CategoryCrypto},
	}, nil
}

func (stubChain) SpotRates(_ context.Context, symbols []string) (map[string]float64, error) {
	all := map[string]float64{"sUSD": 1, "sBTC": 10000, "sETH": 500}
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		out[s] = all[s]
	}
	return out, nil
}

func (stubChain) FrozenSynths(context.Context, []string) ([]string, error) { return nil, nil }

func (stubChain) ExchangeFeeRate(context.Context) (float64, error) { return 0.3, nil }

func (stubChain) WalletBalances(_ context.Context, address string, _ []string) (model.WalletBalances, error) {
	return model.WalletBalances{
		Address:    address,
		Synths:     map[string]model.SynthBalance{"sETH": {Balance: 2, USDBalance: 1000}},
		USDBalance: 1000,
	}, nil
}

func (stubChain) HistoricalRates(context.Context, string, model.Period) ([]model.RateSample, error) {
	return []model.RateSample{
		{Timestamp: 2000, Price: 110},
		{Timestamp: 1000, Price: 100},
	}, nil
}

func (stubChain) GasPrice(context.Context) (model.GasInfo, error) {
	return model.GasInfo{Fast: 40, Average: 20, Slow: 10, FastestAllowed: 40, AverageAllowed: 20, SlowAllowed: 10}, nil
}

func testConfig() config.Config {
	return config.Config{
		Port:                 "0",
		RequestTimeout:       time.Second,
		RatesPollInterval:    time.Hour,
		BalancesPollInterval: time.Hour,
		GasPollInterval:      time.Hour,
		HistoryPollInterval:  time.Hour,
		EnableCircuitBreaker: true,
		MinSynthRates:        2,
		MaxRateChange:        0.5,
		CircuitResetDelay:    time.Minute,
		EnableMetrics:        true,
	}
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, http.Handler) {
	t.Helper()
	chain := stubChain{}
	s := NewServer(cfg, Dependencies{
		Sources: orchestrator.Sources{
			Rates:   chain,
			History: chain,
			Wallet:  chain,
			Gas:     chain,
		},
		Network: types.NetworkMainnet,
	})
	t.Cleanup(func() { s.stopBackground(context.Background()) })

	require.Equal(t, orchestrator.Committed, s.orch.LoadSynths(context.Background(), false))
	s.orch.RefreshExchangeData(context.Background(), false)
	return s, s.routes()
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec, body := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", body["status"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestRequestIDIsEchoed(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
}

func TestSynthsAndPairs(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec, body := do(t, h, http.MethodGet, "/synths", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["synths"], 3)

	rec, body = do(t, h, http.MethodGet, "/pairs?quote=sUSD", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pairs := body["pairs"].([]interface{})
	require.Len(t, pairs, 2)
	prices := map[string]float64{}
	for _, p := range pairs {
		pair := p.(map[string]interface{})
		prices[pair["base"].(map[string]interface{})["symbol"].(string)] = pair["price"].(float64)
	}
	assert.Equal(t, map[string]float64{"sBTC": 10000, "sETH": 500}, prices)

	selected := body["selected"].(map[string]interface{})
	assert.Equal(t, "sBTC", selected["base"].(map[string]interface{})["symbol"])

	rec, _ = do(t, h, http.MethodPost, "/synths", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSelectPair(t *testing.T) {
	s, h := newTestServer(t, testConfig())

	rec, _ := do(t, h, http.MethodPost, "/pair", `{"base":"sDOGE","quote":"sUSD"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/pair", `{"base":"sETH","quote":"sETH"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/pair", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, h, http.MethodPost, "/pair", `{"base":"sETH","quote":"sBTC"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.05, body["selected"].(map[string]interface{})["price"])
	assert.Equal(t, map[string]interface{}{
		"historical-rates:sETH:ONE_DAY": "committed",
		"historical-rates:sBTC:ONE_DAY": "committed",
	}, body["history"])
	assert.Equal(t, "sETH", s.store.Snapshot().Base)
}

func TestMarkets(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec, body := do(t, h, http.MethodGet, "/markets?sort=change", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sUSD", body["quote"])
	assert.Len(t, body["markets"], 2)

	rec, _ = do(t, h, http.MethodGet, "/markets?sort=volume", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoricalRatesLoadsOnDemand(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec, body := do(t, h, http.MethodGet, "/rates/historical?symbol=sETH&period=1D", "")
	require.Equal(t, http.StatusOK, rec.Code)
	series := body["series"].(map[string]interface{})
	assert.Len(t, series["rates"], 2)
	assert.InDelta(t, 0.1, series["change"], 1e-9)

	status := body["status"].(map[string]interface{})["sETH"].(map[string]interface{})
	assert.Equal(t, "loaded", status["phase"])

	rec, _ = do(t, h, http.MethodGet, "/rates/historical?symbol=sETH&period=1Y", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/rates/historical?symbol=sDOGE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/rates/historical", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshAndGas(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec, body := do(t, h, http.MethodPost, "/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "committed", body["outcomes"].(map[string]interface{})["gas-price"])

	rec, body = do(t, h, http.MethodGet, "/gas", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.3, body["exchange_fee_rate"])
	// 20 gwei * 220000 gas at 500 sUSD/ETH
	assert.InDelta(t, 2.2, body["transaction_price"], 1e-9)
}

func TestWalletSession(t *testing.T) {
	s, h := newTestServer(t, testConfig())

	rec, _ := do(t, h, http.MethodGet, "/wallet/balances", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, h, http.MethodPost, "/wallet/connect", `{"address":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := do(t, h, http.MethodPost, "/wallet/connect", `{"address":"0x00000000000000000000000000000000000000AA"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", body["address"])

	require.Eventually(t, func() bool {
		_, ok := s.store.Snapshot().WalletBalances("0x00000000000000000000000000000000000000aa")
		return ok
	}, time.Second, 5*time.Millisecond)

	rec, body = do(t, h, http.MethodGet, "/wallet/balances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1000.0, body["balances"].(map[string]interface{})["usd_balance"])

	rec, _ = do(t, h, http.MethodPost, "/wallet/disconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/wallet/balances", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCircuit(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec, body := do(t, h, http.MethodGet, "/circuit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "closed", body["state"])
	assert.Equal(t, 3.0, body["last_good_rates_count"])

	rec, body = do(t, h, http.MethodPost, "/circuit?action=reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Circuit breaker reset", body["message"])
	assert.NotContains(t, body, "last_good_rates_count", "a reset drops the baseline")

	cfg := testConfig()
	cfg.EnableCircuitBreaker = false
	_, h = newTestServer(t, cfg)
	rec, _ = do(t, h, http.MethodGet, "/circuit", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	_, h := newTestServer(t, cfg)

	rec, _ := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	do(t, h, http.MethodGet, "/health", "")

	rec, _ := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "core_exchange_fetches_total")
	assert.Contains(t, rec.Body.String(), "core_exchange_http_requests_total")

	cfg := testConfig()
	cfg.EnableMetrics = false
	_, h = newTestServer(t, cfg)
	rec, _ = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rec, body := do(t, h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, body["synths"])
	assert.Equal(t, "closed", body["circuit_state"])
	assert.Contains(t, body["fetches"], "spot-rates")
}

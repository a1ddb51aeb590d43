package main

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/fetch"
	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/orchestrator"
	"github.com/DorothyRazo/CoreExchange/internal/rates"
	"github.com/DorothyRazo/CoreExchange/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes registers the API endpoints
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	handle := func(path string, h http.HandlerFunc) {
		mux.HandleFunc(path, s.instrument(path, h))
	}

	handle("/health", s.handleHealth)
	handle("/status", s.handleStatus)
	handle("/circuit", s.handleCircuitStatus)
	handle("/synths", s.handleSynths)
	handle("/pairs", s.handlePairs)
	handle("/pair", s.handleSelectPair)
	handle("/markets", s.handleMarkets)
	handle("/rates/historical", s.handleHistoricalRates)
	handle("/refresh", s.handleRefresh)
	handle("/wallet/connect", s.handleWalletConnect)
	handle("/wallet/disconnect", s.handleWalletDisconnect)
	handle("/wallet/balances", s.handleWalletBalances)
	handle("/gas", s.handleGas)

	// scrapes are not counted as API requests
	mux.HandleFunc("/metrics", s.handleMetrics)
	return mux
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleMetrics exposes Prometheus metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.config.EnableMetrics {
		http.Error(w, "Metrics disabled", http.StatusServiceUnavailable)
		return
	}
	promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// handleStatus provides detailed service status information
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()

	fetches := make(map[string]store.FetchStatus, len(snap.Fetches))
	for k, v := range snap.Fetches {
		fetches[string(k)] = v
	}
	tasks := s.sched.Names()
	sort.Strings(tasks)

	status := map[string]interface{}{
		"status":    "operational",
		"uptime":    time.Since(startTime).String(),
		"startTime": startTime.UTC().Format(time.RFC3339),
		"version":   version,
		"network":   s.network,
		"synths":    snap.Registry.Len(),
		"pairs":     len(snap.Pairs),
		"wallet":    s.orch.Wallet(),
		"tasks":     tasks,
		"fetches":   fetches,
	}
	if s.breaker != nil {
		status["circuit_state"] = s.breaker.GetState().String()
	}
	if s.exporter != nil {
		status["exporter"] = s.exporter.Status()
	}
	writeJSON(w, http.StatusOK, status)
}

// handleCircuitStatus allows viewing and resetting the rate guard
func (s *Server) handleCircuitStatus(w http.ResponseWriter, r *http.Request) {
	if s.breaker == nil {
		errorResponse(w, r, http.StatusServiceUnavailable, "Circuit breaker not enabled")
		return
	}
	if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	response := map[string]interface{}{}
	if r.Method == http.MethodPost && r.URL.Query().Get("action") == "reset" {
		s.breaker.Reset()
		response["message"] = "Circuit breaker reset"
	}

	state := s.breaker.GetState()
	s.metrics.circuitState.Set(float64(state))
	response["state"] = state.String()
	if last := s.breaker.LastGood(); last != nil {
		response["last_good_rates_count"] = len(last)
	}
	writeJSON(w, http.StatusOK, response)
}

// handleSynths lists the tradable synths, or every synth with all=true
func (s *Server) handleSynths(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	snap := s.store.Snapshot()

	list := snap.AvailableSynths()
	if r.URL.Query().Get("all") == "true" {
		list = snap.SortedAvailableSynths()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"synths": list,
		"status": snap.Status(store.SynthsKey()),
	})
}

// handlePairs lists priced pairs filtered by quote and search query
func (s *Server) handlePairs(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	snap := s.store.Snapshot()
	q := r.URL.Query()

	response := map[string]interface{}{
		"pairs":  snap.PairList(q.Get("quote"), q.Get("q")),
		"status": snap.Status(store.SpotRatesKey()),
	}
	if p, ok := snap.SelectedPair(); ok {
		response["selected"] = p
	}
	writeJSON(w, http.StatusOK, response)
}

type selectPairRequest struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// handleSelectPair selects the active pair and loads its one-day series
func (s *Server) handleSelectPair(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req selectPairRequest
	if err := decodeBody(w, r, &req); err != nil {
		errorResponse(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	outcomes, err := s.orch.SelectPair(r.Context(), req.Base, req.Quote)
	switch {
	case errors.Is(err, store.ErrUnknownSymbol):
		errorResponse(w, r, http.StatusNotFound, err.Error())
		return
	case err != nil:
		errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	snap := s.store.Snapshot()
	pair, _ := snap.SelectedPair()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"selected": pair,
		"history":  outcomeStrings(outcomes),
	})
}

// handleMarkets returns market rows for a quote, optionally ordered by change
func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	snap := s.store.Snapshot()
	q := r.URL.Query()

	quote := q.Get("quote")
	if quote == "" {
		quote = model.ReferenceCurrency
	}

	var rows []model.DerivedMarketRow
	switch q.Get("sort") {
	case "", "pair":
		rows = snap.Markets(quote)
	case "change":
		rows = snap.MarketsByChange(quote)
	default:
		errorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("unsupported sort %q", q.Get("sort")))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quote":   quote,
		"markets": rows,
	})
}

// handleHistoricalRates returns a series, loading it first when it was never fetched
func (s *Server) handleHistoricalRates(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()

	symbol := q.Get("symbol")
	if symbol == "" {
		errorResponse(w, r, http.StatusBadRequest, "symbol is required")
		return
	}
	period := model.PeriodOneDay
	if raw := q.Get("period"); raw != "" {
		p, err := model.ParsePeriod(raw)
		if err != nil {
			errorResponse(w, r, http.StatusBadRequest, err.Error())
			return
		}
		period = p
	}
	quote := q.Get("quote")
	if quote == "" {
		quote = model.ReferenceCurrency
	}

	legs := []string{symbol}
	if quote != model.ReferenceCurrency {
		legs = append(legs, quote)
	}
	if snap := s.store.Snapshot(); snap.Registry.Len() > 0 {
		for _, sym := range legs {
			if _, ok := snap.Registry.Get(sym); !ok {
				errorResponse(w, r, http.StatusNotFound, fmt.Sprintf("%s: %s", store.ErrUnknownSymbol, sym))
				return
			}
		}
	}

	for _, sym := range legs {
		if s.store.Status(store.HistoricalRatesKey(sym, period)).Phase == store.PhaseIdle {
			s.orch.RefreshHistoricalRates(r.Context(), sym, period, false)
		}
	}

	snap := s.store.Snapshot()
	statuses := make(map[string]store.FetchStatus, len(legs))
	for _, sym := range legs {
		statuses[sym] = snap.Status(store.HistoricalRatesKey(sym, period))
	}

	response := map[string]interface{}{"status": statuses}
	if series, ok := rates.PairSeries(snap.History, symbol, quote, period); ok {
		response["series"] = series
	}
	writeJSON(w, http.StatusOK, response)
}

// handleRefresh forces an exchange-data refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	outcomes := s.orch.RefreshExchangeData(r.Context(), true)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcomes": outcomeStrings(outcomes),
	})
}

type walletRequest struct {
	Address string `json:"address"`
}

// handleWalletConnect starts a wallet session
func (s *Server) handleWalletConnect(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	var req walletRequest
	if err := decodeBody(w, r, &req); err != nil {
		errorResponse(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.orch.ConnectWallet(req.Address); err != nil {
		errorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": s.orch.Wallet()})
}

// handleWalletDisconnect ends the wallet session
func (s *Server) handleWalletDisconnect(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodPost) {
		return
	}
	s.orch.DisconnectWallet()
	writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

// handleWalletBalances returns the balances of the active wallet or of ?address=
func (s *Server) handleWalletBalances(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		address = s.orch.Wallet()
	}
	if address == "" {
		errorResponse(w, r, http.StatusNotFound, "no wallet connected")
		return
	}

	snap := s.store.Snapshot()
	response := map[string]interface{}{
		"address": store.NormalizeAddress(address),
		"status":  snap.Status(store.WalletBalancesKey(address)),
	}
	if b, ok := snap.WalletBalances(address); ok {
		response["balances"] = b
	}
	writeJSON(w, http.StatusOK, response)
}

// handleGas returns gas tiers, the fee rate and the sUSD cost of an exchange
func (s *Server) handleGas(w http.ResponseWriter, r *http.Request) {
	if !allowMethods(w, r, http.MethodGet) {
		return
	}
	snap := s.store.Snapshot()
	ethPrice := rates.PriceFor(snap.SpotRates, "sETH", model.ReferenceCurrency)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"gas":               snap.Gas,
		"exchange_fee_rate": snap.ExchangeFeeRate,
		"gas_limit":         fetch.DefaultExchangeGasLimit,
		"transaction_price": fetch.TransactionPrice(snap.Gas.AverageAllowed, fetch.DefaultExchangeGasLimit, ethPrice),
		"status": map[string]store.FetchStatus{
			"gas":          snap.Status(store.GasPriceKey()),
			"exchange_fee": snap.Status(store.ExchangeFeeKey()),
		},
	})
}

func outcomeStrings(outcomes map[store.Key]orchestrator.Outcome) map[string]string {
	out := make(map[string]string, len(outcomes))
	for k, v := range outcomes {
		out[string(k)] = v.String()
	}
	return out
}

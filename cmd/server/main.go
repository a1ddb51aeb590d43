// Package main runs the synth market core: it keeps the registry, pairs,
// rates, balances and gas data fresh and serves them over HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/circuitbreaker"
	"github.com/DorothyRazo/CoreExchange/internal/config"
	"github.com/DorothyRazo/CoreExchange/internal/export"
	"github.com/DorothyRazo/CoreExchange/internal/fetch"
	"github.com/DorothyRazo/CoreExchange/internal/orchestrator"
	"github.com/DorothyRazo/CoreExchange/internal/otel"
	"github.com/DorothyRazo/CoreExchange/internal/scheduler"
	"github.com/DorothyRazo/CoreExchange/internal/store"
	"github.com/DorothyRazo/CoreExchange/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const version = "1.0.0"

// startTime records when the service was initialized for uptime reporting
var startTime = time.Now()

// Server is the HTTP front of the market core
type Server struct {
	config config.Config

	// Lifetime of background work
	ctx    context.Context
	cancel context.CancelFunc

	store    *store.Store
	sched    *scheduler.Scheduler
	orch     *orchestrator.Orchestrator
	breaker  *circuitbreaker.CircuitBreaker
	exporter *export.Exporter
	watcher  *fetch.ExchangeWatcher
	network  types.Network

	registry  *prometheus.Registry
	metrics   *serverMetrics
	rateLimit *rate.Limiter

	server *http.Server
}

// Dependencies are the collaborators built from configuration
type Dependencies struct {
	Sources orchestrator.Sources
	Watcher *fetch.ExchangeWatcher
	Network types.Network
}

// serverMetrics holds Prometheus metrics for the HTTP API
type serverMetrics struct {
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	circuitState    prometheus.Gauge
}

// registerMetrics sets up Prometheus metrics collection
func registerMetrics(reg prometheus.Registerer) *serverMetrics {
	m := &serverMetrics{
		requestCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "core_exchange_http_requests_total",
				Help: "Total number of API requests processed",
			},
			[]string{"path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "core_exchange_http_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
		circuitState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "core_exchange_rate_guard_state",
				Help: "Rate guard state (0=closed, 1=open, 2=half-open)",
			},
		),
	}

	reg.MustRegister(
		m.requestCounter,
		m.requestDuration,
		m.circuitState,
	)
	return m
}

func main() {
	setupLogging()

	cfg := config.Load()

	shutdownTracer := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdownTracer()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, closeDeps := buildDependencies(ctx, cfg)
	defer closeDeps()

	server := NewServer(cfg, deps)
	server.Start(ctx)
}

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

// buildDependencies connects the chain-data collaborators that are configured.
// Missing ones stay nil and their fetches fail into state.
func buildDependencies(ctx context.Context, cfg config.Config) (Dependencies, func()) {
	deps := Dependencies{Network: types.DefaultNetwork}
	closers := []func(){}

	if n, err := types.NetworkByID(cfg.NetworkID); err == nil {
		deps.Network = n
	} else {
		logrus.WithError(err).Warnf("Falling back to %s", types.DefaultNetwork.Name)
	}

	contracts, err := fetch.ParseContracts(cfg.SynthetixAddress, cfg.ExchangeRatesAddress, cfg.FeePoolAddress)
	switch {
	case cfg.RPCURL == "":
		logrus.Warn("RPC_URL not set, chain data disabled")
	case err != nil:
		logrus.WithError(err).Warn("Contract addresses not configured, chain data disabled")
	default:
		chain, err := fetch.DialChainClient(ctx, cfg.RPCURL, contracts)
		if err != nil {
			logrus.WithError(err).Error("Chain client unavailable")
			break
		}
		closers = append(closers, chain.Close)
		deps.Sources.Rates = chain
		deps.Sources.Wallet = chain

		if n, err := chain.Network(ctx); err != nil {
			logrus.WithError(err).Warn("Could not verify network")
		} else if n.ID != deps.Network.ID {
			logrus.WithFields(logrus.Fields{
				"configured": deps.Network.Name,
				"connected":  n.Name,
			}).Warn("RPC endpoint is on a different network")
		}

		if cfg.WSRPCURL != "" {
			w, err := fetch.DialExchangeWatcher(ctx, cfg.WSRPCURL, contracts.Synthetix)
			if err != nil {
				logrus.WithError(err).Warn("Exchange watcher unavailable")
			} else {
				deps.Watcher = w
			}
		}
	}

	if cfg.SubgraphURL != "" {
		deps.Sources.History = fetch.NewSubgraphClient(cfg.SubgraphURL, cfg.RequestTimeout)
	}
	if cfg.GasStationURL != "" {
		deps.Sources.Gas = fetch.NewGasStationClient(cfg.GasStationURL, cfg.GasPriceLimit, cfg.RequestTimeout)
	}

	return deps, func() {
		for _, c := range closers {
			c()
		}
	}
}

// NewServer wires the store, scheduler and orchestrator around deps
func NewServer(cfg config.Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
		store:    store.New(),
		sched:    scheduler.New(ctx),
		watcher:  deps.Watcher,
		network:  deps.Network,
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = registerMetrics(s.registry)

	if cfg.EnableCircuitBreaker {
		s.breaker = circuitbreaker.New(circuitbreaker.Thresholds{
			MinSynths:       cfg.MinSynthRates,
			MaxRateChange:   cfg.MaxRateChange,
			MaxMedianChange: cfg.MaxMedianChange,
		}).WithResetDelay(cfg.CircuitResetDelay).
			WithTripCallback(func(reason string, rates map[string]float64) {
				s.metrics.circuitState.Set(float64(circuitbreaker.StateOpen))
				logrus.WithFields(logrus.Fields{
					"reason": reason,
					"synths": len(rates),
				}).Warn("Rate guard tripped")
			})
	}

	if cfg.RateLimitRPS > 0 {
		s.rateLimit = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	s.exporter = export.New(export.Config{
		WebhookURL:    cfg.WebhookURL,
		WebhookAPIKey: cfg.WebhookAPIKey,
		Timeout:       cfg.RequestTimeout,
	})

	s.orch = orchestrator.New(s.store, s.sched, orchestrator.Options{
		Sources: deps.Sources,
		Guard:   s.breaker,
		Metrics: orchestrator.NewMetrics(s.registry),
		Timeout: cfg.RequestTimeout,
		Intervals: orchestrator.Intervals{
			Rates:    cfg.RatesPollInterval,
			Balances: cfg.BalancesPollInterval,
			Gas:      cfg.GasPollInterval,
			History:  cfg.HistoryPollInterval,
		},
	})

	logrus.WithFields(logrus.Fields{
		"port":            cfg.Port,
		"network":         s.network.Name,
		"circuit_breaker": cfg.EnableCircuitBreaker,
		"metrics":         cfg.EnableMetrics,
		"chain":           deps.Sources.Rates != nil,
		"history":         deps.Sources.History != nil,
		"gas":             deps.Sources.Gas != nil,
		"watcher":         deps.Watcher != nil,
		"exporter":        s.exporter != nil,
	}).Info("Server initialized")

	return s
}

// Start loads the registry, starts polling and serves HTTP until ctx is done
func (s *Server) Start(ctx context.Context) {
	s.server = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("Server starting on port %s", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Error starting server: %v", err)
		}
	}()

	s.startBackground()

	<-ctx.Done()

	logrus.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	s.stopBackground(shutdownCtx)

	logrus.Info("Server stopped")
}

// startBackground loads the registry and mounts the polls
func (s *Server) startBackground() {
	go func() {
		s.orch.Bootstrap(s.ctx)
		s.orch.MountMarkets()
		s.orch.MountMarketHistory()
		s.orch.MountSelectedPair()
	}()

	if s.watcher != nil {
		go func() {
			if err := s.watcher.Watch(s.ctx, func(account string) {
				s.orch.OnExchange(s.ctx, account)
			}); err != nil {
				logrus.WithError(err).Error("Exchange watcher stopped")
			}
		}()
	}

	if s.exporter != nil {
		s.sched.Mount("export", s.config.ExportInterval, func(ctx context.Context) {
			snap := export.SnapshotOf(s.store.Snapshot(), time.Now())
			if err := s.exporter.Add(ctx, snap); err != nil {
				logrus.WithError(err).Warn("Snapshot export failed")
			}
		})
	}
}

func (s *Server) stopBackground(ctx context.Context) {
	s.orch.DisconnectWallet()
	s.sched.StopAll()
	s.cancel()

	if s.exporter != nil {
		if err := s.exporter.Flush(ctx); err != nil {
			logrus.WithError(err).Warn("Final snapshot export failed")
		}
	}
}

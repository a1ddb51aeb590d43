// Package config provides configuration loading and management for the application.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Ethereum network the contracts live on
	NetworkID int64

	// JSON-RPC endpoints. WSRPCURL is only needed for the exchange event watcher.
	RPCURL   string
	WSRPCURL string

	// Contract addresses
	SynthetixAddress     string
	ExchangeRatesAddress string
	FeePoolAddress       string

	// Rates subgraph for historical series
	SubgraphURL string

	// Gas station endpoint and optional cap in gwei, 0 means uncapped
	GasStationURL string
	GasPriceLimit float64

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	RequestTimeout time.Duration

	// Polling intervals
	RatesPollInterval    time.Duration
	BalancesPollInterval time.Duration
	GasPollInterval      time.Duration
	HistoryPollInterval  time.Duration

	// Spot-rate guard
	EnableCircuitBreaker bool
	MinSynthRates        int
	MaxRateChange        float64
	MaxMedianChange      float64
	CircuitResetDelay    time.Duration

	// API rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	EnableMetrics bool

	// Snapshot export
	WebhookURL     string
	WebhookAPIKey  string
	ExportInterval time.Duration
}

// Load reads .env if present and builds a Config from the environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to parse .env file")
	}

	return Config{
		Port:                 GetEnvOrDefault("PORT", "8080"),
		NetworkID:            int64(GetEnvAsInt("NETWORK_ID", 1)),
		RPCURL:               GetEnvOrDefault("RPC_URL", ""),
		WSRPCURL:             GetEnvOrDefault("WS_RPC_URL", ""),
		SynthetixAddress:     GetEnvOrDefault("SYNTHETIX_ADDRESS", ""),
		ExchangeRatesAddress: GetEnvOrDefault("EXCHANGE_RATES_ADDRESS", ""),
		FeePoolAddress:       GetEnvOrDefault("FEE_POOL_ADDRESS", ""),
		SubgraphURL:          GetEnvOrDefault("SUBGRAPH_URL", "https://api.thegraph.com/subgraphs/name/synthetixio-team/synthetix-rates"),
		GasStationURL:        GetEnvOrDefault("GAS_STATION_URL", "https://ethgasstation.info/json/ethgasAPI.json"),
		GasPriceLimit:        GetEnvAsFloat("GAS_PRICE_LIMIT", 0),
		OtelEndpoint:         GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		RequestTimeout:       GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		RatesPollInterval:    GetEnvAsDuration("RATES_POLL_INTERVAL", 30*time.Second),
		BalancesPollInterval: GetEnvAsDuration("BALANCES_POLL_INTERVAL", 30*time.Second),
		GasPollInterval:      GetEnvAsDuration("GAS_POLL_INTERVAL", time.Minute),
		HistoryPollInterval:  GetEnvAsDuration("HISTORY_POLL_INTERVAL", 3*time.Minute),
		EnableCircuitBreaker: GetEnvAsBool("ENABLE_CIRCUIT_BREAKER", true),
		MinSynthRates:        GetEnvAsInt("MIN_SYNTH_RATES", 2),
		MaxRateChange:        GetEnvAsFloat("MAX_RATE_CHANGE", 0.5),
		MaxMedianChange:      GetEnvAsFloat("MAX_MEDIAN_CHANGE", 0.2),
		CircuitResetDelay:    GetEnvAsDuration("CIRCUIT_RESET_DELAY", 5*time.Minute),
		RateLimitRPS:         GetEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:       GetEnvAsInt("RATE_LIMIT_BURST", 20),
		EnableMetrics:        GetEnvAsBool("ENABLE_METRICS", true),
		WebhookURL:           GetEnvOrDefault("WEBHOOK_URL", ""),
		WebhookAPIKey:        GetEnvOrDefault("WEBHOOK_API_KEY", ""),
		ExportInterval:       GetEnvAsDuration("EXPORT_INTERVAL", time.Minute),
	}
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set or empty
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a bool with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

package fetch

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/model"
)

// DefaultExchangeGasLimit is the gas limit used to price a synth exchange.
const DefaultExchangeGasLimit = 220000

const gweiUnit = 1e9

// GasStationClient reads gas price tiers from an ethgasstation-style endpoint.
type GasStationClient struct {
	url        string
	limit      float64
	httpClient *http.Client
}

// NewGasStationClient creates a gas station client. limit caps the allowed
// tiers in gwei; 0 leaves them uncapped.
func NewGasStationClient(url string, limit float64, timeout time.Duration) *GasStationClient {
	return &GasStationClient{
		url:        url,
		limit:      limit,
		httpClient: StandardClient(newRetryClient(timeout)),
	}
}

// GasPrice returns the current tiers in gwei.
func (c *GasStationClient) GasPrice(ctx context.Context) (model.GasInfo, error) {
	// the endpoint reports tenths of a gwei
	var resp struct {
		Fast    float64 `json:"fast"`
		Average float64 `json:"average"`
		SafeLow float64 `json:"safeLow"`
	}
	if err := doJSON(ctx, c.httpClient, http.MethodGet, c.url, nil, &resp); err != nil {
		return model.GasInfo{}, fmt.Errorf("gas station: %w", err)
	}
	if resp.Fast == 0 && resp.Average == 0 && resp.SafeLow == 0 {
		return model.GasInfo{}, fmt.Errorf("gas station: %w", ErrNoData)
	}
	return PriceLimit(resp.Fast/10, resp.Average/10, resp.SafeLow/10, c.limit), nil
}

// PriceLimit builds the gas tiers. With a limit the fastest allowed price is
// the limit itself and the others are capped by it.
func PriceLimit(fast, average, slow, limit float64) model.GasInfo {
	info := model.GasInfo{
		Fast:           fast,
		Average:        average,
		Slow:           slow,
		FastestAllowed: fast,
		AverageAllowed: average,
		SlowAllowed:    slow,
	}
	if limit > 0 {
		info.FastestAllowed = limit
		info.AverageAllowed = math.Min(average, limit)
		info.SlowAllowed = math.Min(slow, limit)
	}
	return info
}

// TransactionPrice returns the cost in sUSD of gasLimit units at gasPrice gwei.
func TransactionPrice(gasPrice float64, gasLimit uint64, ethPrice float64) float64 {
	if gasPrice == 0 || gasLimit == 0 || ethPrice == 0 {
		return 0
	}
	return gasPrice * ethPrice * float64(gasLimit) / gweiUnit
}

package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const rateUpdatesQuery = `query rateUpdates($synth: String!, $since: BigInt!, $before: BigInt!, $first: Int!) {
  rateUpdates(first: $first, orderBy: timestamp, orderDirection: desc, where: { synth: $synth, timestamp_gte: $since, timestamp_lt: $before }) {
    synth
    rate
    timestamp
  }
}`

const (
	// maxRateUpdates bounds a single subgraph page.
	maxRateUpdates = 1000

	// maxRatePages bounds the pages read for one series.
	maxRatePages = 20
)

// SubgraphClient reads historical rates from the rates subgraph.
type SubgraphClient struct {
	url        string
	httpClient *http.Client
	pageSize   int
	now        func() time.Time
}

// NewSubgraphClient creates a subgraph client for url.
func NewSubgraphClient(url string, timeout time.Duration) *SubgraphClient {
	return &SubgraphClient{
		url:        url,
		httpClient: StandardClient(newRetryClient(timeout)),
		pageSize:   maxRateUpdates,
		now:        time.Now,
	}
}

type graphRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type rateUpdatesResponse struct {
	Data struct {
		RateUpdates []rateUpdate `json:"rateUpdates"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// HistoricalRates returns the rate updates for symbol over period, newest
// first as the subgraph reports them. Rates are 18-decimal fixed point,
// timestamps are unix seconds. Pages are read backwards from now until the
// window is covered.
func (c *SubgraphClient) HistoricalRates(ctx context.Context, symbol string, period model.Period) ([]model.RateSample, error) {
	window := period.Duration()
	if window == 0 {
		return nil, fmt.Errorf("unsupported period %q", period)
	}
	now := c.now()
	since := now.Add(-window).Unix()
	before := now.Unix() + 1

	var samples []model.RateSample
	for page := 0; ; page++ {
		if page == maxRatePages {
			logrus.WithFields(logrus.Fields{
				"synth":  symbol,
				"period": period,
				"oldest": before,
			}).Warn("Rate history truncated at page limit")
			break
		}

		updates, err := c.rateUpdates(ctx, symbol, period, since, before)
		if err != nil {
			return nil, err
		}

		oldest := before
		for _, u := range updates {
			ts, err := decimal.NewFromString(u.Timestamp)
			if err != nil {
				continue
			}
			if sec := ts.IntPart(); sec < oldest {
				oldest = sec
			}
			rate, err := decimal.NewFromString(u.Rate)
			if err != nil {
				logrus.WithFields(logrus.Fields{"synth": symbol, "rate": u.Rate}).Debug("Skipping unparsable rate")
				continue
			}
			samples = append(samples, model.RateSample{
				Timestamp: ts.IntPart() * 1000,
				Price:     fromWei(rate),
			})
		}

		if len(updates) < c.pageSize || oldest >= before {
			break
		}
		before = oldest
	}

	logrus.Debugf("Received %d rate updates for %s/%s", len(samples), symbol, period)
	return samples, nil
}

type rateUpdate struct {
	Synth     string `json:"synth"`
	Rate      string `json:"rate"`
	Timestamp string `json:"timestamp"`
}

// rateUpdates reads one page of updates in [since, before).
func (c *SubgraphClient) rateUpdates(ctx context.Context, symbol string, period model.Period, since, before int64) ([]rateUpdate, error) {
	var resp rateUpdatesResponse
	err := doJSON(ctx, c.httpClient, http.MethodPost, c.url, graphRequest{
		Query: rateUpdatesQuery,
		Variables: map[string]any{
			"synth":  symbol,
			"since":  fmt.Sprint(since),
			"before": fmt.Sprint(before),
			"first":  c.pageSize,
		},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("rates subgraph %s/%s: %w", symbol, period, err)
	}

	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("rates subgraph %s/%s: %s", symbol, period, strings.Join(msgs, "; "))
	}
	return resp.Data.RateUpdates, nil
}

// fromWei converts an 18-decimal fixed-point value.
func fromWei(v decimal.Decimal) float64 {
	return v.Shift(-18).InexactFloat64()
}

// Package model defines the view-model types shared by the registry, the pair
// deriver, the rate merger and the fetch orchestrator.
package model

import (
	"strings"
	"time"
)

// ReferenceCurrency is the synth every spot rate is denominated in.
const ReferenceCurrency = "sUSD"

// Category classifies a synthetic asset.
type Category string

// Supported asset categories
const (
	CategoryCrypto    Category = "crypto"
	CategoryForex     Category = "forex"
	CategoryCommodity Category = "commodity"
	CategoryEquity    Category = "equity"
	CategoryIndex     Category = "index"
)

// ParseCategory maps a free-form category label to a Category.
// Unknown labels are returned as-is so that new on-chain categories still round-trip.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "crypto":
		return CategoryCrypto
	case "forex", "fiat":
		return CategoryForex
	case "commodity", "commodities":
		return CategoryCommodity
	case "equity", "equities":
		return CategoryEquity
	case "index", "indices":
		return CategoryIndex
	default:
		return Category(s)
	}
}

// InverseParams holds the band an inverse synth tracks.
type InverseParams struct {
	Entry      float64 `json:"entry_point"`
	UpperLimit float64 `json:"upper_limit"`
	LowerLimit float64 `json:"lower_limit"`
}

// SynthDefinition is one tradable synthetic asset.
type SynthDefinition struct {
	// Symbol is the currency key, e.g. sBTC. Unique within a registry.
	Symbol string `json:"symbol"`

	// Asset is the underlying asset name, e.g. BTC
	Asset string `json:"asset"`

	Category    Category `json:"category"`
	Sign        string   `json:"sign"`
	Description string   `json:"description"`

	// Aggregator is the price feed the synth is priced from, if known
	Aggregator string `json:"aggregator,omitempty"`

	Inverted bool           `json:"inverted"`
	Inverse  *InverseParams `json:"inverse,omitempty"`

	// IsFrozen is derived by the registry and never set by callers
	IsFrozen bool `json:"is_frozen"`
}

// IsCrypto reports whether the synth belongs to the crypto category.
func (s SynthDefinition) IsCrypto() bool {
	return s.Category == CategoryCrypto
}

// Pair is an ordered base/quote combination.
type Pair struct {
	Base  SynthDefinition `json:"base"`
	Quote SynthDefinition `json:"quote"`

	// Price is the quote-denominated price of one unit of base, 0 when unknown
	Price float64 `json:"price"`
}

// Key returns the pair identity, e.g. sBTC/sUSD.
func (p Pair) Key() string {
	return p.Base.Symbol + "/" + p.Quote.Symbol
}

// RateSample is one price observation in the reference currency.
type RateSample struct {
	// Timestamp in epoch milliseconds
	Timestamp int64   `json:"timestamp"`
	Price     float64 `json:"price"`
}

// Time converts the sample timestamp.
func (r RateSample) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// HistoricalRateSeries is the cached rate history for one (symbol, period).
type HistoricalRateSeries struct {
	Symbol string       `json:"symbol"`
	Period Period       `json:"period"`
	Rates  []RateSample `json:"rates"`

	// Change is (last-first)/first as a fraction
	Change float64 `json:"change"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`

	// Volume is only known when an external source reports it
	Volume *float64 `json:"volume,omitempty"`
}

// SeriesKey identifies one cached historical series.
type SeriesKey struct {
	Symbol string
	Period Period
}

// String renders the key as symbol:period.
func (k SeriesKey) String() string {
	return k.Symbol + ":" + string(k.Period)
}

// Last returns the most recent sample.
func (h HistoricalRateSeries) Last() (RateSample, bool) {
	if len(h.Rates) == 0 {
		return RateSample{}, false
	}
	return h.Rates[len(h.Rates)-1], true
}

// DerivedMarketRow combines a pair with its latest price and 24h statistics.
type DerivedMarketRow struct {
	Pair      Pair    `json:"pair"`
	PairKey   string  `json:"pair_key"`
	LastPrice float64 `json:"last_price"`

	// HasHistory is false until a one-day series is available for both legs
	HasHistory bool `json:"has_history"`

	Change24h float64      `json:"change_24h"`
	High24h   float64      `json:"high_24h"`
	Low24h    float64      `json:"low_24h"`
	Volume24h *float64     `json:"volume_24h,omitempty"`
	Rates     []RateSample `json:"rates,omitempty"`
}

// SynthBalance is a wallet's holding of one synth.
type SynthBalance struct {
	Balance    float64 `json:"balance"`
	USDBalance float64 `json:"usd_balance"`
}

// WalletBalances is the normalized balance snapshot for one address.
type WalletBalances struct {
	Address    string                  `json:"address"`
	Synths     map[string]SynthBalance `json:"synths"`
	ETH        SynthBalance            `json:"eth"`
	USDBalance float64                 `json:"usd_balance"`
	FetchedAt  time.Time               `json:"fetched_at"`
}

// GasInfo holds gas price tiers in gwei.
type GasInfo struct {
	Fast    float64 `json:"fast"`
	Average float64 `json:"average"`
	Slow    float64 `json:"slow"`

	FastestAllowed float64 `json:"fastest_allowed"`
	AverageAllowed float64 `json:"average_allowed"`
	SlowAllowed    float64 `json:"slow_allowed"`
}

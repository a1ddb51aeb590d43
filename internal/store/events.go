package store

import (
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/model"
)

// Event is an input to Reduce.
type Event interface {
	event()
}

// SynthsLoaded replaces the registry.
type SynthsLoaded struct {
	Synths []model.SynthDefinition
}

// FrozenSynthsUpdated marks synths frozen.
type FrozenSynthsUpdated struct {
	Symbols []string
}

// SynthPairSelected changes the selected pair. Unknown symbols are ignored.
type SynthPairSelected struct {
	Base  string
	Quote string
}

// WalletCleared drops the balances held for an address.
type WalletCleared struct {
	Address string
}

// FetchRequested asks for a new request on Key. Force supersedes a request
// already in flight, e.g. after a dependency change.
type FetchRequested struct {
	Key   Key
	Force bool
}

// FetchSucceeded delivers the result of request Seq.
type FetchSucceeded struct {
	Key    Key
	Seq    uint64
	Result Result
	At     time.Time
}

// FetchFailed reports the failure of request Seq.
type FetchFailed struct {
	Key Key
	Seq uint64
	Err string
	At  time.Time
}

func (SynthsLoaded) event()        {}
func (FrozenSynthsUpdated) event() {}
func (SynthPairSelected) event()   {}
func (WalletCleared) event()       {}
func (FetchRequested) event()      {}
func (FetchSucceeded) event()      {}
func (FetchFailed) event()         {}

// Result is the normalized payload of a successful fetch.
type Result interface {
	apply(s State) State
}

// SpotRatesResult carries a live rate snapshot, in sUSD.
type SpotRatesResult struct {
	Rates map[string]float64
}

// FrozenSynthsResult lists synths found frozen on chain.
type FrozenSynthsResult struct {
	Symbols []string
}

// SynthsResult carries the full synth list.
type SynthsResult struct {
	Synths []model.SynthDefinition
}

// HistoricalRatesResult carries one series as returned upstream.
type HistoricalRatesResult struct {
	Symbol string
	Period model.Period
	Rates  []model.RateSample
}

// WalletBalancesResult carries one wallet's balances.
type WalletBalancesResult struct {
	Balances model.WalletBalances
}

// GasPriceResult carries gas station tiers.
type GasPriceResult struct {
	Gas model.GasInfo
}

// ExchangeFeeResult carries the exchange fee rate as a percentage.
type ExchangeFeeResult struct {
	Rate float64
}

func (r SpotRatesResult) apply(s State) State {
	s.SpotRates = copyRates(r.Rates)
	return s
}

func (r FrozenSynthsResult) apply(s State) State {
	return reduceFrozen(s, r.Symbols)
}

func (r SynthsResult) apply(s State) State {
	return reduceSynths(s, r.Synths)
}

func (r HistoricalRatesResult) apply(s State) State {
	s.History = s.History.Merge(model.SeriesKey{Symbol: r.Symbol, Period: r.Period}, r.Rates)
	return s
}

func (r WalletBalancesResult) apply(s State) State {
	next := make(map[string]model.WalletBalances, len(s.Balances)+1)
	for k, v := range s.Balances {
		next[k] = v
	}
	next[NormalizeAddress(r.Balances.Address)] = r.Balances
	s.Balances = next
	return s
}

func (r GasPriceResult) apply(s State) State {
	s.Gas = r.Gas
	return s
}

func (r ExchangeFeeResult) apply(s State) State {
	s.ExchangeFeeRate = r.Rate
	return s
}

func copyRates(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

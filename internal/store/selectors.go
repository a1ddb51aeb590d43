package store

import (
	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/pairs"
	"github.com/DorothyRazo/CoreExchange/internal/rates"
)

// SortedAvailableSynths returns every synth including frozen ones.
func (s State) SortedAvailableSynths() []model.SynthDefinition {
	return s.Registry.SortedAvailableSynths()
}

// AvailableSynths returns the tradable synths.
func (s State) AvailableSynths() []model.SynthDefinition {
	return s.Registry.AvailableSynths()
}

// PairList is the priced pair list for a quote filter or search query.
func (s State) PairList(quote, query string) []model.Pair {
	return rates.AttachRates(pairs.List(s.Pairs, quote, query), s.SpotRates)
}

// SelectedPair returns the selected pair with its current price.
func (s State) SelectedPair() (model.Pair, bool) {
	base, ok := s.Registry.Get(s.Base)
	if !ok {
		return model.Pair{}, false
	}
	quote, ok := s.Registry.Get(s.Quote)
	if !ok {
		return model.Pair{}, false
	}
	return model.Pair{
		Base:  base,
		Quote: quote,
		Price: rates.PriceFor(s.SpotRates, base.Symbol, quote.Symbol),
	}, true
}

// Markets returns the market rows quoted in quote, in pair order.
func (s State) Markets(quote string) []model.DerivedMarketRow {
	return rates.BuildMarketRows(pairs.FilterByQuote(s.Pairs, quote), s.SpotRates, s.History)
}

// MarketsByChange returns Markets sorted by 24h change.
func (s State) MarketsByChange(quote string) []model.DerivedMarketRow {
	return rates.OrderByChange(s.Markets(quote))
}

// Series returns the cached series for symbol over period. Frozen synths
// keep their chart data.
func (s State) Series(symbol string, period model.Period) (model.HistoricalRateSeries, bool) {
	return s.History.Get(model.SeriesKey{Symbol: symbol, Period: period})
}

// WalletBalances returns the balances held for address.
func (s State) WalletBalances(address string) (model.WalletBalances, bool) {
	b, ok := s.Balances[NormalizeAddress(address)]
	return b, ok
}

// Status returns the fetch status of key. Unknown keys are Idle.
func (s State) Status(key Key) FetchStatus {
	return s.Fetches[key]
}

// Package rates merges live spot rates and historical series into the pair
// and market views.
package rates

import (
	"math"
	"sort"

	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/validation"
	"github.com/sirupsen/logrus"
)

// PriceFor returns the quote-denominated price of one unit of base.
// Live rates are all denominated in the reference currency, so the pair price
// is live[base]/live[quote]. Missing, zero or non-finite legs give 0.
func PriceFor(live map[string]float64, base, quote string) float64 {
	b, ok := legRate(live, base)
	if !ok {
		return 0
	}
	q, ok := legRate(live, quote)
	if !ok || q == 0 {
		return 0
	}
	p := b / q
	if !isFinite(p) {
		return 0
	}
	return p
}

// AttachRates returns a copy of pairs with Price set from the live rates.
func AttachRates(pairs []model.Pair, live map[string]float64) []model.Pair {
	out := make([]model.Pair, len(pairs))
	for i, p := range pairs {
		p.Price = PriceFor(live, p.Base.Symbol, p.Quote.Symbol)
		out[i] = p
	}
	return out
}

// MergeHistoricalSeries builds the series stored for key from a fresh fetch
// result. The previous series is replaced wholesale, never appended to.
func MergeHistoricalSeries(current *model.HistoricalRateSeries, key model.SeriesKey, incoming []model.RateSample) model.HistoricalRateSeries {
	samples := validation.CleanSamples(incoming)

	if current != nil {
		logrus.WithFields(logrus.Fields{
			"series":   key.String(),
			"previous": len(current.Rates),
			"incoming": len(samples),
		}).Debug("Replacing historical series")
	}

	series := model.HistoricalRateSeries{
		Symbol: key.Symbol,
		Period: key.Period,
		Rates:  samples,
	}
	series.Change, series.High, series.Low = Summarize(samples)
	return series
}

// History is the historical-rate cache. It is treated as immutable: Merge
// returns a new map.
type History map[model.SeriesKey]model.HistoricalRateSeries

// Get returns the series cached for key.
func (h History) Get(key model.SeriesKey) (model.HistoricalRateSeries, bool) {
	s, ok := h[key]
	return s, ok
}

// Merge replaces the series for key. Other keys are carried over untouched.
func (h History) Merge(key model.SeriesKey, incoming []model.RateSample) History {
	var current *model.HistoricalRateSeries
	if s, ok := h[key]; ok {
		current = &s
	}

	out := make(History, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	out[key] = MergeHistoricalSeries(current, key, incoming)
	return out
}

// CrossSeries divides every base sample by the most recent quote sample at or
// before it. Base samples older than the first quote sample are dropped.
// Both inputs must be oldest-first.
func CrossSeries(base, quote []model.RateSample) []model.RateSample {
	out := make([]model.RateSample, 0, len(base))
	j := -1
	for _, b := range base {
		for j+1 < len(quote) && quote[j+1].Timestamp <= b.Timestamp {
			j++
		}
		if j < 0 || quote[j].Price == 0 {
			continue
		}
		p := b.Price / quote[j].Price
		if !isFinite(p) {
			continue
		}
		out = append(out, model.RateSample{Timestamp: b.Timestamp, Price: p})
	}
	return out
}

// PairSeries resolves the series for base/quote over period from the cache.
// The reference currency is a constant 1 and needs no cached series.
func PairSeries(history History, base, quote string, period model.Period) (model.HistoricalRateSeries, bool) {
	switch {
	case base == quote:
		return model.HistoricalRateSeries{}, false
	case quote == model.ReferenceCurrency:
		return history.Get(model.SeriesKey{Symbol: base, Period: period})
	}

	q, ok := history.Get(model.SeriesKey{Symbol: quote, Period: period})
	if !ok {
		return model.HistoricalRateSeries{}, false
	}

	var samples []model.RateSample
	if base == model.ReferenceCurrency {
		samples = invert(q.Rates)
	} else {
		b, ok := history.Get(model.SeriesKey{Symbol: base, Period: period})
		if !ok {
			return model.HistoricalRateSeries{}, false
		}
		samples = CrossSeries(b.Rates, q.Rates)
	}

	series := model.HistoricalRateSeries{
		Symbol: base + "/" + quote,
		Period: period,
		Rates:  samples,
	}
	series.Change, series.High, series.Low = Summarize(samples)
	return series, true
}

// BuildMarketRows derives one row per pair from the live rates and the
// one-day history. Rows whose series is not cached yet have HasHistory=false.
func BuildMarketRows(pairs []model.Pair, live map[string]float64, history History) []model.DerivedMarketRow {
	rows := make([]model.DerivedMarketRow, 0, len(pairs))
	for _, p := range pairs {
		p.Price = PriceFor(live, p.Base.Symbol, p.Quote.Symbol)
		row := model.DerivedMarketRow{
			Pair:      p,
			PairKey:   p.Key(),
			LastPrice: p.Price,
		}

		if series, ok := PairSeries(history, p.Base.Symbol, p.Quote.Symbol, model.PeriodOneDay); ok {
			row.HasHistory = true
			row.Change24h = series.Change
			row.High24h = series.High
			row.Low24h = series.Low
			row.Volume24h = series.Volume
			row.Rates = series.Rates
		}
		rows = append(rows, row)
	}
	return rows
}

// OrderByChange sorts rows with history by descending 24h change. Sorting only
// happens among the slots those rows already occupy, so rows still waiting for
// their series keep their position.
func OrderByChange(rows []model.DerivedMarketRow) []model.DerivedMarketRow {
	out := append([]model.DerivedMarketRow(nil), rows...)

	slots := make([]int, 0, len(out))
	loaded := make([]model.DerivedMarketRow, 0, len(out))
	for i, r := range out {
		if r.HasHistory {
			slots = append(slots, i)
			loaded = append(loaded, r)
		}
	}

	sort.SliceStable(loaded, func(i, j int) bool {
		return loaded[i].Change24h > loaded[j].Change24h
	})
	for i, slot := range slots {
		out[slot] = loaded[i]
	}
	return out
}

func legRate(live map[string]float64, symbol string) (float64, bool) {
	r, ok := live[symbol]
	if !ok || !isFinite(r) || r <= 0 {
		return 0, false
	}
	return r, true
}

func invert(samples []model.RateSample) []model.RateSample {
	out := make([]model.RateSample, 0, len(samples))
	for _, s := range samples {
		if s.Price == 0 {
			continue
		}
		out = append(out, model.RateSample{Timestamp: s.Timestamp, Price: 1 / s.Price})
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Package pairs expands a flat list of synths into tradable base/quote pairs.
package pairs

import (
	"sort"
	"strings"

	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/synths"
)

// maxReferencePairsToPromote is the largest number of sUSD-quoted matches for
// which Search still pulls them to the top.
const maxReferencePairsToPromote = 2

// Derive returns every tradable pair for the given assets. For each unordered
// combination the heavier asset is the base; equal weights produce both
// directions. Output follows input order (i < j).
func Derive(assets []model.SynthDefinition) []model.Pair {
	unique := dedupe(assets)

	var list []model.Pair
	for i, a := range unique {
		for _, b := range unique[i+1:] {
			wa, wb := synths.Weight(a.Symbol), synths.Weight(b.Symbol)
			switch {
			case wb > wa:
				list = append(list, model.Pair{Base: b, Quote: a})
			case wb == wa:
				list = append(list,
					model.Pair{Base: a, Quote: b},
					model.Pair{Base: b, Quote: a},
				)
			default:
				list = append(list, model.Pair{Base: a, Quote: b})
			}
		}
	}
	return list
}

// FilterByQuote keeps pairs quoted in the given symbol.
func FilterByQuote(pairs []model.Pair, quote string) []model.Pair {
	out := make([]model.Pair, 0)
	for _, p := range pairs {
		if p.Quote.Symbol == quote {
			out = append(out, p)
		}
	}
	return out
}

// Search matches the query against both legs' symbols and descriptions,
// case-insensitively. When two or fewer matches are quoted in sUSD they are
// moved to the front, non-inverted bases first.
func Search(pairs []model.Pair, query string) []model.Pair {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]model.Pair(nil), pairs...)
	}

	matches := make([]model.Pair, 0)
	referenceCount := 0
	for _, p := range pairs {
		if !matchesLeg(p.Base, q) && !matchesLeg(p.Quote, q) {
			continue
		}
		if p.Quote.Symbol == model.ReferenceCurrency {
			referenceCount++
		}
		matches = append(matches, p)
	}

	if referenceCount > maxReferencePairsToPromote {
		return matches
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return promotion(matches[i]) < promotion(matches[j])
	})
	return matches
}

// List is the pair-list view: the quote filter when there is no query,
// otherwise a search across all pairs.
func List(pairs []model.Pair, quote, query string) []model.Pair {
	if strings.TrimSpace(query) == "" {
		return FilterByQuote(pairs, quote)
	}
	return Search(pairs, query)
}

// promotion ranks a search hit: reference pairs with a regular base first,
// then reference pairs with an inverted base, then the rest.
func promotion(p model.Pair) int {
	if p.Quote.Symbol != model.ReferenceCurrency {
		return 2
	}
	if p.Base.Inverted {
		return 1
	}
	return 0
}

func matchesLeg(d model.SynthDefinition, q string) bool {
	return strings.Contains(strings.ToLower(d.Symbol), q) ||
		strings.Contains(strings.ToLower(d.Description), q)
}

func dedupe(assets []model.SynthDefinition) []model.SynthDefinition {
	seen := make(map[string]struct{}, len(assets))
	out := make([]model.SynthDefinition, 0, len(assets))
	for _, a := range assets {
		if _, ok := seen[a.Symbol]; ok {
			continue
		}
		seen[a.Symbol] = struct{}{}
		out = append(out, a)
	}
	return out
}

// Package synths holds the currency registry: the session's catalog of
// synthetic assets keyed by symbol.
package synths

import (
	"sort"

	"github.com/DorothyRazo/CoreExchange/internal/model"
)

// frozenSymbols are never tradable regardless of on-chain state
var frozenSymbols = map[string]struct{}{
	"sMKR": {},
	"iMKR": {},
}

// IsBlockListed reports whether the symbol is on the static freeze list.
func IsBlockListed(symbol string) bool {
	_, ok := frozenSymbols[symbol]
	return ok
}

// Registry is an immutable set of synth definitions. Every update returns a
// new Registry so that snapshots handed to readers never change underneath them.
type Registry struct {
	order    []string
	bySymbol map[string]model.SynthDefinition
}

// NewRegistry builds a registry from definitions.
func NewRegistry(defs []model.SynthDefinition) Registry {
	return Registry{}.SetAvailableSynths(defs)
}

// SetAvailableSynths replaces the full registry. A repeated symbol keeps the
// position of its first occurrence and the value of its last.
func (r Registry) SetAvailableSynths(defs []model.SynthDefinition) Registry {
	next := Registry{
		order:    make([]string, 0, len(defs)),
		bySymbol: make(map[string]model.SynthDefinition, len(defs)),
	}
	for _, d := range defs {
		if d.Symbol == "" {
			continue
		}
		if _, seen := next.bySymbol[d.Symbol]; !seen {
			next.order = append(next.order, d.Symbol)
		}
		d.IsFrozen = IsBlockListed(d.Symbol)
		next.bySymbol[d.Symbol] = d
	}
	return next
}

// UpdateFrozenSynths marks known symbols as frozen. Unknown symbols are
// ignored since freeze events can arrive before the registry is populated.
func (r Registry) UpdateFrozenSynths(frozen []string) Registry {
	changed := false
	for _, s := range frozen {
		if d, ok := r.bySymbol[s]; ok && !d.IsFrozen {
			changed = true
			break
		}
	}
	if !changed {
		return r
	}

	next := r.clone()
	for _, s := range frozen {
		if d, ok := next.bySymbol[s]; ok {
			d.IsFrozen = true
			next.bySymbol[s] = d
		}
	}
	return next
}

// Get returns the definition for a symbol.
func (r Registry) Get(symbol string) (model.SynthDefinition, bool) {
	d, ok := r.bySymbol[symbol]
	return d, ok
}

// Len returns the number of registered synths.
func (r Registry) Len() int {
	return len(r.order)
}

// Symbols returns the symbols in registry order.
func (r Registry) Symbols() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List returns all definitions in registry order.
func (r Registry) List() []model.SynthDefinition {
	out := make([]model.SynthDefinition, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, r.bySymbol[s])
	}
	return out
}

// SortedAvailableSynths returns every synth, frozen ones included: crypto
// first by rank (non-inverted ahead of inverted on a tie), then everything
// else in registry order.
func (r Registry) SortedAvailableSynths() []model.SynthDefinition {
	list := r.List()
	sort.SliceStable(list, func(i, j int) bool {
		return lessSynth(list[i], list[j])
	})
	return list
}

// AvailableSynths is SortedAvailableSynths without frozen entries.
func (r Registry) AvailableSynths() []model.SynthDefinition {
	sorted := r.SortedAvailableSynths()
	out := sorted[:0]
	for _, d := range sorted {
		if !d.IsFrozen {
			out = append(out, d)
		}
	}
	return out
}

func lessSynth(a, b model.SynthDefinition) bool {
	if a.IsCrypto() != b.IsCrypto() {
		return a.IsCrypto()
	}
	if !a.IsCrypto() {
		return false
	}

	ra, okA := Rank(a.Symbol)
	rb, okB := Rank(b.Symbol)
	if okA != okB {
		return okA
	}
	if ra != rb {
		return ra < rb
	}
	return !a.Inverted && b.Inverted
}

func (r Registry) clone() Registry {
	next := Registry{
		order:    make([]string, len(r.order)),
		bySymbol: make(map[string]model.SynthDefinition, len(r.bySymbol)),
	}
	copy(next.order, r.order)
	for k, v := range r.bySymbol {
		next.bySymbol[k] = v
	}
	return next
}

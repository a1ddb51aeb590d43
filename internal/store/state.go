// Package store is the process-wide market state: a plain State value,
// pure reducers over it, and a locked container that sequences fetches.
package store

import (
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/rates"
	"github.com/DorothyRazo/CoreExchange/internal/synths"
)

// Default selected pair
const (
	DefaultBase  = "sBTC"
	DefaultQuote = model.ReferenceCurrency
)

// Phase is the lifecycle of one fetch key.
type Phase int

// Fetch phases
const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseLoaded
	PhaseRefreshing
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseLoaded:
		return "loaded"
	case PhaseRefreshing:
		return "refreshing"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase name in JSON.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// FetchStatus is the per-key fetch state exposed to readers.
type FetchStatus struct {
	Phase Phase `json:"phase"`

	// Seq is the latest issued request number. Results carrying another
	// number are stale.
	Seq uint64 `json:"seq"`

	IsLoading    bool      `json:"is_loading"`
	IsRefreshing bool      `json:"is_refreshing"`
	IsLoaded     bool      `json:"is_loaded"`
	Error        string    `json:"error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// InFlight reports whether a request is outstanding.
func (f FetchStatus) InFlight() bool {
	return f.Phase == PhaseLoading || f.Phase == PhaseRefreshing
}

// State is the whole session state. Reducers never modify a State's maps or
// slices in place, so a State value can be shared freely once published.
type State struct {
	Registry synths.Registry

	// Selected pair
	Base  string
	Quote string

	// Pairs is derived from the registry's tradable synths
	Pairs []model.Pair

	SpotRates       map[string]float64
	History         rates.History
	Balances        map[string]model.WalletBalances
	Gas             model.GasInfo
	ExchangeFeeRate float64

	Fetches map[Key]FetchStatus
}

// NewState returns an empty state with the default pair selected.
func NewState() State {
	return State{
		Base:      DefaultBase,
		Quote:     DefaultQuote,
		SpotRates: map[string]float64{},
		History:   rates.History{},
		Balances:  map[string]model.WalletBalances{},
		Fetches:   map[Key]FetchStatus{},
	}
}

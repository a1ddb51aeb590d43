package store

import (
	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/pairs"
)

// Reduce applies one event and returns the next state. It never modifies s.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case SynthsLoaded:
		return reduceSynths(s, e.Synths)
	case FrozenSynthsUpdated:
		return reduceFrozen(s, e.Symbols)
	case SynthPairSelected:
		return reducePairSelected(s, e)
	case WalletCleared:
		return reduceWalletCleared(s, e.Address)
	case FetchRequested:
		return reduceRequested(s, e)
	case FetchSucceeded:
		return reduceSucceeded(s, e)
	case FetchFailed:
		return reduceFailed(s, e)
	default:
		return s
	}
}

func reduceSynths(s State, defs []model.SynthDefinition) State {
	s.Registry = s.Registry.SetAvailableSynths(defs)
	s.Pairs = pairs.Derive(s.Registry.AvailableSynths())
	return s
}

func reduceFrozen(s State, symbols []string) State {
	s.Registry = s.Registry.UpdateFrozenSynths(symbols)
	s.Pairs = pairs.Derive(s.Registry.AvailableSynths())
	return s
}

func reducePairSelected(s State, e SynthPairSelected) State {
	if e.Base == e.Quote {
		return s
	}
	if _, ok := s.Registry.Get(e.Base); !ok {
		return s
	}
	if _, ok := s.Registry.Get(e.Quote); !ok {
		return s
	}
	s.Base, s.Quote = e.Base, e.Quote
	return s
}

func reduceWalletCleared(s State, address string) State {
	addr := NormalizeAddress(address)
	key := WalletBalancesKey(addr)
	if _, ok := s.Balances[addr]; !ok {
		if _, ok := s.Fetches[key]; !ok {
			return s
		}
	}

	balances := make(map[string]model.WalletBalances, len(s.Balances))
	for k, v := range s.Balances {
		if k != addr {
			balances[k] = v
		}
	}
	s.Balances = balances

	// the sequence counter survives so that late results stay stale
	if st, ok := s.Fetches[key]; ok {
		s = withStatus(s, key, FetchStatus{Phase: PhaseIdle, Seq: st.Seq})
	}
	return s
}

func reduceRequested(s State, e FetchRequested) State {
	st := s.Fetches[e.Key]
	if st.InFlight() && !e.Force {
		return s
	}

	st.Seq++
	switch st.Phase {
	case PhaseLoaded:
		st.Phase = PhaseRefreshing
	case PhaseIdle, PhaseFailed:
		st.Phase = PhaseLoading
	}
	st.IsLoading = st.Phase == PhaseLoading
	st.IsRefreshing = st.Phase == PhaseRefreshing
	return withStatus(s, e.Key, st)
}

func reduceSucceeded(s State, e FetchSucceeded) State {
	st, ok := s.Fetches[e.Key]
	if !ok || st.Seq != e.Seq || !st.InFlight() {
		return s
	}

	if e.Result != nil {
		s = e.Result.apply(s)
	}

	st.Phase = PhaseLoaded
	st.IsLoading = false
	st.IsRefreshing = false
	st.IsLoaded = true
	st.Error = ""
	st.UpdatedAt = e.At
	return withStatus(s, e.Key, st)
}

func reduceFailed(s State, e FetchFailed) State {
	st, ok := s.Fetches[e.Key]
	if !ok || st.Seq != e.Seq || !st.InFlight() {
		return s
	}

	// previously loaded data stays in place
	st.Phase = PhaseFailed
	st.IsLoading = false
	st.IsRefreshing = false
	st.Error = e.Err
	st.UpdatedAt = e.At
	return withStatus(s, e.Key, st)
}

func withStatus(s State, key Key, st FetchStatus) State {
	next := make(map[Key]FetchStatus, len(s.Fetches)+1)
	for k, v := range s.Fetches {
		next[k] = v
	}
	next[key] = st
	s.Fetches = next
	return s
}

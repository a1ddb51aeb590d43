package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/store"
	"github.com/DorothyRazo/CoreExchange/internal/validation"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// maxParallelHistory bounds concurrent subgraph queries.
const maxParallelHistory = 4

// LoadSynths loads the registry. Pairs are derived when it commits.
func (o *Orchestrator) LoadSynths(ctx context.Context, force bool) Outcome {
	return o.Run(ctx, store.SynthsKey(), force, func(ctx context.Context) (store.Result, error) {
		if o.src.Rates == nil {
			return nil, ErrNotConfigured
		}
		defs, err := o.src.Rates.Synths(ctx)
		if err != nil {
			return nil, fmt.Errorf("error loading synths: %w", err)
		}
		return store.SynthsResult{Synths: defs}, nil
	})
}

// RefreshSpotRates fetches live rates for every registered synth. A snapshot
// rejected by the rate guard fails the key, so the previously committed rates
// stay in place with the guard's error on them.
func (o *Orchestrator) RefreshSpotRates(ctx context.Context, force bool) Outcome {
	return o.Run(ctx, store.SpotRatesKey(), force, func(ctx context.Context) (store.Result, error) {
		if o.src.Rates == nil {
			return nil, ErrNotConfigured
		}
		symbols, err := o.symbols()
		if err != nil {
			return nil, err
		}

		live, err := o.src.Rates.SpotRates(ctx, symbols)
		if err != nil {
			return nil, fmt.Errorf("error fetching spot rates: %w", err)
		}
		live = validation.FilterSpotRates(live)

		if o.guard != nil {
			if err := o.guard.Check(live); err != nil {
				kept := len(o.store.Snapshot().SpotRates) > 0
				o.metrics.guardRejected(kept)
				if kept {
					logrus.WithError(err).Warn("Spot rates rejected, serving last committed rates")
				}
				return nil, fmt.Errorf("spot rates rejected: %w", err)
			}
		}
		return store.SpotRatesResult{Rates: live}, nil
	})
}

// RefreshFrozenSynths re-checks which inverse synths are frozen.
func (o *Orchestrator) RefreshFrozenSynths(ctx context.Context, force bool) Outcome {
	return o.Run(ctx, store.FrozenSynthsKey(), force, func(ctx context.Context) (store.Result, error) {
		if o.src.Rates == nil {
			return nil, ErrNotConfigured
		}
		symbols, err := o.symbols()
		if err != nil {
			return nil, err
		}
		frozen, err := o.src.Rates.FrozenSynths(ctx, symbols)
		if err != nil {
			return nil, fmt.Errorf("error checking frozen synths: %w", err)
		}
		return store.FrozenSynthsResult{Symbols: frozen}, nil
	})
}

// RefreshHistoricalRates fetches one (symbol, period) series.
func (o *Orchestrator) RefreshHistoricalRates(ctx context.Context, symbol string, period model.Period, force bool) Outcome {
	key := store.HistoricalRatesKey(symbol, period)
	return o.Run(ctx, key, force, func(ctx context.Context) (store.Result, error) {
		if o.src.History == nil {
			return nil, ErrNotConfigured
		}
		samples, err := o.src.History.HistoricalRates(ctx, symbol, period)
		if err != nil {
			return nil, fmt.Errorf("error fetching %s history: %w", key, err)
		}
		return store.HistoricalRatesResult{Symbol: symbol, Period: period, Rates: samples}, nil
	})
}

// RefreshHistoricalRatesFor fetches every (symbol, period) combination and
// returns the outcome per key.
func (o *Orchestrator) RefreshHistoricalRatesFor(ctx context.Context, symbols []string, periods []model.Period, force bool) map[store.Key]Outcome {
	var mu sync.Mutex
	outcomes := make(map[store.Key]Outcome, len(symbols)*len(periods))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelHistory)
	for _, sym := range symbols {
		for _, p := range periods {
			sym, p := sym, p
			g.Go(func() error {
				out := o.RefreshHistoricalRates(gctx, sym, p, force)
				mu.Lock()
				outcomes[store.HistoricalRatesKey(sym, p)] = out
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	return outcomes
}

// RefreshWalletBalances fetches the balances of address for every registered synth.
func (o *Orchestrator) RefreshWalletBalances(ctx context.Context, address string, force bool) Outcome {
	return o.Run(ctx, store.WalletBalancesKey(address), force, func(ctx context.Context) (store.Result, error) {
		if o.src.Wallet == nil {
			return nil, ErrNotConfigured
		}
		symbols, err := o.symbols()
		if err != nil {
			return nil, err
		}
		balances, err := o.src.Wallet.WalletBalances(ctx, address, symbols)
		if err != nil {
			return nil, fmt.Errorf("error fetching wallet balances: %w", err)
		}
		return store.WalletBalancesResult{Balances: balances}, nil
	})
}

// RefreshGasPrice fetches gas price tiers.
func (o *Orchestrator) RefreshGasPrice(ctx context.Context, force bool) Outcome {
	return o.Run(ctx, store.GasPriceKey(), force, func(ctx context.Context) (store.Result, error) {
		if o.src.Gas == nil {
			return nil, ErrNotConfigured
		}
		gas, err := o.src.Gas.GasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("error fetching gas price: %w", err)
		}
		return store.GasPriceResult{Gas: gas}, nil
	})
}

// RefreshExchangeFeeRate fetches the exchange fee percentage.
func (o *Orchestrator) RefreshExchangeFeeRate(ctx context.Context, force bool) Outcome {
	return o.Run(ctx, store.ExchangeFeeKey(), force, func(ctx context.Context) (store.Result, error) {
		if o.src.Rates == nil {
			return nil, ErrNotConfigured
		}
		fee, err := o.src.Rates.ExchangeFeeRate(ctx)
		if err != nil {
			return nil, fmt.Errorf("error fetching exchange fee rate: %w", err)
		}
		return store.ExchangeFeeResult{Rate: fee}, nil
	})
}

// RefreshExchangeData refreshes rates, frozen synths, gas and the fee rate
// concurrently. Each part commits or fails on its own key. A registry that
// never loaded is loaded first.
func (o *Orchestrator) RefreshExchangeData(ctx context.Context, force bool) map[store.Key]Outcome {
	o.ensureSynths(ctx)

	parts := []struct {
		key store.Key
		run func(context.Context, bool) Outcome
	}{
		{store.SpotRatesKey(), o.RefreshSpotRates},
		{store.FrozenSynthsKey(), o.RefreshFrozenSynths},
		{store.GasPriceKey(), o.RefreshGasPrice},
		{store.ExchangeFeeKey(), o.RefreshExchangeFeeRate},
	}

	results := make([]Outcome, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			results[i] = p.run(gctx, force)
			return nil
		})
	}
	_ = g.Wait()

	outcomes := make(map[store.Key]Outcome, len(parts))
	for i, p := range parts {
		outcomes[p.key] = results[i]
	}
	logrus.WithFields(logrus.Fields{
		"spot_rates": results[0],
		"frozen":     results[1],
		"gas":        results[2],
		"fee":        results[3],
	}).Debug("Exchange data refreshed")
	return outcomes
}

// Bootstrap loads the registry and then the exchange data that depends on it.
// A failed registry load is retried by the spot-rate poll and by
// RefreshExchangeData.
func (o *Orchestrator) Bootstrap(ctx context.Context) {
	if out := o.LoadSynths(ctx, false); out != Committed {
		logrus.WithField("outcome", out).Warn("Synth registry not loaded at startup, retrying on next poll")
		return
	}
	o.RefreshExchangeData(ctx, false)
}

// ensureSynths loads the registry unless it has loaded before.
func (o *Orchestrator) ensureSynths(ctx context.Context) {
	if o.store.Status(store.SynthsKey()).IsLoaded {
		return
	}
	o.LoadSynths(ctx, false)
}

func (o *Orchestrator) symbols() ([]string, error) {
	symbols := o.store.Snapshot().Registry.Symbols()
	if len(symbols) == 0 {
		return nil, ErrNoSynths
	}
	return symbols, nil
}

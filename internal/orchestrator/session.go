package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ErrInvalidAddress is returned by ConnectWallet for malformed addresses.
var ErrInvalidAddress = errors.New("invalid wallet address")

const (
	taskSpotRates     = "spot-rates"
	taskGas           = "gas-price"
	taskMarketHistory = "market-history"
)

// ConnectWallet makes address the active wallet and starts polling its
// balances. A previously connected wallet is disconnected first.
func (o *Orchestrator) ConnectWallet(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("connect %q: %w", address, ErrInvalidAddress)
	}
	addr := store.NormalizeAddress(address)

	o.mu.Lock()
	if o.wallet == addr {
		o.mu.Unlock()
		return nil
	}
	prev, unmount := o.wallet, o.unmountWallet
	o.wallet = addr
	o.unmountWallet = o.sched.Mount(string(store.WalletBalancesKey(addr)), o.intervals.Balances, func(ctx context.Context) {
		o.RefreshWalletBalances(ctx, addr, false)
	})
	o.mu.Unlock()

	if prev != "" {
		o.release(prev, unmount)
	}
	o.metrics.walletConnected(true)
	logrus.WithField("address", addr).Info("Wallet connected")
	return nil
}

// DisconnectWallet stops polling and drops the active wallet's balances.
func (o *Orchestrator) DisconnectWallet() {
	o.mu.Lock()
	prev, unmount := o.wallet, o.unmountWallet
	o.wallet, o.unmountWallet = "", nil
	o.mu.Unlock()

	if prev == "" {
		return
	}
	o.release(prev, unmount)
	o.metrics.walletConnected(false)
	logrus.WithField("address", prev).Info("Wallet disconnected")
}

func (o *Orchestrator) release(address string, unmount func()) {
	if unmount != nil {
		unmount()
	}
	o.store.Dispatch(store.WalletCleared{Address: address})
}

// Wallet returns the active wallet address, or "".
func (o *Orchestrator) Wallet() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.wallet
}

// OnExchange refreshes the active wallet when it was party to an exchange.
func (o *Orchestrator) OnExchange(ctx context.Context, account string) {
	addr := store.NormalizeAddress(account)
	if addr == "" || addr != o.Wallet() {
		return
	}
	logrus.WithField("address", addr).Debug("Exchange seen for active wallet, refreshing balances")
	o.RefreshWalletBalances(ctx, addr, true)
}

// MountMarkets starts polling spot rates, frozen synths, gas and the fee rate.
// The spot-rate poll also retries the registry until it has loaded.
func (o *Orchestrator) MountMarkets() (unmount func()) {
	stopRates := o.sched.Mount(taskSpotRates, o.intervals.Rates, func(ctx context.Context) {
		o.ensureSynths(ctx)
		o.RefreshSpotRates(ctx, false)
		o.RefreshFrozenSynths(ctx, false)
	})
	stopGas := o.sched.Mount(taskGas, o.intervals.Gas, func(ctx context.Context) {
		o.RefreshGasPrice(ctx, false)
		o.RefreshExchangeFeeRate(ctx, false)
	})
	return func() {
		stopRates()
		stopGas()
	}
}

// MountMarketHistory polls the one-day series of every tradable synth, from
// which market rows take their 24h change, high and low.
func (o *Orchestrator) MountMarketHistory() (unmount func()) {
	return o.sched.Mount(taskMarketHistory, o.intervals.History, func(ctx context.Context) {
		available := o.store.Snapshot().AvailableSynths()
		symbols := make([]string, 0, len(available))
		for _, d := range available {
			if d.Symbol != model.ReferenceCurrency {
				symbols = append(symbols, d.Symbol)
			}
		}
		if len(symbols) == 0 {
			return
		}
		o.RefreshHistoricalRatesFor(ctx, symbols, []model.Period{model.PeriodOneDay}, false)
	})
}

// MountHistoricalRates starts polling one series.
func (o *Orchestrator) MountHistoricalRates(symbol string, period model.Period) (unmount func()) {
	return o.sched.Mount(string(store.HistoricalRatesKey(symbol, period)), o.intervals.History, func(ctx context.Context) {
		o.RefreshHistoricalRates(ctx, symbol, period, false)
	})
}

// MountSelectedPair polls the one-day series of both legs of the selected
// pair for as long as the returned function is not called. The legs are
// re-read on every tick so a pair change is picked up.
func (o *Orchestrator) MountSelectedPair() (unmount func()) {
	return o.sched.Mount("selected-pair", o.intervals.History, func(ctx context.Context) {
		s := o.store.Snapshot()
		legs := make([]string, 0, 2)
		for _, sym := range []string{s.Base, s.Quote} {
			if sym != "" && sym != model.ReferenceCurrency {
				legs = append(legs, sym)
			}
		}
		o.RefreshHistoricalRatesFor(ctx, legs, []model.Period{model.PeriodOneDay}, false)
	})
}

// SelectPair selects base/quote and fetches the one-day series of the new
// legs, superseding any fetch still running for the old pair.
func (o *Orchestrator) SelectPair(ctx context.Context, base, quote string) (map[store.Key]Outcome, error) {
	if err := o.store.SelectPair(base, quote); err != nil {
		return nil, err
	}
	legs := make([]string, 0, 2)
	for _, sym := range []string{base, quote} {
		if sym != model.ReferenceCurrency {
			legs = append(legs, sym)
		}
	}
	return o.RefreshHistoricalRatesFor(ctx, legs, []model.Period{model.PeriodOneDay}, true), nil
}

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/circuitbreaker"
	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/scheduler"
	"github.com/DorothyRazo/CoreExchange/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWallet = "0x00000000000000000000000000000000000000AA"

type fakeRates struct {
	mu     sync.Mutex
	synths []model.SynthDefinition
	rates  map[string]float64
	frozen []string
	fee    float64
	err    error
}

func (f *fakeRates) Synths(context.Context) ([]model.SynthDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.synths, f.err
}

func (f *fakeRates) SpotRates(_ context.Context, symbols []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if r, ok := f.rates[s]; ok {
			out[s] = r
		}
	}
	return out, nil
}

func (f *fakeRates) FrozenSynths(context.Context, []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frozen, f.err
}

func (f *fakeRates) ExchangeFeeRate(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fee, f.err
}

func (f *fakeRates) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRates) setRates(r map[string]float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rates = r
}

type fakeHistory struct{}

func (fakeHistory) HistoricalRates(_ context.Context, symbol string, _ model.Period) ([]model.RateSample, error) {
	if symbol == "sXXX" {
		return nil, errors.New("no such synth")
	}
	// newest first, as upstream reports
	return []model.RateSample{
		{Timestamp: 3000, Price: 120},
		{Timestamp: 2000, Price: 90},
		{Timestamp: 1000, Price: 100},
	}, nil
}

type fakeWallet struct {
	calls atomic.Int32
}

func (f *fakeWallet) WalletBalances(_ context.Context, address string, _ []string) (model.WalletBalances, error) {
	f.calls.Add(1)
	return model.WalletBalances{
		Address:    address,
		Synths:     map[string]model.SynthBalance{"sUSD": {Balance: 100, USDBalance: 100}},
		USDBalance: 100,
	}, nil
}

type fakeGas struct{}

func (fakeGas) GasPrice(context.Context) (model.GasInfo, error) {
	return model.GasInfo{Fast: 40, Average: 20, Slow: 10, FastestAllowed: 40, AverageAllowed: 20, SlowAllowed: 10}, nil
}

func testSynths() []model.SynthDefinition {
	return []model.SynthDefinition{
		{Symbol: "sUSD", Category: model.CategoryForex},
		{Symbol: "sBTC", Category: model.CategoryCrypto},
		{Symbol: "sETH", Category: model.CategoryCrypto},
		{Symbol: "iETH", Category: model.CategoryCrypto, Inverted: true},
	}
}

type harness struct {
	orch    *Orchestrator
	store   *store.Store
	sched   *scheduler.Scheduler
	rates   *fakeRates
	wallet  *fakeWallet
	metrics *Metrics
}

func newHarness(t *testing.T, guard *circuitbreaker.CircuitBreaker) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sched := scheduler.New(ctx)
	t.Cleanup(func() {
		sched.StopAll()
		cancel()
	})

	h := &harness{
		store: store.New(),
		sched: sched,
		rates: &fakeRates{
			synths: testSynths(),
			rates:  map[string]float64{"sUSD": 1, "sBTC": 10000, "sETH": 500, "iETH": 80},
			frozen: []string{"iETH"},
			fee:    0.3,
		},
		wallet:  &fakeWallet{},
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
	h.orch = New(h.store, sched, Options{
		Sources: Sources{
			Rates:   h.rates,
			History: fakeHistory{},
			Wallet:  h.wallet,
			Gas:     fakeGas{},
		},
		Guard:     guard,
		Metrics:   h.metrics,
		Timeout:   time.Second,
		Intervals: Intervals{Rates: time.Hour, Balances: time.Hour, Gas: time.Hour, History: time.Hour},
	})
	return h
}

func TestRunSkipsWhileInFlight(t *testing.T) {
	h := newHarness(t, nil)
	key := store.GasPriceKey()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan Outcome, 1)
	go func() {
		done <- h.orch.Run(context.Background(), key, false, func(context.Context) (store.Result, error) {
			close(started)
			<-release
			return store.GasPriceResult{Gas: model.GasInfo{Fast: 1}}, nil
		})
	}()
	<-started

	calls := 0
	out := h.orch.Run(context.Background(), key, false, func(context.Context) (store.Result, error) {
		calls++
		return store.GasPriceResult{}, nil
	})
	assert.Equal(t, Skipped, out)
	assert.Equal(t, 0, calls)
	assert.True(t, h.store.Status(key).IsLoading)

	close(release)
	assert.Equal(t, Committed, <-done)

	st := h.store.Status(key)
	assert.Equal(t, store.PhaseLoaded, st.Phase)
	assert.True(t, st.IsLoaded)
	assert.Equal(t, 1.0, h.store.Snapshot().Gas.Fast)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.fetches.WithLabelValues("gas-price", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.fetches.WithLabelValues("gas-price", "skipped")))
}

func TestRunForceSupersedesInFlight(t *testing.T) {
	h := newHarness(t, nil)
	key := store.GasPriceKey()

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan Outcome, 1)
	go func() {
		done <- h.orch.Run(context.Background(), key, false, func(context.Context) (store.Result, error) {
			close(started)
			<-release
			return store.GasPriceResult{Gas: model.GasInfo{Fast: 1}}, nil
		})
	}()
	<-started

	out := h.orch.Run(context.Background(), key, true, func(context.Context) (store.Result, error) {
		return store.GasPriceResult{Gas: model.GasInfo{Fast: 2}}, nil
	})
	assert.Equal(t, Committed, out)

	close(release)
	assert.Equal(t, Discarded, <-done)
	assert.Equal(t, 2.0, h.store.Snapshot().Gas.Fast)
	assert.Equal(t, uint64(2), h.store.Status(key).Seq)
}

func TestRunFailureKeepsData(t *testing.T) {
	h := newHarness(t, nil)
	key := store.GasPriceKey()

	require.Equal(t, Committed, h.orch.RefreshGasPrice(context.Background(), false))

	out := h.orch.Run(context.Background(), key, false, func(context.Context) (store.Result, error) {
		return nil, errors.New("gas station down")
	})
	assert.Equal(t, Failed, out)

	st := h.store.Status(key)
	assert.Equal(t, store.PhaseFailed, st.Phase)
	assert.True(t, st.IsLoaded)
	assert.Contains(t, st.Error, "gas station down")
	assert.Equal(t, 40.0, h.store.Snapshot().Gas.Fast)
}

func TestRunRecoversPanic(t *testing.T) {
	h := newHarness(t, nil)

	out := h.orch.Run(context.Background(), store.ExchangeFeeKey(), false, func(context.Context) (store.Result, error) {
		panic("boom")
	})
	assert.Equal(t, Failed, out)
	assert.Contains(t, h.store.Status(store.ExchangeFeeKey()).Error, "boom")
	assert.False(t, h.store.Status(store.ExchangeFeeKey()).InFlight())
}

func TestNotConfiguredSourcesFailIntoState(t *testing.T) {
	o := New(store.New(), scheduler.New(context.Background()), Options{})

	assert.Equal(t, Failed, o.LoadSynths(context.Background(), false))
	assert.Equal(t, Failed, o.RefreshGasPrice(context.Background(), false))
	assert.Contains(t, o.Store().Status(store.SynthsKey()).Error, ErrNotConfigured.Error())
}

func TestLoadSynthsDerivesPairs(t *testing.T) {
	h := newHarness(t, nil)

	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))

	s := h.store.Snapshot()
	assert.Equal(t, 4, s.Registry.Len())
	assert.NotEmpty(t, s.Pairs)
	assert.Equal(t, "sBTC", s.Base)
	assert.Equal(t, "sUSD", s.Quote)
}

func TestRefreshNeedsRegistry(t *testing.T) {
	h := newHarness(t, nil)

	assert.Equal(t, Failed, h.orch.RefreshSpotRates(context.Background(), false))
	assert.Contains(t, h.store.Status(store.SpotRatesKey()).Error, ErrNoSynths.Error())
}

func TestRefreshSpotRatesGuardFallback(t *testing.T) {
	guard := circuitbreaker.New(circuitbreaker.Thresholds{MinSynths: 2, MaxRateChange: 0.5})
	h := newHarness(t, guard)
	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))

	require.Equal(t, Committed, h.orch.RefreshSpotRates(context.Background(), false))
	assert.Equal(t, 10000.0, h.store.Snapshot().SpotRates["sBTC"])

	h.rates.setRates(map[string]float64{"sUSD": 1, "sBTC": 30000, "sETH": 500})
	require.Equal(t, Failed, h.orch.RefreshSpotRates(context.Background(), false))

	s := h.store.Snapshot()
	assert.Equal(t, 10000.0, s.SpotRates["sBTC"])
	st := s.Status(store.SpotRatesKey())
	assert.Equal(t, store.PhaseFailed, st.Phase)
	assert.True(t, st.IsLoaded)
	assert.Contains(t, st.Error, "rate change too drastic for sBTC")
	assert.Equal(t, circuitbreaker.StateOpen, guard.GetState())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.guardTrips.WithLabelValues("last_good")))

	require.Equal(t, Failed, h.orch.RefreshSpotRates(context.Background(), false))
	assert.Contains(t, h.store.Status(store.SpotRatesKey()).Error, circuitbreaker.ErrOpen.Error())
}

func TestRefreshSpotRatesAcceptsSustainedMove(t *testing.T) {
	guard := circuitbreaker.New(circuitbreaker.Thresholds{MinSynths: 2, MaxRateChange: 0.5}).
		WithResetDelay(time.Millisecond)
	h := newHarness(t, guard)
	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))
	require.Equal(t, Committed, h.orch.RefreshSpotRates(context.Background(), false))

	h.rates.setRates(map[string]float64{"sUSD": 1, "sBTC": 30000, "sETH": 500})
	require.Equal(t, Failed, h.orch.RefreshSpotRates(context.Background(), false))

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, Committed, h.orch.RefreshSpotRates(context.Background(), false))

	st := h.store.Status(store.SpotRatesKey())
	assert.Equal(t, store.PhaseLoaded, st.Phase)
	assert.Empty(t, st.Error)
	assert.Equal(t, 30000.0, h.store.Snapshot().SpotRates["sBTC"])
	assert.Equal(t, circuitbreaker.StateHalfOpen, guard.GetState())
}

func TestRefreshSpotRatesAfterGuardReset(t *testing.T) {
	guard := circuitbreaker.New(circuitbreaker.Thresholds{MinSynths: 2, MaxRateChange: 0.5})
	h := newHarness(t, guard)
	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))
	require.Equal(t, Committed, h.orch.RefreshSpotRates(context.Background(), false))

	h.rates.setRates(map[string]float64{"sUSD": 1, "sBTC": 30000, "sETH": 500})
	require.Equal(t, Failed, h.orch.RefreshSpotRates(context.Background(), false))

	guard.Reset()
	require.Equal(t, Committed, h.orch.RefreshSpotRates(context.Background(), false))
	assert.Equal(t, 30000.0, h.store.Snapshot().SpotRates["sBTC"])
	assert.Equal(t, circuitbreaker.StateClosed, guard.GetState())
}

func TestRefreshSpotRatesGuardWithoutBaseline(t *testing.T) {
	guard := circuitbreaker.New(circuitbreaker.Thresholds{MinSynths: 10})
	h := newHarness(t, guard)
	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))

	assert.Equal(t, Failed, h.orch.RefreshSpotRates(context.Background(), false))
	assert.Contains(t, h.store.Status(store.SpotRatesKey()).Error, "insufficient synth count")
	assert.Empty(t, h.store.Snapshot().SpotRates)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.guardTrips.WithLabelValues("none")))
}

func TestRefreshExchangeData(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))

	outcomes := h.orch.RefreshExchangeData(context.Background(), false)
	assert.Equal(t, map[store.Key]Outcome{
		store.SpotRatesKey():    Committed,
		store.FrozenSynthsKey(): Committed,
		store.GasPriceKey():     Committed,
		store.ExchangeFeeKey():  Committed,
	}, outcomes)

	s := h.store.Snapshot()
	assert.Equal(t, 500.0, s.SpotRates["sETH"])
	assert.Equal(t, 0.3, s.ExchangeFeeRate)
	assert.Equal(t, 20.0, s.Gas.Average)

	def, ok := s.Registry.Get("iETH")
	require.True(t, ok)
	assert.True(t, def.IsFrozen)
	for _, p := range s.Pairs {
		assert.NotEqual(t, "iETH", p.Base.Symbol)
	}
}

func TestRefreshExchangeDataRetriesRegistry(t *testing.T) {
	h := newHarness(t, nil)
	h.rates.setErr(errors.New("rpc unavailable"))

	h.orch.Bootstrap(context.Background())
	assert.Equal(t, store.PhaseFailed, h.store.Status(store.SynthsKey()).Phase)
	assert.Equal(t, 0, h.store.Snapshot().Registry.Len())

	h.rates.setErr(nil)
	outcomes := h.orch.RefreshExchangeData(context.Background(), false)
	assert.Equal(t, Committed, outcomes[store.SpotRatesKey()])

	s := h.store.Snapshot()
	assert.Equal(t, store.PhaseLoaded, s.Status(store.SynthsKey()).Phase)
	assert.Equal(t, 4, s.Registry.Len())
	assert.Equal(t, 500.0, s.SpotRates["sETH"])
}

func TestMountMarketsRetriesRegistry(t *testing.T) {
	h := newHarness(t, nil)
	h.rates.setErr(errors.New("rpc unavailable"))
	h.orch.Bootstrap(context.Background())
	require.Equal(t, store.PhaseFailed, h.store.Status(store.SynthsKey()).Phase)

	h.rates.setErr(nil)
	unmount := h.orch.MountMarkets()
	defer unmount()

	require.Eventually(t, func() bool {
		s := h.store.Snapshot()
		return s.Registry.Len() == 4 && s.Status(store.SpotRatesKey()).Phase == store.PhaseLoaded
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.store.Status(store.SpotRatesKey()).Error)
}

func TestMountMarketHistory(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))
	require.Equal(t, Committed, h.orch.RefreshSpotRates(context.Background(), false))

	unmount := h.orch.MountMarketHistory()
	require.Eventually(t, func() bool {
		rows := h.store.Snapshot().MarketsByChange("sUSD")
		if len(rows) == 0 {
			return false
		}
		for _, r := range rows {
			if !r.HasHistory {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.sched.Mounted(taskMarketHistory))

	rows := h.store.Snapshot().MarketsByChange("sUSD")
	for _, r := range rows {
		assert.InDelta(t, 0.2, r.Change24h, 1e-9, r.PairKey)
	}
	_, ok := h.store.Snapshot().Series("sUSD", model.PeriodOneDay)
	assert.False(t, ok, "the reference currency has no series of its own")

	unmount()
	assert.False(t, h.sched.Mounted(taskMarketHistory))
}

func TestRefreshHistoricalRatesFor(t *testing.T) {
	h := newHarness(t, nil)

	outcomes := h.orch.RefreshHistoricalRatesFor(context.Background(),
		[]string{"sETH", "sXXX"}, []model.Period{model.PeriodOneDay, model.PeriodOneWeek}, false)
	require.Len(t, outcomes, 4)
	assert.Equal(t, Committed, outcomes[store.HistoricalRatesKey("sETH", model.PeriodOneDay)])
	assert.Equal(t, Committed, outcomes[store.HistoricalRatesKey("sETH", model.PeriodOneWeek)])
	assert.Equal(t, Failed, outcomes[store.HistoricalRatesKey("sXXX", model.PeriodOneDay)])

	series, ok := h.store.Snapshot().Series("sETH", model.PeriodOneDay)
	require.True(t, ok)
	require.Len(t, series.Rates, 3)
	assert.Equal(t, int64(1000), series.Rates[0].Timestamp)
	assert.InDelta(t, 0.2, series.Change, 1e-9)
	assert.Equal(t, 120.0, series.High)
	assert.Equal(t, 90.0, series.Low)
}

func TestSelectPairFetchesLegs(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))

	_, err := h.orch.SelectPair(context.Background(), "sDOGE", "sUSD")
	assert.ErrorIs(t, err, store.ErrUnknownSymbol)

	outcomes, err := h.orch.SelectPair(context.Background(), "sETH", "sUSD")
	require.NoError(t, err)
	assert.Equal(t, map[store.Key]Outcome{
		store.HistoricalRatesKey("sETH", model.PeriodOneDay): Committed,
	}, outcomes)
	assert.Equal(t, "sETH", h.store.Snapshot().Base)
}

func TestWalletSession(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))

	assert.ErrorIs(t, h.orch.ConnectWallet("0x123"), ErrInvalidAddress)

	require.NoError(t, h.orch.ConnectWallet(testWallet))
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", h.orch.Wallet())
	assert.True(t, h.sched.Mounted(string(store.WalletBalancesKey(testWallet))))

	require.Eventually(t, func() bool {
		_, ok := h.store.Snapshot().WalletBalances(testWallet)
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.wallets))

	// reconnecting the same wallet does not restart the poll
	require.NoError(t, h.orch.ConnectWallet(testWallet))
	assert.Equal(t, int32(1), h.wallet.calls.Load())

	h.orch.DisconnectWallet()
	assert.Equal(t, "", h.orch.Wallet())
	assert.False(t, h.sched.Mounted(string(store.WalletBalancesKey(testWallet))))
	_, ok := h.store.Snapshot().WalletBalances(testWallet)
	assert.False(t, ok)
	assert.Equal(t, store.PhaseIdle, h.store.Status(store.WalletBalancesKey(testWallet)).Phase)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.wallets))

	// disconnecting twice is harmless
	h.orch.DisconnectWallet()
}

func TestOnExchangeRefreshesActiveWallet(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))
	require.NoError(t, h.orch.ConnectWallet(testWallet))
	require.Eventually(t, func() bool {
		return h.store.Status(store.WalletBalancesKey(testWallet)).IsLoaded
	}, time.Second, 5*time.Millisecond)

	h.orch.OnExchange(context.Background(), "0x00000000000000000000000000000000000000bb")
	assert.Equal(t, int32(1), h.wallet.calls.Load())

	h.orch.OnExchange(context.Background(), "0x00000000000000000000000000000000000000aa")
	assert.Equal(t, int32(2), h.wallet.calls.Load())
}

func TestMountMarkets(t *testing.T) {
	h := newHarness(t, nil)
	require.Equal(t, Committed, h.orch.LoadSynths(context.Background(), false))

	unmount := h.orch.MountMarkets()
	require.Eventually(t, func() bool {
		s := h.store.Snapshot()
		return s.Status(store.SpotRatesKey()).IsLoaded && s.Status(store.GasPriceKey()).IsLoaded
	}, time.Second, 5*time.Millisecond)
	assert.True(t, h.sched.Mounted(taskSpotRates))

	unmount()
	assert.False(t, h.sched.Mounted(taskSpotRates))
	assert.False(t, h.sched.Mounted(taskGas))
}

func TestMountHistoricalRates(t *testing.T) {
	h := newHarness(t, nil)

	unmount := h.orch.MountHistoricalRates("sBTC", model.PeriodOneMonth)
	defer unmount()

	require.Eventually(t, func() bool {
		_, ok := h.store.Snapshot().Series("sBTC", model.PeriodOneMonth)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "committed", Committed.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "discarded", Discarded.String())
}

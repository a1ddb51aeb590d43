// Package orchestrator drives the chain-data collaborators into the store.
// Every fetch goes through Run, which sequences it against the store so that
// duplicate requests are skipped and late results are dropped.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/circuitbreaker"
	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/DorothyRazo/CoreExchange/internal/otel"
	"github.com/DorothyRazo/CoreExchange/internal/scheduler"
	"github.com/DorothyRazo/CoreExchange/internal/store"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNotConfigured is recorded when the collaborator for a fetch is absent.
	ErrNotConfigured = errors.New("data source not configured")

	// ErrNoSynths is recorded when a fetch needs the registry before it was loaded.
	ErrNoSynths = errors.New("synth registry not loaded")
)

// RateSource provides the registry and live exchange data.
type RateSource interface {
	Synths(ctx context.Context) ([]model.SynthDefinition, error)
	SpotRates(ctx context.Context, symbols []string) (map[string]float64, error)
	FrozenSynths(ctx context.Context, symbols []string) ([]string, error)
	ExchangeFeeRate(ctx context.Context) (float64, error)
}

// HistorySource provides historical rate samples.
type HistorySource interface {
	HistoricalRates(ctx context.Context, symbol string, period model.Period) ([]model.RateSample, error)
}

// WalletSource provides wallet balances.
type WalletSource interface {
	WalletBalances(ctx context.Context, address string, symbols []string) (model.WalletBalances, error)
}

// GasSource provides gas price tiers.
type GasSource interface {
	GasPrice(ctx context.Context) (model.GasInfo, error)
}

// Sources groups the collaborators. Any of them may be nil; fetches that need
// a missing one fail with ErrNotConfigured.
type Sources struct {
	Rates   RateSource
	History HistorySource
	Wallet  WalletSource
	Gas     GasSource
}

// Outcome reports what Run did with a fetch.
type Outcome int

const (
	// Skipped means a request for the key was already in flight.
	Skipped Outcome = iota
	// Committed means the result was stored.
	Committed
	// Failed means the error was recorded on the key.
	Failed
	// Discarded means a newer request superseded this one.
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Intervals are the polling periods of the mounted fetches.
type Intervals struct {
	Rates    time.Duration
	Balances time.Duration
	Gas      time.Duration
	History  time.Duration
}

// DefaultIntervals returns the standard polling periods.
func DefaultIntervals() Intervals {
	return Intervals{
		Rates:    30 * time.Second,
		Balances: 30 * time.Second,
		Gas:      time.Minute,
		History:  3 * time.Minute,
	}
}

// Options configures an Orchestrator.
type Options struct {
	Sources   Sources
	Guard     *circuitbreaker.CircuitBreaker
	Metrics   *Metrics
	Timeout   time.Duration
	Intervals Intervals
}

// Orchestrator runs fetches against a store and owns the polling session.
type Orchestrator struct {
	store     *store.Store
	sched     *scheduler.Scheduler
	src       Sources
	guard     *circuitbreaker.CircuitBreaker
	metrics   *Metrics
	timeout   time.Duration
	intervals Intervals

	mu            sync.Mutex
	wallet        string
	unmountWallet func()
}

// New creates an orchestrator. Zero intervals fall back to DefaultIntervals.
func New(st *store.Store, sched *scheduler.Scheduler, opts Options) *Orchestrator {
	def := DefaultIntervals()
	iv := opts.Intervals
	if iv.Rates <= 0 {
		iv.Rates = def.Rates
	}
	if iv.Balances <= 0 {
		iv.Balances = def.Balances
	}
	if iv.Gas <= 0 {
		iv.Gas = def.Gas
	}
	if iv.History <= 0 {
		iv.History = def.History
	}

	return &Orchestrator{
		store:     st,
		sched:     sched,
		src:       opts.Sources,
		guard:     opts.Guard,
		metrics:   opts.Metrics,
		timeout:   opts.Timeout,
		intervals: iv,
	}
}

// Store returns the store the orchestrator writes to.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Guard returns the spot-rate guard, or nil.
func (o *Orchestrator) Guard() *circuitbreaker.CircuitBreaker {
	return o.guard
}

// Run performs one fetch for key. fn is only called when the store accepts
// the request; its error becomes the key's status and is never returned.
func (o *Orchestrator) Run(ctx context.Context, key store.Key, force bool, fn func(ctx context.Context) (store.Result, error)) Outcome {
	kind := key.Kind()

	seq, ok := o.store.Begin(key, force)
	if !ok {
		o.metrics.observe(kind, Skipped)
		return Skipped
	}

	ctx, span := otel.Tracer().Start(ctx, "fetch "+kind, trace.WithAttributes(
		attribute.String("fetch.key", string(key)),
		attribute.Int64("fetch.seq", int64(seq)),
		attribute.Bool("fetch.force", force),
	))
	defer span.End()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := call(ctx, fn)
	o.metrics.observeDuration(kind, time.Since(start))

	var outcome Outcome
	if err != nil {
		otel.RecordError(ctx, err)
		outcome = Failed
		if !o.store.Fail(key, seq, err) {
			outcome = Discarded
		} else {
			logrus.WithFields(logrus.Fields{
				"key": key,
				"seq": seq,
			}).WithError(err).Warn("Fetch failed")
		}
	} else {
		outcome = Committed
		if !o.store.Commit(key, seq, result) {
			outcome = Discarded
		}
	}

	span.SetAttributes(attribute.String("fetch.outcome", outcome.String()))
	o.metrics.observe(kind, outcome)
	return outcome
}

// call runs fn, turning a panic into an error so the key cannot stay in flight.
func call(ctx context.Context, fn func(ctx context.Context) (store.Result, error)) (result store.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	result, err = fn(ctx)
	if err == nil && result == nil {
		err = errors.New("fetch returned no result")
	}
	return result, err
}

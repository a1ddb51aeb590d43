// Package circuitbreaker guards the spot-rate state against implausible
// snapshots from the chain-data collaborator.
package circuitbreaker

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned while the breaker rejects snapshots.
var ErrOpen = errors.New("circuit breaker open: keeping last good rates")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, snapshots rejected
	StateHalfOpen              // Testing if the feed has recovered
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker rejects spot-rate snapshots that differ too much from the
// last accepted one, and keeps serving that last good snapshot meanwhile.
type CircuitBreaker struct {
	thresholds Thresholds

	state    State
	lastTrip time.Time

	// Duration before a recovery attempt
	resetDelay time.Duration

	mu sync.RWMutex

	lastGood map[string]float64

	// Consecutive accepted snapshots in HalfOpen state
	successCount     int
	successThreshold int

	onTripCallback func(reason string, rates map[string]float64)

	now func() time.Time
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// Minimum number of priced synths in a snapshot
	MinSynths int `json:"min_synths"`

	// Maximum relative change of a single rate against the last good
	// snapshot (e.g. 0.5 for 50%). 0 disables the check.
	MaxRateChange float64 `json:"max_rate_change"`

	// Maximum median relative change across all synths. Catches a feed that
	// moved everything at once. 0 disables the check.
	MaxMedianChange float64 `json:"max_median_change,omitempty"`
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	return &CircuitBreaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       5 * time.Minute,
		successThreshold: 3,
		now:              time.Now,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of accepted snapshots needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string, rates map[string]float64)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Check evaluates a snapshot. A nil error means the snapshot was accepted and
// is now the last good one.
func (cb *CircuitBreaker) Check(rates map[string]float64) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastTrip) <= cb.resetDelay {
		return ErrOpen
	}

	if len(rates) == 0 {
		return errors.New("no rates provided to circuit breaker")
	}

	// the first snapshot after the reset delay becomes the new baseline
	rebaseline := false
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		cb.successCount = 0
		rebaseline = true
		logrus.Info("Circuit breaker half-open: testing rate feed recovery")
	}

	if len(rates) < cb.thresholds.MinSynths {
		return cb.trip(fmt.Sprintf("insufficient synth count: got %d, need %d",
			len(rates), cb.thresholds.MinSynths), rates)
	}

	if rebaseline && len(cb.lastGood) > 0 {
		logrus.WithField("synths", len(rates)).Warn("Circuit breaker re-baselined on current rates")
	}

	if len(cb.lastGood) > 0 && !rebaseline {
		changes := make([]float64, 0, len(rates))
		for symbol, r := range rates {
			prev, ok := cb.lastGood[symbol]
			if !ok || prev <= 0 {
				continue
			}
			change := math.Abs(r-prev) / prev
			if cb.thresholds.MaxRateChange > 0 && change > cb.thresholds.MaxRateChange {
				return cb.trip(fmt.Sprintf("rate change too drastic for %s: %.2f%% (threshold: %.2f%%)",
					symbol, change*100, cb.thresholds.MaxRateChange*100), rates)
			}
			changes = append(changes, change)
		}

		if cb.thresholds.MaxMedianChange > 0 && len(changes) > 0 {
			if m := median(changes); m > cb.thresholds.MaxMedianChange {
				return cb.trip(fmt.Sprintf("median rate change too drastic: %.2f%% (threshold: %.2f%%)",
					m*100, cb.thresholds.MaxMedianChange*100), rates)
			}
		}
	}

	logrus.Debug("Circuit breaker checks passed")
	cb.lastGood = copyRates(rates)

	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.Info("Circuit breaker closed: rate feed has recovered")
		}
	}
	return nil
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state and drops the
// last good snapshot. The next snapshot is accepted as the new baseline.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.successCount = 0
	cb.lastGood = nil
	logrus.Info("Circuit breaker manually reset to closed state")
}

// LastGood returns a copy of the most recently accepted snapshot, or nil.
func (cb *CircuitBreaker) LastGood() map[string]float64 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	if cb.lastGood == nil {
		return nil
	}
	return copyRates(cb.lastGood)
}

// trip opens the circuit. Caller holds the lock.
func (cb *CircuitBreaker) trip(reason string, rates map[string]float64) error {
	cb.state = StateOpen
	cb.lastTrip = cb.now()
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason, copyRates(rates))
	}
	return errors.New(reason)
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

func copyRates(rates map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(rates))
	for k, v := range rates {
		out[k] = v
	}
	return out
}

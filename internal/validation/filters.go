// Package validation sanitises rate data coming back from the chain-data
// collaborators before it reaches the derivation code.
package validation

import (
	"math"
	"sort"
	"time"

	"github.com/DorothyRazo/CoreExchange/internal/model"
	"github.com/sirupsen/logrus"
)

// ValidationOptions holds configuration for the validation process
type ValidationOptions struct {
	// AllowZeroPrice keeps samples whose price is exactly 0
	AllowZeroPrice bool

	// MaxFutureSkew drops samples timestamped further than this into the future
	MaxFutureSkew time.Duration

	// Now is the clock used for the future-skew check
	Now func() time.Time
}

// DefaultValidationOptions returns sensible defaults for validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		AllowZeroPrice: false,
		MaxFutureSkew:  5 * time.Minute,
		Now:            time.Now,
	}
}

// CleanSamples drops unusable samples and returns the rest oldest-first.
// Upstream feeds report newest-first; charts consume oldest-first.
func CleanSamples(samples []model.RateSample) []model.RateSample {
	return CleanSamplesWithOptions(samples, DefaultValidationOptions())
}

// CleanSamplesWithOptions is CleanSamples with custom options.
func CleanSamplesWithOptions(samples []model.RateSample, opts ValidationOptions) []model.RateSample {
	valid := make([]model.RateSample, 0, len(samples))
	for _, s := range samples {
		if isValidSample(s, opts) {
			valid = append(valid, s)
		} else {
			logrus.WithFields(logrus.Fields{
				"timestamp": s.Timestamp,
				"price":     s.Price,
			}).Debug("Filtered invalid rate sample")
		}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Timestamp < valid[j].Timestamp
	})
	return valid
}

// FilterSpotRates removes non-finite and negative prices from a spot-rate
// snapshot. Missing entries are treated as "no price" downstream.
func FilterSpotRates(rates map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(rates))
	for symbol, price := range rates {
		if !isFinite(price) || price < 0 {
			logrus.WithFields(logrus.Fields{
				"symbol": symbol,
				"price":  price,
			}).Debug("Filtered invalid spot rate")
			continue
		}
		out[symbol] = price
	}
	return out
}

func isValidSample(s model.RateSample, opts ValidationOptions) bool {
	if s.Timestamp <= 0 {
		return false
	}
	if !isFinite(s.Price) || s.Price < 0 {
		return false
	}
	if s.Price == 0 && !opts.AllowZeroPrice {
		return false
	}
	if opts.MaxFutureSkew > 0 && opts.Now != nil {
		limit := opts.Now().Add(opts.MaxFutureSkew).UnixMilli()
		if s.Timestamp > limit {
			return false
		}
	}
	return true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

package rates

import "github.com/DorothyRazo/CoreExchange/internal/model"

// Summarize computes change, high and low over an oldest-first series.
// Change is (last-first)/first as a fraction and is 0 when first is 0.
// An empty series yields zeros.
func Summarize(samples []model.RateSample) (change, high, low float64) {
	if len(samples) == 0 {
		return 0, 0, 0
	}

	first := samples[0].Price
	last := samples[len(samples)-1].Price
	high, low = first, first
	for _, s := range samples[1:] {
		if s.Price > high {
			high = s.Price
		}
		if s.Price < low {
			low = s.Price
		}
	}

	if first != 0 {
		change = (last - first) / first
	}
	return change, high, low
}

package reqflow

import (
	"math/rand/v2"
	"time"
)

// applyJitter randomizes interval by ±factor (factor clamped to [0,1]).
func applyJitter(interval time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return interval
	}
	if factor > 1 {
		factor = 1
	}
	delta := float64(interval) * factor
	min := float64(interval) - delta
	max := float64(interval) + delta
	return time.Duration(min + rand.Float64()*(max-min))
}

package backoff

import (
	"time"
)

// Params holds the inputs shared by every strategy.
type Params struct {
	Initial time.Duration
	Max     time.Duration
	// Multiplier defaults to 2.
	Multiplier float64
}

func (p Params) multiplier() float64 {
	if p.Multiplier <= 1 {
		return 2
	}
	return p.Multiplier
}

// Strategy computes the wait before retry number attempt (1-based). random
// returns values in [0, 1).
type Strategy interface {
	Calculate(attempt int, p Params, random func() float64) time.Duration
}

// ExponentialStrategy doubles the delay per attempt up to Max. With
// FullJitter the result is uniform in [0, computed].
type ExponentialStrategy struct {
	FullJitter bool
}

// Calculate implements Strategy.
func (s ExponentialStrategy) Calculate(attempt int, p Params, random func() float64) time.Duration {
	ceiling := Ceiling(attempt, p)
	if !s.FullJitter || ceiling <= 0 {
		return ceiling
	}
	return time.Duration(float64(ceiling) * random())
}

// DecorrelatedStrategy draws from [Initial, min(Max, Initial*3^(attempt-1))].
type DecorrelatedStrategy struct{}

// Calculate implements Strategy.
func (s DecorrelatedStrategy) Calculate(attempt int, p Params, random func() float64) time.Duration {
	if attempt <= 1 {
		return clampMax(p.Initial, p.Max)
	}
	if attempt > 10 {
		attempt = 10
	}

	base := float64(p.Initial)
	upper := base * Pow(3.0, attempt-1)
	if p.Max > 0 && (upper > float64(p.Max) || upper < 0) {
		upper = float64(p.Max)
	}
	if upper < base {
		upper = base
	}

	return clampMax(time.Duration(base+random()*(upper-base)), p.Max)
}

// Ceiling is the un-jittered exponential delay min(Max, Initial*m^(attempt-1)).
func Ceiling(attempt int, p Params) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// Prevent overflow by limiting attempt
	if attempt > 31 {
		attempt = 31
	}

	d := time.Duration(float64(p.Initial) * Pow(p.multiplier(), attempt-1))
	if d < 0 {
		d = p.Max
	}
	return clampMax(d, p.Max)
}

func clampMax(d, max time.Duration) time.Duration {
	if max > 0 && d > max {
		return max
	}
	return d
}

// Pow calculates base^exponent using integer exponentiation.
func Pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}

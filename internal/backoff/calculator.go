package backoff

import (
	"math/rand"
	"time"
)

// Calculator binds a strategy to its parameters and random source.
type Calculator struct {
	strategy Strategy
	params   Params
	random   func() float64
}

// NewCalculator returns a calculator drawing jitter from math/rand/v2.
func NewCalculator(strategy Strategy, p Params) *Calculator {
	return &Calculator{strategy: strategy, params: p, random: rand.Float64}
}

// WithRandom replaces the random source. Tests pin it for exact delays.
func (c *Calculator) WithRandom(random func() float64) *Calculator {
	if random != nil {
		c.random = random
	}
	return c
}

// Next returns the delay before retry number attempt.
func (c *Calculator) Next(attempt int) time.Duration {
	return c.strategy.Calculate(attempt, c.params, c.random)
}

// Params returns the configured parameters.
func (c *Calculator) Params() Params {
	return c.params
}

// Exponential returns an exponential calculator, optionally with full jitter.
func Exponential(p Params, fullJitter bool) *Calculator {
	return NewCalculator(ExponentialStrategy{FullJitter: fullJitter}, p)
}

// Decorrelated returns an AWS-style decorrelated jitter calculator.
func Decorrelated(p Params) *Calculator {
	return NewCalculator(DecorrelatedStrategy{}, p)
}

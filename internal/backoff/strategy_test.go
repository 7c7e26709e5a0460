package backoff

import (
	"math/rand"
	"testing"
	"time"
)

func TestCeiling(t *testing.T) {
	p := Params{Initial: 200 * time.Millisecond, Max: 2 * time.Second}

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{name: "attempt 0 clamps to first", attempt: 0, expected: 200 * time.Millisecond},
		{name: "attempt 1", attempt: 1, expected: 200 * time.Millisecond},
		{name: "attempt 2", attempt: 2, expected: 400 * time.Millisecond},
		{name: "attempt 4", attempt: 4, expected: 1600 * time.Millisecond},
		{name: "attempt 5 capped", attempt: 5, expected: 2 * time.Second},
		{name: "huge attempt capped", attempt: 500, expected: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Ceiling(tt.attempt, p); got != tt.expected {
				t.Errorf("Ceiling(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestExponentialStrategy(t *testing.T) {
	p := Params{Initial: 100 * time.Millisecond, Max: 5 * time.Second}

	t.Run("no jitter is exact", func(t *testing.T) {
		s := ExponentialStrategy{}
		got := s.Calculate(3, p, func() float64 { return 0.99 })
		if got != 400*time.Millisecond {
			t.Errorf("Calculate(3) = %v, want 400ms", got)
		}
	})

	t.Run("full jitter scales the ceiling", func(t *testing.T) {
		s := ExponentialStrategy{FullJitter: true}
		got := s.Calculate(3, p, func() float64 { return 0.5 })
		if got != 200*time.Millisecond {
			t.Errorf("Calculate(3) = %v, want 200ms", got)
		}
		if got := s.Calculate(3, p, func() float64 { return 0 }); got != 0 {
			t.Errorf("Calculate(3) with zero draw = %v, want 0", got)
		}
	})

	t.Run("full jitter never exceeds ceiling", func(t *testing.T) {
		s := ExponentialStrategy{FullJitter: true}
		for attempt := 1; attempt <= 10; attempt++ {
			ceiling := Ceiling(attempt, p)
			for i := 0; i < 200; i++ {
				got := s.Calculate(attempt, p, rand.Float64)
				if got < 0 || got > ceiling {
					t.Fatalf("attempt %d: delay %v outside [0, %v]", attempt, got, ceiling)
				}
			}
		}
	})

	t.Run("custom multiplier", func(t *testing.T) {
		s := ExponentialStrategy{}
		got := s.Calculate(3, Params{Initial: 10 * time.Millisecond, Max: time.Second, Multiplier: 3}, rand.Float64)
		if got != 90*time.Millisecond {
			t.Errorf("Calculate(3) = %v, want 90ms", got)
		}
	})
}

func TestDecorrelatedStrategy(t *testing.T) {
	s := DecorrelatedStrategy{}
	p := Params{Initial: 100 * time.Millisecond, Max: 5 * time.Second}

	tests := []struct {
		name        string
		attempt     int
		minExpected time.Duration
		maxExpected time.Duration
	}{
		{name: "attempt 1 is initial", attempt: 1, minExpected: 100 * time.Millisecond, maxExpected: 100 * time.Millisecond},
		{name: "attempt 2", attempt: 2, minExpected: 100 * time.Millisecond, maxExpected: 300 * time.Millisecond},
		{name: "attempt 3", attempt: 3, minExpected: 100 * time.Millisecond, maxExpected: 900 * time.Millisecond},
		{name: "attempt 20 capped", attempt: 20, minExpected: 100 * time.Millisecond, maxExpected: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				got := s.Calculate(tt.attempt, p, rand.Float64)
				if got < tt.minExpected || got > tt.maxExpected {
					t.Fatalf("Calculate(%d) = %v, want within [%v, %v]", tt.attempt, got, tt.minExpected, tt.maxExpected)
				}
			}
		})
	}
}

func TestPow(t *testing.T) {
	if got := Pow(2, 10); got != 1024 {
		t.Errorf("Pow(2, 10) = %v, want 1024", got)
	}
	if got := Pow(3, 0); got != 1 {
		t.Errorf("Pow(3, 0) = %v, want 1", got)
	}
}

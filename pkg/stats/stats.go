// Package stats keeps running statistics over latency samples.
package stats

import (
	"math/big"

	"github.com/ddirect/container/fifo"
	"golang.org/x/exp/constraints"
)

// Window tracks mean and standard deviation over the last maxSamples values.
// Once full, a value further than maxSpread standard deviations from the
// mean is rejected instead of displacing the oldest one.
type Window[T constraints.Signed] struct {
	sum        big.Int
	sum2       big.Int
	t1         big.Int
	t2         big.Int
	t3         big.Int
	samples    fifo.Fifo[T]
	maxSamples int
	maxSpread  float64
	mean       T
	stdDev     T
	rejected   int
}

func NewWindow[T constraints.Signed](maxSamples int, maxSpread float64) *Window[T] {
	return &Window[T]{
		maxSamples: maxSamples,
		maxSpread:  maxSpread,
	}
}

// Full reports whether the window holds maxSamples values, after which
// outliers are rejected.
func (s *Window[T]) Full() bool {
	return s.Len() >= s.maxSamples
}

// Bounds is the range a new value must fall in to be accepted once the
// window is full.
func (s *Window[T]) Bounds() (lo, hi T) {
	spread := T(float64(s.stdDev) * s.maxSpread)
	return s.mean - spread, s.mean + spread
}

// Add reports whether x was taken into the window.
func (s *Window[T]) Add(x T) bool {
	if s.Full() {
		if lo, hi := s.Bounds(); x < lo || x > hi {
			s.rejected++
			return false
		}
		s.evict()
	}

	t := s.t1.SetInt64(int64(x))
	s.sum.Add(&s.sum, t)
	s.sum2.Add(&s.sum2, t.Mul(t, t))
	s.samples.Enqueue(x)
	s.mean = s.getMean()
	s.stdDev = s.getStdDev()
	return true
}

func (s *Window[T]) evict() {
	if x, ok := s.samples.Dequeue(); ok {
		t := s.t1.SetInt64(int64(x))
		s.sum.Sub(&s.sum, t)
		s.sum2.Sub(&s.sum2, t.Mul(t, t))
	}
}

func (s *Window[T]) getMean() T {
	n := s.Len()
	if n < 1 {
		return 0
	}
	return T(s.t2.Div(&s.sum, s.t1.SetUint64(uint64(n))).Int64())
}

func (s *Window[T]) getStdDev() T {
	n := uint64(s.Len())
	if n < 2 {
		return 0
	}
	// Sqrt((n*sum2 - sum*sum) / (n*(n-1)))
	t1 := &s.t1
	t2 := &s.t2
	t3 := &s.t3

	t1.SetUint64(n)                                     // t1 = n
	t2.Sub(t2.Mul(t1, &s.sum2), t3.Mul(&s.sum, &s.sum)) // t2 = n*sum2 - (sum*sum)
	t3.Mul(t1, t3.SetUint64(n-1))                       // t3 = n*(n-1)

	return T(t2.Div(t2, t3).Sqrt(t2).Uint64())
}

func (s *Window[T]) Len() int {
	return s.samples.Len()
}

func (s *Window[T]) Mean() T {
	return s.mean
}

func (s *Window[T]) StdDev() T {
	return s.stdDev
}

// Rejected counts values refused as outliers.
func (s *Window[T]) Rejected() int {
	return s.rejected
}

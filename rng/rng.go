// Package rng provides the seeded random number generator that threads a
// study. A single seed produces one shared generator; solver and problem
// sides draw from it under a lock, and external peers receive derived seeds
// in their create casts.
//
// The generator is the PCG XSL RR 128/64 source from golang.org/x/exp/rand,
// so identical seeds yield identical sequences on every platform.
package rng

import (
	"sync"

	"golang.org/x/exp/rand"
)

// Rng is a seeded random number generator that is safe for concurrent use.
type Rng struct {
	*rand.Rand
}

// New returns a generator seeded with seed.
func New(seed uint64) *Rng {
	src := &lockedSource{src: rand.NewSource(seed)}
	return &Rng{Rand: rand.New(src)}
}

// GenSeed draws a derived seed, e.g. for an external peer process.
func (r *Rng) GenSeed() uint64 {
	return r.Uint64()
}

// Range returns a uniform value in [low, high).
func (r *Rng) Range(low, high float64) float64 {
	return low + r.Float64()*(high-low)
}

// RangeInt returns a uniform integer in [low, high).
func (r *Rng) RangeInt(low, high int64) int64 {
	return low + r.Int63n(high-low)
}

// lockedSource serializes access to the underlying source so one generator
// can be shared between the solver and problem sides of a study.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Uint64()
}

func (s *lockedSource) Seed(seed uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}

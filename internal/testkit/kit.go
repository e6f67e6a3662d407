package testkit

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"abstats/adapters/memory"
	"abstats/domain/core"
	"abstats/ports"
)

// TestKit bundles the in-memory store, a reproducible RNG and a manual clock
type TestKit struct {
	Store *memory.Store
	RNG   *RNGAdapter
	Clock *Clock
}

// NewTestKit creates a new test kit with the given RNG seed
func NewTestKit(seed uint64) *TestKit {
	return &TestKit{
		Store: memory.NewStore(),
		RNG:   NewRNGAdapter(seed),
		Clock: NewClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)),
	}
}

// RNGAdapter implements the RNGPort interface. A zero seed draws from the
// runtime's random source; any other seed makes every stream reproducible.
type RNGAdapter struct {
	seed     uint64
	mu       sync.Mutex
	counters map[string]uint64
}

// NewRNGAdapter creates an RNG adapter
func NewRNGAdapter(seed uint64) *RNGAdapter {
	return &RNGAdapter{seed: seed, counters: make(map[string]uint64)}
}

// SeededStream creates a deterministic random number generator for a named operation
func (r *RNGAdapter) SeededStream(ctx context.Context, name string, seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, core.Uint64(name)))
}

// Stream returns the next stream for name. With a fixed seed the n-th call
// for a name always yields the same generator.
func (r *RNGAdapter) Stream(ctx context.Context, name string) *rand.Rand {
	if r.seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	r.mu.Lock()
	n := r.counters[name]
	r.counters[name] = n + 1
	r.mu.Unlock()
	return rand.New(rand.NewPCG(r.seed, core.Uint64(name, strconv.FormatUint(n, 10))))
}

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock frozen at start
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current frozen time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ ports.RNGPort = (*RNGAdapter)(nil)

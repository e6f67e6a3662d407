package ports

import (
	"context"
	"math/rand/v2"
)

// RNGPort provides random number streams for assignment draws, Monte Carlo
// estimates and bandit selection. Implementations with a fixed seed must be
// reproducible: the same sequence of calls yields the same draws.
type RNGPort interface {
	// SeededStream creates a deterministic random number generator for a named operation
	SeededStream(ctx context.Context, name string, seed uint64) *rand.Rand

	// Stream returns the next generator for a named operation. Successive calls
	// with the same name return independent streams.
	Stream(ctx context.Context, name string) *rand.Rand
}

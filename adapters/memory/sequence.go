package memory

import (
	"sync/atomic"
)

// Sequence hands out BIGSERIAL-style row ids for the append-only tables
type Sequence struct {
	current int64
}

// NewSequence creates a sequence whose first id is 1
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns a new, unique id atomically
func (s *Sequence) Next() int64 {
	return atomic.AddInt64(&s.current, 1)
}

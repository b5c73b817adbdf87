package testutil

import "sync/atomic"

// Sequence numbers events in the order they are recorded.
//
// Reports built with the same Sequence over the same sequential run carry
// identical numbers, which keeps golden output stable.
//
// Thread-safety: Sequence is safe for concurrent use.
type Sequence struct {
	n atomic.Int64
}

// NewSequence creates a sequence whose first Next returns 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next number.
func (s *Sequence) Next() int64 { return s.n.Add(1) }

// Current returns the last number handed out, 0 if none.
func (s *Sequence) Current() int64 { return s.n.Load() }

// Reset starts the sequence over.
func (s *Sequence) Reset() { s.n.Store(0) }

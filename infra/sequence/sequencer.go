// Package sequence hands out the journal sequence numbers that order every
// market command.
package sequence

import "sync/atomic"

// Sequencer is a monotonic counter. Zero is never issued.
type Sequencer struct {
	last atomic.Uint64
}

// New resumes after start; a fresh journal starts at 0.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.last.Add(1)
}

// Current is the last number issued.
func (s *Sequencer) Current() uint64 {
	return s.last.Load()
}

// Observe moves the counter forward to v if it is behind. Replay calls it
// for every record it applies.
func (s *Sequencer) Observe(v uint64) {
	for {
		cur := s.last.Load()
		if v <= cur || s.last.CompareAndSwap(cur, v) {
			return
		}
	}
}

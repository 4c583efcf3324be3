package disruptor

import (
	"strconv"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// InitialSequenceValue means nothing has been produced or consumed yet.
const InitialSequenceValue int64 = -1

// Sequence is a padded atomic counter tracking how far a producer,
// consumer or work pool has progressed through the ring.
// Padding on both sides keeps two hot sequences off the same cache line.
type Sequence struct {
	_     cpu.CacheLinePad
	value atomic.Int64
	_     cpu.CacheLinePad
}

// NewSequence returns a sequence set to InitialSequenceValue.
func NewSequence() *Sequence {
	return NewSequenceAt(InitialSequenceValue)
}

// NewSequenceAt returns a sequence set to v.
func NewSequenceAt(v int64) *Sequence {
	s := &Sequence{}
	s.value.Store(v)
	return s
}

// Get returns the current value.
func (s *Sequence) Get() int64 {
	return s.value.Load()
}

// Set stores v.
func (s *Sequence) Set(v int64) {
	s.value.Store(v)
}

// CompareAndSet sets the value to v if it currently equals expected.
func (s *Sequence) CompareAndSet(expected, v int64) bool {
	return s.value.CompareAndSwap(expected, v)
}

// IncrementAndGet atomically adds one and returns the new value.
func (s *Sequence) IncrementAndGet() int64 {
	return s.value.Add(1)
}

// AddAndGet atomically adds n and returns the new value.
func (s *Sequence) AddAndGet(n int64) int64 {
	return s.value.Add(n)
}

func (s *Sequence) String() string {
	return strconv.FormatInt(s.Get(), 10)
}

// minimumSequence returns the smallest of ceiling and every value in seqs.
func minimumSequence(seqs []*Sequence, ceiling int64) int64 {
	minimum := ceiling
	for _, s := range seqs {
		if v := s.Get(); v < minimum {
			minimum = v
		}
	}
	return minimum
}

package disruptor

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/valyala/fastrand"
)

// ProducerType selects how many goroutines may claim and publish.
type ProducerType int

const (
	// ProducerMulti allows any number of publishing goroutines.
	ProducerMulti ProducerType = iota
	// ProducerSingle requires that exactly one goroutine claims and publishes.
	ProducerSingle
)

func (p ProducerType) String() string {
	switch p {
	case ProducerSingle:
		return "single"
	case ProducerMulti:
		return "multi"
	default:
		return fmt.Sprintf("ProducerType(%d)", int(p))
	}
}

// ParseProducerType maps "single" or "multi" to a ProducerType.
func ParseProducerType(name string) (ProducerType, error) {
	switch strings.ToLower(name) {
	case "single", "single-writer":
		return ProducerSingle, nil
	case "multi", "multi-writer":
		return ProducerMulti, nil
	default:
		return 0, fmt.Errorf("disruptor: unknown producer type %q", name)
	}
}

// Sequencer is the producer side of the ring: it hands out sequences to
// write into, keeps producers from lapping the slowest gating consumer,
// and publishes written sequences through the cursor.
//
// Next/NextN block while the ring is full; TryNext/TryNextN return
// ErrCapacityExceeded instead. A batch claimed with NextN(n) must be made
// visible with PublishRange(hi-n+1, hi).
type Sequencer interface {
	BufferSize() int64
	Cursor() int64

	Next() int64
	NextN(n int64) int64
	TryNext() (int64, error)
	TryNextN(n int64) (int64, error)

	Publish(sequence int64)
	PublishRange(lo, hi int64)

	HasAvailableCapacity(n int64) bool
	RemainingCapacity() int64

	AddGatingSequences(seqs ...*Sequence)
	RemoveGatingSequence(seq *Sequence) bool
	MinimumSequence() int64

	NewBarrier(dependents ...*Sequence) *SequenceBarrier
}

// NewSequencer builds the sequencer implementation for pt.
func NewSequencer(pt ProducerType, bufferSize int, ws WaitStrategy) (Sequencer, error) {
	if !isPowerOfTwo(bufferSize) {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, bufferSize)
	}
	if ws == nil {
		ws = NewBlockingWaitStrategy(0)
	}
	switch pt {
	case ProducerSingle:
		return newSingleProducerSequencer(int64(bufferSize), ws), nil
	case ProducerMulti:
		return newMultiProducerSequencer(int64(bufferSize), ws), nil
	default:
		return nil, fmt.Errorf("disruptor: unknown producer type %d", int(pt))
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// sequencerBase holds the state shared by both producer modes.
type sequencerBase struct {
	bufferSize   int64
	waitStrategy WaitStrategy
	cursor       *Sequence
	gating       gatingSequences
}

func (s *sequencerBase) BufferSize() int64 {
	return s.bufferSize
}

// Cursor returns the highest published sequence.
func (s *sequencerBase) Cursor() int64 {
	return s.cursor.Get()
}

// AddGatingSequences registers consumers whose progress bounds producers.
// Must be called before production starts.
func (s *sequencerBase) AddGatingSequences(seqs ...*Sequence) {
	s.gating.add(seqs...)
}

func (s *sequencerBase) RemoveGatingSequence(seq *Sequence) bool {
	return s.gating.remove(seq)
}

// MinimumSequence returns the slowest gating sequence, or the cursor when
// nothing gates the ring.
func (s *sequencerBase) MinimumSequence() int64 {
	return minimumSequence(s.gating.load(), s.cursor.Get())
}

// NewBarrier returns a barrier that follows the cursor and dependents.
func (s *sequencerBase) NewBarrier(dependents ...*Sequence) *SequenceBarrier {
	return newSequenceBarrier(s.waitStrategy, s.cursor, dependents)
}

func (s *sequencerBase) checkClaim(n int64) {
	if n < 1 || n > s.bufferSize {
		panic(fmt.Sprintf("disruptor: claim size %d must be in [1, %d]", n, s.bufferSize))
	}
}

// gatingSequences is a copy-on-write set so producers read it without locks.
type gatingSequences struct {
	p atomic.Pointer[[]*Sequence]
}

func (g *gatingSequences) load() []*Sequence {
	if p := g.p.Load(); p != nil {
		return *p
	}
	return nil
}

func (g *gatingSequences) add(seqs ...*Sequence) {
	for {
		old := g.p.Load()
		var current []*Sequence
		if old != nil {
			current = *old
		}
		next := make([]*Sequence, 0, len(current)+len(seqs))
		next = append(next, current...)
		next = append(next, seqs...)
		if g.p.CompareAndSwap(old, &next) {
			return
		}
	}
}

func (g *gatingSequences) remove(seq *Sequence) bool {
	for {
		old := g.p.Load()
		if old == nil {
			return false
		}
		next := make([]*Sequence, 0, len(*old))
		for _, s := range *old {
			if s != seq {
				next = append(next, s)
			}
		}
		if len(next) == len(*old) {
			return false
		}
		if g.p.CompareAndSwap(old, &next) {
			return true
		}
	}
}

const (
	goschedEvery        = 64 // reduce runtime.Gosched() frequency in hot loops
	backoffYieldLimit   = 64 // yields before a producer starts sleeping
	backoffJitterMicros = 20
)

// backoff paces a producer waiting for consumers to free slots.
// After a yield budget it sleeps for a random few microseconds so that
// competing writers do not retry in lockstep.
type backoff struct {
	n uint32
}

func (b *backoff) wait() {
	b.n++
	if b.n < backoffYieldLimit {
		runtime.Gosched()
		return
	}
	time.Sleep(time.Duration(1+fastrand.Uint32n(backoffJitterMicros)) * time.Microsecond)
}

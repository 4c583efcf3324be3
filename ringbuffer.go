package disruptor

import "golang.org/x/sys/cpu"

// EventFactory builds the initial value of every slot.
// It runs once per slot when the ring is created.
type EventFactory[T any] func() T

// RingBuffer is a fixed array of pre-allocated events reused in place.
// The slot for a sequence is sequence & (BufferSize-1); a slot is never
// reallocated while the ring is alive. Claiming and publication are
// delegated to a Sequencer, which owns the cursor.
type RingBuffer[T any] struct {
	_         cpu.CacheLinePad
	mask      int64
	entries   []T
	sequencer Sequencer
	_         cpu.CacheLinePad
}

// NewRingBuffer creates a ring of cfg.BufferSize slots using the producer
// mode and wait strategy in cfg. factory may be nil, in which case slots
// start as zero values.
func NewRingBuffer[T any](cfg Config, factory EventFactory[T]) (*RingBuffer[T], error) {
	sequencer, err := NewSequencer(cfg.ProducerType, cfg.BufferSize, cfg.WaitStrategy)
	if err != nil {
		return nil, err
	}
	return newRingBuffer(sequencer, factory), nil
}

// NewSingleProducerRingBuffer creates a ring for exactly one publishing goroutine.
func NewSingleProducerRingBuffer[T any](bufferSize int, ws WaitStrategy, factory EventFactory[T]) (*RingBuffer[T], error) {
	return NewRingBuffer(Config{BufferSize: bufferSize, ProducerType: ProducerSingle, WaitStrategy: ws}, factory)
}

// NewMultiProducerRingBuffer creates a ring safe for concurrent publishers.
func NewMultiProducerRingBuffer[T any](bufferSize int, ws WaitStrategy, factory EventFactory[T]) (*RingBuffer[T], error) {
	return NewRingBuffer(Config{BufferSize: bufferSize, ProducerType: ProducerMulti, WaitStrategy: ws}, factory)
}

func newRingBuffer[T any](sequencer Sequencer, factory EventFactory[T]) *RingBuffer[T] {
	size := sequencer.BufferSize()
	entries := make([]T, size)
	if factory != nil {
		for i := range entries {
			entries[i] = factory()
		}
	}
	return &RingBuffer[T]{
		mask:      size - 1,
		entries:   entries,
		sequencer: sequencer,
	}
}

// Get returns the slot for sequence. Producers write into it between
// claim and publish; consumers read it once their barrier has granted sequence.
func (rb *RingBuffer[T]) Get(sequence int64) *T {
	return &rb.entries[sequence&rb.mask]
}

// Next claims the next sequence, waiting while the ring is full.
// The caller must Publish it.
func (rb *RingBuffer[T]) Next() int64 {
	return rb.sequencer.Next()
}

// NextN claims n contiguous sequences and returns the highest.
// The caller must PublishRange(hi-n+1, hi).
func (rb *RingBuffer[T]) NextN(n int64) int64 {
	return rb.sequencer.NextN(n)
}

// TryNext claims the next sequence or returns ErrCapacityExceeded.
func (rb *RingBuffer[T]) TryNext() (int64, error) {
	return rb.sequencer.TryNext()
}

// TryNextN claims n sequences or returns ErrCapacityExceeded.
func (rb *RingBuffer[T]) TryNextN(n int64) (int64, error) {
	return rb.sequencer.TryNextN(n)
}

func (rb *RingBuffer[T]) Publish(sequence int64) {
	rb.sequencer.Publish(sequence)
}

func (rb *RingBuffer[T]) PublishRange(lo, hi int64) {
	rb.sequencer.PublishRange(lo, hi)
}

// Cursor returns the highest published sequence.
func (rb *RingBuffer[T]) Cursor() int64 {
	return rb.sequencer.Cursor()
}

func (rb *RingBuffer[T]) BufferSize() int64 {
	return rb.sequencer.BufferSize()
}

func (rb *RingBuffer[T]) HasAvailableCapacity(n int64) bool {
	return rb.sequencer.HasAvailableCapacity(n)
}

func (rb *RingBuffer[T]) RemainingCapacity() int64 {
	return rb.sequencer.RemainingCapacity()
}

// AddGatingSequences registers the sequences of the most downstream
// consumers. Must be called before publishing starts.
func (rb *RingBuffer[T]) AddGatingSequences(seqs ...*Sequence) {
	rb.sequencer.AddGatingSequences(seqs...)
}

func (rb *RingBuffer[T]) RemoveGatingSequence(seq *Sequence) bool {
	return rb.sequencer.RemoveGatingSequence(seq)
}

// MinimumGatingSequence returns the progress of the slowest gating consumer.
func (rb *RingBuffer[T]) MinimumGatingSequence() int64 {
	return rb.sequencer.MinimumSequence()
}

// NewBarrier returns a barrier following the cursor and the given upstream consumers.
func (rb *RingBuffer[T]) NewBarrier(dependents ...*Sequence) *SequenceBarrier {
	return rb.sequencer.NewBarrier(dependents...)
}

package disruptor

import "golang.org/x/sys/cpu"

// SingleProducerSequencer is the single-writer claim strategy.
//
// IMPORTANT: exactly one goroutine may call Next*, TryNext*, Publish*,
// HasAvailableCapacity and RemainingCapacity. The claim position is a plain
// field and the only cross-goroutine signal is the cursor store in Publish.
// Concurrent use is undefined behaviour and is not detected.
type SingleProducerSequencer struct {
	sequencerBase

	_           cpu.CacheLinePad
	nextValue   int64 // last claimed sequence, producer-local
	cachedValue int64 // last observed minimum gating sequence, producer-local
	_           cpu.CacheLinePad
}

func newSingleProducerSequencer(bufferSize int64, ws WaitStrategy) *SingleProducerSequencer {
	return &SingleProducerSequencer{
		sequencerBase: sequencerBase{
			bufferSize:   bufferSize,
			waitStrategy: ws,
			cursor:       NewSequence(),
		},
		nextValue:   InitialSequenceValue,
		cachedValue: InitialSequenceValue,
	}
}

func (s *SingleProducerSequencer) HasAvailableCapacity(n int64) bool {
	next := s.nextValue
	wrapPoint := next + n - s.bufferSize
	cached := s.cachedValue

	if wrapPoint > cached || cached > next {
		minSequence := minimumSequence(s.gating.load(), next)
		s.cachedValue = minSequence
		if wrapPoint > minSequence {
			return false
		}
	}
	return true
}

func (s *SingleProducerSequencer) Next() int64 {
	return s.NextN(1)
}

// NextN claims n sequences and returns the highest one, waiting while
// the slowest gating consumer is less than a full lap behind.
func (s *SingleProducerSequencer) NextN(n int64) int64 {
	s.checkClaim(n)

	next := s.nextValue + n
	wrapPoint := next - s.bufferSize
	cached := s.cachedValue

	if wrapPoint > cached || cached > s.nextValue {
		var b backoff
		minSequence := minimumSequence(s.gating.load(), s.nextValue)
		for wrapPoint > minSequence {
			b.wait()
			minSequence = minimumSequence(s.gating.load(), s.nextValue)
		}
		s.cachedValue = minSequence
	}

	s.nextValue = next
	return next
}

func (s *SingleProducerSequencer) TryNext() (int64, error) {
	return s.TryNextN(1)
}

// TryNextN claims n sequences or returns ErrCapacityExceeded without waiting.
func (s *SingleProducerSequencer) TryNextN(n int64) (int64, error) {
	s.checkClaim(n)

	if !s.HasAvailableCapacity(n) {
		return 0, ErrCapacityExceeded
	}
	s.nextValue += n
	return s.nextValue, nil
}

func (s *SingleProducerSequencer) RemainingCapacity() int64 {
	consumed := minimumSequence(s.gating.load(), s.nextValue)
	return s.bufferSize - (s.nextValue - consumed)
}

// Publish makes sequence, and every sequence claimed before it, visible.
func (s *SingleProducerSequencer) Publish(sequence int64) {
	s.cursor.Set(sequence)
	s.waitStrategy.SignalAllWhenBlocking()
}

func (s *SingleProducerSequencer) PublishRange(_, hi int64) {
	s.Publish(hi)
}

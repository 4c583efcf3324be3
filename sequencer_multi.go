package disruptor

import "runtime"

// MultiProducerSequencer lets many goroutines claim and publish concurrently.
//
// Claims race on an atomic claim sequence. Publication is serialised by
// sequence order: a range becomes visible only after everything before it
// has been published, so the cursor never exposes a gap.
type MultiProducerSequencer struct {
	sequencerBase

	claim       *Sequence // highest claimed sequence
	gatingCache *Sequence // last observed minimum gating sequence
}

func newMultiProducerSequencer(bufferSize int64, ws WaitStrategy) *MultiProducerSequencer {
	return &MultiProducerSequencer{
		sequencerBase: sequencerBase{
			bufferSize:   bufferSize,
			waitStrategy: ws,
			cursor:       NewSequence(),
		},
		claim:       NewSequence(),
		gatingCache: NewSequence(),
	}
}

func (m *MultiProducerSequencer) HasAvailableCapacity(n int64) bool {
	return m.hasAvailableCapacity(n, m.claim.Get())
}

func (m *MultiProducerSequencer) hasAvailableCapacity(n, current int64) bool {
	wrapPoint := current + n - m.bufferSize
	cached := m.gatingCache.Get()

	if wrapPoint > cached || cached > current {
		minSequence := minimumSequence(m.gating.load(), current)
		m.gatingCache.Set(minSequence)
		if wrapPoint > minSequence {
			return false
		}
	}
	return true
}

func (m *MultiProducerSequencer) Next() int64 {
	return m.NextN(1)
}

// NextN claims n sequences and returns the highest one.
func (m *MultiProducerSequencer) NextN(n int64) int64 {
	m.checkClaim(n)

	var b backoff
	for {
		current := m.claim.Get()
		next := current + n
		wrapPoint := next - m.bufferSize
		cached := m.gatingCache.Get()

		if wrapPoint > cached || cached > current {
			minSequence := minimumSequence(m.gating.load(), current)
			if wrapPoint > minSequence {
				b.wait()
				continue
			}
			m.gatingCache.Set(minSequence)
		} else if m.claim.CompareAndSet(current, next) {
			return next
		}
	}
}

func (m *MultiProducerSequencer) TryNext() (int64, error) {
	return m.TryNextN(1)
}

func (m *MultiProducerSequencer) TryNextN(n int64) (int64, error) {
	m.checkClaim(n)

	for {
		current := m.claim.Get()
		if !m.hasAvailableCapacity(n, current) {
			return 0, ErrCapacityExceeded
		}
		if next := current + n; m.claim.CompareAndSet(current, next) {
			return next, nil
		}
	}
}

func (m *MultiProducerSequencer) RemainingCapacity() int64 {
	produced := m.claim.Get()
	consumed := minimumSequence(m.gating.load(), produced)
	return m.bufferSize - (produced - consumed)
}

func (m *MultiProducerSequencer) Publish(sequence int64) {
	m.PublishRange(sequence, sequence)
}

// PublishRange waits until every sequence below lo is visible, then
// advances the cursor to hi. Only the claimer of lo can satisfy the wait,
// so the store does not need a CAS.
func (m *MultiProducerSequencer) PublishRange(lo, hi int64) {
	for spins := 0; m.cursor.Get() != lo-1; spins++ {
		if spins%goschedEvery == 0 {
			runtime.Gosched()
		}
	}
	m.cursor.Set(hi)
	m.waitStrategy.SignalAllWhenBlocking()
}

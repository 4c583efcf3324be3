package disruptor

import "sync/atomic"

// SequenceBarrier tells a consumer how far it may read: up to the ring's
// cursor, and no further than any upstream consumer it depends on.
// It references those sequences but never owns them.
type SequenceBarrier struct {
	waitStrategy WaitStrategy
	cursor       *Sequence
	dependents   []*Sequence
	alerted      atomic.Bool
}

func newSequenceBarrier(ws WaitStrategy, cursor *Sequence, dependents []*Sequence) *SequenceBarrier {
	deps := make([]*Sequence, len(dependents))
	copy(deps, dependents)
	return &SequenceBarrier{
		waitStrategy: ws,
		cursor:       cursor,
		dependents:   deps,
	}
}

// WaitFor blocks according to the wait strategy until sequence is available
// and returns the highest available sequence.
// It returns ErrAlerted once the barrier has been alerted.
func (b *SequenceBarrier) WaitFor(sequence int64) (int64, error) {
	if err := b.CheckAlert(); err != nil {
		return InitialSequenceValue, err
	}
	return b.waitStrategy.WaitFor(sequence, b.cursor, b.dependents, b)
}

// Cursor returns the progress this barrier currently exposes.
func (b *SequenceBarrier) Cursor() int64 {
	return availableSequence(b.cursor, b.dependents)
}

// Alert signals waiting consumers to stop and wakes any blocked ones.
func (b *SequenceBarrier) Alert() {
	b.alerted.Store(true)
	b.waitStrategy.SignalAllWhenBlocking()
}

func (b *SequenceBarrier) ClearAlert() {
	b.alerted.Store(false)
}

func (b *SequenceBarrier) IsAlerted() bool {
	return b.alerted.Load()
}

// CheckAlert returns ErrAlerted if the barrier has been alerted.
func (b *SequenceBarrier) CheckAlert() error {
	if b.alerted.Load() {
		return ErrAlerted
	}
	return nil
}

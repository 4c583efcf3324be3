package disruptor

import (
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Alerter is the view of a SequenceBarrier a WaitStrategy needs:
// a way to learn that the waiting consumer has been told to stop.
type Alerter interface {
	CheckAlert() error
}

// WaitStrategy decides how a consumer waits for sequence to become available.
//
// WaitFor returns once the cursor has reached sequence and every dependent
// sequence has too. The returned value is the highest sequence that is
// safe to read, which may be greater than the one requested.
// It returns ErrAlerted when the alerter has been signalled and, for
// strategies with a deadline, ErrTimeout.
//
// SignalAllWhenBlocking is called by producers after every publish and by
// barriers on alert.
type WaitStrategy interface {
	WaitFor(sequence int64, cursor *Sequence, dependents []*Sequence, alerter Alerter) (int64, error)
	SignalAllWhenBlocking()
}

const (
	defaultYieldSpinTries = 100
	defaultSleepRetries   = 200
	defaultSleepDuration  = 100 * time.Microsecond
)

// availableSequence is the highest sequence a consumer behind dependents may read.
// With no dependents the consumer only follows the cursor.
func availableSequence(cursor *Sequence, dependents []*Sequence) int64 {
	if len(dependents) == 0 {
		return cursor.Get()
	}
	return minimumSequence(dependents, math.MaxInt64)
}

// BusySpinWaitStrategy re-checks the barrier in a tight loop.
// Lowest latency, burns a full core per waiting consumer.
type BusySpinWaitStrategy struct{}

func NewBusySpinWaitStrategy() *BusySpinWaitStrategy {
	return &BusySpinWaitStrategy{}
}

func (*BusySpinWaitStrategy) WaitFor(sequence int64, cursor *Sequence, dependents []*Sequence, alerter Alerter) (int64, error) {
	for {
		if available := availableSequence(cursor, dependents); available >= sequence {
			return available, nil
		}
		if err := alerter.CheckAlert(); err != nil {
			return InitialSequenceValue, err
		}
	}
}

func (*BusySpinWaitStrategy) SignalAllWhenBlocking() {}

// YieldingWaitStrategy spins for a fixed budget, then yields the processor
// between checks.
type YieldingWaitStrategy struct {
	spinTries int
}

func NewYieldingWaitStrategy() *YieldingWaitStrategy {
	return &YieldingWaitStrategy{spinTries: defaultYieldSpinTries}
}

func (y *YieldingWaitStrategy) WaitFor(sequence int64, cursor *Sequence, dependents []*Sequence, alerter Alerter) (int64, error) {
	counter := y.spinTries
	for {
		if available := availableSequence(cursor, dependents); available >= sequence {
			return available, nil
		}
		if err := alerter.CheckAlert(); err != nil {
			return InitialSequenceValue, err
		}
		if counter == 0 {
			runtime.Gosched()
		} else {
			counter--
		}
	}
}

func (*YieldingWaitStrategy) SignalAllWhenBlocking() {}

// SleepingWaitStrategy spins, then yields, then sleeps for a fixed
// duration between checks. Much cheaper on CPU, latency grows with the sleep.
type SleepingWaitStrategy struct {
	retries int
	sleep   time.Duration
}

// NewSleepingWaitStrategy returns a sleeping strategy; d <= 0 selects 100µs.
func NewSleepingWaitStrategy(d time.Duration) *SleepingWaitStrategy {
	if d <= 0 {
		d = defaultSleepDuration
	}
	return &SleepingWaitStrategy{retries: defaultSleepRetries, sleep: d}
}

func (s *SleepingWaitStrategy) WaitFor(sequence int64, cursor *Sequence, dependents []*Sequence, alerter Alerter) (int64, error) {
	counter := s.retries
	for {
		if available := availableSequence(cursor, dependents); available >= sequence {
			return available, nil
		}
		if err := alerter.CheckAlert(); err != nil {
			return InitialSequenceValue, err
		}
		switch {
		case counter > s.retries/2:
			counter--
		case counter > 0:
			counter--
			runtime.Gosched()
		default:
			time.Sleep(s.sleep)
		}
	}
}

func (*SleepingWaitStrategy) SignalAllWhenBlocking() {}

// BlockingWaitStrategy parks consumers until a producer publishes.
// Waiters block on a channel that SignalAllWhenBlocking closes and replaces,
// which gives condition-variable semantics with an optional deadline.
type BlockingWaitStrategy struct {
	timeout time.Duration
	waiters atomic.Int32

	mu     sync.Mutex
	notify chan struct{}
}

// NewBlockingWaitStrategy returns a blocking strategy. A positive timeout
// bounds the wait on the cursor and makes WaitFor return ErrTimeout when
// exceeded. It does not cover the wait on upstream consumers, which yields
// until they catch up.
func NewBlockingWaitStrategy(timeout time.Duration) *BlockingWaitStrategy {
	return &BlockingWaitStrategy{
		timeout: timeout,
		notify:  make(chan struct{}),
	}
}

func (b *BlockingWaitStrategy) WaitFor(sequence int64, cursor *Sequence, dependents []*Sequence, alerter Alerter) (int64, error) {
	if cursor.Get() < sequence {
		var deadline <-chan time.Time
		if b.timeout > 0 {
			timer := time.NewTimer(b.timeout)
			defer timer.Stop()
			deadline = timer.C
		}

		// waiters must be visible before the cursor is re-read, otherwise a
		// publish landing in between could skip the signal.
		b.waiters.Add(1)
		defer b.waiters.Add(-1)

		for {
			b.mu.Lock()
			ch := b.notify
			b.mu.Unlock()

			if cursor.Get() >= sequence {
				break
			}
			if err := alerter.CheckAlert(); err != nil {
				return InitialSequenceValue, err
			}

			select {
			case <-ch:
			case <-deadline:
				return InitialSequenceValue, ErrTimeout
			}
		}
	}

	// Upstream consumers never signal, so follow them by yielding.
	for {
		if available := availableSequence(cursor, dependents); available >= sequence {
			return available, nil
		}
		if err := alerter.CheckAlert(); err != nil {
			return InitialSequenceValue, err
		}
		runtime.Gosched()
	}
}

func (b *BlockingWaitStrategy) SignalAllWhenBlocking() {
	if b.waiters.Load() == 0 {
		return
	}
	b.mu.Lock()
	close(b.notify)
	b.notify = make(chan struct{})
	b.mu.Unlock()
}

// ParseWaitStrategy maps a name to a strategy.
// d is the sleep for "sleeping" and the timeout for "blocking".
func ParseWaitStrategy(name string, d time.Duration) (WaitStrategy, error) {
	switch strings.ToLower(name) {
	case "busyspin", "busy-spin", "spin":
		return NewBusySpinWaitStrategy(), nil
	case "yielding", "yield":
		return NewYieldingWaitStrategy(), nil
	case "sleeping", "sleep":
		return NewSleepingWaitStrategy(d), nil
	case "blocking", "block":
		return NewBlockingWaitStrategy(d), nil
	default:
		return nil, fmt.Errorf("disruptor: unknown wait strategy %q", name)
	}
}

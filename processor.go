package disruptor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// EventHandler is invoked once per event by a BatchEventProcessor.
// endOfBatch is true for the last event of the batch currently being
// drained, which lets handlers defer side effects such as flushing.
type EventHandler[T any] interface {
	OnEvent(event *T, sequence int64, endOfBatch bool) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc[T any] func(event *T, sequence int64, endOfBatch bool) error

func (f EventHandlerFunc[T]) OnEvent(event *T, sequence int64, endOfBatch bool) error {
	return f(event, sequence, endOfBatch)
}

// LifecycleAware handlers are told when their processor starts and stops.
type LifecycleAware interface {
	OnStart() error
	OnShutdown() error
}

// BatchStartAware handlers are told the size of each batch before it is delivered.
type BatchStartAware interface {
	OnBatchStart(batchSize int64)
}

// TimeoutAware handlers are called when a wait strategy with a deadline
// times out; sequence is the processor's current sequence.
type TimeoutAware interface {
	OnTimeout(sequence int64) error
}

const (
	stateIdle int32 = iota
	stateRunning
	stateHalted
)

// ProcessorStats is a snapshot of processor counters.
type ProcessorStats struct {
	Events   uint64
	Batches  uint64
	Failures uint64
	Timeouts uint64
}

// BatchEventProcessor drains a ring in batches on a single goroutine and
// hands every event to one EventHandler. Several processors on the same
// barrier each see every event.
//
// Its sequence is advanced only after a whole batch has been handled, so
// downstream consumers never observe partial progress.
type BatchEventProcessor[T any] struct {
	state            atomic.Int32
	started          atomic.Bool
	sequence         *Sequence
	ringBuffer       *RingBuffer[T]
	barrier          *SequenceBarrier
	handler          EventHandler[T]
	exceptionHandler ExceptionHandler[T]
	logger           *slog.Logger

	events   atomic.Uint64
	batches  atomic.Uint64
	failures atomic.Uint64
	timeouts atomic.Uint64
}

// NewBatchEventProcessor returns an idle processor reading rb through barrier.
// Failed events are logged and skipped until SetExceptionHandler says otherwise.
func NewBatchEventProcessor[T any](rb *RingBuffer[T], barrier *SequenceBarrier, handler EventHandler[T]) *BatchEventProcessor[T] {
	return &BatchEventProcessor[T]{
		sequence:         NewSequence(),
		ringBuffer:       rb,
		barrier:          barrier,
		handler:          handler,
		exceptionHandler: NewLoggingExceptionHandler[T](nil),
		logger:           slog.Default(),
	}
}

// SetExceptionHandler replaces the failure policy. Call before Run.
func (p *BatchEventProcessor[T]) SetExceptionHandler(h ExceptionHandler[T]) {
	if h != nil {
		p.exceptionHandler = h
	}
}

// SetLogger replaces the lifecycle logger. Call before Run.
func (p *BatchEventProcessor[T]) SetLogger(l *slog.Logger) {
	if l != nil {
		p.logger = l
	}
}

// Sequence returns the processor's progress, for gating and dependent barriers.
func (p *BatchEventProcessor[T]) Sequence() *Sequence {
	return p.sequence
}

// Halt asks the processor to stop once its current batch is done.
func (p *BatchEventProcessor[T]) Halt() {
	p.state.Store(stateHalted)
	p.barrier.Alert()
}

func (p *BatchEventProcessor[T]) IsRunning() bool {
	return p.state.Load() == stateRunning
}

// Stats retrieves the current counters of the processor.
func (p *BatchEventProcessor[T]) Stats() ProcessorStats {
	return ProcessorStats{
		Events:   p.events.Load(),
		Batches:  p.batches.Load(),
		Failures: p.failures.Load(),
		Timeouts: p.timeouts.Load(),
	}
}

// Run processes events until halted. It returns nil on a normal halt and
// the exception handler's error when that policy stops the processor.
// A processor runs at most once. Run on a processor halted before it
// started still calls the handler's OnStart and OnShutdown, then returns nil.
func (p *BatchEventProcessor[T]) Run() error {
	if !p.state.CompareAndSwap(stateIdle, stateRunning) {
		if p.state.Load() == stateRunning {
			return ErrAlreadyRunning
		}
		p.earlyExit()
		return nil
	}
	p.started.Store(true)
	p.barrier.ClearAlert()
	// A Halt racing with the clear above must still win.
	if p.state.Load() != stateRunning {
		p.notifyStart()
		p.notifyShutdown()
		return nil
	}

	p.notifyStart()
	err := p.processEvents()
	p.state.Store(stateHalted)
	p.notifyShutdown()
	return err
}

// earlyExit runs the lifecycle hooks of a processor halted before it ran,
// so a LifecycleAware handler always sees OnStart and OnShutdown once.
func (p *BatchEventProcessor[T]) earlyExit() {
	if p.started.CompareAndSwap(false, true) {
		p.notifyStart()
		p.notifyShutdown()
	}
}

func (p *BatchEventProcessor[T]) processEvents() error {
	next := p.sequence.Get() + 1
	for {
		available, err := p.barrier.WaitFor(next)
		if err != nil {
			switch {
			case errors.Is(err, ErrTimeout):
				if herr := p.notifyTimeout(p.sequence.Get()); herr != nil {
					return herr
				}
				continue
			case errors.Is(err, ErrAlerted):
				if p.state.Load() != stateRunning {
					return nil
				}
				continue
			default:
				return err
			}
		}
		if available < next {
			continue
		}

		if bs, ok := p.handler.(BatchStartAware); ok {
			bs.OnBatchStart(available - next + 1)
		}

		batch := uint64(available - next + 1)
		for ; next <= available; next++ {
			event := p.ringBuffer.Get(next)
			if err := p.invoke(event, next, next == available); err != nil {
				p.failures.Add(1)
				if herr := p.exceptionHandler.HandleEventError(err, next, event); herr != nil {
					return herr
				}
			}
		}

		p.sequence.Set(available)
		p.events.Add(batch)
		p.batches.Add(1)
	}
}

func (p *BatchEventProcessor[T]) invoke(event *T, sequence int64, endOfBatch bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return p.handler.OnEvent(event, sequence, endOfBatch)
}

func (p *BatchEventProcessor[T]) notifyTimeout(sequence int64) error {
	p.timeouts.Add(1)
	ta, ok := p.handler.(TimeoutAware)
	if !ok {
		return nil
	}
	if err := ta.OnTimeout(sequence); err != nil {
		return p.exceptionHandler.HandleEventError(err, sequence, nil)
	}
	return nil
}

func (p *BatchEventProcessor[T]) notifyStart() {
	p.logger.Debug("event processor started", "sequence", p.sequence.Get())
	if la, ok := p.handler.(LifecycleAware); ok {
		if err := la.OnStart(); err != nil {
			p.exceptionHandler.HandleOnStartError(err)
		}
	}
}

func (p *BatchEventProcessor[T]) notifyShutdown() {
	if la, ok := p.handler.(LifecycleAware); ok {
		if err := la.OnShutdown(); err != nil {
			p.exceptionHandler.HandleOnShutdownError(err)
		}
	}
	p.logger.Debug("event processor halted", "sequence", p.sequence.Get())
}

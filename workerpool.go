package disruptor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"
	"time"
)

// WorkHandler is invoked by exactly one worker of a pool for each event.
type WorkHandler[T any] interface {
	OnEvent(event *T, sequence int64) error
}

// WorkHandlerFunc adapts a function to WorkHandler.
type WorkHandlerFunc[T any] func(event *T, sequence int64) error

func (f WorkHandlerFunc[T]) OnEvent(event *T, sequence int64) error {
	return f(event, sequence)
}

// WorkProcessor is one competing consumer of a WorkerPool. It claims the
// next unprocessed sequence from the shared work sequence, handles it, and
// only goes back to the barrier once it has caught up with what is available.
type WorkProcessor[T any] struct {
	state            atomic.Int32
	started          atomic.Bool
	sequence         *Sequence
	workSequence     *Sequence
	ringBuffer       *RingBuffer[T]
	barrier          *SequenceBarrier
	handler          WorkHandler[T]
	exceptionHandler ExceptionHandler[T]
	logger           *slog.Logger

	events   atomic.Uint64
	failures atomic.Uint64
	timeouts atomic.Uint64
}

func newWorkProcessor[T any](rb *RingBuffer[T], barrier *SequenceBarrier, handler WorkHandler[T], exh ExceptionHandler[T], workSequence *Sequence) *WorkProcessor[T] {
	return &WorkProcessor[T]{
		sequence:         NewSequence(),
		workSequence:     workSequence,
		ringBuffer:       rb,
		barrier:          barrier,
		handler:          handler,
		exceptionHandler: exh,
		logger:           slog.Default(),
	}
}

// Sequence is the highest sequence below which this worker holds no work.
func (w *WorkProcessor[T]) Sequence() *Sequence {
	return w.sequence
}

func (w *WorkProcessor[T]) Halt() {
	w.state.Store(stateHalted)
	w.barrier.Alert()
}

func (w *WorkProcessor[T]) IsRunning() bool {
	return w.state.Load() == stateRunning
}

func (w *WorkProcessor[T]) Stats() ProcessorStats {
	return ProcessorStats{
		Events:   w.events.Load(),
		Failures: w.failures.Load(),
		Timeouts: w.timeouts.Load(),
	}
}

// Run claims and handles events until halted. A worker halted before it
// ran only calls its handler's OnStart and OnShutdown.
func (w *WorkProcessor[T]) Run() error {
	if !w.state.CompareAndSwap(stateIdle, stateRunning) {
		if w.state.Load() == stateRunning {
			return ErrAlreadyRunning
		}
		if w.started.CompareAndSwap(false, true) {
			w.notifyStart()
			w.notifyShutdown()
		}
		return nil
	}
	w.started.Store(true)
	w.barrier.ClearAlert()
	if w.state.Load() != stateRunning {
		w.notifyStart()
		w.notifyShutdown()
		return nil
	}

	w.notifyStart()
	err := w.processEvents()
	w.state.Store(stateHalted)
	w.notifyShutdown()
	return err
}

func (w *WorkProcessor[T]) processEvents() error {
	processed := true
	cachedAvailable := int64(math.MinInt64)
	next := w.sequence.Get()

	for {
		if processed {
			processed = false
			// Publishing next-1 before the claim keeps every slot this
			// worker may still touch gated against producers.
			for {
				next = w.workSequence.Get() + 1
				w.sequence.Set(next - 1)
				if w.workSequence.CompareAndSet(next-1, next) {
					break
				}
			}
		}

		if cachedAvailable >= next {
			event := w.ringBuffer.Get(next)
			if err := w.invoke(event, next); err != nil {
				w.failures.Add(1)
				if herr := w.exceptionHandler.HandleEventError(err, next, event); herr != nil {
					return herr
				}
			}
			w.events.Add(1)
			processed = true
			continue
		}

		available, err := w.barrier.WaitFor(next)
		if err != nil {
			switch {
			case errors.Is(err, ErrTimeout):
				w.timeouts.Add(1)
				continue
			case errors.Is(err, ErrAlerted):
				if w.state.Load() != stateRunning {
					return nil
				}
				continue
			default:
				return err
			}
		}
		cachedAvailable = available
	}
}

func (w *WorkProcessor[T]) invoke(event *T, sequence int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return w.handler.OnEvent(event, sequence)
}

func (w *WorkProcessor[T]) notifyStart() {
	w.logger.Debug("work processor started", "sequence", w.sequence.Get())
	if la, ok := w.handler.(LifecycleAware); ok {
		if err := la.OnStart(); err != nil {
			w.exceptionHandler.HandleOnStartError(err)
		}
	}
}

func (w *WorkProcessor[T]) notifyShutdown() {
	if la, ok := w.handler.(LifecycleAware); ok {
		if err := la.OnShutdown(); err != nil {
			w.exceptionHandler.HandleOnShutdownError(err)
		}
	}
	w.logger.Debug("work processor halted", "sequence", w.sequence.Get())
}

// WorkerPool spreads events over interchangeable workers so that each
// event is handled by exactly one of them. Events are claimed in sequence
// order, but workers may finish them in any order.
type WorkerPool[T any] struct {
	started      atomic.Bool
	workSequence *Sequence
	ringBuffer   *RingBuffer[T]
	processors   []*WorkProcessor[T]
}

// NewWorkerPool creates one worker per handler. Each worker gets its own
// barrier over dependents so halting one does not disturb the others.
// exh may be nil, in which case failures are logged and skipped.
func NewWorkerPool[T any](rb *RingBuffer[T], dependents []*Sequence, exh ExceptionHandler[T], handlers ...WorkHandler[T]) *WorkerPool[T] {
	if exh == nil {
		exh = NewLoggingExceptionHandler[T](nil)
	}
	wp := &WorkerPool[T]{
		workSequence: NewSequence(),
		ringBuffer:   rb,
		processors:   make([]*WorkProcessor[T], len(handlers)),
	}
	for i, h := range handlers {
		wp.processors[i] = newWorkProcessor(rb, rb.NewBarrier(dependents...), h, exh, wp.workSequence)
	}
	return wp
}

func (wp *WorkerPool[T]) setLogger(l *slog.Logger) {
	for _, p := range wp.processors {
		p.logger = l
	}
}

// WorkerSequences returns every worker's sequence plus the shared work
// sequence; together they gate producers.
func (wp *WorkerPool[T]) WorkerSequences() []*Sequence {
	seqs := make([]*Sequence, 0, len(wp.processors)+1)
	for _, p := range wp.processors {
		seqs = append(seqs, p.sequence)
	}
	return append(seqs, wp.workSequence)
}

// Workers returns the pool's processors.
func (wp *WorkerPool[T]) Workers() []*WorkProcessor[T] {
	return wp.processors
}

// Start positions every worker at the current cursor and launches each
// Run through spawn. It returns ErrAlreadyStarted on a second call.
func (wp *WorkerPool[T]) Start(spawn func(run func() error)) error {
	if !wp.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	cursor := wp.ringBuffer.Cursor()
	wp.workSequence.Set(cursor)
	for _, p := range wp.processors {
		p.sequence.Set(cursor)
	}
	for _, p := range wp.processors {
		spawn(p.Run)
	}
	return nil
}

// Halt stops every worker after its current event.
func (wp *WorkerPool[T]) Halt() {
	for _, p := range wp.processors {
		p.Halt()
	}
}

// DrainAndHalt waits until workers have caught up with the cursor, then halts.
// If ctx ends first the pool is halted anyway and ctx's error is returned.
func (wp *WorkerPool[T]) DrainAndHalt(ctx context.Context) error {
	err := waitForDrain(ctx, nil, wp.ringBuffer.Cursor, wp.WorkerSequences())
	wp.Halt()
	return err
}

// waitForDrain polls until every sequence in seqs has reached cursor().
// It gives up with ErrTimeout when ctx ends, and quietly when stop closes.
func waitForDrain(ctx context.Context, stop <-chan struct{}, cursor func() int64, seqs []*Sequence) error {
	for spins := 0; cursor() > minimumSequence(seqs, math.MaxInt64); spins++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		select {
		case <-stop:
			return nil
		default:
		}
		if spins < goschedEvery {
			runtime.Gosched()
		} else {
			time.Sleep(time.Millisecond)
		}
	}
	return nil
}

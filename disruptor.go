// Package disruptor implements a ring-buffer messaging core in the style of
// the LMAX Disruptor: producers claim pre-allocated slots, fill them in place
// and publish; consumers follow the published cursor through sequence
// barriers and wait strategies, either all seeing every event (broadcast)
// or sharing events out through a worker pool (competing).
package disruptor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/aradilov/disruptor/internal/affinity"
)

// Disruptor wires a RingBuffer to its consumers and runs them.
//
// Consumers are registered with HandleEventsWith / HandleEventsWithWorkerPool
// (and chained with EventHandlerGroup.Then) before Start. Each processor
// runs on its own goroutine. A processor stopped by its exception handler
// halts the whole disruptor.
type Disruptor[T any] struct {
	cfg        Config
	logger     *slog.Logger
	ringBuffer *RingBuffer[T]

	exceptionHandler ExceptionHandler[T]
	consumers        []*consumerEntry
	regErr           error

	started atomic.Bool
	spawned atomic.Int64

	mu      sync.Mutex
	group   *errgroup.Group
	groupCx context.Context
	cancel  context.CancelFunc
}

// consumerEntry is one registered processor or worker pool.
type consumerEntry struct {
	sequences  []*Sequence
	endOfChain bool
	start      func(spawn func(run func() error)) error
	halt       func()
}

// New creates a disruptor over a ring of events built by factory
// (nil for zero values), configured from DefaultConfig and opts.
func New[T any](factory EventFactory[T], opts ...Option) (*Disruptor[T], error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	rb, err := NewRingBuffer(cfg, factory)
	if err != nil {
		return nil, err
	}
	return &Disruptor[T]{
		cfg:              cfg,
		logger:           cfg.logger(),
		ringBuffer:       rb,
		exceptionHandler: NewLoggingExceptionHandler[T](cfg.logger()),
	}, nil
}

// SetDefaultExceptionHandler sets the failure policy of every processor,
// including those already registered. Call before Start.
func (d *Disruptor[T]) SetDefaultExceptionHandler(h ExceptionHandler[T]) {
	if h != nil && !d.started.Load() {
		d.exceptionHandler = h
	}
}

// HandleEventsWith registers handlers that each receive every event.
func (d *Disruptor[T]) HandleEventsWith(handlers ...EventHandler[T]) *EventHandlerGroup[T] {
	return d.createEventProcessors(nil, handlers)
}

// HandleEventsWithWorkerPool registers a pool in which each event goes to
// exactly one of handlers.
func (d *Disruptor[T]) HandleEventsWithWorkerPool(handlers ...WorkHandler[T]) *EventHandlerGroup[T] {
	return d.createWorkerPool(nil, handlers)
}

func (d *Disruptor[T]) createEventProcessors(upstream *EventHandlerGroup[T], handlers []EventHandler[T]) *EventHandlerGroup[T] {
	group := &EventHandlerGroup[T]{d: d}
	if err := d.checkRegistration(upstream, len(handlers)); err != nil {
		group.err = err
		return group
	}

	dependents := upstream.Sequences()
	for _, h := range handlers {
		p := NewBatchEventProcessor(d.ringBuffer, d.ringBuffer.NewBarrier(dependents...), h)
		p.SetExceptionHandler(delegatingExceptionHandler[T]{d: d})
		p.SetLogger(d.logger)

		entry := &consumerEntry{
			sequences:  []*Sequence{p.Sequence()},
			endOfChain: true,
			start: func(spawn func(run func() error)) error {
				spawn(p.Run)
				return nil
			},
			halt: p.Halt,
		}
		d.consumers = append(d.consumers, entry)
		group.entries = append(group.entries, entry)
	}
	upstream.markUsedInBarrier()
	return group
}

func (d *Disruptor[T]) createWorkerPool(upstream *EventHandlerGroup[T], handlers []WorkHandler[T]) *EventHandlerGroup[T] {
	group := &EventHandlerGroup[T]{d: d}
	if err := d.checkRegistration(upstream, len(handlers)); err != nil {
		group.err = err
		return group
	}

	pool := NewWorkerPool[T](d.ringBuffer, upstream.Sequences(), delegatingExceptionHandler[T]{d: d}, handlers...)
	pool.setLogger(d.logger)

	entry := &consumerEntry{
		sequences:  pool.WorkerSequences(),
		endOfChain: true,
		start:      pool.Start,
		halt:       pool.Halt,
	}
	d.consumers = append(d.consumers, entry)
	group.entries = append(group.entries, entry)
	upstream.markUsedInBarrier()
	return group
}

func (d *Disruptor[T]) checkRegistration(upstream *EventHandlerGroup[T], n int) error {
	var err error
	switch {
	case upstream != nil && upstream.err != nil:
		err = upstream.err
	case d.started.Load():
		err = ErrAlreadyStarted
	case n == 0:
		err = ErrNoHandlers
	}
	if err != nil && d.regErr == nil {
		d.regErr = err
	}
	return err
}

// Start gates the ring on the most downstream consumers and launches every
// processor. It returns the ring to publish into.
func (d *Disruptor[T]) Start() (*RingBuffer[T], error) {
	if d.regErr != nil {
		return nil, d.regErr
	}
	if !d.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}

	d.ringBuffer.AddGatingSequences(d.gatingSequences()...)

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCx := errgroup.WithContext(ctx)

	d.mu.Lock()
	d.group, d.groupCx, d.cancel = group, groupCx, cancel
	d.mu.Unlock()

	for _, c := range d.consumers {
		if err := c.start(d.spawn); err != nil {
			d.haltConsumers()
			cancel()
			_ = group.Wait()
			return nil, err
		}
	}

	// The group context ends when a processor fails or all have exited.
	go func() {
		<-groupCx.Done()
		d.haltConsumers()
	}()

	d.logger.Debug("disruptor started",
		"buffer_size", d.ringBuffer.BufferSize(),
		"producer", d.cfg.ProducerType.String(),
		"consumers", len(d.consumers))
	return d.ringBuffer, nil
}

func (d *Disruptor[T]) spawn(run func() error) {
	idx := int(d.spawned.Add(1) - 1)
	cpus := d.cfg.CPUAffinity
	d.group.Go(func() error {
		if len(cpus) > 0 {
			cpu := cpus[idx%len(cpus)]
			if err := affinity.Pin(cpu); err != nil {
				d.logger.Warn("consumer not pinned", "cpu", cpu, "error", err)
			}
		}
		return run()
	})
}

// Halt alerts every consumer and waits for them to exit. Events still
// unread are left in the ring; use Shutdown to drain first.
// The returned error is the first failure of any processor.
func (d *Disruptor[T]) Halt() error {
	if !d.started.Load() {
		return nil
	}
	d.haltConsumers()

	d.mu.Lock()
	group, cancel := d.group, d.cancel
	d.mu.Unlock()

	err := group.Wait()
	cancel()
	d.logger.Debug("disruptor halted", "cursor", d.ringBuffer.Cursor())
	return err
}

// Shutdown waits until every event published so far has been consumed by
// every consumer, then halts. If ctx ends first the disruptor is halted
// anyway and an error wrapping ErrTimeout is returned.
func (d *Disruptor[T]) Shutdown(ctx context.Context) error {
	if !d.started.Load() {
		return nil
	}
	d.mu.Lock()
	stop := d.groupCx.Done()
	d.mu.Unlock()

	drainErr := waitForDrain(ctx, stop, d.ringBuffer.Cursor, d.allSequences())
	return errors.Join(drainErr, d.Halt())
}

func (d *Disruptor[T]) haltConsumers() {
	for _, c := range d.consumers {
		c.halt()
	}
}

func (d *Disruptor[T]) gatingSequences() []*Sequence {
	var seqs []*Sequence
	for _, c := range d.consumers {
		if c.endOfChain {
			seqs = append(seqs, c.sequences...)
		}
	}
	return seqs
}

func (d *Disruptor[T]) allSequences() []*Sequence {
	var seqs []*Sequence
	for _, c := range d.consumers {
		seqs = append(seqs, c.sequences...)
	}
	return seqs
}

// RingBuffer returns the underlying ring.
func (d *Disruptor[T]) RingBuffer() *RingBuffer[T] {
	return d.ringBuffer
}

func (d *Disruptor[T]) Cursor() int64 {
	return d.ringBuffer.Cursor()
}

func (d *Disruptor[T]) BufferSize() int64 {
	return d.ringBuffer.BufferSize()
}

// Get returns the slot for sequence.
func (d *Disruptor[T]) Get(sequence int64) *T {
	return d.ringBuffer.Get(sequence)
}

// delegatingExceptionHandler resolves the disruptor's handler at call time,
// so SetDefaultExceptionHandler also covers processors registered earlier.
type delegatingExceptionHandler[T any] struct {
	d *Disruptor[T]
}

func (h delegatingExceptionHandler[T]) HandleEventError(err error, sequence int64, event *T) error {
	return h.d.exceptionHandler.HandleEventError(err, sequence, event)
}

func (h delegatingExceptionHandler[T]) HandleOnStartError(err error) {
	h.d.exceptionHandler.HandleOnStartError(err)
}

func (h delegatingExceptionHandler[T]) HandleOnShutdownError(err error) {
	h.d.exceptionHandler.HandleOnShutdownError(err)
}

// EventHandlerGroup is a set of consumers registered together. Consumers
// added through Then wait behind every member of the group.
type EventHandlerGroup[T any] struct {
	d       *Disruptor[T]
	entries []*consumerEntry
	err     error
}

// Then registers handlers that see each event only after this group has.
func (g *EventHandlerGroup[T]) Then(handlers ...EventHandler[T]) *EventHandlerGroup[T] {
	return g.d.createEventProcessors(g, handlers)
}

// ThenWorkerPool registers a worker pool behind this group.
func (g *EventHandlerGroup[T]) ThenWorkerPool(handlers ...WorkHandler[T]) *EventHandlerGroup[T] {
	return g.d.createWorkerPool(g, handlers)
}

// And returns a group made of this group's and other's consumers.
func (g *EventHandlerGroup[T]) And(other *EventHandlerGroup[T]) *EventHandlerGroup[T] {
	combined := &EventHandlerGroup[T]{d: g.d, err: errors.Join(g.err, other.err)}
	combined.entries = append(combined.entries, g.entries...)
	combined.entries = append(combined.entries, other.entries...)
	return combined
}

// Sequences returns the progress sequences of the group's consumers.
func (g *EventHandlerGroup[T]) Sequences() []*Sequence {
	if g == nil {
		return nil
	}
	var seqs []*Sequence
	for _, e := range g.entries {
		seqs = append(seqs, e.sequences...)
	}
	return seqs
}

// Barrier returns a barrier that waits behind every consumer of the group.
func (g *EventHandlerGroup[T]) Barrier() *SequenceBarrier {
	return g.d.ringBuffer.NewBarrier(g.Sequences()...)
}

// Err reports a registration failure of this group or any group before it.
func (g *EventHandlerGroup[T]) Err() error {
	return g.err
}

func (g *EventHandlerGroup[T]) markUsedInBarrier() {
	if g == nil {
		return
	}
	for _, e := range g.entries {
		e.endOfChain = false
	}
}

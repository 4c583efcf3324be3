package disruptor

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type valueEvent struct {
	value int64
}

func setValueEvent(e *valueEvent, _ int64, v int64) {
	e.value = v
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func runAsync(run func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- run() }()
	return done
}

func awaitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatalf("processor did not exit")
		return nil
	}
}

// Capacity 16, single writer, one handler: 1000 events in order.
func TestBatchEventProcessorDeliversInOrder(t *testing.T) {
	const N = 1000

	rb, err := NewSingleProducerRingBuffer[valueEvent](16, NewYieldingWaitStrategy(), nil)
	if err != nil {
		t.Fatal(err)
	}

	var invocations atomic.Int64
	var outOfOrder atomic.Int64
	expected := int64(0)
	p := NewBatchEventProcessor[valueEvent](rb, rb.NewBarrier(), EventHandlerFunc[valueEvent](func(e *valueEvent, seq int64, _ bool) error {
		if e.value != expected || seq != expected {
			outOfOrder.Add(1)
		}
		expected++
		invocations.Add(1)
		return nil
	}))
	rb.AddGatingSequences(p.Sequence())
	done := runAsync(p.Run)

	for i := int64(0); i < N; i++ {
		PublishEvent(rb, setValueEvent, i)
	}

	eventually(t, "consumer to reach 999", func() bool { return p.Sequence().Get() == N-1 })
	p.Halt()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if got := invocations.Load(); got != N {
		t.Fatalf("expected %d invocations, got %d", N, got)
	}
	if n := outOfOrder.Load(); n != 0 {
		t.Fatalf("%d events out of order", n)
	}
	if got := p.Sequence().Get(); got != N-1 {
		t.Fatalf("expected final sequence %d, got %d", N-1, got)
	}
	if p.IsRunning() {
		t.Fatalf("processor still running after halt")
	}
	if st := p.Stats(); st.Events != N || st.Batches == 0 || st.Failures != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

type batchRecorder struct {
	mu         sync.Mutex
	batchSizes []int64
	endOfBatch []int64
	started    int
	stopped    int
}

func (r *batchRecorder) OnEvent(_ *valueEvent, seq int64, endOfBatch bool) error {
	if endOfBatch {
		r.mu.Lock()
		r.endOfBatch = append(r.endOfBatch, seq)
		r.mu.Unlock()
	}
	return nil
}

func (r *batchRecorder) OnBatchStart(n int64) {
	r.mu.Lock()
	r.batchSizes = append(r.batchSizes, n)
	r.mu.Unlock()
}

func (r *batchRecorder) OnStart() error {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
	return nil
}

func (r *batchRecorder) OnShutdown() error {
	r.mu.Lock()
	r.stopped++
	r.mu.Unlock()
	return nil
}

func TestBatchEventProcessorEndOfBatch(t *testing.T) {
	rb, err := NewSingleProducerRingBuffer[valueEvent](8, NewBusySpinWaitStrategy(), nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &batchRecorder{}
	p := NewBatchEventProcessor[valueEvent](rb, rb.NewBarrier(), rec)
	rb.AddGatingSequences(p.Sequence())

	// Published before the processor starts, so they form one batch.
	PublishEvents(rb, setValueEvent, []int64{0, 1, 2, 3, 4})

	done := runAsync(p.Run)
	eventually(t, "first batch", func() bool { return p.Sequence().Get() == 4 })
	p.Halt()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.batchSizes) != 1 || rec.batchSizes[0] != 5 {
		t.Fatalf("expected a single batch of 5, got %v", rec.batchSizes)
	}
	if len(rec.endOfBatch) != 1 || rec.endOfBatch[0] != 4 {
		t.Fatalf("expected end of batch at 4, got %v", rec.endOfBatch)
	}
	if rec.started != 1 || rec.stopped != 1 {
		t.Fatalf("expected one start and one shutdown, got %d/%d", rec.started, rec.stopped)
	}
}

var errBadEvent = errors.New("bad event")

func TestBatchEventProcessorSkipsFailedEvents(t *testing.T) {
	const N = 10

	rb, err := NewMultiProducerRingBuffer[valueEvent](16, NewYieldingWaitStrategy(), nil)
	if err != nil {
		t.Fatal(err)
	}
	var handled atomic.Int64
	p := NewBatchEventProcessor[valueEvent](rb, rb.NewBarrier(), EventHandlerFunc[valueEvent](func(_ *valueEvent, seq int64, _ bool) error {
		handled.Add(1)
		switch seq {
		case 3:
			return errBadEvent
		case 5:
			panic("boom")
		}
		return nil
	}))
	p.SetExceptionHandler(NewLoggingExceptionHandler[valueEvent](discardLogger()))
	rb.AddGatingSequences(p.Sequence())
	done := runAsync(p.Run)

	for i := int64(0); i < N; i++ {
		PublishEvent(rb, setValueEvent, i)
	}

	eventually(t, "all events", func() bool { return p.Sequence().Get() == N-1 })
	p.Halt()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if got := handled.Load(); got != N {
		t.Fatalf("expected %d handler calls, got %d", N, got)
	}
	if st := p.Stats(); st.Failures != 2 || st.Events != N {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestBatchEventProcessorHaltingPolicy(t *testing.T) {
	rb, err := NewSingleProducerRingBuffer[valueEvent](8, NewBusySpinWaitStrategy(), nil)
	if err != nil {
		t.Fatal(err)
	}
	var handled atomic.Int64
	p := NewBatchEventProcessor[valueEvent](rb, rb.NewBarrier(), EventHandlerFunc[valueEvent](func(_ *valueEvent, seq int64, _ bool) error {
		handled.Add(1)
		if seq == 2 {
			return errBadEvent
		}
		return nil
	}))
	p.SetExceptionHandler(NewHaltingExceptionHandler[valueEvent](discardLogger()))
	rb.AddGatingSequences(p.Sequence())
	PublishEvents(rb, setValueEvent, []int64{0, 1, 2, 3, 4})

	err = awaitRun(t, runAsync(p.Run))
	if !errors.Is(err, errBadEvent) {
		t.Fatalf("expected errBadEvent, got %v", err)
	}
	if got := handled.Load(); got != 3 {
		t.Fatalf("expected processing to stop at the failed event, got %d calls", got)
	}
	// The failed batch is not marked as processed.
	if got := p.Sequence().Get(); got != InitialSequenceValue {
		t.Fatalf("expected sequence to stay at %d, got %d", InitialSequenceValue, got)
	}
	if p.IsRunning() {
		t.Fatalf("processor still running")
	}
}

func TestBatchEventProcessorRunTwice(t *testing.T) {
	rb, err := NewSingleProducerRingBuffer[valueEvent](8, NewBlockingWaitStrategy(0), nil)
	if err != nil {
		t.Fatal(err)
	}
	p := NewBatchEventProcessor[valueEvent](rb, rb.NewBarrier(), EventHandlerFunc[valueEvent](func(*valueEvent, int64, bool) error { return nil }))
	done := runAsync(p.Run)
	eventually(t, "processor to start", p.IsRunning)

	if err := p.Run(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	p.Halt()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run returned %v", err)
	}
}

func TestBatchEventProcessorHaltBeforeRun(t *testing.T) {
	rb, err := NewSingleProducerRingBuffer[valueEvent](8, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec := &batchRecorder{}
	p := NewBatchEventProcessor[valueEvent](rb, rb.NewBarrier(), rec)
	p.Halt()
	if err := awaitRun(t, runAsync(p.Run)); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if err := p.Run(); err != nil {
		t.Fatalf("second Run returned %v", err)
	}

	// The handler still sees one start and one shutdown, even with two Runs.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.started != 1 || rec.stopped != 1 {
		t.Fatalf("expected one start and one shutdown, got %d/%d", rec.started, rec.stopped)
	}
	if len(rec.batchSizes) != 0 {
		t.Fatalf("halted processor handled batches %v", rec.batchSizes)
	}
	if p.IsRunning() {
		t.Fatalf("halted processor reports running")
	}
}

type timeoutCounter struct {
	timeouts atomic.Int64
}

func (c *timeoutCounter) OnEvent(*valueEvent, int64, bool) error { return nil }

func (c *timeoutCounter) OnTimeout(int64) error {
	c.timeouts.Add(1)
	return nil
}

func TestBatchEventProcessorTimeouts(t *testing.T) {
	rb, err := NewSingleProducerRingBuffer[valueEvent](8, NewBlockingWaitStrategy(time.Millisecond), nil)
	if err != nil {
		t.Fatal(err)
	}
	h := &timeoutCounter{}
	p := NewBatchEventProcessor[valueEvent](rb, rb.NewBarrier(), h)
	done := runAsync(p.Run)

	eventually(t, "timeouts", func() bool { return h.timeouts.Load() >= 3 })
	p.Halt()
	if err := awaitRun(t, done); err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if p.Stats().Timeouts < 3 {
		t.Fatalf("expected timeouts in stats, got %+v", p.Stats())
	}
}

// Benchmark: one producer, one broadcast consumer.
func BenchmarkBatchEventProcessor_1P1C(b *testing.B) {
	rb, _ := NewSingleProducerRingBuffer[valueEvent](1<<16, NewYieldingWaitStrategy(), nil)
	p := NewBatchEventProcessor[valueEvent](rb, rb.NewBarrier(), EventHandlerFunc[valueEvent](func(*valueEvent, int64, bool) error { return nil }))
	rb.AddGatingSequences(p.Sequence())
	done := runAsync(p.Run)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		PublishEvent(rb, setValueEvent, int64(i))
	}
	for p.Sequence().Get() < int64(b.N-1) {
	}
	b.StopTimer()
	p.Halt()
	<-done
}

package disruptor

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestLoggingExceptionHandlerSkips(t *testing.T) {
	var buf bytes.Buffer
	h := NewLoggingExceptionHandler[valueEvent](slog.New(slog.NewTextHandler(&buf, nil)))

	if err := h.HandleEventError(errBadEvent, 7, &valueEvent{value: 1}); err != nil {
		t.Fatalf("logging handler must skip, got %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "sequence=7") || !strings.Contains(out, "bad event") {
		t.Fatalf("failure not logged: %q", out)
	}
}

func TestHaltingExceptionHandlerReturnsError(t *testing.T) {
	h := NewHaltingExceptionHandler[valueEvent](discardLogger())
	if err := h.HandleEventError(errBadEvent, 1, nil); !errors.Is(err, errBadEvent) {
		t.Fatalf("expected errBadEvent, got %v", err)
	}
}

func TestDeadLetterHandlerKeepsMostRecent(t *testing.T) {
	h := NewDeadLetterHandler[valueEvent](3, discardLogger())

	for i := int64(0); i < 5; i++ {
		e := valueEvent{value: i * 10}
		if err := h.HandleEventError(errBadEvent, i, &e); err != nil {
			t.Fatalf("dead letter handler must skip, got %v", err)
		}
		// The retained copy must not follow the reused slot.
		e.value = -1
	}

	if h.Len() != 3 {
		t.Fatalf("expected 3 letters, got %d", h.Len())
	}
	if h.Dropped() != 2 {
		t.Fatalf("expected 2 dropped letters, got %d", h.Dropped())
	}

	letters := h.Drain()
	if len(letters) != 3 {
		t.Fatalf("expected 3 drained letters, got %d", len(letters))
	}
	for i, l := range letters {
		want := int64(i + 2)
		if l.Sequence != want || l.Event.value != want*10 || !errors.Is(l.Err, errBadEvent) {
			t.Fatalf("letter %d: unexpected %+v", i, l)
		}
	}
	if h.Len() != 0 {
		t.Fatalf("expected empty handler after Drain, got %d", h.Len())
	}
}

func TestDeadLetterHandlerMinimumLimit(t *testing.T) {
	h := NewDeadLetterHandler[valueEvent](0, nil)
	h.logger = discardLogger()
	_ = h.HandleEventError(errBadEvent, 0, nil)
	_ = h.HandleEventError(errBadEvent, 1, nil)
	if h.Len() != 1 || h.Dropped() != 1 {
		t.Fatalf("expected limit of one letter, got len=%d dropped=%d", h.Len(), h.Dropped())
	}
}

// Failed events are dead-lettered while the processor keeps going.
func TestDeadLetterHandlerWithProcessor(t *testing.T) {
	rb, err := NewSingleProducerRingBuffer[valueEvent](8, NewYieldingWaitStrategy(), nil)
	if err != nil {
		t.Fatal(err)
	}
	dl := NewDeadLetterHandler[valueEvent](16, discardLogger())
	p := NewBatchEventProcessor[valueEvent](rb, rb.NewBarrier(), EventHandlerFunc[valueEvent](func(e *valueEvent, _ int64, _ bool) error {
		if e.value%2 == 1 {
			return errBadEvent
		}
		return nil
	}))
	p.SetExceptionHandler(dl)
	rb.AddGatingSequences(p.Sequence())
	done := runAsync(p.Run)

	for i := int64(0); i < 20; i++ {
		PublishEvent(rb, setValueEvent, i)
	}
	eventually(t, "all events", func() bool { return p.Sequence().Get() == 19 })
	p.Halt()
	if err := awaitRun(t, done); err != nil {
		t.Fatal(err)
	}

	letters := dl.Drain()
	if len(letters) != 10 {
		t.Fatalf("expected 10 dead letters, got %d", len(letters))
	}
	for _, l := range letters {
		if l.Event.value%2 != 1 || l.Event.value != l.Sequence {
			t.Fatalf("unexpected letter %+v", l)
		}
	}
}

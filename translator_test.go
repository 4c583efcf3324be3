package disruptor

import (
	"errors"
	"testing"
)

func TestPublishEvent(t *testing.T) {
	rb, err := NewSingleProducerRingBuffer[valueEvent](4, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	PublishEvent(rb, setValueEvent, 42)
	if rb.Cursor() != 0 || rb.Get(0).value != 42 {
		t.Fatalf("expected 42 at sequence 0, cursor %d value %d", rb.Cursor(), rb.Get(0).value)
	}
}

func TestPublishEventsBatch(t *testing.T) {
	rb, err := NewMultiProducerRingBuffer[valueEvent](8, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	var sequences []int64
	PublishEvents(rb, func(e *valueEvent, seq int64, v int64) {
		sequences = append(sequences, seq)
		e.value = v
	}, []int64{10, 20, 30})

	if rb.Cursor() != 2 {
		t.Fatalf("expected cursor 2, got %d", rb.Cursor())
	}
	for i, want := range []int64{10, 20, 30} {
		if sequences[i] != int64(i) || rb.Get(int64(i)).value != want {
			t.Fatalf("slot %d: sequence %d value %d", i, sequences[i], rb.Get(int64(i)).value)
		}
	}

	PublishEvents(rb, setValueEvent, nil)
	if rb.Cursor() != 2 {
		t.Fatalf("empty batch moved the cursor to %d", rb.Cursor())
	}
}

func TestTryPublishEventCapacity(t *testing.T) {
	for _, pt := range []ProducerType{ProducerSingle, ProducerMulti} {
		t.Run(pt.String(), func(t *testing.T) {
			rb, err := NewRingBuffer[valueEvent](Config{BufferSize: 4, ProducerType: pt}, nil)
			if err != nil {
				t.Fatal(err)
			}
			gate := NewSequence()
			rb.AddGatingSequences(gate)

			if err := TryPublishEvents(rb, setValueEvent, []int64{0, 1, 2}); err != nil {
				t.Fatalf("batch failed: %v", err)
			}
			if err := TryPublishEvents(rb, setValueEvent, []int64{3, 4}); !errors.Is(err, ErrCapacityExceeded) {
				t.Fatalf("expected ErrCapacityExceeded for oversized batch, got %v", err)
			}
			if err := TryPublishEvent(rb, setValueEvent, 3); err != nil {
				t.Fatalf("last slot failed: %v", err)
			}
			if err := TryPublishEvent(rb, setValueEvent, 4); !errors.Is(err, ErrCapacityExceeded) {
				t.Fatalf("expected ErrCapacityExceeded, got %v", err)
			}
			if rb.Cursor() != 3 {
				t.Fatalf("failed claims moved the cursor to %d", rb.Cursor())
			}

			gate.Set(0)
			if err := TryPublishEvent(rb, setValueEvent, 4); err != nil {
				t.Fatalf("claim after release failed: %v", err)
			}
			if rb.Get(4).value != 4 {
				t.Fatalf("expected slot 4 (index 0) to hold 4, got %d", rb.Get(4).value)
			}
		})
	}
}

// A panicking translator still publishes its slot so consumers are not stalled.
func TestPublishEventTranslatorPanic(t *testing.T) {
	rb, err := NewMultiProducerRingBuffer[valueEvent](4, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("panic was swallowed")
			}
		}()
		PublishEvent(rb, func(*valueEvent, int64, int64) { panic("broken translator") }, 0)
	}()
	if rb.Cursor() != 0 {
		t.Fatalf("panicking translator left sequence 0 unpublished, cursor %d", rb.Cursor())
	}

	PublishEvent(rb, setValueEvent, 1)
	if rb.Cursor() != 1 {
		t.Fatalf("expected cursor 1, got %d", rb.Cursor())
	}
}

func TestEventFactoryPreallocates(t *testing.T) {
	type slot struct{ buf []byte }
	created := 0
	rb, err := NewSingleProducerRingBuffer[slot](8, nil, func() slot {
		created++
		return slot{buf: make([]byte, 0, 64)}
	})
	if err != nil {
		t.Fatal(err)
	}
	if created != 8 {
		t.Fatalf("expected one event per slot, got %d", created)
	}
	first := rb.Get(0)
	if rb.Get(8) != first {
		t.Fatalf("sequence 8 must reuse the slot of sequence 0")
	}
	if cap(first.buf) != 64 {
		t.Fatalf("slot not built by factory")
	}
}

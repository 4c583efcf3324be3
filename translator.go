package disruptor

// EventTranslator fills a claimed slot from arg. It should only write into
// event; claiming and publishing are handled by the Publish* helpers.
type EventTranslator[T, A any] func(event *T, sequence int64, arg A)

// PublishEvent claims a slot, lets fn fill it and publishes it.
// The slot is published even if fn panics, so a failed translation never
// leaves a hole that would stall consumers; the panic is re-raised.
func PublishEvent[T, A any](rb *RingBuffer[T], fn EventTranslator[T, A], arg A) {
	sequence := rb.Next()
	translateAndPublish(rb, fn, sequence, arg)
}

// TryPublishEvent is PublishEvent that returns ErrCapacityExceeded instead
// of waiting for space.
func TryPublishEvent[T, A any](rb *RingBuffer[T], fn EventTranslator[T, A], arg A) error {
	sequence, err := rb.TryNext()
	if err != nil {
		return err
	}
	translateAndPublish(rb, fn, sequence, arg)
	return nil
}

// PublishEvents claims len(args) slots as one batch, translates each
// argument into its slot and publishes the whole range at once.
func PublishEvents[T, A any](rb *RingBuffer[T], fn EventTranslator[T, A], args []A) {
	if len(args) == 0 {
		return
	}
	hi := rb.NextN(int64(len(args)))
	translateAndPublishBatch(rb, fn, hi-int64(len(args))+1, hi, args)
}

// TryPublishEvents is PublishEvents that returns ErrCapacityExceeded instead
// of waiting for space.
func TryPublishEvents[T, A any](rb *RingBuffer[T], fn EventTranslator[T, A], args []A) error {
	if len(args) == 0 {
		return nil
	}
	hi, err := rb.TryNextN(int64(len(args)))
	if err != nil {
		return err
	}
	translateAndPublishBatch(rb, fn, hi-int64(len(args))+1, hi, args)
	return nil
}

func translateAndPublish[T, A any](rb *RingBuffer[T], fn EventTranslator[T, A], sequence int64, arg A) {
	defer rb.Publish(sequence)
	fn(rb.Get(sequence), sequence, arg)
}

func translateAndPublishBatch[T, A any](rb *RingBuffer[T], fn EventTranslator[T, A], lo, hi int64, args []A) {
	defer rb.PublishRange(lo, hi)
	for i, sequence := 0, lo; sequence <= hi; i, sequence = i+1, sequence+1 {
		fn(rb.Get(sequence), sequence, args[i])
	}
}

package disruptor

import (
	"log/slog"
	"sync"

	"github.com/eapache/queue"
)

// ExceptionHandler decides what happens when a handler fails.
//
// HandleEventError returning nil skips the failed event: the processor
// carries on and its sequence still moves past it. Returning an error
// halts the processor, leaving its sequence at the end of the previous batch.
type ExceptionHandler[T any] interface {
	HandleEventError(err error, sequence int64, event *T) error
	HandleOnStartError(err error)
	HandleOnShutdownError(err error)
}

// LoggingExceptionHandler logs failures and skips the event.
type LoggingExceptionHandler[T any] struct {
	logger *slog.Logger
}

func NewLoggingExceptionHandler[T any](logger *slog.Logger) *LoggingExceptionHandler[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingExceptionHandler[T]{logger: logger}
}

func (h *LoggingExceptionHandler[T]) HandleEventError(err error, sequence int64, _ *T) error {
	h.logger.Error("event handler failed, skipping event", "sequence", sequence, "error", err)
	return nil
}

func (h *LoggingExceptionHandler[T]) HandleOnStartError(err error) {
	h.logger.Error("handler start failed", "error", err)
}

func (h *LoggingExceptionHandler[T]) HandleOnShutdownError(err error) {
	h.logger.Error("handler shutdown failed", "error", err)
}

// HaltingExceptionHandler logs failures and halts the processor.
type HaltingExceptionHandler[T any] struct {
	LoggingExceptionHandler[T]
}

func NewHaltingExceptionHandler[T any](logger *slog.Logger) *HaltingExceptionHandler[T] {
	return &HaltingExceptionHandler[T]{LoggingExceptionHandler: *NewLoggingExceptionHandler[T](logger)}
}

func (h *HaltingExceptionHandler[T]) HandleEventError(err error, sequence int64, _ *T) error {
	h.logger.Error("event handler failed, halting processor", "sequence", sequence, "error", err)
	return err
}

// DeadLetter is a failed event retained by a DeadLetterHandler.
type DeadLetter[T any] struct {
	Sequence int64
	Event    T
	Err      error
}

// DeadLetterHandler skips failed events but keeps a copy of the most
// recent ones for inspection. When full, the oldest letter is dropped.
type DeadLetterHandler[T any] struct {
	logger *slog.Logger
	limit  int

	mu      sync.Mutex
	letters *queue.Queue
	dropped uint64
}

// NewDeadLetterHandler retains up to limit failed events (at least one).
func NewDeadLetterHandler[T any](limit int, logger *slog.Logger) *DeadLetterHandler[T] {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterHandler[T]{
		logger:  logger,
		limit:   limit,
		letters: queue.New(),
	}
}

func (h *DeadLetterHandler[T]) HandleEventError(err error, sequence int64, event *T) error {
	letter := DeadLetter[T]{Sequence: sequence, Err: err}
	if event != nil {
		letter.Event = *event
	}

	h.mu.Lock()
	if h.letters.Length() >= h.limit {
		h.letters.Remove()
		h.dropped++
	}
	h.letters.Add(letter)
	h.mu.Unlock()

	h.logger.Warn("event handler failed, dead-lettered", "sequence", sequence, "error", err)
	return nil
}

func (h *DeadLetterHandler[T]) HandleOnStartError(err error) {
	h.logger.Error("handler start failed", "error", err)
}

func (h *DeadLetterHandler[T]) HandleOnShutdownError(err error) {
	h.logger.Error("handler shutdown failed", "error", err)
}

// Len returns the number of retained letters.
func (h *DeadLetterHandler[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.letters.Length()
}

// Dropped returns how many letters were evicted to respect the limit.
func (h *DeadLetterHandler[T]) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Drain removes and returns the retained letters, oldest first.
func (h *DeadLetterHandler[T]) Drain() []DeadLetter[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]DeadLetter[T], 0, h.letters.Length())
	for h.letters.Length() > 0 {
		out = append(out, h.letters.Remove().(DeadLetter[T]))
	}
	return out
}

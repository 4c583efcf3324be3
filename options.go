package disruptor

import "log/slog"

// Config holds ring buffer and disruptor configuration.
type Config struct {
	// BufferSize is the number of slots in the ring buffer.
	// Must be a power of 2 (e.g., 1024, 4096, 16384).
	BufferSize int

	// ProducerType selects single- or multi-writer claiming.
	ProducerType ProducerType

	// WaitStrategy controls how consumers wait for new events.
	WaitStrategy WaitStrategy

	// Logger receives lifecycle and handler-failure records.
	Logger *slog.Logger

	// CPUAffinity, when non-empty, locks each consumer goroutine to an OS
	// thread pinned to CPUAffinity[i % len(CPUAffinity)].
	CPUAffinity []int
}

// DefaultConfig returns a multi-writer ring of 1024 slots whose
// consumers block until signalled.
func DefaultConfig() Config {
	return Config{
		BufferSize:   1024,
		ProducerType: ProducerMulti,
		WaitStrategy: NewBlockingWaitStrategy(0),
		Logger:       slog.Default(),
	}
}

// Option adjusts a Config.
type Option func(*Config)

func WithBufferSize(n int) Option {
	return func(c *Config) { c.BufferSize = n }
}

func WithProducerType(pt ProducerType) Option {
	return func(c *Config) { c.ProducerType = pt }
}

func WithWaitStrategy(ws WaitStrategy) Option {
	return func(c *Config) { c.WaitStrategy = ws }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithCPUAffinity pins consumer goroutines round-robin over cpus.
func WithCPUAffinity(cpus ...int) Option {
	return func(c *Config) { c.CPUAffinity = append([]int(nil), cpus...) }
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

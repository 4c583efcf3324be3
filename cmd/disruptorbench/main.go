// Command disruptorbench publishes an increasing counter through a
// disruptor for a fixed time and reports how many events were handled.
//
// Usage:
//
//	go run ./cmd/disruptorbench -duration 10s -size 16384 -producer single -wait sleeping
//	go run ./cmd/disruptorbench -workers 4 -producer multi -producers 4
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aradilov/disruptor"
	"github.com/aradilov/disruptor/internal/affinity"
)

type event struct {
	value int64
}

func setValue(e *event, _ int64, v int64) {
	e.value = v
}

func main() {
	duration := flag.Duration("duration", 10*time.Second, "how long to publish")
	size := flag.Int("size", 16_384, "ring buffer size (power of 2)")
	producer := flag.String("producer", "single", "producer type: single|multi")
	producers := flag.Int("producers", 1, "publishing goroutines (multi producer only)")
	wait := flag.String("wait", "sleeping", "wait strategy: busyspin|yielding|sleeping|blocking")
	waitParam := flag.Duration("wait-param", 0, "sleep for sleeping, timeout for blocking")
	workers := flag.Int("workers", 0, "use a worker pool of this size instead of one broadcast handler")
	pin := flag.Bool("pin", false, "pin consumer goroutines to allowed CPUs")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, *duration, *size, *producer, *producers, *wait, *waitParam, *workers, *pin); err != nil {
		logger.Error("benchmark failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, duration time.Duration, size int, producer string, producers int,
	wait string, waitParam time.Duration, workers int, pin bool) error {
	pt, err := disruptor.ParseProducerType(producer)
	if err != nil {
		return err
	}
	if pt == disruptor.ProducerSingle && producers != 1 {
		return fmt.Errorf("single producer mode requires -producers 1, got %d", producers)
	}
	ws, err := disruptor.ParseWaitStrategy(wait, waitParam)
	if err != nil {
		return err
	}

	opts := []disruptor.Option{
		disruptor.WithBufferSize(size),
		disruptor.WithProducerType(pt),
		disruptor.WithWaitStrategy(ws),
		disruptor.WithLogger(logger),
	}
	if pin {
		cpus, err := affinity.Allowed()
		if err != nil {
			return err
		}
		opts = append(opts, disruptor.WithCPUAffinity(cpus...))
	}

	d, err := disruptor.New[event](nil, opts...)
	if err != nil {
		return err
	}

	var executed atomic.Int64
	if workers > 0 {
		handlers := make([]disruptor.WorkHandler[event], workers)
		for i := range handlers {
			handlers[i] = disruptor.WorkHandlerFunc[event](func(*event, int64) error {
				executed.Add(1)
				return nil
			})
		}
		d.HandleEventsWithWorkerPool(handlers...)
	} else {
		d.HandleEventsWith(disruptor.EventHandlerFunc[event](func(*event, int64, bool) error {
			executed.Add(1)
			return nil
		}))
	}

	rb, err := d.Start()
	if err != nil {
		return err
	}

	fmt.Printf("Publishing for %v (size=%d producer=%s x%d wait=%s workers=%d)\n",
		duration, size, pt, producers, wait, workers)

	var published atomic.Int64
	deadline := time.Now().Add(duration)
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			var counter int64
			for time.Now().Before(deadline) {
				// Checking the clock per event would dominate the loop.
				for i := 0; i < 1024; i++ {
					disruptor.PublishEvent(rb, setValue, counter)
					counter++
				}
			}
			published.Add(counter)
		}()
	}
	wg.Wait()

	fmt.Println("Wait to finish")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		return err
	}

	n := executed.Load()
	fmt.Printf("Finished with %d executions (%d published)\n", n, published.Load())
	fmt.Printf("Throughput: %.2f M events/sec\n", float64(n)/duration.Seconds()/1e6)
	return nil
}

package utils

import (
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tj/go-spin"
)

type job[T any] struct {
	item  T
	index int
}

type result[R any] struct {
	value R
	index int
}

// WorkerPool runs fn over a fixed set of goroutines. It is only used for
// read-only work such as decoding; pipeline stages stay sequential.
type WorkerPool[T, R any] struct {
	NumWorkers int
	jobs       chan job[T]
	results    chan result[R]
	wg         sync.WaitGroup
}

func NewWorkerPool[T, R any](numWorkers, buffer int) *WorkerPool[T, R] {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &WorkerPool[T, R]{
		NumWorkers: numWorkers,
		jobs:       make(chan job[T], buffer),
		results:    make(chan result[R], buffer),
	}
}

func (wp *WorkerPool[T, R]) start(fn func(T) R, tracker *ProgressTracker) {
	wp.wg.Add(wp.NumWorkers)
	for i := 0; i < wp.NumWorkers; i++ {
		go func() {
			defer wp.wg.Done()
			for j := range wp.jobs {
				wp.results <- result[R]{value: fn(j.item), index: j.index}
				if tracker != nil {
					tracker.Increment()
				}
			}
		}()
	}
}

// ParallelMap applies fn to every item and returns the results in input
// order.
func ParallelMap[T, R any](items []T, numWorkers int, fn func(T) R, tracker *ProgressTracker) []R {
	out := make([]R, len(items))
	if len(items) == 0 {
		return out
	}
	wp := NewWorkerPool[T, R](numWorkers, len(items))
	wp.start(fn, tracker)
	for i, item := range items {
		wp.jobs <- job[T]{item: item, index: i}
	}
	close(wp.jobs)
	for range items {
		r := <-wp.results
		out[r.index] = r.value
	}
	wp.wg.Wait()
	close(wp.results)
	return out
}

// ProgressTracker reports progress of a long loop to the log and, when Out
// is set, as a spinner line on a terminal.
type ProgressTracker struct {
	Total     int64
	Processed int64
	StartTime time.Time
	Name      string
	Every     int64
	Out       io.Writer

	logger  zerolog.Logger
	mu      sync.Mutex
	spinner *spin.Spinner
}

func NewProgressTracker(total int64, name string, logger zerolog.Logger) *ProgressTracker {
	return &ProgressTracker{
		Total:     total,
		StartTime: time.Now(),
		Name:      name,
		Every:     100,
		logger:    logger,
		spinner:   spin.New(),
	}
}

func (pt *ProgressTracker) Increment() {
	processed := atomic.AddInt64(&pt.Processed, 1)

	if pt.Out != nil {
		pt.mu.Lock()
		fmt.Fprintf(pt.Out, "\r%s %s %d/%d", pt.spinner.Next(), pt.Name, processed, pt.Total)
		if processed == pt.Total {
			fmt.Fprintln(pt.Out)
		}
		pt.mu.Unlock()
	}

	if pt.Every > 0 && (processed%pt.Every == 0 || processed == pt.Total) {
		elapsed := time.Since(pt.StartTime)
		pt.logger.Debug().
			Str("task", pt.Name).
			Int64("processed", processed).
			Int64("total", pt.Total).
			Float64("rate", float64(processed)/elapsed.Seconds()).
			Msg("progress")
	}
}

// GetProgress returns processed, total and the completion percentage.
func (pt *ProgressTracker) GetProgress() (int64, int64, float64) {
	processed := atomic.LoadInt64(&pt.Processed)
	if pt.Total == 0 {
		return processed, 0, 100
	}
	return processed, pt.Total, float64(processed) / float64(pt.Total) * 100
}

package connectors

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Fan-out bounds. Every batch-style operation runs at most maxConcurrency
// workers; callers that pass 0 get the default.
const (
	defaultConcurrency = 2
	maxConcurrency     = 10

	// detailBatchSize is the outer batching applied to detail fetches: each
	// batch is awaited before the next starts, throttling the remote site
	// harder than a single flat semaphore would.
	detailBatchSize = 3
)

// clampConcurrency normalizes a caller-supplied concurrency value.
func clampConcurrency(n int) int {
	if n <= 0 {
		return defaultConcurrency
	}
	if n > maxConcurrency {
		return maxConcurrency
	}
	return n
}

// outcome is one fan-out result, tagged with the input index.
type outcome[T any] struct {
	Index int
	Value T
	Err   error
}

// fanOut runs worker over every item with at most concurrency workers in
// flight. Results are delivered in completion order, not input order. A
// failing worker never aborts its siblings; its error rides in the outcome.
// When ctx is cancelled, items not yet started are reported with ctx's error.
func fanOut[T any](ctx context.Context, items []string, concurrency int, worker func(ctx context.Context, index int, item string) (T, error)) []outcome[T] {
	concurrency = clampConcurrency(concurrency)
	sem := semaphore.NewWeighted(int64(concurrency))
	results := make(chan outcome[T], len(items))

	for i, item := range items {
		i, item := i, item
		if err := sem.Acquire(ctx, 1); err != nil {
			results <- outcome[T]{Index: i, Err: err}
			continue
		}
		go func() {
			defer sem.Release(1)
			value, err := worker(ctx, i, item)
			results <- outcome[T]{Index: i, Value: value, Err: err}
		}()
	}

	out := make([]outcome[T], 0, len(items))
	for range items {
		out = append(out, <-results)
	}
	return out
}

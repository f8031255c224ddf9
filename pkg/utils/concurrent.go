// Package utils holds concurrency and recovery helpers shared across the
// pipeline.
package utils

import (
	"context"
	"os"
	"strconv"
	"sync"
)

// DefaultSemaphoreLimit bounds concurrent work when no explicit limit is
// configured.
const DefaultSemaphoreLimit = 4

// GetSemaphoreLimit returns the semaphore limit from the environment or the
// default.
func GetSemaphoreLimit() int {
	if v := os.Getenv("CRYSTAL_SEMAPHORE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultSemaphoreLimit
}

// SemaphoreGather runs the functions concurrently, at most maxConcurrency at
// a time, and returns one error slot per function in input order. Panics are
// recovered and surfaced as PanicError.
func SemaphoreGather(ctx context.Context, maxConcurrency int, functions ...func() error) []error {
	if len(functions) == 0 {
		return nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = GetSemaphoreLimit()
	}

	semaphore := make(chan struct{}, maxConcurrency)
	results := make([]error, len(functions))
	var wg sync.WaitGroup

	for i, fn := range functions {
		wg.Add(1)
		go func(index int, function func() error) {
			defer wg.Done()
			defer RecoverWithCallback(func(err error) {
				results[index] = err
			})

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				results[index] = ctx.Err()
				return
			}

			results[index] = function()
		}(i, fn)
	}

	wg.Wait()
	return results
}

// FirstError returns the first non-nil error from a gather result.
func FirstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

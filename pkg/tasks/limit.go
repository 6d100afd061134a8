// Package tasks runs independent units of work with a bound on how many are in
// flight at once.
//
// Backing systems such as Key Vault and Azure DevOps rate-limit their callers, so
// fanning out over many rotation plans has to be throttled:
//
//	results, err := tasks.LimitConcurrencyFunc(ctx, plans, func(ctx context.Context, p *rotation.Plan) (error, error) {
//	    return p.Execute(ctx, true, false), nil
//	}, 4)
package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Unlimited runs every task at once.
const Unlimited = math.MaxInt

// Task is one unit of work producing a T.
type Task[T any] func(ctx context.Context) (T, error)

// LimitConcurrency runs tasks with at most limit of them in flight and returns
// their results indexed by input position.
//
// With limit == 1 the tasks run strictly one after another in input order. With
// limit == Unlimited they all start immediately. The returned slice always has
// len(tasks) entries; entries of tasks that failed or never started hold the zero
// value.
//
// The context is checked before each task is started, never while one runs: a
// cancelled context stops further submissions, waits for the started tasks and
// reports ctx.Err() together with any task errors.
func LimitConcurrency[T any](ctx context.Context, tasks []Task[T], limit int) ([]T, error) {
	if limit < 1 {
		return nil, fmt.Errorf("concurrency limit must be at least 1, got %d", limit)
	}

	results := make([]T, len(tasks))
	errs := make([]error, len(tasks))

	switch {
	case limit == 1:
		return results, runSequential(ctx, tasks, results, errs)
	case limit == Unlimited || limit >= len(tasks):
		if err := ctx.Err(); err != nil {
			return results, err
		}
		runAll(ctx, tasks, results, errs)
		return results, errors.Join(errs...)
	}

	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	var submitErr error

	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			submitErr = err
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			submitErr = err
			break
		}
		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			defer sem.Release(1)
			results[i], errs[i] = task(ctx)
		}(i, task)
	}

	wg.Wait()
	return results, errors.Join(append(errs, submitErr)...)
}

// LimitConcurrencyFunc applies factory to every element of source with at most
// limit calls in flight. It follows the same rules as LimitConcurrency.
func LimitConcurrencyFunc[S, T any](ctx context.Context, source []S, factory func(ctx context.Context, item S) (T, error), limit int) ([]T, error) {
	tasks := make([]Task[T], len(source))
	for i, item := range source {
		tasks[i] = func(ctx context.Context) (T, error) {
			return factory(ctx, item)
		}
	}
	return LimitConcurrency(ctx, tasks, limit)
}

func runSequential[T any](ctx context.Context, tasks []Task[T], results []T, errs []error) error {
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}
		results[i], errs[i] = task(ctx)
	}
	return errors.Join(errs...)
}

func runAll[T any](ctx context.Context, tasks []Task[T], results []T, errs []error) {
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			results[i], errs[i] = task(ctx)
		}(i, task)
	}
	wg.Wait()
}

package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inFlightTracker records the highest number of concurrently running tasks.
type inFlightTracker struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (tr *inFlightTracker) task(value int, hold time.Duration) Task[int] {
	return func(ctx context.Context) (int, error) {
		n := tr.current.Add(1)
		for {
			peak := tr.peak.Load()
			if n <= peak || tr.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		time.Sleep(hold)
		tr.current.Add(-1)
		return value, nil
	}
}

func TestLimitConcurrency_Sequential(t *testing.T) {
	var tr inFlightTracker
	var mu sync.Mutex
	var order []int

	var tasks []Task[int]
	for i := 0; i < 5; i++ {
		inner := tr.task(i*10, time.Millisecond)
		tasks = append(tasks, func(ctx context.Context) (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return inner(ctx)
		})
	}

	results, err := LimitConcurrency(context.Background(), tasks, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 10, 20, 30, 40}, results)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, int32(1), tr.peak.Load())
}

func TestLimitConcurrency_Unlimited(t *testing.T) {
	const n = 8
	var started sync.WaitGroup
	started.Add(n)
	release := make(chan struct{})

	tasks := make([]Task[int], n)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (int, error) {
			started.Done()
			<-release
			return i, nil
		}
	}

	done := make(chan struct{})
	var results []int
	var err error
	go func() {
		results, err = LimitConcurrency(context.Background(), tasks, Unlimited)
		close(done)
	}()

	// Every task must be running before any of them is released.
	started.Wait()
	close(release)
	<-done

	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, results)
}

func TestLimitConcurrency_BoundedFanOut(t *testing.T) {
	var tr inFlightTracker
	tasks := make([]Task[int], 20)
	for i := range tasks {
		tasks[i] = tr.task(i, 5*time.Millisecond)
	}

	results, err := LimitConcurrency(context.Background(), tasks, 3)
	require.NoError(t, err)
	require.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, i, r)
	}
	assert.LessOrEqual(t, tr.peak.Load(), int32(3))
	assert.GreaterOrEqual(t, tr.peak.Load(), int32(1))
}

func TestLimitConcurrency_CollectsErrors(t *testing.T) {
	boom := errors.New("boom")
	tasks := []Task[string]{
		func(ctx context.Context) (string, error) { return "a", nil },
		func(ctx context.Context) (string, error) { return "", boom },
		func(ctx context.Context) (string, error) { return "c", nil },
	}

	for _, limit := range []int{1, 2, Unlimited} {
		results, err := LimitConcurrency(context.Background(), tasks, limit)
		assert.ErrorIs(t, err, boom, "limit %d", limit)
		assert.Equal(t, []string{"a", "", "c"}, results, "limit %d", limit)
	}
}

func TestLimitConcurrency_InvalidLimit(t *testing.T) {
	_, err := LimitConcurrency[int](context.Background(), nil, 0)
	assert.Error(t, err)
}

func TestLimitConcurrency_CancelledBeforeSubmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var ran atomic.Int32

	tasks := make([]Task[int], 6)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (int, error) {
			if ran.Add(1) == 2 {
				cancel()
			}
			return 1, nil
		}
	}

	results, err := LimitConcurrency(ctx, tasks, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 6)
	assert.Equal(t, int32(2), ran.Load())
	assert.Equal(t, []int{1, 1, 0, 0, 0, 0}, results)
}

func TestLimitConcurrencyFunc(t *testing.T) {
	source := []string{"alpha", "beta", "gamma", "delta"}
	results, err := LimitConcurrencyFunc(context.Background(), source, func(ctx context.Context, s string) (int, error) {
		return len(s), nil
	}, 2)

	require.NoError(t, err)
	assert.Equal(t, []int{5, 4, 5, 5}, results)
}

func TestLimitConcurrency_Empty(t *testing.T) {
	results, err := LimitConcurrency[int](context.Background(), nil, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

package cmdqueue

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

func TestAddReturnsJobResult(t *testing.T) {
	q := New(nil)
	defer q.Close()

	data, err := q.Add(context.Background(), "echo", func(ctx context.Context) ([]byte, error) {
		return []byte{0x2A}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2A}, data)

	boom := errors.New("boom")
	_, err = q.Add(context.Background(), "fail", func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestAtMostOneJobInFlight(t *testing.T) {
	q := New(nil)
	defer q.Close()

	var inFlight, maxInFlight int32
	job := func(ctx context.Context) ([]byte, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Add(context.Background(), "job", job)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestSubmissionOrderIsPreserved(t *testing.T) {
	q := New(nil)
	defer q.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var order []int

	// Block the worker so the rest queue up behind it.
	blocker := q.Enqueue(context.Background(), "blocker", func(ctx context.Context) ([]byte, error) {
		<-release
		return nil, nil
	})

	var results []<-chan Result
	for i := 0; i < 10; i++ {
		i := i
		results = append(results, q.Enqueue(context.Background(), "ordered", func(ctx context.Context) ([]byte, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil, nil
		}))
	}

	require.Eventually(t, func() bool { return q.Busy() }, time.Second, time.Millisecond)
	assert.Equal(t, 10, q.Len())

	close(release)
	<-blocker
	for _, r := range results {
		<-r
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
	assert.Equal(t, 0, q.Len())
}

func TestCancelledContextSkipsJob(t *testing.T) {
	q := New(nil)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	res := <-q.Enqueue(ctx, "skipped", func(ctx context.Context) ([]byte, error) {
		ran = true
		return nil, nil
	})
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.False(t, ran)
}

func TestCloseFailsPendingJobs(t *testing.T) {
	q := New(nil)

	release := make(chan struct{})
	first := q.Enqueue(context.Background(), "first", func(ctx context.Context) ([]byte, error) {
		<-release
		return nil, nil
	})
	require.Eventually(t, func() bool { return q.Busy() }, time.Second, time.Millisecond)

	second := q.Enqueue(context.Background(), "second", func(ctx context.Context) ([]byte, error) {
		return nil, nil
	})

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return q.closed
	}, time.Second, time.Millisecond)
	close(release)
	<-closed

	assert.NoError(t, (<-first).Err)
	assert.ErrorIs(t, (<-second).Err, ErrClosed)

	_, err := q.Add(context.Background(), "late", func(ctx context.Context) ([]byte, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHooks(t *testing.T) {
	q := New(nil)
	defer q.Close()

	var started, finished []string
	var mu sync.Mutex
	q.SetHooks(
		func(name string, waiting int) {
			mu.Lock()
			started = append(started, name)
			mu.Unlock()
		},
		func(name string, err error) {
			mu.Lock()
			finished = append(finished, name)
			mu.Unlock()
		},
	)

	_, err := q.Add(context.Background(), "drive", func(ctx context.Context) ([]byte, error) { return nil, nil })
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"drive"}, started)
	assert.Equal(t, []string{"drive"}, finished)
}

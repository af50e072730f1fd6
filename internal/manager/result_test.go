package manager

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfResolvesImmediately(t *testing.T) {
	r := Of(42)

	assert.True(t, r.Available())
	v, err := r.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestAsyncResolvesWithValue(t *testing.T) {
	pool := NewPool(2)
	defer pool.Shutdown()

	r := Async(pool, func() (string, error) {
		return "hello", nil
	})

	v, err := r.Get()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.True(t, r.Available())
}

func TestAsyncPropagatesError(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown()

	boom := errors.New("boom")
	r := Async(pool, func() (int, error) {
		return 0, boom
	})

	_, err := r.Get()
	assert.ErrorIs(t, err, boom)
}

func TestDefaultValueReplacesError(t *testing.T) {
	pool := NewPool(1)
	defer pool.Shutdown()

	r := Async(pool, func() (int, error) {
		return 0, errors.New("boom")
	}, WithDefault(7))

	v, err := r.Get()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestOnDoneFiresSynchronouslyWhenResolved(t *testing.T) {
	r := Of("done")

	fired := false
	r.OnDone(func(v string, err error) {
		fired = true
		assert.Equal(t, "done", v)
		assert.NoError(t, err)
	})
	assert.True(t, fired, "callback must run before OnDone returns on a resolved Result")
}

func TestOnDoneFiresOnResolution(t *testing.T) {
	r, resolve := Pending[int]()

	done := make(chan int, 1)
	r.OnDone(func(v int, err error) {
		done <- v
	})

	resolve(9, nil)

	select {
	case v := <-done:
		assert.Equal(t, 9, v)
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestOnDoneSeesDefaultValue(t *testing.T) {
	r, resolve := Pending(WithDefault(5))

	var got int
	var gotErr error
	done := make(chan struct{})
	r.OnDone(func(v int, err error) {
		got, gotErr = v, err
		close(done)
	})

	resolve(0, errors.New("boom"))
	<-done

	assert.NoError(t, gotErr)
	assert.Equal(t, 5, got)
}

func TestCancelResolvesPending(t *testing.T) {
	r, _ := Pending[string]()

	r.Cancel()

	assert.True(t, r.Cancelled())
	_, err := r.Get()
	assert.ErrorIs(t, err, ErrResultCancelled)
}

func TestCancelHookRunsOnce(t *testing.T) {
	var calls atomic.Int32
	r, _ := Pending(WithOnCancel[int](func() {
		calls.Add(1)
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Cancel()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelAfterResolveKeepsValue(t *testing.T) {
	r, resolve := Pending[int]()
	resolve(3, nil)

	r.Cancel()

	v, err := r.Get()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.True(t, r.Cancelled())
}

func TestPendingResolveIsIdempotent(t *testing.T) {
	r, resolve := Pending[int]()
	resolve(1, nil)
	resolve(2, nil)

	v, err := r.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewPool(4)

	var count atomic.Int32
	for i := 0; i < 20; i++ {
		require.NoError(t, pool.Submit(func() {
			count.Add(1)
		}))
	}
	pool.Shutdown()

	assert.Equal(t, int32(20), count.Load())
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	pool := NewPool(1)
	pool.Shutdown()

	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestAsyncOnClosedPoolFails(t *testing.T) {
	pool := NewPool(1)
	pool.Shutdown()

	r := Async(pool, func() (int, error) { return 1, nil })
	_, err := r.Get()
	assert.ErrorIs(t, err, ErrPoolClosed)
}

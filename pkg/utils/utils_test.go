package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreGatherPreservesOrder(t *testing.T) {
	errBoom := errors.New("boom")

	errs := SemaphoreGather(context.Background(), 2,
		func() error { return nil },
		func() error { return errBoom },
		func() error { return nil },
	)

	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], errBoom)
	assert.NoError(t, errs[2])
	assert.ErrorIs(t, FirstError(errs), errBoom)
}

func TestSemaphoreGatherBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	var active, peak int

	fn := func() error {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}

	errs := SemaphoreGather(context.Background(), 2, fn, fn, fn, fn, fn, fn)
	assert.NoError(t, FirstError(errs))
	assert.LessOrEqual(t, peak, 2)
}

func TestSemaphoreGatherRecoversPanics(t *testing.T) {
	errs := SemaphoreGather(context.Background(), 1,
		func() error { panic("kaboom") },
	)

	require.Len(t, errs, 1)
	var panicErr *PanicError
	require.ErrorAs(t, errs[0], &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
}

func TestSemaphoreGatherEmpty(t *testing.T) {
	assert.Nil(t, SemaphoreGather(context.Background(), 2))
	assert.NoError(t, FirstError(nil))
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("aspirin|Drug")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	km := NewKeyedMutex()

	unlock := km.Lock("k")
	unlock()

	km.mu.Lock()
	defer km.mu.Unlock()
	assert.Empty(t, km.locks)
}

func TestKeyedMutexLockAllDeduplicates(t *testing.T) {
	km := NewKeyedMutex()

	// A duplicated key must not self-deadlock.
	done := make(chan struct{})
	go func() {
		unlock := km.LockAll([]string{"b", "a", "b"})
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("LockAll deadlocked on duplicate keys")
	}
}

func TestRecoverAsError(t *testing.T) {
	work := func() (err error) {
		defer RecoverAsError(&err)
		panic("unexpected")
	}

	err := work()
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Contains(t, panicErr.StackTrace, "goroutine")
}

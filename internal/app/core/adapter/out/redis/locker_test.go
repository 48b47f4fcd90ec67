package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLocker(t *testing.T, opts LockOptions) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredislib.NewClient(&goredislib.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, opts, zap.NewNop()), mr
}

func TestLocker_LockAndRelease(t *testing.T) {
	locker, mr := newTestLocker(t, LockOptions{RetryDelay: 5 * time.Millisecond})
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "b", "a", "b")
	require.NoError(t, err)
	assert.True(t, mr.Exists("ledger:lock:account:a"))
	assert.True(t, mr.Exists("ledger:lock:account:b"))

	unlock()
	unlock()
	assert.False(t, mr.Exists("ledger:lock:account:a"))
	assert.False(t, mr.Exists("ledger:lock:account:b"))
}

func TestLocker_HeldLockTimesOut(t *testing.T) {
	locker, _ := newTestLocker(t, LockOptions{Tries: 3, RetryDelay: 5 * time.Millisecond})
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "a")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(ctx, "c", "a")
	require.Error(t, err)

	// 失敗時已取得的 c 要被釋放
	unlockC, err := locker.Lock(ctx, "c")
	require.NoError(t, err)
	unlockC()
}

func TestLocker_MutualExclusion(t *testing.T) {
	locker, _ := newTestLocker(t, LockOptions{RetryDelay: time.Millisecond, Tries: 1000})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "shared")
			if !assert.NoError(t, err) {
				return
			}
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, counter)
}

func TestLocker_ContextCancelled(t *testing.T) {
	locker, _ := newTestLocker(t, LockOptions{RetryDelay: 10 * time.Millisecond})

	unlock, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "a")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

package memory

import (
	"context"
	"sync"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// keyedLock 單一帳戶的鎖，用容量 1 的 channel 實作才能在等待時被 ctx 取消
type keyedLock struct {
	ch   chan struct{}
	refs int
}

// KeyedLocker 行程內的帳戶鎖，沒人使用的鎖會被回收
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

// Lock 依遞增順序取得所有帳戶的鎖
func (l *KeyedLocker) Lock(ctx context.Context, accountIDs ...string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := domain.LockOrder(accountIDs...)
	acquired := make([]string, 0, len(ids))
	for _, id := range ids {
		if err := l.acquire(ctx, id); err != nil {
			l.release(acquired)
			return nil, err
		}
		acquired = append(acquired, id)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(acquired) })
	}, nil
}

func (l *KeyedLocker) acquire(ctx context.Context, id string) error {
	l.mu.Lock()
	k, ok := l.locks[id]
	if !ok {
		k = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[id] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.unref(id, k)
		l.mu.Unlock()
		return ctx.Err()
	}
}

// release 反向釋放
func (l *KeyedLocker) release(ids []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(ids) - 1; i >= 0; i-- {
		k := l.locks[ids[i]]
		<-k.ch
		l.unref(ids[i], k)
	}
}

// unref 呼叫端需持有 l.mu
func (l *KeyedLocker) unref(id string, k *keyedLock) {
	k.refs--
	if k.refs == 0 {
		delete(l.locks, id)
	}
}

// size 目前有多少帳戶鎖 (測試用)
func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

var _ usecase.Locker = (*KeyedLocker)(nil)

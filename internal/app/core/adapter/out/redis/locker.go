package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// LockOptions 分散式鎖參數
type LockOptions struct {
	// Expiry 鎖自動過期時間，持有者當機時避免永久死鎖
	Expiry time.Duration `yaml:"expiry"`
	// Tries 取鎖嘗試次數
	Tries int `yaml:"tries"`
	// RetryDelay 每次嘗試間隔
	RetryDelay time.Duration `yaml:"retry_delay"`
	// KeyPrefix redis key 前綴
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultLockOptions 預設值
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Expiry:     10 * time.Second,
		Tries:      64,
		RetryDelay: 50 * time.Millisecond,
		KeyPrefix:  "ledger:lock:account:",
	}
}

func (o LockOptions) withDefaults() LockOptions {
	def := DefaultLockOptions()
	if o.Expiry <= 0 {
		o.Expiry = def.Expiry
	}
	if o.Tries <= 0 {
		o.Tries = def.Tries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = def.RetryDelay
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = def.KeyPrefix
	}
	return o
}

// Locker 以 RedLock (redsync) 實作的帳戶鎖，多個 ledger 實例共用同一個 Redis 時使用
type Locker struct {
	rs     *redsync.Redsync
	opts   LockOptions
	logger *zap.Logger
}

func NewLocker(client goredislib.UniversalClient, opts LockOptions, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts.withDefaults(),
		logger: logger.Named("redis_lock"),
	}
}

// Lock 依遞增順序逐一取鎖，任何一個失敗就把已取得的釋放
func (l *Locker) Lock(ctx context.Context, accountIDs ...string) (func(), error) {
	ids := domain.LockOrder(accountIDs...)
	held := make([]*redsync.Mutex, 0, len(ids))
	for _, id := range ids {
		m := l.rs.NewMutex(l.opts.KeyPrefix+id,
			redsync.WithExpiry(l.opts.Expiry),
			redsync.WithTries(l.opts.Tries),
			redsync.WithRetryDelay(l.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			l.unlock(held)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("acquire lock for account %s: %w", id, err)
		}
		held = append(held, m)
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.unlock(held) })
	}, nil
}

// unlock 反向釋放；使用獨立 context，呼叫端取消也要放鎖
func (l *Locker) unlock(held []*redsync.Mutex) {
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.Expiry)
	defer cancel()
	for i := len(held) - 1; i >= 0; i-- {
		if ok, err := held[i].UnlockContext(ctx); !ok || err != nil {
			l.logger.Warn("failed to release lock",
				zap.String("key", held[i].Name()),
				zap.Bool("unlock_ok", ok),
				zap.Error(err),
			)
		}
	}
}

var _ usecase.Locker = (*Locker)(nil)

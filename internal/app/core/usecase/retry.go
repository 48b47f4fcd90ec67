package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/pkg/backoff"
)

// Options 引擎參數
type Options struct {
	// MaxRetries CAS 失敗時最多嘗試幾次 (含第一次)
	MaxRetries int `yaml:"max_retries"`
	// RetryBaseDelay, RetryMaxDelay 退避時間
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	// HistoryPageSize 歷史查詢每頁筆數
	HistoryPageSize int `yaml:"history_page_size"`
}

// DefaultOptions 預設參數
func DefaultOptions() Options {
	return Options{
		MaxRetries:      5,
		RetryBaseDelay:  5 * time.Millisecond,
		RetryMaxDelay:   200 * time.Millisecond,
		HistoryPageSize: 100,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxRetries <= 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = def.RetryBaseDelay
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = def.RetryMaxDelay
	}
	if o.HistoryPageSize <= 0 {
		o.HistoryPageSize = def.HistoryPageSize
	}
	return o
}

// retryOnConflict 重新執行 fn 直到不再是 ErrVersionMismatch。
// fn 每次都必須重新讀取狀態；次數用盡回傳 ErrConcurrentModification
func retryOnConflict(ctx context.Context, opts Options, logger *zap.Logger, op string, fn func() error) error {
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff.ExponentialWithJitter(opts.RetryBaseDelay, attempt-1, opts.RetryMaxDelay)
			if err := backoff.SleepWithContext(ctx, delay); err != nil {
				return err
			}
		}

		err := fn()
		if !errors.Is(err, domain.ErrVersionMismatch) {
			return err
		}
		logger.Debug("version conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
		)
	}
	return fmt.Errorf("%w: %s gave up after %d attempts", domain.ErrConcurrentModification, op, opts.MaxRetries)
}

// Package backoff 提供重試用的指數退避與 full jitter
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// Exponential 回傳 base * 2^attempt，溢位時回傳最大值
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}

// FullJitter 回傳 [0, delay) 之間的隨機時間
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(delay)))
}

// ExponentialWithJitter 指數退避加上 full jitter，結果不超過 limit (limit <= 0 表示不設上限)
func ExponentialWithJitter(base time.Duration, attempt int, limit time.Duration) time.Duration {
	delay := Exponential(base, attempt)
	if limit > 0 && delay > limit {
		delay = limit
	}
	return FullJitter(delay)
}

// SleepWithContext 睡眠，ctx 取消時提早回傳 ctx.Err()
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config Redis 連線設定
type Config struct {
	Addr     string `yaml:"addr"`     // host:port
	Password string `yaml:"password"` // 密碼
	DB       int    `yaml:"db"`       // DB index
	PoolSize int    `yaml:"pool_size"`
}

// NewClient 建立 Redis 客戶端並確認連線，失敗會重試
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	maxRetries := 5
	retryInterval := time.Second

	var err error
	for i := 0; i < maxRetries; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		if i < maxRetries-1 {
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			case <-time.After(retryInterval):
			}
		}
	}
	_ = client.Close()
	return nil, fmt.Errorf("failed to connect to redis after %d attempts: %w", maxRetries, err)
}

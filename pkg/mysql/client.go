package mysql

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client 封裝 GORM DB 實例
type Client struct {
	db *gorm.DB
}

// NewClient 建立並回傳一個新的 MySQL 客戶端實例 (GORM)
//
// 參數:
//
//	ctx: 控制重試等待，取消時放棄連線
//	cfg: Config - MySQL 連線配置
//	log: 記錄重試過程
//
// 回傳值:
//
//	*Client: 封裝後的 MySQL 客戶端
//	error: 若連線失敗則回傳錯誤
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	cfg.SetDefaults()
	gormConfig := &gorm.Config{
		// 帳務寫入一律自己開 Transaction，其餘單筆操作不需要預設事務
		SkipDefaultTransaction: true,
		Logger:                 newLogger(cfg.LogLevel),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}

	var db *gorm.DB
	var err error
	for i := 0; i < cfg.ConnectRetries; i++ {
		db, err = gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
		if err == nil {
			rawDB, dbErr := db.DB()
			if dbErr == nil {
				if err = rawDB.PingContext(ctx); err == nil {
					break
				}
			} else {
				err = dbErr
			}
		}

		if i < cfg.ConnectRetries-1 {
			log.Warn("failed to connect to mysql, retrying",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", cfg.ConnectRetries),
				zap.Duration("retry_in", cfg.RetryInterval),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql after %d attempts: %w", cfg.ConnectRetries, err)
	}

	// 取得底層 sql.DB 物件以設定連線池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Client{db: db}, nil
}

// DB 回傳底層的 *gorm.DB 實例，供業務邏輯層使用
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 關閉資料庫連線
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// newLogger 根據配置建立 GORM Logger
func newLogger(level string) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "error":
		logLevel = logger.Error
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error // 預設只記錄錯誤
	}

	return logger.Default.LogMode(logLevel)
}

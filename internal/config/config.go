package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/notify"
	redis_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
	"github.com/JoeShih716/go-bank-ledger/pkg/redis"
)

// 儲存層
const (
	StoreMemory   = "memory"
	StoreMySQL    = "mysql"
	StorePostgres = "postgres"
)

// 帳戶鎖
const (
	LockerLocal = "local"
	LockerRedis = "redis"
)

// 通知管道
const (
	NotifierLog   = "log"
	NotifierKafka = "kafka"
	NotifierNone  = "none"
)

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"` // memory | mysql | postgres
	// WALPath 僅 memory 使用，空字串代表不落地
	WALPath string `yaml:"wal_path"`
}

type LockerConfig struct {
	Driver string                    `yaml:"driver"` // local | redis
	Redis  redis_adapter.LockOptions `yaml:"redis"`
}

type NotifierConfig struct {
	Driver     string                  `yaml:"driver"` // log | kafka | none
	Dispatcher notify.DispatcherConfig `yaml:"dispatcher"`
	Kafka      notify.KafkaConfig      `yaml:"kafka"`
}

// Config 服務設定
type Config struct {
	GRPC     GRPCConfig      `yaml:"grpc"`
	Store    StoreConfig     `yaml:"store"`
	Locker   LockerConfig    `yaml:"locker"`
	Notifier NotifierConfig  `yaml:"notifier"`
	Engine   usecase.Options `yaml:"engine"`
	Log      logger.Config   `yaml:"log"`
	MySQL    mysql.Config    `yaml:"mysql"`
	Postgres postgres.Config `yaml:"postgres"`
	Redis    redis.Config    `yaml:"redis"`
}

// Load 讀取設定檔，再以環境變數覆蓋
//
// 參數:
//
//	path: string - yaml 路徑，檔案不存在時只使用預設值與環境變數
//
// 回傳值:
//
//	Config: 補完預設值並驗證過的設定
//	error: 讀檔、解析或驗證失敗
func Load(path string) (Config, error) {
	// .env 只在本機開發使用，不存在不算錯
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.GRPC.Addr, "LEDGER_GRPC_ADDR")
	setString(&c.Store.Driver, "LEDGER_STORE_DRIVER")
	setString(&c.Store.WALPath, "LEDGER_WAL_PATH")
	setString(&c.Locker.Driver, "LEDGER_LOCKER_DRIVER")
	setString(&c.Notifier.Driver, "LEDGER_NOTIFIER_DRIVER")
	setString(&c.Log.Level, "LOG_LEVEL")
	if v, ok := lookup("LOG_ENVIRONMENT"); ok {
		c.Log.Environment = logger.Environment(v)
	}

	setString(&c.MySQL.Host, "MYSQL_HOST")
	setString(&c.MySQL.User, "MYSQL_USER")
	setString(&c.MySQL.Password, "MYSQL_PASSWORD")
	setString(&c.MySQL.DBName, "MYSQL_DATABASE")
	if v, ok := lookup("MYSQL_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MYSQL_PORT: %w", err)
		}
		c.MySQL.Port = port
	}

	setString(&c.Postgres.DSN, "POSTGRES_DSN")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.Notifier.Kafka.Brokers = splitList(v)
	}
	setString(&c.Notifier.Kafka.Topic, "KAFKA_TOPIC")
	return nil
}

func (c *Config) setDefaults() {
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":50051"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Locker.Driver == "" {
		c.Locker.Driver = LockerLocal
	}
	if c.Notifier.Driver == "" {
		c.Notifier.Driver = NotifierLog
	}
	if c.Log.Environment == "" {
		c.Log.Environment = logger.EnvironmentProduction
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	c.MySQL.SetDefaults()
	c.Postgres.SetDefaults()
}

// Validate 檢查各 driver 是否合法及其必要參數
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case StoreMemory:
	case StoreMySQL:
		if c.MySQL.Host == "" || c.MySQL.DBName == "" {
			errs = append(errs, errors.New("mysql store requires mysql.host and mysql.dbname"))
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres store requires postgres.dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}

	switch c.Locker.Driver {
	case LockerLocal, LockerRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown locker driver %q", c.Locker.Driver))
	}

	switch c.Notifier.Driver {
	case NotifierLog, NotifierNone:
	case NotifierKafka:
		if len(c.Notifier.Kafka.Brokers) == 0 || c.Notifier.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka notifier requires notifier.kafka.brokers and notifier.kafka.topic"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown notifier driver %q", c.Notifier.Driver))
	}
	return errors.Join(errs...)
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

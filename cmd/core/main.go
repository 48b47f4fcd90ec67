package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	memory_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/mysql"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/notify"
	postgres_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/postgres"
	redis_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/internal/config"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/postgres"
	"github.com/JoeShih716/go-bank-ledger/pkg/redis"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, _, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("ledger exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server exited")
}

// closers 依建立的反向順序關閉資源
type closers []func() error

func (c *closers) add(fn func() error) {
	*c = append(*c, fn)
}

func (c closers) closeAll(log *zap.Logger) {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			log.Warn("close resource failed", zap.Error(err))
		}
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	var cleanup closers
	defer cleanup.closeAll(log)

	// 2. 儲存層
	ledger, err := buildLedger(ctx, cfg, log, &cleanup)
	if err != nil {
		return err
	}

	// 3. 帳戶鎖
	locker, err := buildLocker(ctx, cfg, log, &cleanup)
	if err != nil {
		return err
	}

	// 4. 通知管道
	sink, err := buildSink(cfg, log, &cleanup)
	if err != nil {
		return err
	}
	var notifier usecase.Notifier
	var dispatcher *notify.Dispatcher
	if sink != nil {
		dispatcher = notify.NewDispatcher(sink, log, cfg.Notifier.Dispatcher)
		notifier = dispatcher
	}

	// 5. UseCase 與 gRPC Adapter
	coreUseCase := usecase.NewCoreUseCase(ledger, locker, notifier, log, cfg.Engine)
	accountUseCase := usecase.NewAccountUseCase(ledger, locker, log, cfg.Engine)
	ledgerServer := grpc_adapter.NewGrpcServer(coreUseCase, accountUseCase, log)

	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpc_adapter.UnaryLoggingInterceptor(log)),
		grpc.ChainStreamInterceptor(grpc_adapter.StreamLoggingInterceptor(log)),
	)
	grpc_adapter.RegisterLedgerServiceServer(s, ledgerServer)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus(grpc_adapter.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(s) // 方便 grpcurl 等工具測試

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPC.Addr, err)
	}

	// 6. 啟動，收到訊號後 Graceful Shutdown
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting gRPC server",
			zap.String("addr", cfg.GRPC.Addr),
			zap.String("store", cfg.Store.Driver),
			zap.String("locker", cfg.Locker.Driver),
			zap.String("notifier", cfg.Notifier.Driver),
		)
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	// 通知佇列要等 gRPC 完全停止後才排空，drain 期間不會再有新通知進來
	dispatcherCtx, stopDispatcher := context.WithCancel(context.Background())
	defer stopDispatcher()
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server...")
		healthServer.Shutdown()
		s.GracefulStop()
		stopDispatcher()
		return nil
	})
	if dispatcher != nil {
		g.Go(func() error {
			return dispatcher.Run(dispatcherCtx)
		})
	}
	return g.Wait()
}

func buildLedger(ctx context.Context, cfg config.Config, log *zap.Logger, cleanup *closers) (usecase.Ledger, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		var w *wal.WAL
		if cfg.Store.WALPath != "" {
			var err error
			w, err = wal.NewWAL(cfg.Store.WALPath)
			if err != nil {
				return nil, fmt.Errorf("init wal: %w", err)
			}
			cleanup.add(w.Close)
		}
		ledger, err := memory_adapter.NewMutexLedger(w)
		if err != nil {
			return nil, fmt.Errorf("init memory ledger: %w", err)
		}
		return ledger, nil

	case config.StoreMySQL:
		client, err := mysql.NewClient(ctx, cfg.MySQL, log)
		if err != nil {
			return nil, err
		}
		cleanup.add(client.Close)
		log.Info("connected to mysql", zap.String("host", cfg.MySQL.Host))

		ledger := mysql_adapter.NewMySQLLedger(client)
		if err := ledger.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate mysql: %w", err)
		}
		return ledger, nil

	case config.StorePostgres:
		db, err := postgres.Open(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, err
		}
		cleanup.add(db.Close)
		log.Info("connected to postgres")

		if err := postgres_adapter.Migrate(db); err != nil {
			return nil, err
		}
		return postgres_adapter.NewPostgresLedger(db), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

func buildLocker(ctx context.Context, cfg config.Config, log *zap.Logger, cleanup *closers) (usecase.Locker, error) {
	switch cfg.Locker.Driver {
	case config.LockerLocal:
		return memory_adapter.NewKeyedLocker(), nil
	case config.LockerRedis:
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		cleanup.add(client.Close)
		return redis_adapter.NewLocker(client, cfg.Locker.Redis, log), nil
	}
	return nil, fmt.Errorf("unknown locker driver %q", cfg.Locker.Driver)
}

func buildSink(cfg config.Config, log *zap.Logger, cleanup *closers) (usecase.NotificationSink, error) {
	switch cfg.Notifier.Driver {
	case config.NotifierNone:
		return nil, nil
	case config.NotifierLog:
		return notify.NewLogSink(log), nil
	case config.NotifierKafka:
		sink, err := notify.NewKafkaSink(cfg.Notifier.Kafka)
		if err != nil {
			return nil, err
		}
		cleanup.add(sink.Close)
		return sink, nil
	}
	return nil, fmt.Errorf("unknown notifier driver %q", cfg.Notifier.Driver)
}

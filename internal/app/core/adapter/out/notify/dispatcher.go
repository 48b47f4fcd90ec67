package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// DispatcherConfig 派送器參數
type DispatcherConfig struct {
	// QueueSize 輸送帶容量，滿了就丟棄並記錄 log
	QueueSize int `yaml:"queue_size"`
	// Workers 同時呼叫 sink 的 goroutine 數
	Workers int `yaml:"workers"`
	// SendTimeout 單筆送出的超時時間
	SendTimeout time.Duration `yaml:"send_timeout"`
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	return c
}

// Dispatcher 交易提交後的通知輸送帶
//
// Notify(不等待) -> Channel -> Worker -> Sink.Send
// sink 的失敗只記錄 log，永遠不會回傳給交易的呼叫端
type Dispatcher struct {
	sink   usecase.NotificationSink
	logger *zap.Logger
	cfg    DispatcherConfig
	// 輸送帶
	queue chan domain.NotificationRequest
	wg    sync.WaitGroup
}

// NewDispatcher 建立派送器，需呼叫 Run 才會開始送
func NewDispatcher(sink usecase.NotificationSink, logger *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sink:   sink,
		logger: logger.Named("notify"),
		cfg:    cfg,
		queue:  make(chan domain.NotificationRequest, cfg.QueueSize),
	}
}

// Notify 放入輸送帶，滿了直接丟棄
func (d *Dispatcher) Notify(req domain.NotificationRequest) {
	select {
	case d.queue <- req:
	default:
		d.logger.Warn("notification dropped, queue full",
			zap.String("recipient", req.Recipient),
			zap.String("subject", req.Subject),
		)
	}
}

// Run 啟動 worker 並阻塞到 ctx 結束；結束前會把輸送帶上剩下的通知送完
func (d *Dispatcher) Run(ctx context.Context) error {
	for range d.cfg.Workers {
		d.wg.Add(1)
		go d.run(ctx)
	}
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// 收到關閉信號，把剩下的通知處理完
			d.drain()
			return
		case req := <-d.queue:
			d.deliver(req)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case req := <-d.queue:
			d.deliver(req)
		default:
			return
		}
	}
}

// deliver 使用獨立的 context，交易呼叫端取消不影響通知
//
// sink panic 時只記錄 log，worker 繼續處理下一筆
func (d *Dispatcher) deliver(req domain.NotificationRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification sink panicked",
				zap.String("recipient", req.Recipient),
				zap.String("subject", req.Subject),
				zap.Error(fmt.Errorf("%w: panic: %v", domain.ErrNotificationFailure, r)),
			)
		}
	}()

	if err := d.sink.Send(ctx, req); err != nil {
		d.logger.Warn("notification failed",
			zap.String("recipient", req.Recipient),
			zap.String("subject", req.Subject),
			zap.Error(fmt.Errorf("%w: %w", domain.ErrNotificationFailure, err)),
		)
		return
	}
	d.logger.Debug("notification sent", zap.String("recipient", req.Recipient), zap.String("subject", req.Subject))
}

var _ usecase.Notifier = (*Dispatcher)(nil)

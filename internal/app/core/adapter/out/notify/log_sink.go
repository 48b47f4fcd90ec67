package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// LogSink 把通知寫進 log，本機開發用
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("mail")}
}

func (s *LogSink) Send(ctx context.Context, req domain.NotificationRequest) error {
	s.logger.Info("notification",
		zap.String("recipient", req.Recipient),
		zap.String("subject", req.Subject),
		zap.String("body", req.Body),
	)
	return nil
}

var _ usecase.NotificationSink = (*LogSink)(nil)

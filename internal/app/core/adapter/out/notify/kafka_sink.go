package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// KafkaConfig Kafka 通知設定
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// messageWriter 是 *kafka.Writer 用到的部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink 把通知發佈到 Kafka topic，由下游的寄信服務消費
type KafkaSink struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaSink 建立 Kafka 通知管道
//
// 同一收件人的通知以 Recipient 作為 key，確保落在同一個 partition 保持順序
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: brokers and topic are required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{writer: writer, now: time.Now}, nil
}

func (s *KafkaSink) Send(ctx context.Context, req domain.NotificationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(req.Recipient),
		Value: payload,
		Time:  s.now(),
		Headers: []kafka.Header{
			{Key: "subject", Value: []byte(req.Subject)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close 關閉 writer，送出尚未送出的訊息
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

var _ usecase.NotificationSink = (*KafkaSink)(nil)

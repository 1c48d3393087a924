package database

import (
	"context"
	"fmt"
	"time"

	"escrow_trade_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NewKafkaWriterWithRetry 確認 broker 可連線後建立 Kafka Writer
func NewKafkaWriterWithRetry(k KafkaConnection) (*kafka.Writer, error) {
	if err := waitKafka(k); err != nil {
		return nil, err
	}

	return &kafka.Writer{
		Addr:                   kafka.TCP(k.Brokers...),
		Topic:                  k.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}, nil
}

// NewKafkaReaderWithRetry 確認 broker 可連線後建立 consumer group reader
func NewKafkaReaderWithRetry(k KafkaConnection) (*kafka.Reader, error) {
	if err := waitKafka(k); err != nil {
		return nil, err
	}

	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.Brokers,
		Topic:    k.Topic,
		GroupID:  k.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	}), nil
}

func waitKafka(k KafkaConnection) error {
	if len(k.Brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}

	attempt := 0
	err := withRetry(k.RetryCount, k.RetryInterval, func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		conn, err := kafka.DialContext(ctx, "tcp", k.Brokers[0])
		if err != nil {
			logger.Log.Warn("Kafka 連線失敗, retrying...", zap.Int("attempt", attempt), zap.Strings("brokers", k.Brokers), zap.Error(err))
			return err
		}
		defer conn.Close()
		_, err = conn.Brokers()
		return err
	})
	if err != nil {
		return fmt.Errorf("無法連線 Kafka %v, 經過 %d 次嘗試: %w", k.Brokers, attempt, err)
	}
	logger.Log.Info("Kafka 連線成功", zap.Strings("brokers", k.Brokers), zap.Int("attempt", attempt))
	return nil
}

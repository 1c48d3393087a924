package database

import (
	"fmt"
	"time"

	"escrow_trade_service/pkg/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RabbitRepo definition rabbit repo
type RabbitRepo interface {
	GetRabbit() *amqp.Channel
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

type rabbitRepo struct {
	channel *amqp.Channel
}

// NewRabbitRepository create a RabbitRepository
func NewRabbitRepository(ch *amqp.Channel) RabbitRepo {
	return &rabbitRepo{channel: ch}
}

// ConnectRabbitMQWithRetry 嘗試連線到 RabbitMQ
func ConnectRabbitMQWithRetry(d Connection) (*amqp.Connection, error) {
	var conn *amqp.Connection
	attempt := 0
	err := withRetry(d.RetryCount, d.RetryInterval, func() error {
		attempt++
		var err error
		conn, err = amqp.Dial(d.ConnectStr)
		if err != nil {
			logger.Log.Warn("RabbitMQ 連線失敗, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("無法連線 RabbitMQ, 經過 %d 次嘗試: %w", attempt, err)
	}
	logger.Log.Info("RabbitMQ 連線成功", zap.Int("attempt", attempt))
	return conn, nil
}

// GetRabbitMQChannelWithRetry 使用已有的 RabbitMQ 連線取得 Channel 並宣告 durable queue
func GetRabbitMQChannelWithRetry(conn *amqp.Connection, queue string, maxRetries int, delay time.Duration) (*amqp.Channel, error) {
	var ch *amqp.Channel
	err := withRetry(maxRetries, delay, func() error {
		var err error
		if ch, err = conn.Channel(); err != nil {
			return err
		}
		if queue == "" {
			return nil
		}
		if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			ch.Close()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("無法取得 RabbitMQ Channel: %w", err)
	}
	return ch, nil
}

func (r *rabbitRepo) GetRabbit() *amqp.Channel {
	return r.channel
}

func (r *rabbitRepo) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return r.channel.Publish(exchange, key, mandatory, immediate, msg)
}

package database

import (
	"fmt"
	"time"

	"escrow_trade_service/pkg/config"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
)

// Connection definition connect string with retry setting
type Connection struct {
	ConnectStr string

	RetryCount    int
	RetryInterval time.Duration
}

// MongoDB definition mongo db
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// MinIOConnection definition minio
type MinIOConnection struct {
	Endpoint   string
	User       string
	Password   string
	BucketName string
	UseSSL     bool

	RetryCount    int
	RetryInterval time.Duration
}

// KafkaConnection definition kafka
type KafkaConnection struct {
	Brokers       []string
	Topic         string
	GroupID       string
	RetryCount    int
	RetryInterval time.Duration
}

// MongoConnection build a mongo connect string from yaml
func MongoConnection(c config.DatabaseConfig) Connection {
	return Connection{
		ConnectStr:    fmt.Sprintf("mongodb://%s:%s@%s:%d", c.User, c.Password, c.Host, c.Port),
		RetryCount:    c.RetryCount,
		RetryInterval: time.Duration(c.RetryInterval) * time.Second,
	}
}

// PostgresConnection build a postgres dsn from yaml
func PostgresConnection(c config.DatabaseConfig) Connection {
	return Connection{
		ConnectStr: fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			c.User, c.Password, c.Host, c.Port, c.Database),
		RetryCount:    c.RetryCount,
		RetryInterval: time.Duration(c.RetryInterval) * time.Second,
	}
}

// RabbitMQConnection build an amqp url from yaml
func RabbitMQConnection(c config.DatabaseConfig) Connection {
	return Connection{
		ConnectStr:    fmt.Sprintf("amqp://%s:%s@%s:%d/", c.User, c.Password, c.Host, c.Port),
		RetryCount:    c.RetryCount,
		RetryInterval: time.Duration(c.RetryInterval) * time.Second,
	}
}

// MinIOFromConfig minio setting from yaml
func MinIOFromConfig(c config.MinIOConfig) MinIOConnection {
	return MinIOConnection{
		Endpoint:      c.Endpoint,
		User:          c.User,
		Password:      c.Password,
		BucketName:    c.Bucket,
		UseSSL:        c.UseSSL,
		RetryCount:    c.RetryCount,
		RetryInterval: time.Duration(c.RetryInterval) * time.Second,
	}
}

// KafkaFromConfig kafka setting from yaml
func KafkaFromConfig(c config.KafkaConfig) KafkaConnection {
	return KafkaConnection{
		Brokers:       c.Brokers,
		Topic:         c.Topic,
		GroupID:       c.GroupID,
		RetryCount:    c.RetryCount,
		RetryInterval: time.Duration(c.RetryInterval) * time.Second,
	}
}

// withRetry run fn up to count+1 times with a constant interval
func withRetry(count int, interval time.Duration, fn func() error) error {
	if count < 0 {
		count = 0
	}
	if interval <= 0 {
		interval = time.Second
	}
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(count))
	return backoff.Retry(fn, b)
}

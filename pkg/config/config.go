package config

import "time"

// EscrowService definition escrow_service YAML structure
type EscrowService struct {
	Port       string        `mapstructure:"port"`
	GRPCPort   string        `mapstructure:"grpc_port"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	JWTSecret  string        `mapstructure:"jwt_secret"`

	Mongo      DatabaseConfig   `mapstructure:"mongo"`
	PostgreSQL DatabaseConfig   `mapstructure:"pg"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	RabbitMQ   DatabaseConfig   `mapstructure:"rabbitmq"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Attachment AttachmentConfig `mapstructure:"attachment"`
}

// NotificationWorker definition notification_worker YAML structure
type NotificationWorker struct {
	Mongo      DatabaseConfig   `mapstructure:"mongo"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	RabbitMQ   DatabaseConfig   `mapstructure:"rabbitmq"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Attachment AttachmentConfig `mapstructure:"attachment"`
}

// Client definition escrowctl YAML structure
type Client struct {
	BaseURL        string        `mapstructure:"base_url"`
	PushURL        string        `mapstructure:"push_url"`
	GRPCAddr       string        `mapstructure:"grpc_addr"`
	MirrorPath     string        `mapstructure:"mirror_path"`
	MirrorRedis    string        `mapstructure:"mirror_redis"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MatchWindow    time.Duration `mapstructure:"match_window"`
	ReconnectMin   time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax   time.Duration `mapstructure:"reconnect_max"`
}

// RedisConfig definition redis setting, Addr empty means sentinel from .env
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	RedisDB int    `mapstructure:"redis_db"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// MinIOConfig definition object storage setting
type MinIOConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Bucket        string `mapstructure:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	GroupID       string   `mapstructure:"group_id"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

// AttachmentConfig definition upload limits
type AttachmentConfig struct {
	MaxSize   int64         `mapstructure:"max_size"`
	URLExpiry time.Duration `mapstructure:"url_expiry"`
	Queue     string        `mapstructure:"queue"`
}

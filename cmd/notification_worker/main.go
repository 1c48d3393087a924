package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	notificationapp "escrow_trade_service/internal/notification/app"
	notificationrepo "escrow_trade_service/internal/notification/repository"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/config"
	"escrow_trade_service/pkg/database"
	"escrow_trade_service/pkg/logger"
	testtool "escrow_trade_service/pkg/test_tool"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.NotificationWorker, config.EnvConfig.NotificationWorkerLogPath)
	defer logger.Log.Sync()
	cfg := config.MustLoadConfig[config.NotificationWorker](config.EnvConfig.NotificationWorker, config.EnvConfig.NotificationWorkerYAMLPath)
	testtool.StartPprof()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Mongo (notifications)
	mongo, err := database.NewMongoDB(ctx, database.MongoConnection(cfg.Mongo), cfg.Mongo.Database)
	if err != nil {
		logger.Log.Fatal("Unable to connect to mongoDB after retries", zap.String("host", cfg.Mongo.Host), zap.Error(err))
	}
	defer mongo.Close(context.Background())
	if err := notificationrepo.EnsureNotificationIndexes(ctx, mongo.Database); err != nil {
		logger.Log.Fatal("ensure notification indexes", zap.Error(err))
	}

	// 2. Redis pub/sub, 推播給 escrow_service 上的連線
	redisClient, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Log.Fatal("connect redis", zap.Error(err))
	}
	defer redisClient.Close()
	pubsub := push.NewRedisPubSub(redisClient)

	uc := notificationapp.NewNotificationUseCase(notificationrepo.NewMongoNotificationRepository(mongo.Database), pubsub)

	// 3. MinIO + RabbitMQ (attachment.uploaded)
	minioClient, err := database.NewMinIOConnection(database.MinIOFromConfig(cfg.MinIO))
	if err != nil {
		logger.Log.Fatal("connect minio", zap.Error(err))
	}
	rabbitConn := database.RabbitMQConnection(cfg.RabbitMQ)
	amqpConn, err := database.ConnectRabbitMQWithRetry(rabbitConn)
	if err != nil {
		logger.Log.Fatal("connect rabbitmq", zap.Error(err))
	}
	defer amqpConn.Close()
	amqpChannel, err := database.GetRabbitMQChannelWithRetry(amqpConn, cfg.Attachment.Queue, rabbitConn.RetryCount, rabbitConn.RetryInterval)
	if err != nil {
		logger.Log.Fatal("open rabbitmq channel", zap.Error(err))
	}
	defer amqpChannel.Close()

	// 4. Kafka consumer group (escrow.events)
	reader, err := database.NewKafkaReaderWithRetry(database.KafkaFromConfig(cfg.Kafka))
	if err != nil {
		logger.Log.Fatal("connect kafka", zap.Error(err))
	}
	defer reader.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return notificationapp.NewAttachmentWorker(amqpChannel, minioClient, uc, cfg.Attachment.Queue).Run(gctx)
	})
	g.Go(func() error {
		return notificationapp.NewEscrowConsumer(reader, uc, pubsub).Run(gctx)
	})

	logger.Log.Info("Notification Worker started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Fatal("notification worker stopped", zap.Error(err))
	}
	logger.Log.Info("Notification Worker stopped")
}

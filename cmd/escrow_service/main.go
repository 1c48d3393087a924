package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "escrow_trade_service/docs" // swagger docs
	"escrow_trade_service/internal/api/handlers"
	apirouter "escrow_trade_service/internal/api/router"
	chatapp "escrow_trade_service/internal/chat/app"
	chatrepo "escrow_trade_service/internal/chat/repository"
	chatrouter "escrow_trade_service/internal/chat/router"
	escrowapp "escrow_trade_service/internal/escrow/app"
	escrowrepo "escrow_trade_service/internal/escrow/repository"
	escrowrouter "escrow_trade_service/internal/escrow/router"
	memberapp "escrow_trade_service/internal/member/app"
	memberdomain "escrow_trade_service/internal/member/domain"
	memberrepo "escrow_trade_service/internal/member/repository"
	memberrouter "escrow_trade_service/internal/member/router"
	notificationapp "escrow_trade_service/internal/notification/app"
	notificationrepo "escrow_trade_service/internal/notification/repository"
	notificationrouter "escrow_trade_service/internal/notification/router"
	"escrow_trade_service/internal/push"
	"escrow_trade_service/pkg/config"
	"escrow_trade_service/pkg/database"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/metrics"
	testtool "escrow_trade_service/pkg/test_tool"
	"escrow_trade_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.EscrowService, config.EnvConfig.EscrowServiceLogPath)
	defer logger.Log.Sync()
	cfg := config.MustLoadConfig[config.EscrowService](config.EnvConfig.EscrowService, config.EnvConfig.EscrowServiceYAMLPath)
	testtool.StartPprof()
	if config.EnvConfig.EscrowServicePort != "" {
		cfg.Port = config.EnvConfig.EscrowServicePort
	}
	token.SetSecret(cfg.JWTSecret)
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Mongo (conversations, messages, notifications)
	mongo, err := database.NewMongoDB(ctx, database.MongoConnection(cfg.Mongo), cfg.Mongo.Database)
	if err != nil {
		logger.Log.Fatal("Unable to connect to mongoDB after retries", zap.String("host", cfg.Mongo.Host), zap.Error(err))
	}
	defer mongo.Close(context.Background())
	for name, ensure := range map[string]func(context.Context) error{
		"conversations": func(ctx context.Context) error { return chatrepo.EnsureConversationIndexes(ctx, mongo.Database) },
		"messages":      func(ctx context.Context) error { return chatrepo.EnsureMessageIndexes(ctx, mongo.Database) },
		"notifications": func(ctx context.Context) error { return notificationrepo.EnsureNotificationIndexes(ctx, mongo.Database) },
	} {
		if err := ensure(ctx); err != nil {
			logger.Log.Fatal("ensure mongo indexes", zap.String("collection", name), zap.Error(err))
		}
	}

	// 2. Redis (session, pub/sub)
	redisClient, err := database.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Log.Fatal("connect redis", zap.Error(err))
	}
	defer redisClient.Close()
	pubsub := push.NewRedisPubSub(redisClient)

	// 3. PostgreSQL: member 用 pgx, escrow 用 gorm
	pgConn := database.PostgresConnection(cfg.PostgreSQL)
	pool, err := database.NewDatabaseConnection(pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgres after retries", zap.String("host", cfg.PostgreSQL.Host), zap.Error(err))
	}
	defer pool.Close()
	if err := memberrepo.EnsureSchema(ctx, pool); err != nil {
		logger.Log.Fatal("ensure member schema", zap.Error(err))
	}
	gormDB, err := database.NewGormConnection(pgConn)
	if err != nil {
		logger.Log.Fatal("gorm connect", zap.Error(err))
	}
	txRepo := escrowrepo.NewTransactionRepo(gormDB)
	if err := txRepo.AutoMigrate(); err != nil {
		logger.Log.Fatal("escrow auto migrate", zap.Error(err))
	}

	// 4. MinIO + RabbitMQ (attachments)
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

	// 5. Kafka (escrow.events)
	kafkaWriter, err := database.NewKafkaWriterWithRetry(database.KafkaFromConfig(cfg.Kafka))
	if err != nil {
		logger.Log.Fatal("connect kafka", zap.Error(err))
	}
	defer kafkaWriter.Close()

	// 6. UseCases
	convRepo := chatrepo.NewMongoConversationRepository(mongo.Database)
	msgRepo := chatrepo.NewMongoChatMessageRepository(mongo.Database)
	convUC := chatapp.NewConversationUseCase(convRepo, msgRepo)
	messageUC := chatapp.NewMessageUseCase(convRepo, msgRepo, pubsub)
	attachmentUC := chatapp.NewAttachmentUseCase(convRepo, minioClient, database.NewRabbitRepository(amqpChannel),
		cfg.Attachment.Queue, cfg.Attachment.MaxSize, cfg.Attachment.URLExpiry)
	escrowUC := escrowapp.NewEscrowUseCase(txRepo, kafkaWriter, convUC, pubsub)
	notificationUC := notificationapp.NewNotificationUseCase(notificationrepo.NewMongoNotificationRepository(mongo.Database), pubsub)
	memberUC := memberapp.NewMemberUseCase(memberrepo.NewMemberRepository(pool), cfg.SessionTTL,
		database.NewRedisRepository[memberdomain.MemberSession](redisClient))
	memberHandler := memberapp.NewMemberHandler(memberUC)

	health := handlers.NewHealthHandler(map[string]handlers.Check{
		"mongo":    mongo.Ping,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		"postgres": pool.Ping,
	}, 2*time.Second)

	// 7. Fiber
	bodyLimit := cfg.Attachment.MaxSize
	if bodyLimit <= 0 {
		bodyLimit = 20 << 20
	}
	r := fiber.New(fiber.Config{BodyLimit: int(bodyLimit) + 1<<20})
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.EscrowServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(recover.New())
	r.Use(fiber_log.New(fiber_log.Config{
		Output: file,
	}))
	r.Use(metrics.Middleware())
	// 登出後舊 token 立即失效, 公開路由跳過
	r.Use(memberHandler.SessionGuard("/api/auth/login", "/api/auth/register", "/health", "/metrics", "/swagger"))

	apirouter.RegisterRoutes(r, health)
	memberrouter.RegisterRoutes(r, memberHandler)
	chatrouter.RegisterRoutes(r, chatapp.NewChatHandler(convUC, messageUC, attachmentUC), chatapp.NewChatWebsocketHandler(messageUC, pubsub, txRepo))
	escrowrouter.RegisterRoutes(r, escrowapp.NewEscrowHandler(escrowUC))
	notificationrouter.RegisterRoutes(r, notificationapp.NewNotificationHandler(notificationUC))

	// 8. gRPC health
	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			logger.Log.Fatal("grpc listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
		}
		go func() {
			if err := handlers.NewGRPCHealth(health, 10*time.Second).Serve(ctx, lis); err != nil {
				logger.Log.Error("grpc health server stopped", zap.Error(err))
			}
		}()
		logger.Log.Info("gRPC health listening", zap.String("port", cfg.GRPCPort))
	}

	go func() {
		<-ctx.Done()
		logger.Log.Info("shutting down")
		if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Log.Error("fiber shutdown", zap.Error(err))
		}
	}()

	logger.Log.Info("Escrow Service listening", zap.String("port", cfg.Port))
	if err := r.Listen(":" + cfg.Port); err != nil {
		logger.Log.Fatal("Server failed to start", zap.Error(err))
	}
}

package router

import (
	"escrow_trade_service/internal/api/handlers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
)

// RegisterRoutes 注册共用路由
// @title Escrow Trade Service API
// @version 1.0
// @description Escrow transactions, conversations and notifications
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func RegisterRoutes(app *fiber.App, health *handlers.HealthHandler) {
	app.Get("/swagger/*", swagger.HandlerDefault)
	app.Get("/", handlers.ConnectCheck)
	app.Post("/debug", handlers.DebugLogFlag)
	app.Get("/health", health.Health)
	app.Get("/metrics", handlers.Metrics())
}

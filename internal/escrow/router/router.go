package router

import (
	"escrow_trade_service/internal/escrow/app"
	"escrow_trade_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes 注册交易相關的路由
func RegisterRoutes(r *fiber.App, h *app.EscrowHandler) {
	tx := r.Group("/api/transactions", middlewares.JWTMiddleware())
	tx.Post("/", h.CreateTransaction)
	tx.Get("/", h.ListTransactions)
	tx.Get("/:id", h.GetTransaction)
	tx.Get("/:id/events", h.TransactionHistory)
	tx.Post("/:id/:action", h.PerformAction)
}

package router

import (
	"escrow_trade_service/internal/notification/app"
	"escrow_trade_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes 注册通知相關的路由
func RegisterRoutes(r *fiber.App, h *app.NotificationHandler) {
	n := r.Group("/api/notifications", middlewares.JWTMiddleware())
	n.Get("/", h.ListNotifications)
	n.Post("/", h.CreateNotification)
	n.Delete("/", h.ClearNotifications)
	n.Get("/unread-count", h.UnreadCount)
	n.Put("/read-all", h.MarkAllNotificationsRead)
	n.Put("/:id/read", h.MarkNotificationRead)
	n.Delete("/:id", h.DeleteNotification)
}

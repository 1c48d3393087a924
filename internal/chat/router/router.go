package router

import (
	"context"

	"escrow_trade_service/internal/chat/app"
	"escrow_trade_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes 注册聊天相關的路由
func RegisterRoutes(r *fiber.App, chatHandler *app.ChatHandler, chatWebsocket *app.ChatWebsocketHandler) {
	conv := r.Group("/api/conversations", middlewares.JWTMiddleware())
	conv.Get("/", chatHandler.ListConversations)
	conv.Post("/", chatHandler.OpenConversation)
	conv.Get("/:id/messages", chatHandler.ListMessages)
	conv.Post("/:id/messages", chatHandler.SendMessage)
	conv.Put("/:id/messages/:messageId/read", chatHandler.MarkMessageRead)
	conv.Put("/:id/read", chatHandler.MarkConversationRead)
	conv.Post("/:id/attachments", chatHandler.UploadAttachment)

	r.Use("/ws", middlewares.JWTMiddleware(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	r.Get("/ws", websocket.New(func(c *websocket.Conn) {
		chatWebsocket.HandleConnection(context.Background(), c)
	}))
}

package router

import (
	"escrow_trade_service/internal/member/app"
	"escrow_trade_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes 注册會員相關的路由
func RegisterRoutes(r *fiber.App, h *app.MemberHandler) {
	auth := r.Group("/api/auth")
	auth.Post("/register", h.Register)
	auth.Post("/login", h.Login)
	auth.Post("/logout", middlewares.JWTMiddleware(), h.Logout)
	auth.Get("/me", middlewares.JWTMiddleware(), h.Me)
}

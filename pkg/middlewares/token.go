package middlewares

import (
	t_token "escrow_trade_service/pkg/token"

	"github.com/gofiber/fiber/v2"
)

const (
	// QueryToken token in query name
	QueryToken = "auth"

	// CookieToken token in cookie name
	CookieToken = "auth_token"

	// TokenUserID get user from token, set c.locals name
	TokenUserID = "UserID"
	// TokenRole get role from token, set c.locals name
	TokenRole = "role"
	// TokenRaw raw token string, set c.locals name
	TokenRaw = "token"
)

// TokenFrom Authorization header, then query, then cookie
func TokenFrom(c *fiber.Ctx) string {
	if tok := t_token.BearerToken(c.Get(fiber.HeaderAuthorization)); tok != "" {
		return tok
	}
	if tok := c.Query(QueryToken); tok != "" {
		return tok
	}
	return c.Cookies(CookieToken)
}

// JWTMiddleware validates JWT and stores the claims in c.Locals
func JWTMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := TokenFrom(c)
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
			})
		}

		claims, err := t_token.ParseJWTWrapper(tokenStr)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals(TokenUserID, claims.UserID)
		c.Locals(TokenRole, claims.Role)
		c.Locals(TokenRaw, tokenStr)
		return c.Next()
	}
}

// UserID user id set by JWTMiddleware
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(TokenUserID).(string)
	return id
}

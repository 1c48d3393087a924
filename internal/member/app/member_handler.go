package app

import (
	"errors"
	"strings"

	"escrow_trade_service/internal/member/domain"
	"escrow_trade_service/pkg/encrypt"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/middlewares"
	"escrow_trade_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// MemberHandler auth REST handler
type MemberHandler struct {
	uc MemberUseCase
}

// NewMemberHandler create MemberHandler
func NewMemberHandler(uc MemberUseCase) *MemberHandler {
	return &MemberHandler{uc: uc}
}

// RegisterReq 註冊
type RegisterReq struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginReq 登入
type LoginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRes 登入結果
type LoginRes struct {
	Token  string         `json:"token"`
	Member *domain.Member `json:"member"`
}

func memberError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrEmailExists):
		status = fiber.StatusConflict
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrSessionExpired), errors.Is(err, token.ErrInvalidToken):
		status = fiber.StatusUnauthorized
	case errors.Is(err, domain.ErrMemberBanned):
		status = fiber.StatusForbidden
	case errors.Is(err, domain.ErrMemberNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, encrypt.ErrWeakPassword), errors.Is(err, domain.ErrInvalidEmail):
		status = fiber.StatusBadRequest
	}
	if status == fiber.StatusInternalServerError {
		logger.Log.Error("member request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// Register godoc
// @Summary Register a member
// @Tags Member
// @Accept json
// @Produce json
// @Param body body RegisterReq true "account"
// @Success 201 {object} domain.Member
// @Failure 409 {object} map[string]interface{}
// @Router /api/auth/register [post]
func (h *MemberHandler) Register(c *fiber.Ctx) error {
	var req RegisterReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	member, err := h.uc.Register(c.UserContext(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		return memberError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(member)
}

// Login godoc
// @Summary Log in
// @Description Returns a JWT and also sets the auth_token cookie
// @Tags Member
// @Accept json
// @Produce json
// @Param body body LoginReq true "credentials"
// @Success 200 {object} LoginRes
// @Failure 401 {object} map[string]interface{}
// @Router /api/auth/login [post]
func (h *MemberHandler) Login(c *fiber.Ctx) error {
	var req LoginReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	t, member, err := h.uc.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return memberError(c, err)
	}
	c.Cookie(&fiber.Cookie{
		Name:     middlewares.CookieToken,
		Value:    t,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(LoginRes{Token: t, Member: member})
}

// Logout godoc
// @Summary Log out
// @Tags Member
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/auth/logout [post]
func (h *MemberHandler) Logout(c *fiber.Ctx) error {
	raw, _ := c.Locals(middlewares.TokenRaw).(string)
	if err := h.uc.Logout(c.UserContext(), raw); err != nil {
		return memberError(c, err)
	}
	c.ClearCookie(middlewares.CookieToken)
	return c.JSON(fiber.Map{"message": "logout success"})
}

// Me godoc
// @Summary Current member
// @Tags Member
// @Produce json
// @Security BearerAuth
// @Success 200 {object} domain.Member
// @Router /api/auth/me [get]
func (h *MemberHandler) Me(c *fiber.Ctx) error {
	id := middlewares.UserID(c)
	member, err := h.uc.FindMember(c.UserContext(), &domain.MemberQuery{MemberID: &id})
	if err != nil {
		return memberError(c, err)
	}
	return c.JSON(member)
}

// SessionGuard 在 JWT 之外再確認 token 是目前的 session, 登出後舊 token 立即失效
func (h *MemberHandler) SessionGuard(skip ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, p := range skip {
			if strings.HasPrefix(c.Path(), p) {
				return c.Next()
			}
		}
		raw := middlewares.TokenFrom(c)
		if raw == "" {
			return c.Next()
		}
		if _, err := h.uc.ValidateSession(c.UserContext(), raw); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Session expired"})
		}
		return c.Next()
	}
}

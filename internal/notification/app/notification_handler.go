package app

import (
	"errors"
	"strconv"

	"escrow_trade_service/internal/notification/domain"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/middlewares"
	"escrow_trade_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// NotificationHandler notifications REST handler
type NotificationHandler struct {
	uc *NotificationUseCase
}

// NewNotificationHandler create NotificationHandler
func NewNotificationHandler(uc *NotificationUseCase) *NotificationHandler {
	return &NotificationHandler{uc: uc}
}

// CreateNotificationReq 管理員建立的系統通知
type CreateNotificationReq struct {
	UserID   string          `json:"user_id"`
	ClientID string          `json:"client_id"`
	Kind     domain.Kind     `json:"kind"`
	Priority domain.Priority `json:"priority"`
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Link     string          `json:"link"`
}

func notificationError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotificationNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidNotification):
		status = fiber.StatusBadRequest
	}
	if status == fiber.StatusInternalServerError {
		logger.Log.Error("notification request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// ListNotifications godoc
// @Summary List notifications
// @Tags Notification
// @Produce json
// @Security BearerAuth
// @Param limit query int false "max items"
// @Success 200 {array} domain.Notification
// @Router /api/notifications [get]
func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	limit, _ := strconv.ParseInt(c.Query("limit"), 10, 64)
	list, err := h.uc.List(c.UserContext(), middlewares.UserID(c), limit)
	if err != nil {
		return notificationError(c, err)
	}
	return c.JSON(list)
}

// CreateNotification godoc
// @Summary Create a system notification (admin)
// @Tags Notification
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body CreateNotificationReq true "notification"
// @Success 201 {object} domain.Notification
// @Router /api/notifications [post]
func (h *NotificationHandler) CreateNotification(c *fiber.Ctx) error {
	if role, _ := c.Locals(middlewares.TokenRole).(string); role != token.RoleAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin only"})
	}
	var req CreateNotificationReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	n, replay, err := h.uc.Create(c.UserContext(), &domain.Notification{
		ClientID: req.ClientID,
		UserID:   req.UserID,
		Kind:     req.Kind,
		Priority: req.Priority,
		Title:    req.Title,
		Message:  req.Message,
		Link:     req.Link,
	})
	if err != nil {
		return notificationError(c, err)
	}
	if replay {
		return c.JSON(n)
	}
	return c.Status(fiber.StatusCreated).JSON(n)
}

// MarkNotificationRead godoc
// @Summary Mark a notification read
// @Tags Notification
// @Security BearerAuth
// @Param id path string true "notification id"
// @Success 200 {object} map[string]interface{}
// @Router /api/notifications/{id}/read [put]
func (h *NotificationHandler) MarkNotificationRead(c *fiber.Ctx) error {
	changed, err := h.uc.MarkRead(c.UserContext(), middlewares.UserID(c), c.Params("id"))
	if err != nil {
		return notificationError(c, err)
	}
	return c.JSON(fiber.Map{"changed": changed})
}

// MarkAllNotificationsRead godoc
// @Summary Mark every notification read
// @Tags Notification
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/notifications/read-all [put]
func (h *NotificationHandler) MarkAllNotificationsRead(c *fiber.Ctx) error {
	n, err := h.uc.MarkAllRead(c.UserContext(), middlewares.UserID(c))
	if err != nil {
		return notificationError(c, err)
	}
	return c.JSON(fiber.Map{"count": n})
}

// DeleteNotification godoc
// @Summary Delete a notification
// @Tags Notification
// @Security BearerAuth
// @Param id path string true "notification id"
// @Success 204
// @Router /api/notifications/{id} [delete]
func (h *NotificationHandler) DeleteNotification(c *fiber.Ctx) error {
	if err := h.uc.Delete(c.UserContext(), middlewares.UserID(c), c.Params("id")); err != nil {
		return notificationError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ClearNotifications godoc
// @Summary Delete every notification
// @Tags Notification
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/notifications [delete]
func (h *NotificationHandler) ClearNotifications(c *fiber.Ctx) error {
	n, err := h.uc.Clear(c.UserContext(), middlewares.UserID(c))
	if err != nil {
		return notificationError(c, err)
	}
	return c.JSON(fiber.Map{"count": n})
}

// UnreadCount godoc
// @Summary Unread notification count
// @Tags Notification
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /api/notifications/unread-count [get]
func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	n, err := h.uc.UnreadCount(c.UserContext(), middlewares.UserID(c))
	if err != nil {
		return notificationError(c, err)
	}
	return c.JSON(fiber.Map{"count": n})
}

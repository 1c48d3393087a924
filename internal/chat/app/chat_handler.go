package app

import (
	"errors"
	"strconv"
	"time"

	"escrow_trade_service/internal/chat/domain"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ChatHandler conversations / messages REST handler
type ChatHandler struct {
	convUC       *ConversationUseCase
	messageUC    *MessageUseCase
	attachmentUC *AttachmentUseCase
}

// NewChatHandler create ChatHandler
func NewChatHandler(convUC *ConversationUseCase, messageUC *MessageUseCase, attachmentUC *AttachmentUseCase) *ChatHandler {
	return &ChatHandler{convUC: convUC, messageUC: messageUC, attachmentUC: attachmentUC}
}

// OpenConversationReq 建立交易對話
type OpenConversationReq struct {
	TransactionID string   `json:"transaction_id"`
	Participants  []string `json:"participants"`
}

// SendMessageReq 送出訊息
type SendMessageReq struct {
	ClientID    string              `json:"client_id"`
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments"`
}

func chatError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrConversationNotFound), errors.Is(err, domain.ErrMessageNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrNotParticipant):
		status = fiber.StatusForbidden
	case errors.Is(err, domain.ErrEmptyMessage):
		status = fiber.StatusBadRequest
	case errors.Is(err, ErrAttachmentTooLarge):
		status = fiber.StatusRequestEntityTooLarge
	}
	if status == fiber.StatusInternalServerError {
		logger.Log.Error("chat request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// ListConversations godoc
// @Summary List conversations
// @Description Conversations of the caller with per-conversation unread counts
// @Tags Chat
// @Produce json
// @Security BearerAuth
// @Success 200 {array} domain.Conversation
// @Router /api/conversations [get]
func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	convs, err := h.convUC.List(c.UserContext(), middlewares.UserID(c))
	if err != nil {
		return chatError(c, err)
	}
	return c.JSON(convs)
}

// OpenConversation godoc
// @Summary Open the conversation of a transaction
// @Tags Chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body OpenConversationReq true "transaction and participants"
// @Success 200 {object} domain.Conversation
// @Router /api/conversations [post]
func (h *ChatHandler) OpenConversation(c *fiber.Ctx) error {
	var req OpenConversationReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	userID := middlewares.UserID(c)
	participants := append([]string{userID}, req.Participants...)
	conv, err := h.convUC.Open(c.UserContext(), req.TransactionID, participants)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if !conv.HasParticipant(userID) {
		return chatError(c, domain.ErrNotParticipant)
	}
	return c.JSON(conv)
}

// ListMessages godoc
// @Summary List messages of a conversation
// @Tags Chat
// @Produce json
// @Security BearerAuth
// @Param id path string true "conversation id"
// @Param before query string false "RFC3339 cursor"
// @Param limit query int false "page size"
// @Success 200 {array} domain.Message
// @Router /api/conversations/{id}/messages [get]
func (h *ChatHandler) ListMessages(c *fiber.Ctx) error {
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid before"})
		}
		before = t
	}
	limit, _ := strconv.ParseInt(c.Query("limit"), 10, 64)

	msgs, err := h.messageUC.List(c.UserContext(), c.Params("id"), middlewares.UserID(c), before, limit)
	if err != nil {
		return chatError(c, err)
	}
	return c.JSON(msgs)
}

// SendMessage godoc
// @Summary Send a message
// @Description Idempotent on client_id, a replay returns the stored message with 200
// @Tags Chat
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "conversation id"
// @Param body body SendMessageReq true "message"
// @Success 201 {object} domain.Message
// @Success 200 {object} domain.Message
// @Router /api/conversations/{id}/messages [post]
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	var req SendMessageReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	msg, replay, err := h.messageUC.Send(c.UserContext(), SendInput{
		ConversationID: c.Params("id"),
		SenderID:       middlewares.UserID(c),
		ClientID:       req.ClientID,
		Content:        req.Content,
		Attachments:    req.Attachments,
	})
	if err != nil {
		return chatError(c, err)
	}
	if replay {
		return c.JSON(msg)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkMessageRead godoc
// @Summary Mark one message read
// @Tags Chat
// @Security BearerAuth
// @Param id path string true "conversation id"
// @Param messageId path string true "message id"
// @Success 200 {object} map[string]interface{}
// @Router /api/conversations/{id}/messages/{messageId}/read [put]
func (h *ChatHandler) MarkMessageRead(c *fiber.Ctx) error {
	changed, err := h.messageUC.MarkRead(c.UserContext(), c.Params("id"), c.Params("messageId"), middlewares.UserID(c))
	if err != nil {
		return chatError(c, err)
	}
	return c.JSON(fiber.Map{"changed": changed})
}

// MarkConversationRead godoc
// @Summary Mark every message of a conversation read
// @Tags Chat
// @Security BearerAuth
// @Param id path string true "conversation id"
// @Success 200 {object} map[string]interface{}
// @Router /api/conversations/{id}/read [put]
func (h *ChatHandler) MarkConversationRead(c *fiber.Ctx) error {
	n, err := h.messageUC.MarkConversationRead(c.UserContext(), c.Params("id"), middlewares.UserID(c))
	if err != nil {
		return chatError(c, err)
	}
	return c.JSON(fiber.Map{"count": n})
}

// UploadAttachment godoc
// @Summary Upload an attachment
// @Tags Chat
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param id path string true "conversation id"
// @Param file formData file true "file"
// @Success 201 {object} domain.Attachment
// @Router /api/conversations/{id}/attachments [post]
func (h *ChatHandler) UploadAttachment(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing file"})
	}
	file, err := fileHeader.Open()
	if err != nil {
		logger.Log.Errorf("Open file failed", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to open file"})
	}
	defer file.Close()

	att, err := h.attachmentUC.Upload(c.UserContext(), UploadInput{
		ConversationID: c.Params("id"),
		UploaderID:     middlewares.UserID(c),
		FileName:       fileHeader.Filename,
		MimeType:       fileHeader.Header.Get(fiber.HeaderContentType),
		Size:           fileHeader.Size,
		Body:           file,
	})
	if err != nil {
		return chatError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(att)
}

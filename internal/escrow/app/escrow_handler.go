package app

import (
	"errors"

	"escrow_trade_service/internal/escrow/domain"
	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// EscrowHandler transactions REST handler
type EscrowHandler struct {
	uc *EscrowUseCase
}

// NewEscrowHandler create EscrowHandler
func NewEscrowHandler(uc *EscrowUseCase) *EscrowHandler {
	return &EscrowHandler{uc: uc}
}

func escrowError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		status = fiber.StatusForbidden
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConcurrentUpdate):
		status = fiber.StatusConflict
	case errors.Is(err, domain.ErrUnknownAction), errors.Is(err, domain.ErrInvalidTransaction):
		status = fiber.StatusBadRequest
	}
	if status == fiber.StatusInternalServerError {
		logger.Log.Error("escrow request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func tokenRole(c *fiber.Ctx) string {
	role, _ := c.Locals(middlewares.TokenRole).(string)
	return role
}

// CreateTransaction godoc
// @Summary Create an escrow transaction
// @Tags Escrow
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body CreateInput true "transaction"
// @Success 201 {object} domain.Transaction
// @Failure 400 {object} map[string]interface{}
// @Router /api/transactions [post]
func (h *EscrowHandler) CreateTransaction(c *fiber.Ctx) error {
	var in CreateInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}
	tx, err := h.uc.Create(c.UserContext(), in, middlewares.UserID(c))
	if err != nil {
		return escrowError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(tx)
}

// GetTransaction godoc
// @Summary Get a transaction
// @Tags Escrow
// @Produce json
// @Security BearerAuth
// @Param id path string true "transaction id"
// @Success 200 {object} domain.Transaction
// @Router /api/transactions/{id} [get]
func (h *EscrowHandler) GetTransaction(c *fiber.Ctx) error {
	tx, err := h.uc.Get(c.UserContext(), c.Params("id"), middlewares.UserID(c), tokenRole(c))
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(tx)
}

// ListTransactions godoc
// @Summary List the caller's transactions
// @Tags Escrow
// @Produce json
// @Security BearerAuth
// @Param status query string false "status filter"
// @Success 200 {array} domain.Transaction
// @Router /api/transactions [get]
func (h *EscrowHandler) ListTransactions(c *fiber.Ctx) error {
	txs, err := h.uc.List(c.UserContext(), middlewares.UserID(c), domain.Status(c.Query("status")))
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(txs)
}

// TransactionHistory godoc
// @Summary Status history of a transaction
// @Tags Escrow
// @Produce json
// @Security BearerAuth
// @Param id path string true "transaction id"
// @Success 200 {array} domain.Event
// @Router /api/transactions/{id}/events [get]
func (h *EscrowHandler) TransactionHistory(c *fiber.Ctx) error {
	events, err := h.uc.History(c.UserContext(), c.Params("id"), middlewares.UserID(c), tokenRole(c))
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(events)
}

// PerformAction godoc
// @Summary Move a transaction through the escrow state machine
// @Description action is one of pay, ship, deliver, complete, dispute, refund, cancel
// @Tags Escrow
// @Produce json
// @Security BearerAuth
// @Param id path string true "transaction id"
// @Param action path string true "action"
// @Success 200 {object} domain.Transaction
// @Failure 409 {object} map[string]interface{}
// @Router /api/transactions/{id}/{action} [post]
func (h *EscrowHandler) PerformAction(c *fiber.Ctx) error {
	action, err := domain.ParseAction(c.Params("action"))
	if err != nil {
		return escrowError(c, err)
	}
	tx, err := h.uc.Perform(c.UserContext(), c.Params("id"), action, middlewares.UserID(c), tokenRole(c))
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(tx)
}

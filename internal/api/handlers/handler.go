package handlers

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
)

// ConnectCheck check api connect start
// @Summary Check service status
// @Description Returns a simple confirmation message
// @Tags Shared
// @Success 200 {string} string "escrow service start!"
// @Router / [get]
func ConnectCheck(c *fiber.Ctx) error {
	return c.SendString("escrow service start!")
}

// DebugLogFlag toggle debug log flag
// @Summary Toggle Debug Log Flag
// @Description Enable or disable debug logging
// @Tags Shared
// @Param status query bool true "Debug status"
// @Success 200 {string} string "debug mode updated"
// @Failure 400 {string} string "Invalid status value"
// @Router /debug [post]
func DebugLogFlag(c *fiber.Ctx) error {
	statusStr := c.Query("status")
	status, err := strconv.ParseBool(statusStr)
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	logger.Log.Info("debug", zap.Bool("status", status))
	logger.Log.SetDebugMode(status)
	return c.SendString(fmt.Sprintf("debug mode is : %t", status))
}

// Metrics Prometheus exposition
// @Summary Prometheus metrics
// @Tags Shared
// @Produce plain
// @Success 200 {string} string
// @Router /metrics [get]
func Metrics() fiber.Handler {
	return adaptor.HTTPHandler(metrics.Handler())
}

// Check one dependency probe
type Check func(ctx context.Context) error

// HealthRes /health response
type HealthRes struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthHandler pings every backing store
type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewHealthHandler checks keyed by dependency name
func NewHealthHandler(checks map[string]Check, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

// Run 依名稱順序執行所有 check, 任一失敗則 ok=false
func (h *HealthHandler) Run(ctx context.Context) (HealthRes, bool) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	res := HealthRes{Status: "ok", Checks: make(map[string]string, len(names))}
	ok := true
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.checks[name](cctx)
		cancel()
		if err != nil {
			logger.Log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			res.Checks[name] = err.Error()
			ok = false
			continue
		}
		res.Checks[name] = "ok"
	}
	if !ok {
		res.Status = "degraded"
	}
	return res, ok
}

// Health godoc
// @Summary Dependency health
// @Tags Shared
// @Produce json
// @Success 200 {object} HealthRes
// @Failure 503 {object} HealthRes
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	res, ok := h.Run(c.UserContext())
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(res)
	}
	return c.JSON(res)
}

package transport

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ds124wfegd/transferbook/internal/entity"
	"github.com/ds124wfegd/transferbook/internal/service"
	"github.com/ds124wfegd/transferbook/pkg/queue"

	"github.com/gin-gonic/gin"
)

type SettingsHandler struct {
	settings service.SettingsProvider
}

func NewSettingsHandler(settings service.SettingsProvider) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

type settingRequest struct {
	Value string `json:"value" binding:"required"`
}

type settingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *SettingsHandler) GetSetting(c *gin.Context) {
	key := c.Param("key")
	value, ok, err := h.settings.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "setting not found"})
		return
	}

	respondOK(c, http.StatusOK, settingResponse{Key: key, Value: value})
}

func (h *SettingsHandler) SetSetting(c *gin.Context) {
	key := c.Param("key")

	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	value := strings.TrimSpace(req.Value)

	if key == service.SettingKeyCommission {
		pct, err := strconv.ParseFloat(value, 64)
		if err != nil || pct < 0 || pct > 100 {
			respondError(c, fmt.Errorf("%w: commission must be a number between 0 and 100", entity.ErrInvalidInput))
			return
		}
	}

	if err := h.settings.Set(c.Request.Context(), key, value); err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, settingResponse{Key: key, Value: value})
}

// QueueStatsProvider is satisfied by *queue.RedisQueue
type QueueStatsProvider interface {
	GetQueueStats(ctx context.Context) (*queue.QueueStats, error)
	FailedTasks(ctx context.Context, limit int) ([]*queue.FailedTask, error)
}

type AdminHandler struct {
	queue QueueStatsProvider
}

func NewAdminHandler(q QueueStatsProvider) *AdminHandler {
	return &AdminHandler{queue: q}
}

func (h *AdminHandler) QueueStats(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "notification queue disabled"})
		return
	}

	stats, err := h.queue.GetQueueStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, stats)
}

func (h *AdminHandler) FailedTasks(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "notification queue disabled"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		respondError(c, fmt.Errorf("%w: limit must be a positive integer", entity.ErrInvalidInput))
		return
	}

	tasks, err := h.queue.FailedTasks(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	respondOK(c, http.StatusOK, tasks)
}

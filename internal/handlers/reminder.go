package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/franzego/salon-reminders/internal/middleware"
	"github.com/franzego/salon-reminders/internal/models"
	"github.com/franzego/salon-reminders/internal/push"
	"github.com/franzego/salon-reminders/internal/reminder"
	"github.com/franzego/salon-reminders/internal/scheduler"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RunTrigger interface {
	Trigger(ctx context.Context, now time.Time) (*reminder.RunSummary, error)
}

type ReminderHandler struct {
	runs    RunTrigger
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewReminderHandler(runs RunTrigger, timeout time.Duration, logger *zap.Logger) *ReminderHandler {
	return &ReminderHandler{
		runs:    runs,
		timeout: timeout,
		now:     time.Now,
		logger:  logger,
	}
}

// RunNow executes one reminder tick synchronously. ?at=<RFC3339> replays the
// tick as of that instant.
func (h *ReminderHandler) RunNow(c *gin.Context) {
	at := h.now()
	if raw := c.Query("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.APIResponse{
				Success: false,
				Error:   err.Error(),
				Message: "at must be an RFC3339 timestamp",
			})
			return
		}
		at = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	summary, err := h.runs.Trigger(ctx, at)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scheduler.ErrRunInProgress):
			status = http.StatusConflict
		case errors.Is(err, push.ErrDispatchDisabled):
			status = http.StatusServiceUnavailable
		}
		h.logger.Warn("manual reminder run failed",
			zap.String(middleware.CorrelationIDKey, c.GetString(middleware.CorrelationIDKey)),
			zap.Error(err),
		)
		resp := models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Reminder run not completed",
		}
		if summary != nil {
			resp.Data = summary
		}
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Reminder run completed",
		Data:    summary,
	})
}

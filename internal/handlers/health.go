package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type QueueStatus interface {
	IsConnected() bool
}

type HealthHandler struct {
	store Pinger
	redis *redis.Client
	queue QueueStatus
	push  interface{ Ready() bool }
}

// NewHealthHandler builds the health check. queue is nil when audit fan-out
// is not configured.
func NewHealthHandler(store Pinger, redis *redis.Client, queue QueueStatus, push interface{ Ready() bool }) *HealthHandler {
	return &HealthHandler{
		store: store,
		redis: redis,
		queue: queue,
		push:  push,
	}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)

	if err := h.store.Ping(ctx); err == nil {
		checks["mongo"] = "healthy"
	} else {
		checks["mongo"] = "unhealthy"
	}

	if err := h.redis.Ping(ctx).Err(); err == nil {
		checks["redis"] = "healthy"
	} else {
		checks["redis"] = "unhealthy"
	}

	// audit fan-out is best effort
	if h.queue != nil {
		if h.queue.IsConnected() {
			checks["rabbitmq"] = "healthy"
		} else {
			checks["rabbitmq"] = "degraded"
		}
	}

	if h.push.Ready() {
		checks["push"] = "healthy"
	} else {
		checks["push"] = "degraded"
	}

	// Determine overall status
	overallStatus := "healthy"
	for _, status := range checks {
		if status == "unhealthy" {
			overallStatus = "unhealthy"
			break
		} else if status == "degraded" {
			overallStatus = "degraded"
		}
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
		"version":   "1.0.0",
	})
}

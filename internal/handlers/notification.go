package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/franzego/salon-reminders/internal/middleware"
	"github.com/franzego/salon-reminders/internal/models"
	"github.com/franzego/salon-reminders/internal/push"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const idempotencyTTL = 24 * time.Hour

// Dispatcher is the shared send, reconcile and record pipeline.
type Dispatcher interface {
	Ready() bool
	Deliver(ctx context.Context, d push.Delivery) (*push.Result, error)
}

type NotificationHandler struct {
	push   Dispatcher
	redis  *redis.Client
	logger *zap.Logger
}

// NewNotificationHandler builds the send endpoint. redis may be nil, in which
// case Idempotency-Key headers are ignored.
func NewNotificationHandler(push Dispatcher, redis *redis.Client, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		push:   push,
		redis:  redis,
		logger: logger,
	}
}

func (n *NotificationHandler) SendPush(c *gin.Context) {
	ctx := c.Request.Context()
	log := n.logger.With(zap.String(middleware.CorrelationIDKey, c.GetString(middleware.CorrelationIDKey)))

	var req models.SendPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Tokens) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No tokens provided"})
		return
	}
	if !n.push.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": push.ErrDispatchDisabled.Error()})
		return
	}

	key := c.GetHeader("Idempotency-Key")
	if key != "" {
		isDuplicate, err := n.CheckIdempotency(ctx, key)
		if err != nil {
			log.Warn("idempotency check failed", zap.Error(err))
		}
		if isDuplicate {
			c.JSON(http.StatusConflict, gin.H{"error": "request already processed"})
			return
		}
	}

	res, err := n.push.Deliver(ctx, push.Delivery{
		Title:        req.Title,
		Body:         req.Body,
		Tokens:       req.Tokens,
		TargetUserID: req.TargetUserID,
		SentBy:       req.SentBy,
		Type:         req.Type,
		Link:         req.URL,
	})
	if err != nil {
		log.Error("push send failed", zap.String("target_user_id", req.TargetUserID), zap.Error(err))
		// a send that reached no device must stay retryable under the same key
		if key != "" && (res == nil || res.SuccessCount == 0) {
			if err := n.ReleaseIdempotency(context.WithoutCancel(ctx), key); err != nil {
				log.Warn("failed to release idempotency key", zap.Error(err))
			}
		}
		status := http.StatusInternalServerError
		if errors.Is(err, push.ErrDispatchDisabled) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, models.SendPushResponse{
		Success:      true,
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
	})
}

// CheckIdempotency claims key for 24h and reports whether it was already
// claimed. Redis failures let the request through.
func (n *NotificationHandler) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	if n.redis == nil {
		return false, nil
	}
	claimed, err := n.redis.SetNX(ctx, idempotencyKey(key), "processing", idempotencyTTL).Result()
	if err != nil {
		return false, err
	}
	return !claimed, nil
}

// ReleaseIdempotency drops a claim so the request can be retried.
func (n *NotificationHandler) ReleaseIdempotency(ctx context.Context, key string) error {
	if n.redis == nil {
		return nil
	}
	return n.redis.Del(ctx, idempotencyKey(key)).Err()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("push:idempotency:%s", key)
}

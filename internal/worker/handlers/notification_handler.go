package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// NotificationRetrier 失败通知重投递抽象
type NotificationRetrier interface {
	RetryFailed(ctx context.Context, limit int) (int, error)
}

type NotificationHandler struct {
	retrier NotificationRetrier
	logger  *zap.Logger
}

func NewNotificationHandler(retrier NotificationRetrier, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		retrier: retrier,
		logger:  logger,
	}
}

func (h *NotificationHandler) HandleNotificationRetry(ctx context.Context, t *asynq.Task) error {
	var p tasks.NotificationRetryPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("json unmarshal failed: %w", err)
		}
	}

	start := time.Now()
	n, err := h.retrier.RetryFailed(ctx, p.Limit)
	observeTask(tasks.TypeNotificationRetry, start, err)
	if err != nil {
		h.logger.Error("通知重试执行失败", zap.Error(err))
		return err
	}
	if n > 0 {
		h.logger.Info("通知重试完成", zap.Int("retried", n))
	}
	return nil
}

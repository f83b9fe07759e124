package handlers

import (
	"context"
	"time"

	"backend/internal/metrics"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// SweepRunner 超时/提醒扫描器抽象，便于注入 mock
type SweepRunner interface {
	SweepTimeouts(ctx context.Context) (int, error)
	SweepReminders(ctx context.Context) (int, error)
}

type SweepHandler struct {
	runner SweepRunner
	logger *zap.Logger
}

func NewSweepHandler(runner SweepRunner, logger *zap.Logger) *SweepHandler {
	return &SweepHandler{
		runner: runner,
		logger: logger,
	}
}

func (h *SweepHandler) HandleTimeoutSweep(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	n, err := h.runner.SweepTimeouts(ctx)
	observeTask(tasks.TypeTimeoutSweep, start, err)
	if err != nil {
		h.logger.Error("超时扫描执行失败", zap.Error(err))
		return err
	}
	if n > 0 {
		h.logger.Info("超时扫描完成", zap.Int("handled", n))
	}
	return nil
}

func (h *SweepHandler) HandleReminderSweep(ctx context.Context, _ *asynq.Task) error {
	start := time.Now()
	n, err := h.runner.SweepReminders(ctx)
	observeTask(tasks.TypeReminderSweep, start, err)
	if err != nil {
		h.logger.Error("提醒扫描执行失败", zap.Error(err))
		return err
	}
	if n > 0 {
		h.logger.Info("提醒扫描完成", zap.Int("sent", n))
	}
	return nil
}

func observeTask(taskType string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	metrics.WorkerTasksTotal.WithLabelValues(taskType, status).Inc()
	metrics.WorkerTaskDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
}

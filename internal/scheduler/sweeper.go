package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/review"
	"backend/internal/workflow"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sweeper 周期性扫描超时步骤与待提醒请求
//
// 所有操作可安全重入：并发扫描或扫描与人为决策竞争时，
// 输掉 CAS 的一方按空操作处理。
type Sweeper struct {
	db     *gorm.DB
	store  *review.Store
	engine *workflow.Engine
	policy *review.PolicyProvider
	rdb    *redis.Client
	sink   review.EventSink
	logger *zap.Logger
}

// SweeperOption 配置扫描器
type SweeperOption func(*Sweeper)

// WithRedis 设置用于提醒去重的 redis 客户端
func WithRedis(rdb *redis.Client) SweeperOption {
	return func(s *Sweeper) { s.rdb = rdb }
}

// WithSweeperSink 设置事件出口
func WithSweeperSink(sink review.EventSink) SweeperOption {
	return func(s *Sweeper) { s.sink = sink }
}

// WithSweeperLogger 设置日志器
func WithSweeperLogger(l *zap.Logger) SweeperOption {
	return func(s *Sweeper) { s.logger = l }
}

// NewSweeper 创建扫描器
func NewSweeper(db *gorm.DB, store *review.Store, engine *workflow.Engine, policy *review.PolicyProvider, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		db:     db,
		store:  store,
		engine: engine,
		policy: policy,
		logger: logger.Named("scheduler.sweeper"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SweepTimeouts 处理超时的审批步骤以及无工作流的过期请求，返回处理数量
func (s *Sweeper) SweepTimeouts(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDurationSeconds.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
	}()

	cfg := s.policy.Snapshot()
	now := time.Now().UTC()
	handled := 0

	steps, workflows, err := s.engine.ListInFlightSteps(ctx)
	if err != nil {
		return 0, err
	}
	for i := range steps {
		step := &steps[i]
		wf := workflows[step.WorkflowID]
		if wf == nil {
			continue
		}
		// 只有当前步骤计时；后续待定步骤尚未开始
		if step.StepIndex != wf.CurrentStepIndex {
			continue
		}
		startedAt := wf.StartedAt
		if step.StartedAt != nil {
			startedAt = *step.StartedAt
		}
		timeout := step.Timeout(s.stepFallbackTimeout(cfg, wf))
		if now.Sub(startedAt) < timeout {
			continue
		}
		if err := s.engine.HandleStepTimeout(ctx, step.WorkflowID, step.StepIndex); err != nil {
			if errors.Is(err, review.ErrStaleStep) {
				continue
			}
			s.logger.Warn("处理步骤超时失败",
				zap.String("workflowId", step.WorkflowID),
				zap.Int("stepIndex", step.StepIndex),
				zap.Error(err))
			continue
		}
		handled++
	}

	n, err := s.expireOrphanRequests(ctx, cfg, now)
	if err != nil {
		return handled, err
	}
	return handled + n, nil
}

// stepFallbackTimeout 按请求类型取默认步骤超时
func (s *Sweeper) stepFallbackTimeout(cfg *review.ReviewConfiguration, wf *workflow.ApprovalWorkflow) time.Duration {
	req, err := s.store.Get(context.Background(), wf.RequestID)
	if err != nil {
		return cfg.DefaultReviewTimeout()
	}
	if tc := cfg.TypeConfig(req.Type); tc != nil && tc.TimeoutSeconds > 0 {
		return time.Duration(tc.TimeoutSeconds) * time.Second
	}
	return cfg.DefaultReviewTimeout()
}

// expireOrphanRequests 让无审批工作流且超过时限的请求过期
func (s *Sweeper) expireOrphanRequests(ctx context.Context, cfg *review.ReviewConfiguration, now time.Time) (int, error) {
	var requests []review.ReviewRequest
	err := s.db.WithContext(ctx).
		Where("status IN ? AND workflow_id IS NULL", []review.ReviewStatus{review.StatusPending, review.StatusInReview}).
		Find(&requests).Error
	if err != nil {
		return 0, fmt.Errorf("查询待过期请求失败: %w", err)
	}

	expired := 0
	for i := range requests {
		req := &requests[i]
		timeout := cfg.DefaultReviewTimeout()
		if tc := cfg.TypeConfig(req.Type); tc != nil && tc.TimeoutSeconds > 0 {
			timeout = time.Duration(tc.TimeoutSeconds) * time.Second
		}
		if now.Sub(req.CreatedAt) < timeout {
			continue
		}
		_, err := s.store.TransitionFrom(ctx, req, review.StatusExpired, &review.TransitionParams{
			ActorID:   "system",
			Automatic: true,
			Comment:   "评审超时自动过期",
		})
		if err != nil {
			if errors.Is(err, review.ErrStaleStep) || errors.Is(err, review.ErrIllegalTransition) {
				continue
			}
			s.logger.Warn("过期评审请求失败", zap.String("requestId", req.ID), zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// SweepReminders 向临近超时的请求处理人发送提醒，返回发送数量
func (s *Sweeper) SweepReminders(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		metrics.SweepDurationSeconds.WithLabelValues("reminder").Observe(time.Since(start).Seconds())
	}()

	cfg := s.policy.Snapshot()
	now := time.Now().UTC()

	var requests []review.ReviewRequest
	err := s.db.WithContext(ctx).
		Where("status IN ?", []review.ReviewStatus{review.StatusPending, review.StatusInReview, review.StatusEscalated}).
		Find(&requests).Error
	if err != nil {
		return 0, fmt.Errorf("查询待提醒请求失败: %w", err)
	}

	sent := 0
	for i := range requests {
		req := &requests[i]
		timeout := cfg.DefaultReviewTimeout()
		if tc := cfg.TypeConfig(req.Type); tc != nil && tc.TimeoutSeconds > 0 {
			timeout = time.Duration(tc.TimeoutSeconds) * time.Second
		}
		// 只提醒临近而尚未越过截止时间的请求；越期的由超时扫描处理
		deadline := req.CreatedAt.Add(timeout)
		if now.Before(deadline.Add(-cfg.ReminderLead())) || !now.Before(deadline) {
			continue
		}
		if !s.shouldRemind(ctx, cfg, req, now) {
			continue
		}
		if s.sink != nil {
			s.sink.Publish(review.Event{
				Kind:       review.EventReminder,
				RequestID:  req.ID,
				ActorID:    "system",
				Automatic:  true,
				OccurredAt: now,
			})
		}
		if err := s.store.MarkReminded(ctx, req.ID, now); err != nil {
			s.logger.Warn("记录提醒时间失败", zap.String("requestId", req.ID), zap.Error(err))
		}
		metrics.RemindersSentTotal.Inc()
		sent++
	}
	return sent, nil
}

// shouldRemind 按通知间隔去重：优先 redis SETNX，降级到库内时间戳
func (s *Sweeper) shouldRemind(ctx context.Context, cfg *review.ReviewConfiguration, req *review.ReviewRequest, now time.Time) bool {
	interval := cfg.NotificationInterval()
	if s.rdb != nil {
		key := "review_reminder:" + req.ID
		ok, err := s.rdb.SetNX(ctx, key, now.Format(time.RFC3339), interval).Result()
		if err == nil {
			return ok
		}
		s.logger.Debug("提醒去重降级到数据库", zap.Error(err))
	}
	if req.LastRemindedAt == nil {
		return true
	}
	return now.Sub(*req.LastRemindedAt) >= interval
}

// Run 以固定周期执行扫描，直到 ctx 取消（无 worker 部署时的进程内模式）
func (s *Sweeper) Run(ctx context.Context) {
	cfg := s.policy.Snapshot()
	ticker := time.NewTicker(cfg.SweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepTimeouts(ctx); err != nil {
				s.logger.Error("超时扫描失败", zap.Error(err))
			}
			if _, err := s.SweepReminders(ctx); err != nil {
				s.logger.Error("提醒扫描失败", zap.Error(err))
			}
		}
	}
}

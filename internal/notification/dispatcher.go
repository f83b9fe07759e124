package notification

import (
	"context"
	"fmt"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/review"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// EmailLookup 将用户 ID 解析为邮箱地址
type EmailLookup interface {
	LookupEmail(ctx context.Context, userID string) (string, error)
}

// Dispatcher 订阅评审事件并落库、分发通知
//
// Publish 立即返回，投递在后台尽力执行；失败的通知保留在库中，
// 由 worker 的重试任务再次投递。
type Dispatcher struct {
	db          *gorm.DB
	notifier    Notifier
	emails      EmailLookup
	channels    []string
	maxAttempts int
	timeout     time.Duration
	logger      *zap.Logger
}

// DispatcherOption 配置分发器
type DispatcherOption func(*Dispatcher)

// WithEmailLookup 设置邮箱解析器
func WithEmailLookup(lookup EmailLookup) DispatcherOption {
	return func(d *Dispatcher) { d.emails = lookup }
}

// WithChannels 设置启用的通知通道
func WithChannels(channels []string) DispatcherOption {
	return func(d *Dispatcher) {
		if len(channels) > 0 {
			d.channels = channels
		}
	}
}

// WithMaxAttempts 设置最大投递次数
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithDispatcherLogger 设置日志器
func WithDispatcherLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher 创建分发器
func NewDispatcher(db *gorm.DB, notifier Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		db:          db,
		notifier:    notifier,
		channels:    []string{"websocket"},
		maxAttempts: 3,
		timeout:     15 * time.Second,
		logger:      logger.Named("notification.dispatcher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// AutoMigrate 迁移通知表
func (d *Dispatcher) AutoMigrate() error {
	return d.db.AutoMigrate(&ReviewNotification{})
}

// Publish 实现 review.EventSink，立即返回
func (d *Dispatcher) Publish(evt review.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.dispatch(ctx, evt); err != nil && d.logger != nil {
			d.logger.Warn("分发评审通知失败",
				zap.String("requestId", evt.RequestID),
				zap.String("kind", string(evt.Kind)),
				zap.Error(err))
		}
	}()
}

// dispatch 落库并尽力投递一个事件
func (d *Dispatcher) dispatch(ctx context.Context, evt review.Event) error {
	var req review.ReviewRequest
	if err := d.db.WithContext(ctx).First(&req, "id = ?", evt.RequestID).Error; err != nil {
		return fmt.Errorf("加载评审请求失败: %w", err)
	}

	subject, body := renderEvent(evt, &req)
	data := map[string]any{
		"requestId": evt.RequestID,
		"kind":      string(evt.Kind),
	}
	if evt.ToStatus != "" {
		data["status"] = string(evt.ToStatus)
	}
	if evt.WorkflowID != "" {
		data["workflowId"] = evt.WorkflowID
		data["stepIndex"] = evt.StepIndex
	}

	records := make([]*ReviewNotification, 0, 4)
	for _, userID := range d.recipients(evt, &req) {
		for _, channel := range d.channels {
			to, ok := d.resolveAddress(ctx, channel, userID)
			if !ok {
				continue
			}
			records = append(records, &ReviewNotification{
				ID:        uuid.New().String(),
				RequestID: evt.RequestID,
				Kind:      string(evt.Kind),
				Channel:   channel,
				To:        to,
				Subject:   subject,
				Body:      body,
				Data:      data,
				Status:    DeliveryPending,
			})
		}
	}
	if len(records) == 0 {
		return nil
	}

	if err := d.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("保存通知记录失败: %w", err)
	}
	for _, rec := range records {
		d.deliverOne(ctx, rec)
	}
	return nil
}

// recipients 计算事件接收人：优先当前处理人，其次请求人，去重且排除事件发起人
func (d *Dispatcher) recipients(evt review.Event, req *review.ReviewRequest) []string {
	seen := make(map[string]struct{}, 2)
	out := make([]string, 0, 2)
	add := func(userID string) {
		if userID == "" || userID == evt.ActorID {
			return
		}
		if _, ok := seen[userID]; ok {
			return
		}
		seen[userID] = struct{}{}
		out = append(out, userID)
	}

	if req.AssignedTo != nil {
		add(*req.AssignedTo)
	}
	// 提醒只发给处理人；状态变更同时通知请求人
	if evt.Kind != review.EventReminder {
		add(req.RequestedBy)
	}
	return out
}

// resolveAddress 将用户 ID 转换成通道地址
func (d *Dispatcher) resolveAddress(ctx context.Context, channel, userID string) (string, bool) {
	switch channel {
	case "websocket":
		return userID, true
	case "email":
		if d.emails == nil {
			return "", false
		}
		email, err := d.emails.LookupEmail(ctx, userID)
		if err != nil || email == "" {
			return "", false
		}
		return email, true
	case "webhook":
		// 空地址表示使用全局 webhook URL
		return "", true
	default:
		return "", false
	}
}

// deliverOne 投递单条通知并记录结果
func (d *Dispatcher) deliverOne(ctx context.Context, rec *ReviewNotification) {
	err := d.notifier.Send(ctx, &Notification{
		Channel: rec.Channel,
		To:      rec.To,
		Subject: rec.Subject,
		Body:    rec.Body,
		Data:    rec.Data,
	})

	now := time.Now().UTC()
	updates := map[string]any{
		"attempts":        gorm.Expr("attempts + 1"),
		"last_attempt_at": now,
	}
	if err != nil {
		updates["status"] = DeliveryFailed
		updates["last_error"] = err.Error()
		metrics.NotificationsSentTotal.WithLabelValues(rec.Channel, "failed").Inc()
		if d.logger != nil {
			d.logger.Warn("投递通知失败",
				zap.String("notificationId", rec.ID),
				zap.String("channel", rec.Channel),
				zap.Error(err))
		}
	} else {
		updates["status"] = DeliverySent
		updates["last_error"] = ""
		metrics.NotificationsSentTotal.WithLabelValues(rec.Channel, "sent").Inc()
	}

	if dbErr := d.db.WithContext(ctx).Model(&ReviewNotification{}).
		Where("id = ?", rec.ID).
		Updates(updates).Error; dbErr != nil && d.logger != nil {
		d.logger.Error("更新通知投递状态失败", zap.String("notificationId", rec.ID), zap.Error(dbErr))
	}
}

// RetryFailed 重试失败且未超过最大次数的通知（worker 任务调用）
func (d *Dispatcher) RetryFailed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []*ReviewNotification
	err := d.db.WithContext(ctx).
		Where("status = ? AND attempts < ?", DeliveryFailed, d.maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return 0, fmt.Errorf("查询待重试通知失败: %w", err)
	}
	for _, rec := range records {
		d.deliverOne(ctx, rec)
	}
	return len(records), nil
}

// ListUnread 返回指定用户的未读站内通知
func (d *Dispatcher) ListUnread(ctx context.Context, userID string, limit int) ([]*ReviewNotification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var records []*ReviewNotification
	err := d.db.WithContext(ctx).
		Where("channel = ? AND \"to\" = ? AND read_at IS NULL", "websocket", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询未读通知失败: %w", err)
	}
	return records, nil
}

// MarkRead 标记通知为已读
func (d *Dispatcher) MarkRead(ctx context.Context, notificationID, userID string) error {
	now := time.Now().UTC()
	result := d.db.WithContext(ctx).Model(&ReviewNotification{}).
		Where("id = ? AND \"to\" = ? AND read_at IS NULL", notificationID, userID).
		Update("read_at", now)
	if result.Error != nil {
		return fmt.Errorf("标记通知已读失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return review.ErrNotFound
	}
	return nil
}

// renderEvent 将事件渲染为通知文案
func renderEvent(evt review.Event, req *review.ReviewRequest) (subject, body string) {
	switch evt.Kind {
	case review.EventStatusChanged:
		subject = fmt.Sprintf("评审请求状态更新: %s", evt.ToStatus)
		body = fmt.Sprintf("评审请求 %s 的状态由 %s 变更为 %s。", req.ID, evt.FromStatus, evt.ToStatus)
		if evt.Comment != "" {
			body += fmt.Sprintf("备注: %s", evt.Comment)
		}
	case review.EventStepChanged:
		subject = fmt.Sprintf("审批步骤更新: 第 %d 步 %s", evt.StepIndex+1, evt.StepStatus)
		body = fmt.Sprintf("评审请求 %s 的审批流程第 %d 步状态变为 %s。", req.ID, evt.StepIndex+1, evt.StepStatus)
	case review.EventReminder:
		subject = "评审请求即将超时"
		body = fmt.Sprintf("评审请求 %s 即将超时，请尽快处理。", req.ID)
	default:
		subject = "评审通知"
		body = fmt.Sprintf("评审请求 %s 有新动态。", req.ID)
	}
	return subject, body
}

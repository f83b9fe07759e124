package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store 评审请求存储：CRUD 与状态迁移守卫
type Store struct {
	db     *gorm.DB
	sink   EventSink
	logger *zap.Logger
}

// StoreOption 自定义配置
type StoreOption func(*Store)

// WithEventSink 注入事件接收端
func WithEventSink(sink EventSink) StoreOption {
	return func(s *Store) { s.sink = sink }
}

// WithStoreLogger 注入自定义日志器
func WithStoreLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// NewStore 创建评审请求存储
func NewStore(db *gorm.DB, opts ...StoreOption) *Store {
	st := &Store{
		db:     db,
		logger: logger.Named("review.store"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(st)
		}
	}
	return st
}

// AutoMigrate 自动迁移表结构
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&ReviewRequest{},
		&ValidationIssue{},
		&HumanFeedback{},
	)
}

// DB 暴露底层连接，供同事务协作方使用
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ============================================================================
// 提交与查询
// ============================================================================

// Submit 创建评审请求：分配标识与时间戳，初始状态 pending
func (s *Store) Submit(ctx context.Context, cfg *ReviewConfiguration, input *SubmitRequest) (*ReviewRequest, error) {
	if strings.TrimSpace(input.OriginalText) == "" {
		return nil, fmt.Errorf("%w: 原始输入不能为空", ErrInvalidRequest)
	}
	if strings.TrimSpace(input.GeneratedSQL) == "" {
		return nil, fmt.Errorf("%w: 生成的 SQL 不能为空", ErrInvalidRequest)
	}
	tc := cfg.TypeConfig(input.Type)
	if tc == nil {
		return nil, fmt.Errorf("%w: 未知的评审类别: %s", ErrInvalidRequest, input.Type)
	}
	if input.ConfidenceScore != nil && (*input.ConfidenceScore < 0 || *input.ConfidenceScore > 1) {
		s.logger.Warn("置信度越界，按人工评审处理",
			zap.Float64("confidence", *input.ConfidenceScore))
	}

	now := time.Now().UTC()
	req := &ReviewRequest{
		ID:               uuid.New().String(),
		OriginalText:     input.OriginalText,
		GeneratedSQL:     input.GeneratedSQL,
		Type:             input.Type,
		Status:           StatusPending,
		Priority:         tc.DefaultPriority,
		RequestedBy:      input.RequestedBy,
		ConfidenceScore:  input.ConfidenceScore,
		RequiresApproval: tc.RequiresApproval,
		Notes:            input.Notes,
		Metadata:         input.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.db.WithContext(ctx).Create(req).Error; err != nil {
		return nil, fmt.Errorf("创建评审请求失败: %w", err)
	}

	metrics.ReviewsSubmittedTotal.WithLabelValues(string(req.Type)).Inc()
	metrics.ReviewPendingGauge.WithLabelValues(string(req.Type)).Inc()
	return req, nil
}

// Get 获取请求详情
func (s *Store) Get(ctx context.Context, id string) (*ReviewRequest, error) {
	var req ReviewRequest
	if err := s.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("查询评审请求失败: %w", err)
	}
	return &req, nil
}

// List 按条件分页查询
func (s *Store) List(ctx context.Context, query *RequestQuery) ([]ReviewRequest, int64, error) {
	if query.PageSize <= 0 || query.PageSize > 100 {
		query.PageSize = 20
	}
	if query.Page <= 0 {
		query.Page = 1
	}

	db := s.db.WithContext(ctx).Model(&ReviewRequest{})
	if query.Status != "" {
		db = db.Where("status = ?", query.Status)
	}
	if query.Type != "" {
		db = db.Where("type = ?", query.Type)
	}
	if query.Priority != "" {
		db = db.Where("priority = ?", query.Priority)
	}
	if query.RequestedBy != "" {
		db = db.Where("requested_by = ?", query.RequestedBy)
	}
	if query.AssignedTo != "" {
		db = db.Where("assigned_to = ?", query.AssignedTo)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", query.EndTime)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计评审请求失败: %w", err)
	}

	var requests []ReviewRequest
	offset := (query.Page - 1) * query.PageSize
	if err := db.Order("created_at DESC").
		Limit(query.PageSize).
		Offset(offset).
		Find(&requests).Error; err != nil {
		return nil, 0, fmt.Errorf("查询评审请求失败: %w", err)
	}
	return requests, total, nil
}

// PendingQueue 待评审队列：高优先级在前，先到先审
func (s *Store) PendingQueue(ctx context.Context, reviewerID string, limit int) ([]ReviewRequest, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	var requests []ReviewRequest
	err := s.db.WithContext(ctx).
		Where("status IN ?", []ReviewStatus{StatusPending, StatusInReview, StatusEscalated}).
		Where("assigned_to IS NULL OR assigned_to = ?", reviewerID).
		Order("CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END, created_at ASC").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("查询待评审队列失败: %w", err)
	}
	return requests, nil
}

// Assign 分配评审人
func (s *Store) Assign(ctx context.Context, requestID, reviewerID string) error {
	result := s.db.WithContext(ctx).Model(&ReviewRequest{}).
		Where("id = ?", requestID).
		Updates(map[string]any{
			"assigned_to": reviewerID,
			"updated_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("分配评审人失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	return nil
}

// ============================================================================
// 状态迁移
// ============================================================================

// TransitionParams 迁移的附加写入
type TransitionParams struct {
	ActorID      string
	Automatic    bool
	Comment      string
	AutoApproved bool
	WorkflowID   *string
	CorrectedSQL *string
}

// Transition 受迁移表约束的状态变更。
// 以 from 状态做条件更新（compare-and-set）：并发迁移中仅一方成功，
// 失败方收到 ErrStaleStep，需重读请求后重试。
func (s *Store) Transition(ctx context.Context, requestID string, to ReviewStatus, params *TransitionParams) (*ReviewRequest, error) {
	if params == nil {
		params = &TransitionParams{}
	}
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.TransitionFrom(ctx, req, to, params)
}

// TransitionFrom 以调用方已读到的状态为前置条件执行迁移
func (s *Store) TransitionFrom(ctx context.Context, req *ReviewRequest, to ReviewStatus, params *TransitionParams) (*ReviewRequest, error) {
	if params == nil {
		params = &TransitionParams{}
	}
	from := req.Status

	// cancel 幂等：取消已取消的请求是成功的空操作
	if to == StatusCancelled && from == StatusCancelled {
		return req, nil
	}
	if err := checkTransition(from, to); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":     to,
		"updated_at": now,
	}
	if to.IsTerminal() {
		updates["reviewed_at"] = now
	}
	if params.AutoApproved {
		updates["auto_approved"] = true
	}
	if params.WorkflowID != nil {
		updates["workflow_id"] = *params.WorkflowID
	}
	if params.CorrectedSQL != nil {
		updates["corrected_sql"] = *params.CorrectedSQL
	}

	result := s.db.WithContext(ctx).Model(&ReviewRequest{}).
		Where("id = ? AND status = ?", req.ID, from).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("更新评审请求状态失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// 另一个迁移抢先落库
		return nil, fmt.Errorf("%w: 请求 %s 状态已不是 %s", ErrStaleStep, req.ID, from)
	}

	req.Status = to
	req.UpdatedAt = now
	if to.IsTerminal() {
		req.ReviewedAt = &now
		metrics.ReviewPendingGauge.WithLabelValues(string(req.Type)).Dec()
		decidedBy := "manual"
		if params.Automatic {
			decidedBy = "system"
		}
		if params.AutoApproved {
			decidedBy = "auto"
		}
		metrics.ReviewDecisionsTotal.WithLabelValues(string(to), decidedBy).Inc()
	}

	s.publish(Event{
		Kind:       EventStatusChanged,
		RequestID:  req.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    params.ActorID,
		Automatic:  params.Automatic,
		Comment:    params.Comment,
		OccurredAt: now,
	})
	return req, nil
}

// MarkReminded 记录提醒时间（提醒去重的持久化兜底）
func (s *Store) MarkReminded(ctx context.Context, requestID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&ReviewRequest{}).
		Where("id = ?", requestID).
		Update("last_reminded_at", at).Error
}

// ============================================================================
// 校验问题
// ============================================================================

// AttachIssue 附加校验问题（除解决字段外只追加）
func (s *Store) AttachIssue(ctx context.Context, requestID string, input *IssueRequest) (*ValidationIssue, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, err
	}
	severity := input.Severity
	if severity == "" {
		severity = SeverityWarning
	}

	var seq int64
	if err := s.db.WithContext(ctx).Model(&ValidationIssue{}).
		Where("request_id = ?", requestID).
		Count(&seq).Error; err != nil {
		return nil, fmt.Errorf("统计校验问题失败: %w", err)
	}

	issue := &ValidationIssue{
		ID:           uuid.New().String(),
		RequestID:    requestID,
		Type:         input.Type,
		Description:  input.Description,
		Severity:     severity,
		Location:     input.Location,
		SuggestedFix: input.SuggestedFix,
		Seq:          int(seq),
	}
	if err := s.db.WithContext(ctx).Create(issue).Error; err != nil {
		return nil, fmt.Errorf("创建校验问题失败: %w", err)
	}
	return issue, nil
}

// ResolveIssue 标记问题已解决；ResolvedBy/ResolvedAt 与 IsResolved 同时写入
func (s *Store) ResolveIssue(ctx context.Context, requestID, issueID, resolver string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&ValidationIssue{}).
		Where("id = ? AND request_id = ? AND is_resolved = ?", issueID, requestID, false).
		Updates(map[string]any{
			"is_resolved": true,
			"resolved_by": resolver,
			"resolved_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("解决校验问题失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: 问题不存在或已解决: %s", ErrNotFound, issueID)
	}
	return nil
}

// ListIssues 按插入顺序返回请求的校验问题
func (s *Store) ListIssues(ctx context.Context, requestID string) ([]ValidationIssue, error) {
	var issues []ValidationIssue
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("seq ASC").
		Find(&issues).Error
	if err != nil {
		return nil, fmt.Errorf("查询校验问题失败: %w", err)
	}
	return issues, nil
}

// ============================================================================
// 人工反馈
// ============================================================================

// RecordFeedback 落库一条评审反馈；质量评分限定 [1,5]
func (s *Store) RecordFeedback(ctx context.Context, requestID, reviewerID string, input *FeedbackRequest) (*HumanFeedback, error) {
	if input.QualityRating != nil && (*input.QualityRating < 1 || *input.QualityRating > 5) {
		return nil, fmt.Errorf("%w: 质量评分必须在 [1,5]: %d", ErrInvalidRequest, *input.QualityRating)
	}
	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, err
	}

	fb := &HumanFeedback{
		ID:            uuid.New().String(),
		RequestID:     requestID,
		ReviewerID:    reviewerID,
		Action:        input.Action,
		Approved:      input.Action == ActionApprove,
		CorrectedSQL:  input.CorrectedSQL,
		Comments:      input.Comments,
		Issues:        input.Issues,
		Suggestions:   input.Suggestions,
		QualityRating: input.QualityRating,
	}
	if err := s.db.WithContext(ctx).Create(fb).Error; err != nil {
		return nil, fmt.Errorf("记录评审反馈失败: %w", err)
	}
	return fb, nil
}

// ListFeedback 返回请求的全部反馈
func (s *Store) ListFeedback(ctx context.Context, requestID string) ([]HumanFeedback, error) {
	var feedbacks []HumanFeedback
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&feedbacks).Error
	if err != nil {
		return nil, fmt.Errorf("查询评审反馈失败: %w", err)
	}
	return feedbacks, nil
}

func (s *Store) publish(evt Event) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(evt)
}

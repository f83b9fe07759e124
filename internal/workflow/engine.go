package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/review"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RoleResolver 将步骤上的角色解析为具体评审人集合。
// 解析结果为空表示“未分配”，不是错误。
type RoleResolver interface {
	ResolveRole(ctx context.Context, role string) ([]string, error)
}

// Engine 审批工作流引擎：驱动工作流与步骤状态机。
// 引擎自身从不阻塞等待，只在评审反馈或超时扫描到来时作为纯反应函数被调用。
type Engine struct {
	db       *gorm.DB
	store    *review.Store
	resolver RoleResolver
	sink     review.EventSink
	logger   *zap.Logger
}

// EngineOption 自定义配置
type EngineOption func(*Engine)

// WithRoleResolver 注入角色解析器
func WithRoleResolver(resolver RoleResolver) EngineOption {
	return func(e *Engine) { e.resolver = resolver }
}

// WithEngineSink 注入事件接收端
func WithEngineSink(sink review.EventSink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

// WithEngineLogger 注入自定义日志器
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine 创建工作流引擎
func NewEngine(db *gorm.DB, store *review.Store, opts ...EngineOption) *Engine {
	eng := &Engine{
		db:     db,
		store:  store,
		logger: logger.Named("workflow.engine"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(eng)
		}
	}
	return eng
}

// AutoMigrate 自动迁移表结构
func (e *Engine) AutoMigrate() error {
	return e.db.AutoMigrate(
		&ApprovalWorkflow{},
		&ApprovalStep{},
	)
}

// ============================================================================
// 工作流创建
// ============================================================================

// StartForRequest 为请求实例化审批链并把请求迁移到 in_review。
// 步骤按 Order 稳定排序：序号相同时保持模板中的先后次序。
func (e *Engine) StartForRequest(ctx context.Context, req *review.ReviewRequest, tc *review.ReviewTypeConfig) (*ApprovalWorkflow, error) {
	if len(tc.Steps) == 0 {
		return nil, fmt.Errorf("%w: 类别 %s 未配置审批链", review.ErrConfigurationError, tc.Type)
	}

	templates := make([]review.StepTemplate, len(tc.Steps))
	copy(templates, tc.Steps)
	sort.SliceStable(templates, func(i, j int) bool {
		return templates[i].Order < templates[j].Order
	})

	now := time.Now().UTC()
	wf := &ApprovalWorkflow{
		ID:        uuid.New().String(),
		RequestID: req.ID,
		Name:      fmt.Sprintf("%s-approval", req.Type),
		Status:    WorkflowInProgress,
		StartedAt: now,
		Context: map[string]any{
			"review_type": string(req.Type),
			"priority":    string(req.Priority),
		},
	}

	steps := make([]ApprovalStep, 0, len(templates))
	for i, tpl := range templates {
		step := ApprovalStep{
			ID:             uuid.New().String(),
			WorkflowID:     wf.ID,
			StepIndex:      i,
			StepOrder:      tpl.Order,
			Name:           tpl.Name,
			Description:    tpl.Description,
			Status:         StepPending,
			IsRequired:     tpl.Required,
			TimeoutSeconds: tpl.TimeoutSeconds,
		}
		if tpl.AssignedRole != "" {
			role := tpl.AssignedRole
			step.AssignedRole = &role
			if assignee := e.resolveAssignee(ctx, role); assignee != "" {
				step.AssigneeID = &assignee
			}
		}
		steps = append(steps, step)
	}

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(wf).Error; err != nil {
			return err
		}
		return tx.Create(&steps).Error
	})
	if err != nil {
		return nil, fmt.Errorf("创建审批工作流失败: %w", err)
	}
	wf.Steps = steps

	if _, err := e.store.TransitionFrom(ctx, req, review.StatusInReview, &review.TransitionParams{
		Automatic:  true,
		WorkflowID: &wf.ID,
	}); err != nil {
		return nil, err
	}

	// 启动第一个步骤
	if err := e.Advance(ctx, wf.ID); err != nil {
		return nil, err
	}
	return e.Get(ctx, wf.ID)
}

// resolveAssignee 取角色解析结果中的第一位评审人；空集合视为未分配
func (e *Engine) resolveAssignee(ctx context.Context, role string) string {
	if e.resolver == nil {
		return ""
	}
	reviewers, err := e.resolver.ResolveRole(ctx, role)
	if err != nil {
		e.logger.Warn("解析审批角色失败，步骤保持未分配",
			zap.String("role", role), zap.Error(err))
		return ""
	}
	if len(reviewers) == 0 {
		return ""
	}
	return reviewers[0]
}

// ============================================================================
// 查询
// ============================================================================

// Get 加载工作流及其步骤
func (e *Engine) Get(ctx context.Context, workflowID string) (*ApprovalWorkflow, error) {
	var wf ApprovalWorkflow
	if err := e.db.WithContext(ctx).First(&wf, "id = ?", workflowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 工作流 %s", review.ErrNotFound, workflowID)
		}
		return nil, fmt.Errorf("查询工作流失败: %w", err)
	}
	if err := e.loadSteps(ctx, &wf); err != nil {
		return nil, err
	}
	e.checkInvariants(&wf)
	return &wf, nil
}

// GetByRequest 按请求 ID 加载工作流
func (e *Engine) GetByRequest(ctx context.Context, requestID string) (*ApprovalWorkflow, error) {
	var wf ApprovalWorkflow
	if err := e.db.WithContext(ctx).First(&wf, "request_id = ?", requestID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 请求 %s 无工作流", review.ErrNotFound, requestID)
		}
		return nil, fmt.Errorf("查询工作流失败: %w", err)
	}
	if err := e.loadSteps(ctx, &wf); err != nil {
		return nil, err
	}
	e.checkInvariants(&wf)
	return &wf, nil
}

// ListInFlightSteps 供超时扫描：返回全部未终态工作流的待定/进行中步骤
func (e *Engine) ListInFlightSteps(ctx context.Context) ([]ApprovalStep, map[string]*ApprovalWorkflow, error) {
	var workflows []ApprovalWorkflow
	if err := e.db.WithContext(ctx).
		Where("status = ?", WorkflowInProgress).
		Find(&workflows).Error; err != nil {
		return nil, nil, fmt.Errorf("查询进行中工作流失败: %w", err)
	}
	if len(workflows) == 0 {
		return nil, nil, nil
	}
	byID := make(map[string]*ApprovalWorkflow, len(workflows))
	ids := make([]string, 0, len(workflows))
	for i := range workflows {
		byID[workflows[i].ID] = &workflows[i]
		ids = append(ids, workflows[i].ID)
	}
	var steps []ApprovalStep
	if err := e.db.WithContext(ctx).
		Where("workflow_id IN ? AND status IN ?", ids, []StepStatus{StepPending, StepInProgress}).
		Order("workflow_id, step_index ASC").
		Find(&steps).Error; err != nil {
		return nil, nil, fmt.Errorf("查询进行中步骤失败: %w", err)
	}
	return steps, byID, nil
}

func (e *Engine) loadSteps(ctx context.Context, wf *ApprovalWorkflow) error {
	if err := e.db.WithContext(ctx).
		Where("workflow_id = ?", wf.ID).
		Order("step_index ASC").
		Find(&wf.Steps).Error; err != nil {
		return fmt.Errorf("加载工作流步骤失败: %w", err)
	}
	return nil
}

// checkInvariants 检测不变量：终态工作流不允许存在仍在进行中的步骤。
// 链条中途失败/过期/取消时，后续从未启动的步骤合法地停留在 pending，
// 不算破坏。这类破坏来自历史缺陷，只上报不自动修复。
func (e *Engine) checkInvariants(wf *ApprovalWorkflow) {
	if !wf.IsTerminal() {
		return
	}
	for i := range wf.Steps {
		if wf.Steps[i].Status == StepInProgress {
			e.logger.Error("检测到工作流不变量被破坏：终态工作流包含进行中的步骤",
				zap.String("workflowId", wf.ID),
				zap.Int("stepIndex", wf.Steps[i].StepIndex),
				zap.String("stepStatus", string(wf.Steps[i].Status)))
		}
	}
}

// ============================================================================
// 推进
// ============================================================================

// Advance 纯反应函数：终态工作流为空操作；当前步骤处于 pending 时
// 将其置为 in_progress 并记录开始时间
func (e *Engine) Advance(ctx context.Context, workflowID string) error {
	wf, err := e.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.IsTerminal() {
		return nil
	}
	if wf.CurrentStepIndex >= len(wf.Steps) {
		return nil
	}
	step := &wf.Steps[wf.CurrentStepIndex]
	if step.Status != StepPending {
		return nil
	}
	now := time.Now().UTC()
	result := e.db.WithContext(ctx).Model(&ApprovalStep{}).
		Where("id = ? AND status = ?", step.ID, StepPending).
		Updates(map[string]any{
			"status":     StepInProgress,
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("启动步骤失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// 并发推进已经启动了该步骤
		return nil
	}
	e.publishStepEvent(wf, step, StepInProgress, "", false)
	return nil
}

// RecordDecision 记录步骤裁决。stepIndex 必须等于工作流当前下标，
// 已终态的步骤或过期的下标返回 ErrStaleStep（与超时扫描竞争时败方重读重试）。
func (e *Engine) RecordDecision(ctx context.Context, workflowID string, stepIndex int, reviewerID string, input *review.FeedbackRequest) (*ApprovalWorkflow, error) {
	wf, err := e.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.IsTerminal() {
		return nil, fmt.Errorf("%w: 工作流 %s 已结束", review.ErrStaleStep, workflowID)
	}
	if stepIndex != wf.CurrentStepIndex {
		return nil, fmt.Errorf("%w: 步骤下标 %d 已过期，当前为 %d", review.ErrStaleStep, stepIndex, wf.CurrentStepIndex)
	}
	if stepIndex >= len(wf.Steps) {
		return nil, fmt.Errorf("%w: 步骤下标越界: %d", review.ErrStaleStep, stepIndex)
	}
	step := &wf.Steps[stepIndex]
	if step.IsTerminal() {
		return nil, fmt.Errorf("%w: 步骤 %s 已终态 %s", review.ErrStaleStep, step.ID, step.Status)
	}

	// 反馈是驱动步骤裁决的唯一合法通道，先落库
	fb, err := e.store.RecordFeedback(ctx, wf.RequestID, reviewerID, input)
	if err != nil {
		return nil, err
	}

	switch input.Action {
	case review.ActionApprove:
		if err := e.completeStep(ctx, wf, step, StepApproved, fb); err != nil {
			return nil, err
		}
		if err := e.advanceAfterStep(ctx, wf, fb); err != nil {
			return nil, err
		}

	case review.ActionReject:
		if step.IsRequired {
			if err := e.completeStep(ctx, wf, step, StepRejected, fb); err != nil {
				return nil, err
			}
			if err := e.finishWorkflow(ctx, wf, WorkflowFailed, "rejected"); err != nil {
				return nil, err
			}
			if _, err := e.store.Transition(ctx, wf.RequestID, review.StatusRejected, &review.TransitionParams{
				ActorID: reviewerID,
				Comment: input.Comments,
			}); err != nil {
				return nil, err
			}
		} else {
			// 非必需步骤的拒绝按跳过处理，链路继续
			if err := e.completeStep(ctx, wf, step, StepSkipped, fb); err != nil {
				return nil, err
			}
			if err := e.advanceAfterStep(ctx, wf, fb); err != nil {
				return nil, err
			}
		}

	case review.ActionRequestChanges:
		if _, err := e.store.Transition(ctx, wf.RequestID, review.StatusRequiresChanges, &review.TransitionParams{
			ActorID: reviewerID,
			Comment: input.Comments,
		}); err != nil {
			return nil, err
		}

	case review.ActionEscalate:
		if _, err := e.store.Transition(ctx, wf.RequestID, review.StatusEscalated, &review.TransitionParams{
			ActorID: reviewerID,
			Comment: input.Comments,
		}); err != nil {
			return nil, err
		}

	case review.ActionDefer:
		// 暂缓：请求与步骤均保持现状

	case review.ActionCancel:
		if err := e.Cancel(ctx, wf.ID, reviewerID); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: 未知的评审动作: %s", review.ErrInvalidRequest, input.Action)
	}

	return e.Get(ctx, wf.ID)
}

// HandleStepTimeout 超时扫描对单个步骤的处理，幂等：
// 已终态的步骤、已推进的下标都是空操作而非错误。
func (e *Engine) HandleStepTimeout(ctx context.Context, workflowID string, stepIndex int) error {
	wf, err := e.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.IsTerminal() {
		return nil
	}
	if stepIndex != wf.CurrentStepIndex || stepIndex >= len(wf.Steps) {
		return nil
	}
	step := &wf.Steps[stepIndex]
	if step.IsTerminal() {
		return nil
	}

	if step.IsRequired {
		if err := e.completeStep(ctx, wf, step, StepExpired, nil); err != nil {
			if errors.Is(err, review.ErrStaleStep) {
				// 评审裁决抢先落库
				return nil
			}
			return err
		}
		metrics.StepTimeoutsTotal.WithLabelValues("expired").Inc()
		if err := e.finishWorkflow(ctx, wf, WorkflowExpired, "expired"); err != nil {
			return err
		}
		_, err := e.store.Transition(ctx, wf.RequestID, review.StatusExpired, &review.TransitionParams{
			Automatic: true,
			Comment:   fmt.Sprintf("步骤 %s 超时", step.Name),
		})
		if errors.Is(err, review.ErrStaleStep) {
			return nil
		}
		return err
	}

	// 非必需步骤超时按跳过处理，链路继续
	if err := e.completeStep(ctx, wf, step, StepSkipped, nil); err != nil {
		if errors.Is(err, review.ErrStaleStep) {
			return nil
		}
		return err
	}
	metrics.StepTimeoutsTotal.WithLabelValues("skipped").Inc()
	return e.advanceAfterStep(ctx, wf, nil)
}

// Cancel 取消工作流与所属请求；对已取消实体为幂等空操作
func (e *Engine) Cancel(ctx context.Context, workflowID, actorID string) error {
	wf, err := e.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if wf.Status == WorkflowCancelled {
		return nil
	}
	if wf.IsTerminal() {
		return fmt.Errorf("%w: 工作流 %s 已结束", review.ErrStaleStep, workflowID)
	}
	if err := e.finishWorkflow(ctx, wf, WorkflowCancelled, "cancelled"); err != nil {
		return err
	}
	_, err = e.store.Transition(ctx, wf.RequestID, review.StatusCancelled, &review.TransitionParams{
		ActorID: actorID,
	})
	return err
}

// ============================================================================
// 内部迁移
// ============================================================================

// completeStep 以 CAS 方式将步骤置为终态
func (e *Engine) completeStep(ctx context.Context, wf *ApprovalWorkflow, step *ApprovalStep, to StepStatus, fb *review.HumanFeedback) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":       to,
		"completed_at": now,
		"updated_at":   now,
	}
	if fb != nil {
		updates["decision"] = string(fb.Action)
		updates["comments"] = fb.Comments
	}
	result := e.db.WithContext(ctx).Model(&ApprovalStep{}).
		Where("id = ? AND status IN ?", step.ID, []StepStatus{StepPending, StepInProgress}).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("更新步骤状态失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: 步骤 %s 已被并发处理", review.ErrStaleStep, step.ID)
	}
	step.Status = to
	step.CompletedAt = &now
	actor := ""
	if fb != nil {
		actor = fb.ReviewerID
	}
	e.publishStepEvent(wf, step, to, actor, fb == nil)
	return nil
}

// advanceAfterStep 当前步骤终态后的推进：最后一步完成则收尾，
// 否则下标加一并启动下一步。下标只增不减。
func (e *Engine) advanceAfterStep(ctx context.Context, wf *ApprovalWorkflow, fb *review.HumanFeedback) error {
	next := wf.CurrentStepIndex + 1
	if next >= len(wf.Steps) {
		if err := e.finishWorkflow(ctx, wf, WorkflowCompleted, "approved"); err != nil {
			return err
		}
		params := &review.TransitionParams{Automatic: fb == nil}
		if fb != nil {
			params.ActorID = fb.ReviewerID
			params.CorrectedSQL = fb.CorrectedSQL
		}
		_, err := e.store.Transition(ctx, wf.RequestID, review.StatusApproved, params)
		return err
	}

	now := time.Now().UTC()
	result := e.db.WithContext(ctx).Model(&ApprovalWorkflow{}).
		Where("id = ? AND status = ? AND current_step_index = ?", wf.ID, WorkflowInProgress, wf.CurrentStepIndex).
		Updates(map[string]any{
			"current_step_index": next,
			"updated_at":         now,
		})
	if result.Error != nil {
		return fmt.Errorf("推进工作流失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: 工作流 %s 已被并发推进", review.ErrStaleStep, wf.ID)
	}
	wf.CurrentStepIndex = next
	return e.Advance(ctx, wf.ID)
}

// finishWorkflow 以 CAS 方式收尾工作流，下标推到步骤总数
func (e *Engine) finishWorkflow(ctx context.Context, wf *ApprovalWorkflow, to WorkflowStatus, decision string) error {
	now := time.Now().UTC()
	result := e.db.WithContext(ctx).Model(&ApprovalWorkflow{}).
		Where("id = ? AND status = ?", wf.ID, WorkflowInProgress).
		Updates(map[string]any{
			"status":             to,
			"final_decision":     decision,
			"current_step_index": len(wf.Steps),
			"completed_at":       now,
			"updated_at":         now,
		})
	if result.Error != nil {
		return fmt.Errorf("结束工作流失败: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: 工作流 %s 已被并发结束", review.ErrStaleStep, wf.ID)
	}
	wf.Status = to
	wf.CurrentStepIndex = len(wf.Steps)
	wf.CompletedAt = &now
	return nil
}

func (e *Engine) publishStepEvent(wf *ApprovalWorkflow, step *ApprovalStep, status StepStatus, actorID string, automatic bool) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(review.Event{
		Kind:       review.EventStepChanged,
		RequestID:  wf.RequestID,
		WorkflowID: wf.ID,
		StepIndex:  step.StepIndex,
		StepStatus: string(status),
		ActorID:    actorID,
		Automatic:  automatic,
		OccurredAt: time.Now().UTC(),
	})
}

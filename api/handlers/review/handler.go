package review

import (
	"errors"
	"io"
	"strconv"

	"backend/internal/auth"
	"backend/internal/common"
	"backend/internal/logger"
	reviewpkg "backend/internal/review"
	"backend/internal/workflow"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler 评审请求 API 处理器
type Handler struct {
	store  *reviewpkg.Store
	engine *workflow.Engine
	policy *reviewpkg.PolicyProvider
	bus    *reviewpkg.EventBus
}

// NewHandler 创建处理器
func NewHandler(store *reviewpkg.Store, engine *workflow.Engine, policy *reviewpkg.PolicyProvider, bus *reviewpkg.EventBus) *Handler {
	return &Handler{store: store, engine: engine, policy: policy, bus: bus}
}

// ============================================================================
// 提交与查询
// ============================================================================

// Submit 提交评审请求
// @Summary 提交 AI 生成的 SQL 评审请求
// @Tags Review
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body reviewpkg.SubmitRequest true "评审内容"
// @Success 201 {object} common.APIResponse
// @Router /api/reviews [post]
func (h *Handler) Submit(c *gin.Context) {
	var input reviewpkg.SubmitRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}
	if userCtx, ok := auth.GetUserContext(c); ok && input.RequestedBy == "" {
		input.RequestedBy = userCtx.UserID
	}

	cfg := h.policy.Snapshot()
	req, err := h.store.Submit(c.Request.Context(), cfg, &input)
	if err != nil {
		respondReviewError(c, err)
		return
	}

	decision, err := cfg.Classify(req)
	if err != nil {
		respondReviewError(c, err)
		return
	}

	// 策略将请求升级为高优先级时同步落库
	if decision.Priority != req.Priority {
		if err := h.store.DB().WithContext(c.Request.Context()).
			Model(&reviewpkg.ReviewRequest{}).
			Where("id = ?", req.ID).
			Update("priority", decision.Priority).Error; err == nil {
			req.Priority = decision.Priority
		}
	}

	switch decision.Outcome {
	case reviewpkg.OutcomeAutoApprove:
		req, err = h.store.Transition(c.Request.Context(), req.ID, reviewpkg.StatusApproved, &reviewpkg.TransitionParams{
			ActorID:      "auto",
			Automatic:    true,
			AutoApproved: true,
			Comment:      "置信度满足自动批准策略",
		})
		if err != nil {
			respondReviewError(c, err)
			return
		}

	case reviewpkg.OutcomeWorkflow:
		if len(decision.Type.Steps) > 0 {
			if _, err := h.engine.StartForRequest(c.Request.Context(), req, decision.Type); err != nil {
				respondReviewError(c, err)
				return
			}
			req, err = h.store.Get(c.Request.Context(), req.ID)
			if err != nil {
				respondReviewError(c, err)
				return
			}
		}
		// 无审批链的类别停留在 pending，由人工队列处理
	}

	common.ResponseCreated(c, req)
}

// List 分页查询评审请求
// @Summary 分页查询评审请求
// @Tags Review
// @Security BearerAuth
// @Produce json
// @Param status query string false "状态"
// @Param type query string false "类别"
// @Param page query int false "页码"
// @Success 200 {object} common.ListResponse
// @Router /api/reviews [get]
func (h *Handler) List(c *gin.Context) {
	var query reviewpkg.RequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		common.ResponseBadRequest(c, "查询参数错误: "+err.Error())
		return
	}

	items, total, err := h.store.List(c.Request.Context(), &query)
	if err != nil {
		respondReviewError(c, err)
		return
	}

	page := common.PaginationRequest{Page: query.Page, PageSize: query.PageSize}
	common.ResponseList(c, items, total, &page)
}

// Get 获取评审请求详情
// @Summary 获取评审请求详情
// @Tags Review
// @Security BearerAuth
// @Produce json
// @Param id path string true "请求ID"
// @Success 200 {object} common.APIResponse
// @Router /api/reviews/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	req, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondReviewError(c, err)
		return
	}
	common.ResponseSuccess(c, req)
}

// Queue 获取当前用户的待办评审队列
// @Summary 获取待办评审队列
// @Tags Review
// @Security BearerAuth
// @Produce json
// @Success 200 {object} common.APIResponse
// @Router /api/reviews/queue [get]
func (h *Handler) Queue(c *gin.Context) {
	userCtx, ok := auth.GetUserContext(c)
	if !ok {
		common.ResponseUnauthorized(c, "")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	items, err := h.store.PendingQueue(c.Request.Context(), userCtx.UserID, limit)
	if err != nil {
		respondReviewError(c, err)
		return
	}
	common.ResponseSuccess(c, items)
}

// Assign 将请求分配给评审人
// @Summary 分配评审人
// @Tags Review
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "请求ID"
// @Success 200 {object} common.APIResponse
// @Router /api/reviews/{id}/assign [post]
func (h *Handler) Assign(c *gin.Context) {
	var body struct {
		ReviewerID string `json:"reviewerId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	if err := h.store.Assign(c.Request.Context(), c.Param("id"), body.ReviewerID); err != nil {
		respondReviewError(c, err)
		return
	}
	common.ResponseSuccessMessage(c, "分配成功", nil)
}

// ============================================================================
// 裁决
// ============================================================================

// Feedback 对请求提交人工反馈（裁决）
// @Summary 提交评审反馈
// @Tags Review
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "请求ID"
// @Param request body reviewpkg.FeedbackRequest true "反馈内容"
// @Success 200 {object} common.APIResponse
// @Router /api/reviews/{id}/feedback [post]
func (h *Handler) Feedback(c *gin.Context) {
	userCtx, ok := auth.GetUserContext(c)
	if !ok {
		common.ResponseUnauthorized(c, "")
		return
	}

	var input reviewpkg.FeedbackRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	req, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondReviewError(c, err)
		return
	}

	// 有审批链的请求走工作流裁决当前步骤，否则按单人评审直接迁移
	if req.WorkflowID != nil {
		wf, err := h.engine.Get(c.Request.Context(), *req.WorkflowID)
		if err != nil {
			respondReviewError(c, err)
			return
		}
		if _, err := h.engine.RecordDecision(c.Request.Context(), wf.ID, wf.CurrentStepIndex, userCtx.UserID, &input); err != nil {
			respondReviewError(c, err)
			return
		}
	} else if err := h.decideWithoutWorkflow(c, req, userCtx.UserID, &input); err != nil {
		respondReviewError(c, err)
		return
	}

	req, err = h.store.Get(c.Request.Context(), req.ID)
	if err != nil {
		respondReviewError(c, err)
		return
	}
	common.ResponseSuccess(c, req)
}

// decideWithoutWorkflow 单人评审路径：反馈落库后直接做请求级迁移
func (h *Handler) decideWithoutWorkflow(c *gin.Context, req *reviewpkg.ReviewRequest, reviewerID string, input *reviewpkg.FeedbackRequest) error {
	ctx := c.Request.Context()
	fb, err := h.store.RecordFeedback(ctx, req.ID, reviewerID, input)
	if err != nil {
		return err
	}

	params := &reviewpkg.TransitionParams{
		ActorID: reviewerID,
		Comment: input.Comments,
	}

	switch input.Action {
	case reviewpkg.ActionApprove:
		params.CorrectedSQL = fb.CorrectedSQL
		_, err = h.store.Transition(ctx, req.ID, reviewpkg.StatusApproved, params)
	case reviewpkg.ActionReject:
		_, err = h.store.Transition(ctx, req.ID, reviewpkg.StatusRejected, params)
	case reviewpkg.ActionRequestChanges:
		_, err = h.store.Transition(ctx, req.ID, reviewpkg.StatusRequiresChanges, params)
	case reviewpkg.ActionEscalate:
		_, err = h.store.Transition(ctx, req.ID, reviewpkg.StatusEscalated, params)
	case reviewpkg.ActionCancel:
		_, err = h.store.Transition(ctx, req.ID, reviewpkg.StatusCancelled, params)
	case reviewpkg.ActionDefer:
		// 暂缓：保持现状
	default:
		err = reviewpkg.ErrInvalidRequest
	}
	return err
}

// Cancel 取消评审请求
// @Summary 取消评审请求
// @Tags Review
// @Security BearerAuth
// @Produce json
// @Param id path string true "请求ID"
// @Success 200 {object} common.APIResponse
// @Router /api/reviews/{id}/cancel [post]
func (h *Handler) Cancel(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	actorID := ""
	if userCtx != nil {
		actorID = userCtx.UserID
	}

	req, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondReviewError(c, err)
		return
	}

	// 先停掉审批链，再迁移请求
	if req.WorkflowID != nil {
		if err := h.engine.Cancel(c.Request.Context(), *req.WorkflowID, actorID); err != nil {
			respondReviewError(c, err)
			return
		}
	} else if _, err := h.store.Transition(c.Request.Context(), req.ID, reviewpkg.StatusCancelled, &reviewpkg.TransitionParams{
		ActorID: actorID,
	}); err != nil {
		respondReviewError(c, err)
		return
	}

	common.ResponseSuccessMessage(c, "已取消", nil)
}

// Resubmit 修改后重新进入评审（requires_changes -> in_review）
// @Summary 重新提交评审
// @Tags Review
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "请求ID"
// @Success 200 {object} common.APIResponse
// @Router /api/reviews/{id}/resubmit [post]
func (h *Handler) Resubmit(c *gin.Context) {
	userCtx, _ := auth.GetUserContext(c)
	actorID := ""
	if userCtx != nil {
		actorID = userCtx.UserID
	}

	var body struct {
		GeneratedSQL string `json:"generatedSql"`
	}
	_ = c.ShouldBindJSON(&body)

	// 修订后的 SQL 先更新，再迁回 in_review
	if body.GeneratedSQL != "" {
		if err := h.store.DB().WithContext(c.Request.Context()).
			Model(&reviewpkg.ReviewRequest{}).
			Where("id = ? AND status = ?", c.Param("id"), reviewpkg.StatusRequiresChanges).
			Update("generated_sql", body.GeneratedSQL).Error; err != nil {
			respondReviewError(c, err)
			return
		}
	}

	req, err := h.store.Transition(c.Request.Context(), c.Param("id"), reviewpkg.StatusInReview, &reviewpkg.TransitionParams{
		ActorID: actorID,
		Comment: "修改后重新提交",
	})
	if err != nil {
		respondReviewError(c, err)
		return
	}
	common.ResponseSuccess(c, req)
}

// ============================================================================
// 校验问题与反馈记录
// ============================================================================

// AddIssue 附加校验问题
// @Summary 附加校验问题
// @Tags Review
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "请求ID"
// @Param request body reviewpkg.IssueRequest true "问题内容"
// @Success 201 {object} common.APIResponse
// @Router /api/reviews/{id}/issues [post]
func (h *Handler) AddIssue(c *gin.Context) {
	var input reviewpkg.IssueRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	issue, err := h.store.AttachIssue(c.Request.Context(), c.Param("id"), &input)
	if err != nil {
		respondReviewError(c, err)
		return
	}
	common.ResponseCreated(c, issue)
}

// ListIssues 列出请求的全部校验问题
// @Summary 列出校验问题
// @Tags Review
// @Security BearerAuth
// @Produce json
// @Param id path string true "请求ID"
// @Success 200 {object} common.APIResponse
// @Router /api/reviews/{id}/issues [get]
func (h *Handler) ListIssues(c *gin.Context) {
	issues, err := h.store.ListIssues(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondReviewError(c, err)
		return
	}
	common.ResponseSuccess(c, issues)
}

// ResolveIssue 标记校验问题已解决
// @Summary 解决校验问题
// @Tags Review
// @Security BearerAuth
// @Produce json
// @Param id path string true "请求ID"
// @Param issueId path string true "问题ID"
// @Success 200 {object} common.APIResponse
// @Router /api/reviews/{id}/issues/{issueId}/resolve [post]
func (h *Handler) ResolveIssue(c *gin.Context) {
	userCtx, ok := auth.GetUserContext(c)
	if !ok {
		common.ResponseUnauthorized(c, "")
		return
	}

	err := h.store.ResolveIssue(c.Request.Context(), c.Param("id"), c.Param("issueId"), userCtx.UserID)
	if err != nil {
		respondReviewError(c, err)
		return
	}
	common.ResponseSuccessMessage(c, "已解决", nil)
}

// ListFeedback 列出请求的反馈记录
// @Summary 列出反馈记录
// @Tags Review
// @Security BearerAuth
// @Produce json
// @Param id path string true "请求ID"
// @Success 200 {object} common.APIResponse
// @Router /api/reviews/{id}/history [get]
func (h *Handler) ListFeedback(c *gin.Context) {
	feedback, err := h.store.ListFeedback(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondReviewError(c, err)
		return
	}
	common.ResponseSuccess(c, feedback)
}

// Watch SSE 订阅单个请求的状态事件流
// @Summary 订阅评审请求事件流
// @Tags Review
// @Security BearerAuth
// @Produce text/event-stream
// @Param id path string true "请求ID"
// @Router /api/reviews/{id}/events [get]
func (h *Handler) Watch(c *gin.Context) {
	requestID := c.Param("id")
	if _, err := h.store.Get(c.Request.Context(), requestID); err != nil {
		respondReviewError(c, err)
		return
	}

	events, cancel := h.bus.Subscribe(requestID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(evt.Kind), evt)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// respondReviewError 评审域错误到业务码的统一映射
func respondReviewError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reviewpkg.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		common.ResponseError(c, common.CodeRequestNotFound, err.Error())
	case errors.Is(err, reviewpkg.ErrInvalidRequest):
		common.ResponseError(c, common.CodeInvalidRequest, err.Error())
	case errors.Is(err, reviewpkg.ErrIllegalTransition):
		common.ResponseError(c, common.CodeIllegalTransition, err.Error())
	case errors.Is(err, reviewpkg.ErrStaleStep):
		common.ResponseError(c, common.CodeStaleStep, err.Error())
	case errors.Is(err, reviewpkg.ErrConfigurationError):
		common.ResponseError(c, common.CodeConfigurationError, err.Error())
	case errors.Is(err, reviewpkg.ErrDependencyUnavailable):
		common.ResponseError(c, common.CodeServiceUnavailable, err.Error())
	default:
		logger.Error("评审操作失败", zap.Error(err))
		common.ResponseServerError(c, err.Error())
	}
}

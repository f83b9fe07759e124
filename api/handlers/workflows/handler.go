package workflows

import (
	"errors"
	"strconv"

	"backend/internal/auth"
	"backend/internal/common"
	reviewpkg "backend/internal/review"
	"backend/internal/workflow"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Handler 审批工作流 API 处理器
type Handler struct {
	engine *workflow.Engine
}

func NewHandler(engine *workflow.Engine) *Handler {
	return &Handler{engine: engine}
}

// Get 获取工作流详情（含步骤）
// @Summary 获取审批工作流详情
// @Tags Workflow
// @Security BearerAuth
// @Produce json
// @Param id path string true "工作流ID"
// @Success 200 {object} common.APIResponse
// @Router /api/workflows/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	wf, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	common.ResponseSuccess(c, wf)
}

// GetByRequest 按评审请求查工作流
// @Summary 按评审请求获取工作流
// @Tags Workflow
// @Security BearerAuth
// @Produce json
// @Param requestId path string true "评审请求ID"
// @Success 200 {object} common.APIResponse
// @Router /api/reviews/{requestId}/workflow [get]
func (h *Handler) GetByRequest(c *gin.Context) {
	wf, err := h.engine.GetByRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	common.ResponseSuccess(c, wf)
}

// StepDecision 对指定步骤提交裁决
// @Summary 提交步骤裁决
// @Tags Workflow
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "工作流ID"
// @Param index path int true "步骤序号"
// @Param request body reviewpkg.FeedbackRequest true "裁决内容"
// @Success 200 {object} common.APIResponse
// @Router /api/workflows/{id}/steps/{index}/decision [post]
func (h *Handler) StepDecision(c *gin.Context) {
	userCtx, ok := auth.GetUserContext(c)
	if !ok {
		common.ResponseUnauthorized(c, "")
		return
	}

	stepIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		common.ResponseBadRequest(c, "步骤序号无效")
		return
	}

	var input reviewpkg.FeedbackRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	wf, err := h.engine.RecordDecision(c.Request.Context(), c.Param("id"), stepIndex, userCtx.UserID, &input)
	if err != nil {
		respondWorkflowError(c, err)
		return
	}
	common.ResponseSuccess(c, wf)
}

func respondWorkflowError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, reviewpkg.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		common.ResponseError(c, common.CodeWorkflowNotFound, err.Error())
	case errors.Is(err, reviewpkg.ErrInvalidRequest):
		common.ResponseError(c, common.CodeInvalidRequest, err.Error())
	case errors.Is(err, reviewpkg.ErrStaleStep):
		common.ResponseError(c, common.CodeStaleStep, err.Error())
	case errors.Is(err, reviewpkg.ErrIllegalTransition):
		common.ResponseError(c, common.CodeIllegalTransition, err.Error())
	case errors.Is(err, reviewpkg.ErrConfigurationError):
		common.ResponseError(c, common.CodeConfigurationError, err.Error())
	default:
		common.ResponseServerError(c, err.Error())
	}
}

package admin

import (
	"errors"

	"backend/internal/common"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	reviewpkg "backend/internal/review"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 运维管理 API 处理器
type Handler struct {
	policy *reviewpkg.PolicyProvider
	queue  queue.Client
}

func NewHandler(policy *reviewpkg.PolicyProvider, queueClient queue.Client) *Handler {
	return &Handler{policy: policy, queue: queueClient}
}

// ReloadPolicy 热更新评审策略
// @Summary 热更新评审策略
// @Tags Admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body reviewpkg.ReviewConfiguration true "完整策略"
// @Success 200 {object} common.APIResponse
// @Router /api/admin/policy/reload [post]
func (h *Handler) ReloadPolicy(c *gin.Context) {
	var cfg reviewpkg.ReviewConfiguration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		common.ResponseBadRequest(c, "请求参数错误: "+err.Error())
		return
	}

	if err := h.policy.Reload(&cfg); err != nil {
		if errors.Is(err, reviewpkg.ErrConfigurationError) {
			common.ResponseError(c, common.CodeConfigurationError, err.Error())
			return
		}
		common.ResponseServerError(c, err.Error())
		return
	}

	// 新策略可能收紧超时，立即触发一次扫描
	if h.queue != nil {
		if err := h.queue.EnqueueTimeoutSweep(); err != nil {
			logger.Warn("触发超时扫描失败", zap.Error(err))
		}
	}

	common.ResponseSuccessMessage(c, "策略已更新", h.policy.Snapshot())
}

// GetPolicy 查看当前生效策略
// @Summary 查看当前评审策略
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} common.APIResponse
// @Router /api/admin/policy [get]
func (h *Handler) GetPolicy(c *gin.Context) {
	common.ResponseSuccess(c, h.policy.Snapshot())
}

// RetryNotifications 手动触发失败通知重投递
// @Summary 触发通知重投递
// @Tags Admin
// @Security BearerAuth
// @Produce json
// @Success 200 {object} common.APIResponse
// @Router /api/admin/notifications/retry [post]
func (h *Handler) RetryNotifications(c *gin.Context) {
	if h.queue == nil {
		common.ResponseError(c, common.CodeServiceUnavailable, "任务队列未启用")
		return
	}
	if err := h.queue.EnqueueNotificationRetry(100); err != nil {
		common.ResponseError(c, common.CodeServiceUnavailable, err.Error())
		return
	}
	common.ResponseSuccessMessage(c, "已提交重投递任务", nil)
}

package analytics

import (
	"net/http"
	"strconv"
	"time"

	"backend/api/handlers/common"
	analyticspkg "backend/internal/analytics"

	"github.com/gin-gonic/gin"
)

// Handler 评审统计 API 处理器
type Handler struct {
	service *analyticspkg.Service
}

func NewHandler(service *analyticspkg.Service) *Handler {
	return &Handler{service: service}
}

// GetReviewStats 获取评审汇总统计
// @Summary 获取评审汇总统计
// @Tags Analytics
// @Security BearerAuth
// @Produce json
// @Param start query string false "起始时间 (RFC3339)"
// @Param end query string false "截止时间 (RFC3339)"
// @Param type query string false "评审类别"
// @Success 200 {object} common.APIResponse
// @Router /api/analytics/reviews [get]
func (h *Handler) GetReviewStats(c *gin.Context) {
	query := analyticspkg.StatsQuery{
		Type: c.Query("type"),
	}
	if raw := c.Query("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.Error(c, http.StatusBadRequest, "start 时间格式错误")
			return
		}
		query.StartTime = &t
	}
	if raw := c.Query("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			common.Error(c, http.StatusBadRequest, "end 时间格式错误")
			return
		}
		query.EndTime = &t
	}

	stats, err := h.service.GetReviewStats(c.Request.Context(), &query)
	if err != nil {
		common.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	common.Success(c, stats)
}

// GetDailyTrend 获取按天的提交/裁决趋势
// @Summary 获取评审趋势
// @Tags Analytics
// @Security BearerAuth
// @Produce json
// @Param days query int false "天数，默认 14，上限 90"
// @Success 200 {object} common.APIResponse
// @Router /api/analytics/reviews/trend [get]
func (h *Handler) GetDailyTrend(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "14"))

	trend, err := h.service.GetDailyTrend(c.Request.Context(), days)
	if err != nil {
		common.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	common.Success(c, trend)
}

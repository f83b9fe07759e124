package api

import (
	"backend/api/handlers/admin"
	"backend/api/handlers/analytics"
	"backend/api/handlers/notifications"
	reviewhandler "backend/api/handlers/review"
	"backend/api/handlers/workflows"
	"backend/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 路由依赖的处理器集合
type Handlers struct {
	Review        *reviewhandler.Handler
	Workflows     *workflows.Handler
	Analytics     *analytics.Handler
	Notifications *notifications.Handler
	Admin         *admin.Handler
	JWT           *auth.JWTService
}

// RegisterRoutes 注册全部路由
func RegisterRoutes(r *gin.Engine, h *Handlers) {
	// 探针与指标，无需认证
	r.GET("/health", HealthCheck)
	r.GET("/ready", ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := r.Group("/api")
	authed.Use(auth.AuthMiddleware(h.JWT))
	{
		reviews := authed.Group("/reviews")
		{
			reviews.POST("", h.Review.Submit)
			reviews.GET("", h.Review.List)
			reviews.GET("/queue", h.Review.Queue)
			reviews.GET("/:id", h.Review.Get)
			reviews.GET("/:id/events", h.Review.Watch)
			reviews.GET("/:id/workflow", h.Workflows.GetByRequest)
			reviews.GET("/:id/history", h.Review.ListFeedback)
			reviews.POST("/:id/assign", h.Review.Assign)
			reviews.POST("/:id/feedback", h.Review.Feedback)
			reviews.POST("/:id/cancel", h.Review.Cancel)
			reviews.POST("/:id/resubmit", h.Review.Resubmit)
			reviews.GET("/:id/issues", h.Review.ListIssues)
			reviews.POST("/:id/issues", h.Review.AddIssue)
			reviews.POST("/:id/issues/:issueId/resolve", h.Review.ResolveIssue)
		}

		wf := authed.Group("/workflows")
		{
			wf.GET("/:id", h.Workflows.Get)
			wf.POST("/:id/steps/:index/decision", h.Workflows.StepDecision)
		}

		stats := authed.Group("/analytics")
		{
			stats.GET("/reviews", h.Analytics.GetReviewStats)
			stats.GET("/reviews/trend", h.Analytics.GetDailyTrend)
		}

		notif := authed.Group("/notifications")
		{
			notif.GET("", h.Notifications.ListUnread)
			notif.POST("/:id/read", h.Notifications.MarkRead)
		}
		authed.GET("/ws/notifications", h.Notifications.Connect)

		adminGroup := authed.Group("/admin")
		adminGroup.Use(auth.RequireRole("admin"))
		{
			adminGroup.GET("/policy", h.Admin.GetPolicy)
			adminGroup.POST("/policy/reload", h.Admin.ReloadPolicy)
			adminGroup.POST("/notifications/retry", h.Admin.RetryNotifications)
		}
	}
}

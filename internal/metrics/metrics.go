package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlreview_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlreview_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets, // 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10
		},
		[]string{"method", "path"},
	)

	// APIRequestSize API 请求体大小（字节）
	APIRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlreview_api_request_size_bytes",
			Help:    "API 请求体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)

	// APIResponseSize API 响应体大小（字节）
	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlreview_api_response_size_bytes",
			Help:    "API 响应体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)
)

// 评审指标
var (
	// ReviewsSubmittedTotal 提交的评审请求总数
	ReviewsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlreview_reviews_submitted_total",
			Help: "提交的评审请求总数",
		},
		[]string{"type"},
	)

	// ReviewPendingGauge 处于未终态的评审请求数量
	ReviewPendingGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sqlreview_reviews_pending",
			Help: "未终态的评审请求数量",
		},
		[]string{"type"},
	)

	// ReviewDecisionsTotal 评审终态裁决总数
	ReviewDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlreview_review_decisions_total",
			Help: "评审终态裁决总数",
		},
		[]string{"status", "decided_by"}, // decided_by: manual/system/auto
	)

	// StepTimeoutsTotal 审批步骤超时处理总数
	StepTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlreview_step_timeouts_total",
			Help: "审批步骤超时处理总数",
		},
		[]string{"outcome"}, // expired/skipped
	)
)

// 调度指标
var (
	// SweepDurationSeconds 扫描耗时（秒）
	SweepDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlreview_sweep_duration_seconds",
			Help:    "超时/提醒扫描耗时分布",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"kind"}, // timeout/reminder
	)

	// RemindersSentTotal 发出的超时提醒总数
	RemindersSentTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlreview_reminders_sent_total",
			Help: "发出的超时提醒总数",
		},
	)
)

// 通知指标
var (
	// NotificationsSentTotal 通知投递总数
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlreview_notifications_sent_total",
			Help: "通知投递总数",
		},
		[]string{"channel", "status"}, // status: sent/failed
	)

	// WebSocketConnectionsGauge 当前 WebSocket 连接数
	WebSocketConnectionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sqlreview_websocket_connections",
			Help: "当前 WebSocket 连接数",
		},
	)
)

// 异步任务指标
var (
	// WorkerTasksTotal 异步任务处理总数
	WorkerTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlreview_worker_tasks_total",
			Help: "异步任务处理总数",
		},
		[]string{"task", "status"},
	)

	// WorkerTaskDuration 异步任务耗时（秒）
	WorkerTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlreview_worker_task_duration_seconds",
			Help:    "异步任务耗时分布",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"task"},
	)
)

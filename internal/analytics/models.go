package analytics

import "time"

// StatsQuery 统计查询窗口（按请求创建时间过滤）
type StatsQuery struct {
	StartTime *time.Time `json:"startTime" form:"startTime"`
	EndTime   *time.Time `json:"endTime" form:"endTime"`
	Type      string     `json:"type" form:"type"`
}

// ReviewStats 评审汇总统计
type ReviewStats struct {
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`

	TotalRequests int64            `json:"totalRequests"`
	ByStatus      map[string]int64 `json:"byStatus"`
	ByType        map[string]int64 `json:"byType"`
	ByPriority    map[string]int64 `json:"byPriority"`

	AutoApproved int64 `json:"autoApproved"`

	// ApprovalRate = approved / (approved + rejected)，无裁决时为 0
	ApprovalRate float64 `json:"approvalRate"`

	// AvgReviewSeconds 终态请求从创建到裁决的平均耗时
	AvgReviewSeconds float64 `json:"avgReviewSeconds"`

	Reviewers []ReviewerStats `json:"reviewers"`
}

// ReviewerStats 单个评审人的工作量统计
type ReviewerStats struct {
	ReviewerID    string  `json:"reviewerId"`
	Decisions     int64   `json:"decisions"`
	Approvals     int64   `json:"approvals"`
	Rejections    int64   `json:"rejections"`
	AvgQuality    float64 `json:"avgQuality"` // 有评分反馈的平均质量分，无评分时为 0
	RatedFeedback int64   `json:"ratedFeedback"`
}

// TrendPoint 按天的请求量趋势点
type TrendPoint struct {
	Date      string `json:"date"`
	Submitted int64  `json:"submitted"`
	Approved  int64  `json:"approved"`
	Rejected  int64  `json:"rejected"`
}

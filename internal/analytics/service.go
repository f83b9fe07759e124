package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"backend/internal/review"

	"gorm.io/gorm"
)

// Service 评审统计服务
//
// 统计均为按需计算：评审量级远低于内容流量，无须预聚合表。
type Service struct {
	db *gorm.DB
}

// NewService 创建统计服务
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// GetReviewStats 汇总窗口内的评审请求统计
func (s *Service) GetReviewStats(ctx context.Context, query *StatsQuery) (*ReviewStats, error) {
	stats := &ReviewStats{
		PeriodStart: time.Now().UTC().AddDate(0, 0, -30),
		PeriodEnd:   time.Now().UTC(),
		ByStatus:    make(map[string]int64),
		ByType:      make(map[string]int64),
		ByPriority:  make(map[string]int64),
	}
	if query.StartTime != nil {
		stats.PeriodStart = *query.StartTime
	}
	if query.EndTime != nil {
		stats.PeriodEnd = *query.EndTime
	}

	base := s.db.WithContext(ctx).Model(&review.ReviewRequest{}).
		Where("created_at >= ? AND created_at < ?", stats.PeriodStart, stats.PeriodEnd)
	if query.Type != "" {
		base = base.Where("type = ?", query.Type)
	}

	var requests []review.ReviewRequest
	if err := base.Select("id", "status", "type", "priority", "auto_approved", "created_at", "reviewed_at").
		Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("查询评审请求失败: %w", err)
	}

	var approved, rejected int64
	var durationSum float64
	var durationCount int64
	for i := range requests {
		req := &requests[i]
		stats.TotalRequests++
		stats.ByStatus[string(req.Status)]++
		stats.ByType[string(req.Type)]++
		stats.ByPriority[string(req.Priority)]++
		if req.AutoApproved {
			stats.AutoApproved++
		}
		switch req.Status {
		case review.StatusApproved:
			approved++
		case review.StatusRejected:
			rejected++
		}
		if req.Status.IsTerminal() && req.ReviewedAt != nil {
			durationSum += req.ReviewedAt.Sub(req.CreatedAt).Seconds()
			durationCount++
		}
	}
	if approved+rejected > 0 {
		stats.ApprovalRate = float64(approved) / float64(approved+rejected)
	}
	if durationCount > 0 {
		stats.AvgReviewSeconds = durationSum / float64(durationCount)
	}

	reviewers, err := s.reviewerStats(ctx, stats.PeriodStart, stats.PeriodEnd)
	if err != nil {
		return nil, err
	}
	stats.Reviewers = reviewers
	return stats, nil
}

// reviewerStats 按评审人聚合反馈
func (s *Service) reviewerStats(ctx context.Context, start, end time.Time) ([]ReviewerStats, error) {
	var feedback []review.HumanFeedback
	err := s.db.WithContext(ctx).Model(&review.HumanFeedback{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Find(&feedback).Error
	if err != nil {
		return nil, fmt.Errorf("查询人工反馈失败: %w", err)
	}

	type acc struct {
		stats      ReviewerStats
		qualitySum int64
	}
	byReviewer := make(map[string]*acc)
	for i := range feedback {
		fb := &feedback[i]
		a, ok := byReviewer[fb.ReviewerID]
		if !ok {
			a = &acc{stats: ReviewerStats{ReviewerID: fb.ReviewerID}}
			byReviewer[fb.ReviewerID] = a
		}
		a.stats.Decisions++
		switch fb.Action {
		case review.ActionApprove:
			a.stats.Approvals++
		case review.ActionReject:
			a.stats.Rejections++
		}
		if fb.QualityRating != nil {
			a.stats.RatedFeedback++
			a.qualitySum += int64(*fb.QualityRating)
		}
	}

	out := make([]ReviewerStats, 0, len(byReviewer))
	for _, a := range byReviewer {
		if a.stats.RatedFeedback > 0 {
			a.stats.AvgQuality = float64(a.qualitySum) / float64(a.stats.RatedFeedback)
		}
		out = append(out, a.stats)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Decisions != out[j].Decisions {
			return out[i].Decisions > out[j].Decisions
		}
		return out[i].ReviewerID < out[j].ReviewerID
	})
	return out, nil
}

// GetDailyTrend 返回最近 days 天的提交/裁决趋势
func (s *Service) GetDailyTrend(ctx context.Context, days int) ([]TrendPoint, error) {
	if days <= 0 || days > 90 {
		days = 14
	}
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -days)

	var requests []review.ReviewRequest
	err := s.db.WithContext(ctx).Model(&review.ReviewRequest{}).
		Select("status", "created_at", "reviewed_at").
		Where("created_at >= ? OR reviewed_at >= ?", start, start).
		Find(&requests).Error
	if err != nil {
		return nil, fmt.Errorf("查询趋势数据失败: %w", err)
	}

	points := make(map[string]*TrendPoint, days)
	for d := 0; d < days; d++ {
		date := start.AddDate(0, 0, d+1).Format("2006-01-02")
		points[date] = &TrendPoint{Date: date}
	}
	for i := range requests {
		req := &requests[i]
		if p, ok := points[req.CreatedAt.UTC().Format("2006-01-02")]; ok {
			p.Submitted++
		}
		if req.ReviewedAt != nil {
			if p, ok := points[req.ReviewedAt.UTC().Format("2006-01-02")]; ok {
				switch req.Status {
				case review.StatusApproved:
					p.Approved++
				case review.StatusRejected:
					p.Rejected++
				}
			}
		}
	}

	out := make([]TrendPoint, 0, len(points))
	for _, p := range points {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

package review

import (
	"time"
)

// ============================================================================
// 评审请求
// ============================================================================

// ReviewRequest 评审请求：一条等待人工裁决的 AI 生成 SQL
type ReviewRequest struct {
	ID string `json:"id" gorm:"primaryKey;type:uuid"`

	// 内容信息
	OriginalText string  `json:"originalText" gorm:"type:text;not null"`  // 用户原始输入（自然语言）
	GeneratedSQL string  `json:"generatedSql" gorm:"type:text;not null"`  // AI 生成的 SQL
	CorrectedSQL *string `json:"correctedSql" gorm:"type:text"`           // 评审后修正的 SQL

	// 分类信息
	Type     ReviewType     `json:"type" gorm:"size:50;not null;index"`
	Status   ReviewStatus   `json:"status" gorm:"size:20;not null;default:pending;index"`
	Priority ReviewPriority `json:"priority" gorm:"size:20;not null;default:normal;index"`

	// 提交与分配
	RequestedBy string  `json:"requestedBy" gorm:"type:uuid;not null;index"`
	AssignedTo  *string `json:"assignedTo" gorm:"type:uuid;index"`

	// 策略评估结果
	ConfidenceScore  *float64 `json:"confidenceScore" gorm:"type:decimal(5,4)"` // AI 置信度 [0,1]
	RequiresApproval bool     `json:"requiresApproval" gorm:"default:true"`
	AutoApproved     bool     `json:"autoApproved" gorm:"default:false"`

	// 工作流绑定（外键，不做对象图导航）
	WorkflowID *string `json:"workflowId" gorm:"type:uuid;index"`

	// 备注
	Notes string `json:"notes" gorm:"type:text"`

	// 附加上下文（库名、来源会话等）
	Metadata map[string]any `json:"metadata" gorm:"type:jsonb;serializer:json"`

	// 提醒记账：上一次 review_reminder 发出时间
	LastRemindedAt *time.Time `json:"lastRemindedAt"`

	// 时间戳
	CreatedAt  time.Time  `json:"createdAt" gorm:"not null;autoCreateTime;index"`
	UpdatedAt  time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	ReviewedAt *time.Time `json:"reviewedAt" gorm:"index"` // 仅在进入终态时写入
}

// TableName 指定表名
func (ReviewRequest) TableName() string {
	return "review_requests"
}

// IsTerminal 请求是否处于终态
func (r *ReviewRequest) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// ReviewStatus 请求状态
type ReviewStatus string

const (
	StatusPending         ReviewStatus = "pending"          // 待评估
	StatusInReview        ReviewStatus = "in_review"        // 评审中
	StatusRequiresChanges ReviewStatus = "requires_changes" // 需修改
	StatusEscalated       ReviewStatus = "escalated"        // 已升级
	StatusApproved        ReviewStatus = "approved"         // 已批准
	StatusRejected        ReviewStatus = "rejected"         // 已拒绝
	StatusCancelled       ReviewStatus = "cancelled"        // 已取消
	StatusExpired         ReviewStatus = "expired"          // 已超时
)

// IsTerminal 是否终态
func (s ReviewStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ReviewType 请求类别
type ReviewType string

const (
	TypeQueryGeneration  ReviewType = "query_generation"  // 查询生成
	TypeDataModification ReviewType = "data_modification" // 数据变更
	TypeSchemaChange     ReviewType = "schema_change"     // 结构变更
	TypeExport           ReviewType = "export"            // 数据导出
)

// ReviewPriority 优先级
type ReviewPriority string

const (
	PriorityLow      ReviewPriority = "low"
	PriorityNormal   ReviewPriority = "normal"
	PriorityHigh     ReviewPriority = "high"
	PriorityCritical ReviewPriority = "critical"
)

// ============================================================================
// 校验问题
// ============================================================================

// ValidationIssue 评审过程中发现的缺陷
type ValidationIssue struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid"`
	RequestID string `json:"requestId" gorm:"type:uuid;not null;index"`

	// 问题内容
	Type         string        `json:"type" gorm:"size:50;not null"` // syntax, semantics, performance, security, style
	Description  string        `json:"description" gorm:"type:text;not null"`
	Severity     IssueSeverity `json:"severity" gorm:"size:20;not null;default:warning"`
	Location     *string       `json:"location" gorm:"size:255"` // 语句内位置描述
	SuggestedFix *string       `json:"suggestedFix" gorm:"type:text"`

	// 解决状态：ResolvedBy/ResolvedAt 仅在 IsResolved 时写入
	IsResolved bool       `json:"isResolved" gorm:"default:false"`
	ResolvedBy *string    `json:"resolvedBy" gorm:"type:uuid"`
	ResolvedAt *time.Time `json:"resolvedAt"`

	// Seq 维持问题的插入顺序
	Seq       int       `json:"seq" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 指定表名
func (ValidationIssue) TableName() string {
	return "validation_issues"
}

// IssueSeverity 问题严重度
type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityWarning  IssueSeverity = "warning"
	SeverityError    IssueSeverity = "error"
	SeverityCritical IssueSeverity = "critical"
)

// ============================================================================
// 人工反馈
// ============================================================================

// HumanFeedback 评审人提交的裁决记录，同时承载工作流步骤决策与临时评审
type HumanFeedback struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	RequestID  string `json:"requestId" gorm:"type:uuid;not null;index"`
	ReviewerID string `json:"reviewerId" gorm:"type:uuid;not null;index"`

	// 裁决
	Action   FeedbackAction `json:"action" gorm:"size:20;not null"`
	Approved bool           `json:"approved" gorm:"default:false"`

	// 内容
	CorrectedSQL *string  `json:"correctedSql" gorm:"type:text"`
	Comments     string   `json:"comments" gorm:"type:text"`
	Issues       []string `json:"issues" gorm:"type:jsonb;serializer:json"`       // 指出的问题
	Suggestions  []string `json:"suggestions" gorm:"type:jsonb;serializer:json"`  // 改进建议

	// 质量评分（1-5，可空）
	QualityRating *int `json:"qualityRating"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
}

// TableName 指定表名
func (HumanFeedback) TableName() string {
	return "human_feedbacks"
}

// FeedbackAction 评审动作
type FeedbackAction string

const (
	ActionApprove        FeedbackAction = "approve"         // 批准
	ActionReject         FeedbackAction = "reject"          // 拒绝
	ActionRequestChanges FeedbackAction = "request_changes" // 要求修改
	ActionEscalate       FeedbackAction = "escalate"        // 升级
	ActionDefer          FeedbackAction = "defer"           // 暂缓
	ActionCancel         FeedbackAction = "cancel"          // 取消
)

// ============================================================================
// 请求/响应类型
// ============================================================================

// SubmitRequest 提交评审请求
type SubmitRequest struct {
	OriginalText    string         `json:"originalText" binding:"required"`
	GeneratedSQL    string         `json:"generatedSql" binding:"required"`
	Type            ReviewType     `json:"type" binding:"required"`
	RequestedBy     string         `json:"requestedBy"`
	ConfidenceScore *float64       `json:"confidenceScore"`
	Notes           string         `json:"notes"`
	Metadata        map[string]any `json:"metadata"`
}

// FeedbackRequest 提交反馈请求
type FeedbackRequest struct {
	Action        FeedbackAction `json:"action" binding:"required"`
	CorrectedSQL  *string        `json:"correctedSql"`
	Comments      string         `json:"comments"`
	Issues        []string       `json:"issues"`
	Suggestions   []string       `json:"suggestions"`
	QualityRating *int           `json:"qualityRating"`
}

// IssueRequest 附加校验问题请求
type IssueRequest struct {
	Type         string        `json:"type" binding:"required"`
	Description  string        `json:"description" binding:"required"`
	Severity     IssueSeverity `json:"severity"`
	Location     *string       `json:"location"`
	SuggestedFix *string       `json:"suggestedFix"`
}

// RequestQuery 请求列表查询
type RequestQuery struct {
	Status      ReviewStatus   `json:"status" form:"status"`
	Type        ReviewType     `json:"type" form:"type"`
	Priority    ReviewPriority `json:"priority" form:"priority"`
	RequestedBy string         `json:"requestedBy" form:"requestedBy"`
	AssignedTo  string         `json:"assignedTo" form:"assignedTo"`
	StartTime   *time.Time     `json:"startTime" form:"startTime"`
	EndTime     *time.Time     `json:"endTime" form:"endTime"`
	Page        int            `json:"page" form:"page"`
	PageSize    int            `json:"pageSize" form:"pageSize"`
}

package workflow

import (
	"time"

	"backend/internal/review"
)

// ============================================================================
// 审批工作流
// ============================================================================

// ApprovalWorkflow 绑定到单个评审请求的有序审批链
type ApprovalWorkflow struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid"`
	RequestID string `json:"requestId" gorm:"type:uuid;not null;uniqueIndex"`
	Name      string `json:"name" gorm:"size:255;not null"`

	// CurrentStepIndex 在 in_progress 期间始终是 Steps 的合法下标，
	// 只有到达终态时才等于步骤总数
	CurrentStepIndex int            `json:"currentStepIndex" gorm:"not null;default:0"`
	Status           WorkflowStatus `json:"status" gorm:"size:20;not null;default:in_progress;index"`

	// 最终裁决（completed/failed 时写入）
	FinalDecision *string `json:"finalDecision" gorm:"size:50"`

	// 自由上下文
	Context map[string]any `json:"context" gorm:"type:jsonb;serializer:json"`

	StartedAt   time.Time  `json:"startedAt" gorm:"not null"`
	CompletedAt *time.Time `json:"completedAt"`
	UpdatedAt   time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`

	// 步骤单独建表，按 step_index 加载
	Steps []ApprovalStep `json:"steps" gorm:"-"`
}

// TableName 指定表名
func (ApprovalWorkflow) TableName() string {
	return "approval_workflows"
}

// IsTerminal 工作流是否终态
func (w *ApprovalWorkflow) IsTerminal() bool {
	return w.Status.IsTerminal()
}

// WorkflowStatus 工作流状态
type WorkflowStatus string

const (
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowCancelled  WorkflowStatus = "cancelled"
	WorkflowFailed     WorkflowStatus = "failed"
	WorkflowExpired    WorkflowStatus = "expired"
)

// IsTerminal 是否终态
func (s WorkflowStatus) IsTerminal() bool {
	return s != WorkflowInProgress
}

// ============================================================================
// 审批步骤
// ============================================================================

// ApprovalStep 审批链中的一个环节
type ApprovalStep struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowID string `json:"workflowId" gorm:"type:uuid;not null;index"`

	// StepIndex 是稳定排序后的执行位置；StepOrder 保留提交方指定的原始序号，
	// 序号相同时按插入顺序执行
	StepIndex int `json:"stepIndex" gorm:"not null"`
	StepOrder int `json:"stepOrder" gorm:"not null"`

	Name        string `json:"name" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"size:500"`

	// 分配：具体评审人或角色（角色由身份服务解析）
	AssigneeID   *string `json:"assigneeId" gorm:"type:uuid"`
	AssignedRole *string `json:"assignedRole" gorm:"size:100"`

	Status   StepStatus `json:"status" gorm:"size:20;not null;default:pending;index"`
	Decision string     `json:"decision" gorm:"size:50"`
	Comments string     `json:"comments" gorm:"type:text"`

	IsRequired bool `json:"isRequired" gorm:"default:true"`

	// TimeoutSeconds 为 0 时继承策略默认超时
	TimeoutSeconds int `json:"timeoutSeconds" gorm:"default:0"`

	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	CreatedAt   time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (ApprovalStep) TableName() string {
	return "approval_steps"
}

// IsTerminal 步骤是否终态
func (s *ApprovalStep) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// Timeout 步骤生效的超时时长
func (s *ApprovalStep) Timeout(fallback time.Duration) time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return fallback
}

// StepStatus 步骤状态
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepApproved   StepStatus = "approved"
	StepRejected   StepStatus = "rejected"
	StepSkipped    StepStatus = "skipped"
	StepExpired    StepStatus = "expired"
)

// IsTerminal 是否终态
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepApproved, StepRejected, StepSkipped, StepExpired:
		return true
	}
	return false
}

// ============================================================================
// 请求类型
// ============================================================================

// DecisionRequest 步骤裁决请求
type DecisionRequest struct {
	StepIndex int                   `json:"stepIndex"`
	Feedback  review.FeedbackRequest `json:"feedback"`
}

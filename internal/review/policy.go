package review

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Knetic/govaluate"
)

// ============================================================================
// 评审策略配置
// ============================================================================

// ReviewConfiguration 过程级策略，引擎在单次评估内只读，评估之间可热更新
type ReviewConfiguration struct {
	AutoApprovalThreshold float64 `mapstructure:"auto_approval_threshold"` // 置信度 >= 此值且类型免审批时自动通过
	ManualReviewThreshold float64 `mapstructure:"manual_review_threshold"` // 置信度 < 此值时强制高优先级人工评审

	DefaultReviewTimeoutSeconds int `mapstructure:"default_review_timeout_seconds"` // 请求/步骤默认超时
	NotificationIntervalSeconds int `mapstructure:"notification_interval_seconds"`  // 同一请求提醒的最小间隔
	SweepIntervalSeconds        int `mapstructure:"sweep_interval_seconds"`         // 超时扫描周期
	ReminderLeadSeconds         int `mapstructure:"reminder_lead_seconds"`          // 临近超时提醒的提前量

	Types []ReviewTypeConfig `mapstructure:"types"`
}

// ReviewTypeConfig 按请求类别的策略
type ReviewTypeConfig struct {
	Type             ReviewType     `mapstructure:"type"`
	RequiresApproval bool           `mapstructure:"requires_approval"`
	DefaultPriority  ReviewPriority `mapstructure:"default_priority"`
	TimeoutSeconds   int            `mapstructure:"timeout_seconds"` // 0 表示继承默认超时

	// AutoApproveCondition 可选的 govaluate 表达式，变量为 confidence 与请求元数据。
	// 仅在阈值检查之外需要更细的豁免规则时配置。
	AutoApproveCondition string `mapstructure:"auto_approve_condition"`

	Steps []StepTemplate `mapstructure:"steps"` // 审批链模板
}

// StepTemplate 审批链步骤模板
type StepTemplate struct {
	Name           string `mapstructure:"name"`
	Description    string `mapstructure:"description"`
	AssignedRole   string `mapstructure:"assigned_role"` // 由身份服务解析为具体评审人
	Required       bool   `mapstructure:"required"`
	Order          int    `mapstructure:"order"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DefaultReviewTimeout 默认超时时长
func (c *ReviewConfiguration) DefaultReviewTimeout() time.Duration {
	return time.Duration(c.DefaultReviewTimeoutSeconds) * time.Second
}

// NotificationInterval 提醒间隔
func (c *ReviewConfiguration) NotificationInterval() time.Duration {
	return time.Duration(c.NotificationIntervalSeconds) * time.Second
}

// SweepInterval 扫描周期
func (c *ReviewConfiguration) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// ReminderLead 提醒提前量
func (c *ReviewConfiguration) ReminderLead() time.Duration {
	return time.Duration(c.ReminderLeadSeconds) * time.Second
}

// TypeConfig 按类别取策略，未知类别返回 nil
func (c *ReviewConfiguration) TypeConfig(t ReviewType) *ReviewTypeConfig {
	for i := range c.Types {
		if c.Types[i].Type == t {
			return &c.Types[i]
		}
	}
	return nil
}

// Validate 校验策略，失败即 ErrConfigurationError（启动期致命）
func (c *ReviewConfiguration) Validate() error {
	if c.AutoApprovalThreshold < 0 || c.AutoApprovalThreshold > 1 {
		return fmt.Errorf("%w: auto_approval_threshold 必须在 [0,1]: %v", ErrConfigurationError, c.AutoApprovalThreshold)
	}
	if c.ManualReviewThreshold < 0 || c.ManualReviewThreshold > 1 {
		return fmt.Errorf("%w: manual_review_threshold 必须在 [0,1]: %v", ErrConfigurationError, c.ManualReviewThreshold)
	}
	if c.ManualReviewThreshold > c.AutoApprovalThreshold {
		return fmt.Errorf("%w: manual_review_threshold 不能大于 auto_approval_threshold", ErrConfigurationError)
	}
	if c.DefaultReviewTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: default_review_timeout_seconds 必须为正", ErrConfigurationError)
	}
	if c.NotificationIntervalSeconds <= 0 {
		return fmt.Errorf("%w: notification_interval_seconds 必须为正", ErrConfigurationError)
	}
	if c.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("%w: sweep_interval_seconds 必须为正", ErrConfigurationError)
	}
	if len(c.Types) == 0 {
		return fmt.Errorf("%w: 至少配置一个评审类别", ErrConfigurationError)
	}
	seen := make(map[ReviewType]struct{}, len(c.Types))
	for i := range c.Types {
		tc := &c.Types[i]
		if strings.TrimSpace(string(tc.Type)) == "" {
			return fmt.Errorf("%w: 类别名不能为空", ErrConfigurationError)
		}
		if _, ok := seen[tc.Type]; ok {
			return fmt.Errorf("%w: 类别重复: %s", ErrConfigurationError, tc.Type)
		}
		seen[tc.Type] = struct{}{}
		if tc.DefaultPriority == "" {
			tc.DefaultPriority = PriorityNormal
		}
		if tc.AutoApproveCondition != "" {
			if _, err := govaluate.NewEvaluableExpression(tc.AutoApproveCondition); err != nil {
				return fmt.Errorf("%w: 类别 %s 的 auto_approve_condition 解析失败: %v", ErrConfigurationError, tc.Type, err)
			}
		}
		if tc.RequiresApproval && len(tc.Steps) == 0 {
			return fmt.Errorf("%w: 类别 %s 需要审批但未配置审批链", ErrConfigurationError, tc.Type)
		}
	}
	return nil
}

// ============================================================================
// 策略提供者
// ============================================================================

// PolicyProvider 持有当前策略快照；Reload 只在两次评估之间生效，
// 单次迁移过程中读到的始终是同一份快照
type PolicyProvider struct {
	mu  sync.RWMutex
	cfg *ReviewConfiguration
}

// NewPolicyProvider 创建策略提供者（配置先经 Validate）
func NewPolicyProvider(cfg *ReviewConfiguration) (*PolicyProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: 缺少评审策略", ErrConfigurationError)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &PolicyProvider{cfg: cfg}, nil
}

// Snapshot 返回当前策略快照
func (p *PolicyProvider) Snapshot() *ReviewConfiguration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Reload 原子替换策略；校验失败时保留旧策略
func (p *PolicyProvider) Reload(cfg *ReviewConfiguration) error {
	if cfg == nil {
		return fmt.Errorf("%w: 缺少评审策略", ErrConfigurationError)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	return nil
}

// ============================================================================
// 分类决策
// ============================================================================

// ClassifyOutcome 分类结果
type ClassifyOutcome string

const (
	OutcomeAutoApprove ClassifyOutcome = "auto_approve" // 直接批准，不建工作流
	OutcomeWorkflow    ClassifyOutcome = "workflow"     // 进入审批链
)

// ClassifyDecision 确定性的策略评估结果
type ClassifyDecision struct {
	Outcome  ClassifyOutcome
	Priority ReviewPriority
	Type     *ReviewTypeConfig
}

// Classify 纯策略函数：根据置信度与类别配置决定请求去向。
// 缺失或越界的置信度按最保守情况处理（强制人工评审）。
func (c *ReviewConfiguration) Classify(req *ReviewRequest) (*ClassifyDecision, error) {
	tc := c.TypeConfig(req.Type)
	if tc == nil {
		return nil, fmt.Errorf("%w: 未知的评审类别: %s", ErrInvalidRequest, req.Type)
	}

	decision := &ClassifyDecision{Priority: tc.DefaultPriority, Type: tc}

	confidence, ok := usableConfidence(req.ConfidenceScore)
	if !ok {
		// 置信度来源不可信：路由到人工评审，提升优先级
		decision.Outcome = OutcomeWorkflow
		decision.Priority = PriorityHigh
		return decision, nil
	}

	if !tc.RequiresApproval && confidence >= c.AutoApprovalThreshold {
		decision.Outcome = OutcomeAutoApprove
		return decision, nil
	}
	if !tc.RequiresApproval && tc.AutoApproveCondition != "" {
		passed, err := evalAutoApprove(tc.AutoApproveCondition, confidence, req.Metadata)
		if err == nil && passed {
			decision.Outcome = OutcomeAutoApprove
			return decision, nil
		}
		// 表达式错误按不放行处理
	}

	decision.Outcome = OutcomeWorkflow
	if confidence < c.ManualReviewThreshold {
		decision.Priority = PriorityHigh
	}
	return decision, nil
}

// usableConfidence 置信度在 [0,1] 之外或缺失时视为不可用
func usableConfidence(score *float64) (float64, bool) {
	if score == nil {
		return 0, false
	}
	if *score < 0 || *score > 1 {
		return 0, false
	}
	return *score, true
}

// evalAutoApprove 用 govaluate 评估类别级豁免表达式
func evalAutoApprove(condition string, confidence float64, metadata map[string]any) (bool, error) {
	expr, err := govaluate.NewEvaluableExpression(condition)
	if err != nil {
		return false, fmt.Errorf("解析豁免表达式失败: %w", err)
	}
	params := map[string]any{"confidence": confidence}
	for k, v := range metadata {
		if _, exists := params[k]; !exists {
			params[k] = v
		}
	}
	result, err := expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("评估豁免表达式失败: %w", err)
	}
	passed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("豁免表达式必须返回布尔值: %v", result)
	}
	return passed, nil
}

package workflow

import (
	"context"
	"fmt"
	"testing"

	"backend/internal/review"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type staticResolver struct {
	members map[string][]string
}

func (s *staticResolver) ResolveRole(_ context.Context, role string) ([]string, error) {
	return s.members[role], nil
}

func openTestDB(t *testing.T) *gorm.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&review.ReviewRequest{},
		&review.ValidationIssue{},
		&review.HumanFeedback{},
		&ApprovalWorkflow{},
		&ApprovalStep{},
	))
	return db
}

func newEngine(t *testing.T) (*Engine, *review.Store) {
	db := openTestDB(t)
	store := review.NewStore(db)
	engine := NewEngine(db, store, WithRoleResolver(&staticResolver{
		members: map[string][]string{
			"dba":           {"dba-1", "dba-2"},
			"platform_lead": {"lead-1"},
		},
	}))
	return engine, store
}

func twoStepType() *review.ReviewTypeConfig {
	return &review.ReviewTypeConfig{
		Type:             review.TypeSchemaChange,
		RequiresApproval: true,
		DefaultPriority:  review.PriorityCritical,
		Steps: []review.StepTemplate{
			{Name: "DBA 审批", AssignedRole: "dba", Required: true, Order: 0},
			{Name: "平台负责人审批", AssignedRole: "platform_lead", Required: true, Order: 1},
		},
	}
}

func startWorkflow(t *testing.T, engine *Engine, store *review.Store, tc *review.ReviewTypeConfig) (*ApprovalWorkflow, *review.ReviewRequest) {
	req, err := store.Submit(context.Background(), &review.ReviewConfiguration{
		AutoApprovalThreshold:       0.9,
		ManualReviewThreshold:       0.5,
		DefaultReviewTimeoutSeconds: 3600,
		NotificationIntervalSeconds: 1800,
		SweepIntervalSeconds:        60,
		Types:                       []review.ReviewTypeConfig{*tc},
	}, &review.SubmitRequest{
		OriginalText: "给订单表加个索引",
		GeneratedSQL: "CREATE INDEX idx_orders_created ON orders(created_at)",
		Type:         tc.Type,
		RequestedBy:  "user-1",
	})
	require.NoError(t, err)

	wf, err := engine.StartForRequest(context.Background(), req, tc)
	require.NoError(t, err)
	return wf, req
}

func TestStartForRequestInstantiatesChain(t *testing.T) {
	engine, store := newEngine(t)
	wf, req := startWorkflow(t, engine, store, twoStepType())

	require.Equal(t, WorkflowInProgress, wf.Status)
	require.Equal(t, 0, wf.CurrentStepIndex)
	require.Len(t, wf.Steps, 2)

	// 第一步已启动，第二步还在等待
	require.Equal(t, StepInProgress, wf.Steps[0].Status)
	require.NotNil(t, wf.Steps[0].StartedAt)
	require.Equal(t, StepPending, wf.Steps[1].Status)

	// 角色解析取第一位评审人
	require.NotNil(t, wf.Steps[0].AssigneeID)
	require.Equal(t, "dba-1", *wf.Steps[0].AssigneeID)

	// 请求已迁入 in_review 并绑定工作流
	got, err := store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusInReview, got.Status)
	require.NotNil(t, got.WorkflowID)
	require.Equal(t, wf.ID, *got.WorkflowID)
}

func TestStartForRequestWithoutStepsFails(t *testing.T) {
	engine, store := newEngine(t)
	tc := &review.ReviewTypeConfig{Type: review.TypeQueryGeneration}

	req, err := store.Submit(context.Background(), &review.ReviewConfiguration{
		AutoApprovalThreshold:       0.9,
		ManualReviewThreshold:       0.5,
		DefaultReviewTimeoutSeconds: 3600,
		NotificationIntervalSeconds: 1800,
		SweepIntervalSeconds:        60,
		Types:                       []review.ReviewTypeConfig{*tc},
	}, &review.SubmitRequest{
		OriginalText: "查询",
		GeneratedSQL: "SELECT 1",
		Type:         tc.Type,
	})
	require.NoError(t, err)

	_, err = engine.StartForRequest(context.Background(), req, tc)
	require.ErrorIs(t, err, review.ErrConfigurationError)
}

func TestApproveAllStepsCompletesWorkflow(t *testing.T) {
	engine, store := newEngine(t)
	wf, req := startWorkflow(t, engine, store, twoStepType())
	ctx := context.Background()

	wf, err := engine.RecordDecision(ctx, wf.ID, 0, "dba-1", &review.FeedbackRequest{
		Action:   review.ActionApprove,
		Comments: "索引合理",
	})
	require.NoError(t, err)
	require.Equal(t, WorkflowInProgress, wf.Status)
	require.Equal(t, 1, wf.CurrentStepIndex)
	require.Equal(t, StepApproved, wf.Steps[0].Status)
	require.Equal(t, StepInProgress, wf.Steps[1].Status)

	corrected := "CREATE INDEX CONCURRENTLY idx_orders_created ON orders(created_at)"
	wf, err = engine.RecordDecision(ctx, wf.ID, 1, "lead-1", &review.FeedbackRequest{
		Action:       review.ActionApprove,
		CorrectedSQL: &corrected,
	})
	require.NoError(t, err)
	require.Equal(t, WorkflowCompleted, wf.Status)
	require.Equal(t, 2, wf.CurrentStepIndex)
	require.NotNil(t, wf.CompletedAt)
	require.NotNil(t, wf.FinalDecision)
	require.Equal(t, "approved", *wf.FinalDecision)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusApproved, got.Status)
	require.NotNil(t, got.ReviewedAt)
	require.NotNil(t, got.CorrectedSQL)
	require.Equal(t, corrected, *got.CorrectedSQL)
}

func TestRejectRequiredStepFailsWorkflow(t *testing.T) {
	engine, store := newEngine(t)
	wf, req := startWorkflow(t, engine, store, twoStepType())
	ctx := context.Background()

	wf, err := engine.RecordDecision(ctx, wf.ID, 0, "dba-1", &review.FeedbackRequest{
		Action:   review.ActionReject,
		Comments: "锁表风险太高",
	})
	require.NoError(t, err)
	require.Equal(t, WorkflowFailed, wf.Status)
	require.Equal(t, StepRejected, wf.Steps[0].Status)
	// 后续步骤不再启动
	require.Equal(t, StepPending, wf.Steps[1].Status)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusRejected, got.Status)
	require.NotNil(t, got.ReviewedAt)
}

func TestRejectOptionalStepSkipsAndContinues(t *testing.T) {
	engine, store := newEngine(t)
	tc := &review.ReviewTypeConfig{
		Type:             review.TypeExport,
		RequiresApproval: true,
		DefaultPriority:  review.PriorityHigh,
		Steps: []review.StepTemplate{
			{Name: "合规复核", Required: false, Order: 0},
			{Name: "数据安全审批", AssignedRole: "dba", Required: true, Order: 1},
		},
	}
	wf, req := startWorkflow(t, engine, store, tc)
	ctx := context.Background()

	wf, err := engine.RecordDecision(ctx, wf.ID, 0, "compliance-1", &review.FeedbackRequest{
		Action: review.ActionReject,
	})
	require.NoError(t, err)
	require.Equal(t, WorkflowInProgress, wf.Status)
	require.Equal(t, StepSkipped, wf.Steps[0].Status)
	require.Equal(t, 1, wf.CurrentStepIndex)
	require.Equal(t, StepInProgress, wf.Steps[1].Status)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusInReview, got.Status)
}

func TestDecisionOnStaleIndexReturnsStaleStep(t *testing.T) {
	engine, store := newEngine(t)
	wf, _ := startWorkflow(t, engine, store, twoStepType())
	ctx := context.Background()

	wf, err := engine.RecordDecision(ctx, wf.ID, 0, "dba-1", &review.FeedbackRequest{
		Action: review.ActionApprove,
	})
	require.NoError(t, err)

	// 用过期下标重复提交
	_, err = engine.RecordDecision(ctx, wf.ID, 0, "dba-2", &review.FeedbackRequest{
		Action: review.ActionApprove,
	})
	require.ErrorIs(t, err, review.ErrStaleStep)

	// 越界下标同样拒绝
	_, err = engine.RecordDecision(ctx, wf.ID, 5, "dba-2", &review.FeedbackRequest{
		Action: review.ActionApprove,
	})
	require.ErrorIs(t, err, review.ErrStaleStep)
}

func TestDecisionOnFinishedWorkflowReturnsStaleStep(t *testing.T) {
	engine, store := newEngine(t)
	tc := &review.ReviewTypeConfig{
		Type:             review.TypeDataModification,
		RequiresApproval: true,
		DefaultPriority:  review.PriorityHigh,
		Steps:            []review.StepTemplate{{Name: "DBA 审批", AssignedRole: "dba", Required: true}},
	}
	wf, _ := startWorkflow(t, engine, store, tc)
	ctx := context.Background()

	_, err := engine.RecordDecision(ctx, wf.ID, 0, "dba-1", &review.FeedbackRequest{
		Action: review.ActionApprove,
	})
	require.NoError(t, err)

	_, err = engine.RecordDecision(ctx, wf.ID, 0, "dba-2", &review.FeedbackRequest{
		Action: review.ActionReject,
	})
	require.ErrorIs(t, err, review.ErrStaleStep)
}

func TestRequestChangesKeepsWorkflowOpen(t *testing.T) {
	engine, store := newEngine(t)
	wf, req := startWorkflow(t, engine, store, twoStepType())
	ctx := context.Background()

	wf, err := engine.RecordDecision(ctx, wf.ID, 0, "dba-1", &review.FeedbackRequest{
		Action:   review.ActionRequestChanges,
		Comments: "请改成并发建索引",
	})
	require.NoError(t, err)
	// 步骤与工作流保持现状，等待修改后重新进入评审
	require.Equal(t, WorkflowInProgress, wf.Status)
	require.Equal(t, 0, wf.CurrentStepIndex)
	require.Equal(t, StepInProgress, wf.Steps[0].Status)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusRequiresChanges, got.Status)

	// 修改后重新提交
	_, err = store.Transition(ctx, req.ID, review.StatusInReview, &review.TransitionParams{ActorID: "user-1"})
	require.NoError(t, err)

	// 评审可以继续
	wf, err = engine.RecordDecision(ctx, wf.ID, 0, "dba-1", &review.FeedbackRequest{
		Action: review.ActionApprove,
	})
	require.NoError(t, err)
	require.Equal(t, 1, wf.CurrentStepIndex)
}

func TestHandleStepTimeoutRequiredExpiresEverything(t *testing.T) {
	engine, store := newEngine(t)
	wf, req := startWorkflow(t, engine, store, twoStepType())
	ctx := context.Background()

	require.NoError(t, engine.HandleStepTimeout(ctx, wf.ID, 0))

	wf, err := engine.Get(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowExpired, wf.Status)
	require.Equal(t, StepExpired, wf.Steps[0].Status)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusExpired, got.Status)
	require.NotNil(t, got.ReviewedAt)

	// 重复处理是幂等空操作
	require.NoError(t, engine.HandleStepTimeout(ctx, wf.ID, 0))
}

func TestHandleStepTimeoutOptionalSkipsAndAdvances(t *testing.T) {
	engine, store := newEngine(t)
	tc := &review.ReviewTypeConfig{
		Type:             review.TypeExport,
		RequiresApproval: true,
		DefaultPriority:  review.PriorityHigh,
		Steps: []review.StepTemplate{
			{Name: "合规复核", Required: false, Order: 0},
			{Name: "数据安全审批", AssignedRole: "dba", Required: true, Order: 1},
		},
	}
	wf, req := startWorkflow(t, engine, store, tc)
	ctx := context.Background()

	require.NoError(t, engine.HandleStepTimeout(ctx, wf.ID, 0))

	wf, err := engine.Get(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowInProgress, wf.Status)
	require.Equal(t, StepSkipped, wf.Steps[0].Status)
	require.Equal(t, 1, wf.CurrentStepIndex)
	require.Equal(t, StepInProgress, wf.Steps[1].Status)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusInReview, got.Status)

	// 陈旧下标的超时是空操作
	require.NoError(t, engine.HandleStepTimeout(ctx, wf.ID, 0))
}

func TestCancelWorkflowCancelsRequest(t *testing.T) {
	engine, store := newEngine(t)
	wf, req := startWorkflow(t, engine, store, twoStepType())
	ctx := context.Background()

	require.NoError(t, engine.Cancel(ctx, wf.ID, "user-1"))

	wf, err := engine.Get(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowCancelled, wf.Status)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusCancelled, got.Status)

	// 重复取消幂等
	require.NoError(t, engine.Cancel(ctx, wf.ID, "user-1"))
}

func TestRejectMidChainFailsWorkflow(t *testing.T) {
	engine, store := newEngine(t)
	tc := &review.ReviewTypeConfig{
		Type:             review.TypeSchemaChange,
		RequiresApproval: true,
		DefaultPriority:  review.PriorityCritical,
		Steps: []review.StepTemplate{
			{Name: "DBA 审批", AssignedRole: "dba", Required: true, Order: 0},
			{Name: "平台负责人审批", AssignedRole: "platform_lead", Required: true, Order: 1},
			{Name: "安全复核", Required: true, Order: 2},
		},
	}
	wf, req := startWorkflow(t, engine, store, tc)
	ctx := context.Background()

	wf, err := engine.RecordDecision(ctx, wf.ID, 0, "dba-1", &review.FeedbackRequest{
		Action: review.ActionApprove,
	})
	require.NoError(t, err)
	require.Equal(t, 1, wf.CurrentStepIndex)

	wf, err = engine.RecordDecision(ctx, wf.ID, 1, "lead-1", &review.FeedbackRequest{
		Action:   review.ActionReject,
		Comments: "DDL 需要走变更窗口",
	})
	require.NoError(t, err)
	require.Equal(t, WorkflowFailed, wf.Status)
	require.Equal(t, StepApproved, wf.Steps[0].Status)
	require.Equal(t, StepRejected, wf.Steps[1].Status)
	require.Equal(t, StepPending, wf.Steps[2].Status)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusRejected, got.Status)
}

func TestDecisionBeatsTimeout(t *testing.T) {
	engine, store := newEngine(t)
	wf, req := startWorkflow(t, engine, store, twoStepType())
	ctx := context.Background()

	wf, err := engine.RecordDecision(ctx, wf.ID, 0, "dba-1", &review.FeedbackRequest{
		Action: review.ActionApprove,
	})
	require.NoError(t, err)
	require.Equal(t, 1, wf.CurrentStepIndex)

	// 决策先落库，随后到达的超时对同一步是空操作
	require.NoError(t, engine.HandleStepTimeout(ctx, wf.ID, 0))

	wf, err = engine.Get(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, WorkflowInProgress, wf.Status)
	require.Equal(t, StepApproved, wf.Steps[0].Status)
	require.Equal(t, StepInProgress, wf.Steps[1].Status)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusInReview, got.Status)
}

// 链条中途失败后，从未启动的尾部步骤合法地停在 pending，
// 读取工作流不应上报不变量破坏；真正卡在 in_progress 的步骤才要上报
func TestCheckInvariantsIgnoresNeverStartedSteps(t *testing.T) {
	db := openTestDB(t)
	store := review.NewStore(db)
	core, logs := observer.New(zapcore.ErrorLevel)
	engine := NewEngine(db, store,
		WithRoleResolver(&staticResolver{members: map[string][]string{
			"dba":           {"dba-1"},
			"platform_lead": {"lead-1"},
		}}),
		WithEngineLogger(zap.New(core)),
	)
	tc := &review.ReviewTypeConfig{
		Type:             review.TypeSchemaChange,
		RequiresApproval: true,
		DefaultPriority:  review.PriorityCritical,
		Steps: []review.StepTemplate{
			{Name: "DBA 审批", AssignedRole: "dba", Required: true, Order: 0},
			{Name: "平台负责人审批", AssignedRole: "platform_lead", Required: true, Order: 1},
			{Name: "安全复核", Required: true, Order: 2},
		},
	}
	wf, _ := startWorkflow(t, engine, store, tc)
	ctx := context.Background()

	_, err := engine.RecordDecision(ctx, wf.ID, 0, "dba-1", &review.FeedbackRequest{
		Action: review.ActionApprove,
	})
	require.NoError(t, err)
	wf, err = engine.RecordDecision(ctx, wf.ID, 1, "lead-1", &review.FeedbackRequest{
		Action: review.ActionReject,
	})
	require.NoError(t, err)
	require.Equal(t, WorkflowFailed, wf.Status)
	require.Equal(t, StepPending, wf.Steps[2].Status)

	wf, err = engine.Get(ctx, wf.ID)
	require.NoError(t, err)
	require.Zero(t, logs.Len(), "合法的 pending 尾部步骤被误报: %v", logs.All())

	// 人为制造损坏：终态工作流下仍有进行中的步骤
	require.NoError(t, db.Model(&ApprovalStep{}).
		Where("id = ?", wf.Steps[2].ID).
		Update("status", StepInProgress).Error)

	_, err = engine.Get(ctx, wf.ID)
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
}

func TestStepOrderStableSort(t *testing.T) {
	engine, store := newEngine(t)
	tc := &review.ReviewTypeConfig{
		Type:             review.TypeSchemaChange,
		RequiresApproval: true,
		DefaultPriority:  review.PriorityHigh,
		Steps: []review.StepTemplate{
			{Name: "乙", Order: 5, Required: true},
			{Name: "甲", Order: 1, Required: true},
			{Name: "丙", Order: 5, Required: true}, // 与乙同序号，保持模板先后
		},
	}
	wf, _ := startWorkflow(t, engine, store, tc)

	require.Len(t, wf.Steps, 3)
	require.Equal(t, "甲", wf.Steps[0].Name)
	require.Equal(t, "乙", wf.Steps[1].Name)
	require.Equal(t, "丙", wf.Steps[2].Name)
	require.Equal(t, []int{0, 1, 2}, []int{wf.Steps[0].StepIndex, wf.Steps[1].StepIndex, wf.Steps[2].StepIndex})
}

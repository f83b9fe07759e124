package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"backend/internal/review"
	"backend/internal/workflow"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingSink struct {
	mu     sync.Mutex
	events []review.Event
}

func (r *recordingSink) Publish(evt review.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingSink) byKind(kind review.EventKind) []review.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []review.Event
	for _, evt := range r.events {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

func testConfig() *review.ReviewConfiguration {
	return &review.ReviewConfiguration{
		AutoApprovalThreshold:       0.9,
		ManualReviewThreshold:       0.5,
		DefaultReviewTimeoutSeconds: 3600,
		NotificationIntervalSeconds: 1800,
		SweepIntervalSeconds:        60,
		ReminderLeadSeconds:         900,
		Types: []review.ReviewTypeConfig{
			{
				Type:             review.TypeDataModification,
				RequiresApproval: true,
				DefaultPriority:  review.PriorityHigh,
				TimeoutSeconds:   3600,
				Steps: []review.StepTemplate{
					{Name: "DBA 审批", Required: true, Order: 1, TimeoutSeconds: 3600},
				},
			},
			{
				Type:            review.TypeQueryGeneration,
				DefaultPriority: review.PriorityNormal,
			},
		},
	}
}

func newTestSweeper(t *testing.T, sink review.EventSink) (*Sweeper, *review.Store, *workflow.Engine, *gorm.DB) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	store := review.NewStore(db, review.WithEventSink(sink))
	require.NoError(t, store.AutoMigrate())
	engine := workflow.NewEngine(db, store, workflow.WithEngineSink(sink))
	require.NoError(t, engine.AutoMigrate())

	policy, err := review.NewPolicyProvider(testConfig())
	require.NoError(t, err)

	sweeper := NewSweeper(db, store, engine, policy, WithSweeperSink(sink))
	return sweeper, store, engine, db
}

func submitWithWorkflow(t *testing.T, store *review.Store, engine *workflow.Engine) *workflow.ApprovalWorkflow {
	cfg := testConfig()
	req, err := store.Submit(context.Background(), cfg, &review.SubmitRequest{
		OriginalText: "删除测试数据",
		GeneratedSQL: "DELETE FROM orders WHERE env = 'test'",
		Type:         review.TypeDataModification,
		RequestedBy:  "requester-1",
	})
	require.NoError(t, err)

	wf, err := engine.StartForRequest(context.Background(), req, cfg.TypeConfig(review.TypeDataModification))
	require.NoError(t, err)
	return wf
}

func TestSweepTimeoutsExpiresOverdueStep(t *testing.T) {
	sink := &recordingSink{}
	sweeper, store, engine, db := newTestSweeper(t, sink)
	wf := submitWithWorkflow(t, store, engine)

	// 未超时不处理
	n, err := sweeper.SweepTimeouts(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)

	// 回拨当前步骤的开始时间使其超时
	past := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&workflow.ApprovalStep{}).
		Where("workflow_id = ? AND step_index = ?", wf.ID, 0).
		Update("started_at", past).Error)

	n, err = sweeper.SweepTimeouts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := engine.Get(context.Background(), wf.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.WorkflowExpired, got.Status)
	require.Equal(t, workflow.StepExpired, got.Steps[0].Status)

	req, err := store.Get(context.Background(), got.RequestID)
	require.NoError(t, err)
	require.Equal(t, review.StatusExpired, req.Status)
	require.NotNil(t, req.ReviewedAt)

	// 重复扫描是幂等空操作
	n, err = sweeper.SweepTimeouts(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSweepTimeoutsExpiresOrphanRequest(t *testing.T) {
	sink := &recordingSink{}
	sweeper, store, _, db := newTestSweeper(t, sink)

	req, err := store.Submit(context.Background(), testConfig(), &review.SubmitRequest{
		OriginalText: "查询订单",
		GeneratedSQL: "SELECT * FROM orders",
		Type:         review.TypeQueryGeneration,
		RequestedBy:  "requester-1",
	})
	require.NoError(t, err)

	require.NoError(t, db.Model(&review.ReviewRequest{}).
		Where("id = ?", req.ID).
		Update("created_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	n, err := sweeper.SweepTimeouts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := store.Get(context.Background(), req.ID)
	require.NoError(t, err)
	require.Equal(t, review.StatusExpired, got.Status)
}

func TestSweepRemindersSkipOverdueRequests(t *testing.T) {
	sink := &recordingSink{}
	sweeper, store, _, db := newTestSweeper(t, sink)

	req, err := store.Submit(context.Background(), testConfig(), &review.SubmitRequest{
		OriginalText: "查询订单",
		GeneratedSQL: "SELECT * FROM orders",
		Type:         review.TypeQueryGeneration,
		RequestedBy:  "requester-1",
	})
	require.NoError(t, err)

	// 已经越过截止时间的请求归超时扫描处理，不再提醒
	require.NoError(t, db.Model(&review.ReviewRequest{}).
		Where("id = ?", req.ID).
		Update("created_at", time.Now().UTC().Add(-2*time.Hour)).Error)

	n, err := sweeper.SweepReminders(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, sink.byKind(review.EventReminder))
}

func TestSweepRemindersDedupByInterval(t *testing.T) {
	sink := &recordingSink{}
	sweeper, store, _, db := newTestSweeper(t, sink)

	req, err := store.Submit(context.Background(), testConfig(), &review.SubmitRequest{
		OriginalText: "查询订单",
		GeneratedSQL: "SELECT * FROM orders",
		Type:         review.TypeQueryGeneration,
		RequestedBy:  "requester-1",
	})
	require.NoError(t, err)

	// 进入提醒窗口但尚未超时
	require.NoError(t, db.Model(&review.ReviewRequest{}).
		Where("id = ?", req.ID).
		Update("created_at", time.Now().UTC().Add(-50*time.Minute)).Error)

	n, err := sweeper.SweepReminders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, sink.byKind(review.EventReminder), 1)

	// 间隔内不重复提醒
	n, err = sweeper.SweepReminders(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, sink.byKind(review.EventReminder), 1)

	// 超过通知间隔后再次提醒
	require.NoError(t, db.Model(&review.ReviewRequest{}).
		Where("id = ?", req.ID).
		Update("last_reminded_at", time.Now().UTC().Add(-time.Hour)).Error)

	n, err = sweeper.SweepReminders(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Len(t, sink.byKind(review.EventReminder), 2)
}

package review

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *ReviewConfiguration {
	return &ReviewConfiguration{
		AutoApprovalThreshold:       0.9,
		ManualReviewThreshold:       0.5,
		DefaultReviewTimeoutSeconds: 3600,
		NotificationIntervalSeconds: 1800,
		SweepIntervalSeconds:        60,
		Types: []ReviewTypeConfig{
			{Type: TypeQueryGeneration, DefaultPriority: PriorityLow},
			{
				Type:             TypeDataModification,
				RequiresApproval: true,
				DefaultPriority:  PriorityHigh,
				Steps:            []StepTemplate{{Name: "DBA 审批", Required: true}},
			},
		},
	}
}

func requestWith(reviewType ReviewType, confidence *float64) *ReviewRequest {
	return &ReviewRequest{
		ID:              "req-1",
		Type:            reviewType,
		ConfidenceScore: confidence,
	}
}

func ptr(v float64) *float64 { return &v }

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := validConfig()
	cfg.AutoApprovalThreshold = 1.3
	require.ErrorIs(t, cfg.Validate(), ErrConfigurationError)

	cfg = validConfig()
	cfg.ManualReviewThreshold = 0.95 // 高于自动批准阈值
	require.ErrorIs(t, cfg.Validate(), ErrConfigurationError)

	cfg = validConfig()
	cfg.Types[1].Steps = nil // 需要审批却没有审批链
	require.ErrorIs(t, cfg.Validate(), ErrConfigurationError)

	cfg = validConfig()
	cfg.Types[0].AutoApproveCondition = "confidence >" // 残缺表达式
	require.ErrorIs(t, cfg.Validate(), ErrConfigurationError)

	cfg = validConfig()
	cfg.Types = append(cfg.Types, ReviewTypeConfig{Type: TypeQueryGeneration})
	require.ErrorIs(t, cfg.Validate(), ErrConfigurationError)

	require.NoError(t, validConfig().Validate())
}

func TestClassifyAutoApprovesHighConfidence(t *testing.T) {
	cfg := validConfig()

	decision, err := cfg.Classify(requestWith(TypeQueryGeneration, ptr(0.95)))
	require.NoError(t, err)
	require.Equal(t, OutcomeAutoApprove, decision.Outcome)

	// 恰好等于阈值也放行
	decision, err = cfg.Classify(requestWith(TypeQueryGeneration, ptr(0.9)))
	require.NoError(t, err)
	require.Equal(t, OutcomeAutoApprove, decision.Outcome)

	decision, err = cfg.Classify(requestWith(TypeQueryGeneration, ptr(0.89)))
	require.NoError(t, err)
	require.Equal(t, OutcomeWorkflow, decision.Outcome)
	require.Equal(t, PriorityLow, decision.Priority)
}

func TestClassifyApprovalTypesNeverAutoApprove(t *testing.T) {
	cfg := validConfig()

	decision, err := cfg.Classify(requestWith(TypeDataModification, ptr(0.99)))
	require.NoError(t, err)
	require.Equal(t, OutcomeWorkflow, decision.Outcome)
	require.NotNil(t, decision.Type)
	require.Len(t, decision.Type.Steps, 1)
}

func TestClassifyMissingConfidenceForcesManualReview(t *testing.T) {
	cfg := validConfig()

	decision, err := cfg.Classify(requestWith(TypeQueryGeneration, nil))
	require.NoError(t, err)
	require.Equal(t, OutcomeWorkflow, decision.Outcome)
	require.Equal(t, PriorityHigh, decision.Priority)

	// 越界置信度不可信，同样保守处理
	decision, err = cfg.Classify(requestWith(TypeQueryGeneration, ptr(1.7)))
	require.NoError(t, err)
	require.Equal(t, OutcomeWorkflow, decision.Outcome)
	require.Equal(t, PriorityHigh, decision.Priority)
}

func TestClassifyLowConfidenceBumpsPriority(t *testing.T) {
	cfg := validConfig()

	decision, err := cfg.Classify(requestWith(TypeQueryGeneration, ptr(0.3)))
	require.NoError(t, err)
	require.Equal(t, OutcomeWorkflow, decision.Outcome)
	require.Equal(t, PriorityHigh, decision.Priority)
}

func TestClassifyAutoApproveCondition(t *testing.T) {
	cfg := validConfig()
	cfg.Types[0].AutoApproveCondition = "confidence >= 0.7 && read_only == true"
	require.NoError(t, cfg.Validate())

	req := requestWith(TypeQueryGeneration, ptr(0.8))
	req.Metadata = map[string]any{"read_only": true}
	decision, err := cfg.Classify(req)
	require.NoError(t, err)
	require.Equal(t, OutcomeAutoApprove, decision.Outcome)

	req.Metadata = map[string]any{"read_only": false}
	decision, err = cfg.Classify(req)
	require.NoError(t, err)
	require.Equal(t, OutcomeWorkflow, decision.Outcome)
}

func TestClassifyUnknownType(t *testing.T) {
	cfg := validConfig()
	_, err := cfg.Classify(requestWith(ReviewType("unknown"), ptr(0.9)))
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPolicyProviderReloadKeepsOldOnFailure(t *testing.T) {
	provider, err := NewPolicyProvider(validConfig())
	require.NoError(t, err)

	bad := validConfig()
	bad.SweepIntervalSeconds = 0
	require.ErrorIs(t, provider.Reload(bad), ErrConfigurationError)

	// 旧策略仍然生效
	require.Equal(t, 60, provider.Snapshot().SweepIntervalSeconds)

	good := validConfig()
	good.SweepIntervalSeconds = 120
	require.NoError(t, provider.Reload(good))
	require.Equal(t, 120, provider.Snapshot().SweepIntervalSeconds)
}

package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalStatesHaveNoExits(t *testing.T) {
	terminals := []ReviewStatus{StatusApproved, StatusRejected, StatusCancelled, StatusExpired}
	all := []ReviewStatus{
		StatusPending, StatusInReview, StatusRequiresChanges, StatusEscalated,
		StatusApproved, StatusRejected, StatusCancelled, StatusExpired,
	}

	for _, from := range terminals {
		require.True(t, from.IsTerminal())
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s 不应合法", from, to)
		}
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to ReviewStatus
		legal    bool
	}{
		{StatusPending, StatusInReview, true},
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusRequiresChanges, false}, // 必须先进入 in_review
		{StatusPending, StatusEscalated, false},

		{StatusInReview, StatusRequiresChanges, true},
		{StatusInReview, StatusEscalated, true},
		{StatusInReview, StatusApproved, true},
		{StatusInReview, StatusPending, false}, // 不允许回退

		{StatusRequiresChanges, StatusInReview, true}, // 修改后重新提交
		{StatusRequiresChanges, StatusApproved, false},
		{StatusRequiresChanges, StatusCancelled, true},
		{StatusRequiresChanges, StatusExpired, true},

		{StatusEscalated, StatusInReview, true},
		{StatusEscalated, StatusApproved, true},
		{StatusEscalated, StatusRejected, true},
		{StatusEscalated, StatusRequiresChanges, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.legal, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

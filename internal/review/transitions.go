package review

import "fmt"

// legalTransitions 请求级合法迁移表，所有状态变更都经由这一张表裁决
var legalTransitions = map[ReviewStatus][]ReviewStatus{
	StatusPending: {
		StatusInReview, StatusApproved, StatusRejected, StatusCancelled, StatusExpired,
	},
	StatusInReview: {
		StatusApproved, StatusRejected, StatusRequiresChanges, StatusEscalated, StatusCancelled, StatusExpired,
	},
	StatusRequiresChanges: {
		StatusInReview, StatusCancelled, StatusExpired,
	},
	StatusEscalated: {
		StatusInReview, StatusApproved, StatusRejected, StatusCancelled, StatusExpired,
	},
	// 终态不允许任何迁出
	StatusApproved:  {},
	StatusRejected:  {},
	StatusCancelled: {},
	StatusExpired:   {},
}

// CanTransition 判断 from -> to 是否合法
func CanTransition(from, to ReviewStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// checkTransition 返回带上下文的非法迁移错误
func checkTransition(from, to ReviewStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

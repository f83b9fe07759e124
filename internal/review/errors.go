package review

import "errors"

// 领域错误：调用方用 errors.Is 判别，API 层映射为业务码
var (
	// ErrInvalidRequest 提交内容不合法，持久化之前即被拒绝
	ErrInvalidRequest = errors.New("评审请求不合法")

	// ErrIllegalTransition 状态机不允许的迁移，未产生任何变更
	ErrIllegalTransition = errors.New("非法的状态迁移")

	// ErrStaleStep 乐观并发冲突：调用方持有的状态已过期，需重读后重试
	ErrStaleStep = errors.New("步骤状态已过期")

	// ErrNotFound 请求/工作流不存在
	ErrNotFound = errors.New("评审请求不存在")

	// ErrConfigurationError 策略配置缺失或不合法，启动期致命
	ErrConfigurationError = errors.New("评审策略配置不合法")

	// ErrDependencyUnavailable 存储/通知/身份依赖暂不可用
	ErrDependencyUnavailable = errors.New("依赖服务不可用")
)

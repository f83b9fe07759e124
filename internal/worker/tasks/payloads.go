package tasks

// Task Types
const (
	TypeTimeoutSweep      = "review:timeout_sweep"
	TypeReminderSweep     = "review:reminder_sweep"
	TypeNotificationRetry = "notification:retry"
)

// NotificationRetryPayload 通知重试任务载荷
type NotificationRetryPayload struct {
	Limit int `json:"limit"`
}

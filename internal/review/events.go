package review

import "time"

// EventKind 事件类别
type EventKind string

const (
	EventStatusChanged EventKind = "status_changed" // 请求状态变化
	EventStepChanged   EventKind = "step_changed"   // 步骤状态变化
	EventReminder      EventKind = "review_reminder" // 临近超时提醒
)

// Event 描述一次评审状态变化，供通知分发与订阅方消费
type Event struct {
	Kind       EventKind
	RequestID  string
	WorkflowID string
	StepIndex  int
	FromStatus ReviewStatus
	ToStatus   ReviewStatus
	StepStatus string
	ActorID    string // 触发者；系统迁移（超时）为空
	Automatic  bool   // 是否策略/调度器触发
	Comment    string
	OccurredAt time.Time
}

// EventSink 事件接收端；发布为尽力而为，绝不阻塞状态迁移
type EventSink interface {
	Publish(evt Event)
}

// MultiSink 将事件扇出给多个接收端
type MultiSink []EventSink

// Publish 逐个投递
func (m MultiSink) Publish(evt Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(evt)
		}
	}
}

package notification

import "time"

// ============================================================================
// 评审通知
// ============================================================================

// ReviewNotification 出站通知记录：除已读/投递记账外一次写入
type ReviewNotification struct {
	ID        string `json:"id" gorm:"primaryKey;type:uuid"`
	RequestID string `json:"requestId" gorm:"type:uuid;not null;index"`

	// 内容
	Kind    string         `json:"kind" gorm:"size:50;not null;index"` // status_changed, step_changed, review_reminder
	Channel string         `json:"channel" gorm:"size:20;not null"`    // email, webhook, websocket
	To      string         `json:"to" gorm:"size:255;not null"`
	Subject string         `json:"subject" gorm:"size:255"`
	Body    string         `json:"body" gorm:"type:text"`
	Data    map[string]any `json:"data" gorm:"type:jsonb;serializer:json"`

	// 投递记账
	Status        DeliveryStatus `json:"status" gorm:"size:20;not null;default:pending;index"`
	Attempts      int            `json:"attempts" gorm:"default:0"`
	LastError     string         `json:"lastError" gorm:"type:text"`
	LastAttemptAt *time.Time     `json:"lastAttemptAt"`

	// 已读状态（唯一允许的后置修改）
	ReadAt *time.Time `json:"readAt"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (ReviewNotification) TableName() string {
	return "review_notifications"
}

// DeliveryStatus 投递状态
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

// Notification 待投递的通知消息
type Notification struct {
	Channel string         // email, webhook, websocket
	To      string         // 接收者（邮箱/URL/用户 ID）
	Subject string         // 主题
	Body    string         // 内容
	Data    map[string]any // 附加数据
}

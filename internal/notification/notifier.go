package notification

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"time"

	"backend/pkg/httputil"
)

// Notifier 通知器接口
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
}

// MultiNotifier 多通道通知器
type MultiNotifier struct {
	email     *EmailNotifier
	webhook   *WebhookNotifier
	websocket *WebSocketNotifier
}

// NewMultiNotifier 创建多通道通知器
func NewMultiNotifier(emailConfig *EmailConfig, webhookConfig *WebhookConfig, hub *WebSocketHub) *MultiNotifier {
	return &MultiNotifier{
		email:     NewEmailNotifier(emailConfig),
		webhook:   NewWebhookNotifier(webhookConfig),
		websocket: NewWebSocketNotifier(hub),
	}
}

// Send 按通道分发
func (m *MultiNotifier) Send(ctx context.Context, notification *Notification) error {
	var notifier Notifier

	switch notification.Channel {
	case "email":
		if m.email != nil {
			notifier = m.email
		}
	case "webhook":
		notifier = m.webhook
	case "websocket":
		notifier = m.websocket
	default:
		return fmt.Errorf("不支持的通知通道: %s", notification.Channel)
	}

	if notifier == nil {
		return fmt.Errorf("通知器未配置: %s", notification.Channel)
	}

	return notifier.Send(ctx, notification)
}

// ============================================================================
// 邮件
// ============================================================================

// EmailConfig 邮件配置
type EmailConfig struct {
	SMTPHost string
	SMTPPort int
	Username string
	Password string
	From     string
	FromName string
}

// EmailNotifier 邮件通知器
type EmailNotifier struct {
	config *EmailConfig
}

// NewEmailNotifier 创建邮件通知器
func NewEmailNotifier(config *EmailConfig) *EmailNotifier {
	if config == nil {
		return nil
	}
	return &EmailNotifier{config: config}
}

// Send 发送邮件
func (e *EmailNotifier) Send(ctx context.Context, notification *Notification) error {
	if e == nil || e.config == nil {
		return fmt.Errorf("邮件未配置")
	}

	var body bytes.Buffer
	body.WriteString(notification.Body)

	message := fmt.Sprintf(
		"From: %s <%s>\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		e.config.FromName,
		e.config.From,
		notification.To,
		notification.Subject,
		body.String(),
	)

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.SMTPHost)
	addr := fmt.Sprintf("%s:%d", e.config.SMTPHost, e.config.SMTPPort)

	if err := smtp.SendMail(addr, auth, e.config.From, []string{notification.To}, []byte(message)); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}
	return nil
}

// ============================================================================
// Webhook
// ============================================================================

// WebhookConfig Webhook 配置
type WebhookConfig struct {
	DefaultURL string
	Timeout    time.Duration
	Headers    map[string]string
}

// WebhookNotifier Webhook 通知器
type WebhookNotifier struct {
	config *WebhookConfig
	client *httputil.Client
}

// NewWebhookNotifier 创建 Webhook 通知器
func NewWebhookNotifier(config *WebhookConfig) *WebhookNotifier {
	if config == nil {
		config = &WebhookConfig{
			Timeout: 10 * time.Second,
		}
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	headers := map[string]string{"User-Agent": "SQLReviewGateway-Notifier/1.0"}
	for key, value := range config.Headers {
		headers[key] = value
	}
	return &WebhookNotifier{
		config: config,
		client: httputil.NewClient(
			httputil.WithTimeout(config.Timeout),
			httputil.WithHeaders(headers),
			httputil.WithRetries(2),
		),
	}
}

// Send 发送 Webhook
func (w *WebhookNotifier) Send(ctx context.Context, notification *Notification) error {
	url := notification.To
	if url == "" {
		url = w.config.DefaultURL
	}
	if url == "" {
		return fmt.Errorf("Webhook URL 未配置")
	}

	payload := map[string]any{
		"subject":   notification.Subject,
		"body":      notification.Body,
		"data":      notification.Data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if err := w.client.PostJSON(ctx, url, payload, nil); err != nil {
		return fmt.Errorf("发送 Webhook 失败: %w", err)
	}
	return nil
}

// ============================================================================
// WebSocket
// ============================================================================

// WebSocketNotifier WebSocket 通知器
type WebSocketNotifier struct {
	hub *WebSocketHub
}

// NewWebSocketNotifier 创建 WebSocket 通知器
func NewWebSocketNotifier(hub *WebSocketHub) *WebSocketNotifier {
	return &WebSocketNotifier{hub: hub}
}

// Send 推送 WebSocket 消息
func (ws *WebSocketNotifier) Send(ctx context.Context, notification *Notification) error {
	if ws == nil || ws.hub == nil {
		return fmt.Errorf("WebSocket hub 未配置")
	}
	if notification.To == "" {
		return fmt.Errorf("WebSocket 通知缺少接收用户")
	}
	payload := map[string]any{
		"subject":   notification.Subject,
		"body":      notification.Body,
		"data":      notification.Data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	return ws.hub.SendToUser(notification.To, payload)
}

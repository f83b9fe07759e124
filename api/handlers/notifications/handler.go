package notifications

import (
	"errors"
	"net/http"
	"strconv"

	"backend/api/handlers/common"
	"backend/internal/auth"
	"backend/internal/logger"
	"backend/internal/notification"
	reviewpkg "backend/internal/review"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 浏览器端携带 Bearer token 建连，跨域交给网关层控制
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler 站内通知 API 处理器
type Handler struct {
	dispatcher *notification.Dispatcher
	hub        *notification.WebSocketHub
}

func NewHandler(dispatcher *notification.Dispatcher, hub *notification.WebSocketHub) *Handler {
	return &Handler{dispatcher: dispatcher, hub: hub}
}

// Connect WebSocket 实时通知接入
// @Summary WebSocket 实时通知
// @Tags Notification
// @Security BearerAuth
// @Router /api/ws/notifications [get]
func (h *Handler) Connect(c *gin.Context) {
	userCtx, ok := auth.GetUserContext(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, "未认证")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket 升级失败", zap.Error(err))
		return
	}

	h.hub.Register(userCtx.UserID, conn)
	defer h.hub.Unregister(userCtx.UserID, conn)

	// 读循环仅用于感知断连，客户端消息直接丢弃
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ListUnread 列出未读通知
// @Summary 列出未读通知
// @Tags Notification
// @Security BearerAuth
// @Produce json
// @Param limit query int false "条数上限"
// @Success 200 {object} common.APIResponse
// @Router /api/notifications [get]
func (h *Handler) ListUnread(c *gin.Context) {
	userCtx, ok := auth.GetUserContext(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, "未认证")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.dispatcher.ListUnread(c.Request.Context(), userCtx.UserID, limit)
	if err != nil {
		common.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	common.Success(c, items)
}

// MarkRead 标记通知已读
// @Summary 标记通知已读
// @Tags Notification
// @Security BearerAuth
// @Produce json
// @Param id path string true "通知ID"
// @Success 200 {object} common.APIResponse
// @Router /api/notifications/{id}/read [post]
func (h *Handler) MarkRead(c *gin.Context) {
	userCtx, ok := auth.GetUserContext(c)
	if !ok {
		common.Error(c, http.StatusUnauthorized, "未认证")
		return
	}

	if err := h.dispatcher.MarkRead(c.Request.Context(), c.Param("id"), userCtx.UserID); err != nil {
		if errors.Is(err, reviewpkg.ErrNotFound) {
			common.Error(c, http.StatusNotFound, "通知不存在或已读")
			return
		}
		common.Error(c, http.StatusInternalServerError, err.Error())
		return
	}
	common.SuccessMessage(c, "已读", nil)
}

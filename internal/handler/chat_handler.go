// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"docuchat-go/internal/service"
	"docuchat-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理问答请求（普通 HTTP 与 WebSocket 流式两种形式）。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

type askRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Question  string `json:"question" binding:"required"`
	SessionID string `json:"session_id"`
}

// Ask 处理一次问答请求。
func (h *ChatHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "请求参数无效", "data": nil})
		return
	}

	result, err := h.chatService.Ask(c.Request.Context(), req.UserID, req.Question, req.SessionID)
	if err != nil {
		if service.IsInputRejection(err) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
			return
		}
		log.Errorf("Ask: 处理问答失败, user: %s, error: %v", req.UserID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "AI服务暂时不可用，请稍后重试", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    result,
	})
}

// HandleWS 处理一个传入的 WebSocket 连接：每收到一条消息作为一个问题处理，
// 回答分块下发，结束后发送 completion 通知。
func (h *ChatHandler) HandleWS(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id", "data": nil})
		return
	}
	sessionID := c.Query("session_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, user: %s", userID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		err = h.chatService.StreamAsk(c.Request.Context(), userID, string(message), sessionID, conn)
		if err != nil {
			log.Errorf("处理流式响应失败, user: %s, error: %v", userID, err)
			_ = conn.WriteJSON(gin.H{"error": "AI服务暂时不可用，请稍后重试"})
			break
		}
	}
}

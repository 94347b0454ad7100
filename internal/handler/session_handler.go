// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"net/http"

	"docuchat-go/internal/service"

	"github.com/gin-gonic/gin"
)

// SessionHandler 处理与会话管理相关的 API 请求。
type SessionHandler struct {
	sessionService service.SessionService
}

// NewSessionHandler 创建一个新的 SessionHandler。
func NewSessionHandler(sessionService service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// ListSessions 处理获取用户会话列表的请求。
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"sessions": h.sessionService.ListSessions(userID)},
	})
}

// GetSession 处理获取单个会话详情的请求。
func (h *SessionHandler) GetSession(c *gin.Context) {
	userID := c.Query("user_id")
	sessionID := c.Param("sessionId")
	if userID == "" || sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id 或 sessionId", "data": nil})
		return
	}

	session, err := h.sessionService.GetSession(userID, sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": session})
}

// NewSession 处理显式创建新会话的请求。
func (h *SessionHandler) NewSession(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id", "data": nil})
		return
	}

	session := h.sessionService.NewSession(userID)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"sessionId": session.ID},
	})
}

// DeleteSession 处理删除会话的请求。
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	userID := c.Query("user_id")
	sessionID := c.Param("sessionId")
	if userID == "" || sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id 或 sessionId", "data": nil})
		return
	}

	if err := h.sessionService.DeleteSession(userID, sessionID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除会话失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "会话删除成功", "data": nil})
}

// CurrentSession 返回用户当前活跃的会话 id。
func (h *SessionHandler) CurrentSession(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id", "data": nil})
		return
	}

	sessionID, exists := h.sessionService.CurrentSession(userID)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"sessionId":  sessionID,
			"hasSession": exists,
		},
	})
}

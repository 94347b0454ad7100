// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"io"
	"net/http"

	"docuchat-go/internal/service"
	"docuchat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// Upload 处理文档上传请求（multipart 表单，字段: user_id, file）。
func (h *DocumentHandler) Upload(c *gin.Context) {
	userID := c.PostForm("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id", "data": nil})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少上传文件", "data": nil})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败", "data": nil})
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "读取上传文件失败", "data": nil})
		return
	}

	doc, err := h.docService.Upload(c.Request.Context(), userID, fileHeader.Filename, content)
	if err != nil {
		if service.IsInputRejection(err) {
			c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error(), "data": nil})
			return
		}
		log.Errorf("Upload: 文档入库失败, user: %s, file: %s, error: %v", userID, fileHeader.Filename, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "文档处理失败", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "上传成功",
		"data":    doc,
	})
}

// ListFiles 处理获取用户文档列表的请求。
func (h *DocumentHandler) ListFiles(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id", "data": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    gin.H{"files": h.docService.ListDocuments(userID)},
	})
}

// DeleteFile 处理删除文档的请求。
func (h *DocumentHandler) DeleteFile(c *gin.Context) {
	userID := c.Query("user_id")
	fileID := c.Param("fileId")
	if userID == "" || fileID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id 或 fileId", "data": nil})
		return
	}

	if err := h.docService.DeleteDocument(userID, fileID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error(), "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "文档删除成功", "data": nil})
}

// Clear 处理清空用户全部状态的请求。
func (h *DocumentHandler) Clear(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "缺少 user_id", "data": nil})
		return
	}

	if err := h.docService.Clear(userID); err != nil {
		log.Errorf("Clear: 清空用户状态失败, user: %s, error: %v", userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "清空失败", "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "已清空全部数据", "data": nil})
}

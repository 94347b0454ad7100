// Package model 包含了应用的数据模型定义。
package model

import "time"

// Document 代表一份已上传并完成入库的文档的元数据。
// 记录在上传成功时创建，之后不再变更；删除文件只移除这条元数据，
// 已合并进向量索引的分块不会被撤回。
type Document struct {
	FileID     string    `json:"fileId"`
	FileName   string    `json:"fileName"`
	UserID     string    `json:"userId"`
	Size       int64     `json:"size"`
	ChunkCount int       `json:"chunks"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// AskResult 定义了一次问答请求返回给前端的结果结构。
type AskResult struct {
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources"`
	SessionID string   `json:"sessionId"`
}

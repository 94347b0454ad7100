// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色常量。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 代表会话中的单条消息，追加后不可变。
// Sources 仅在 assistant 消息上出现，记录回答引用的文件名。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []string  `json:"sources,omitempty"`
}

// ChatSession 代表一个用户的一段持久化对话。
// UserID 内嵌在持久化记录里，进程重启后恢复时据此重新归属；
// 旧格式记录缺失 user_id 时按未知归属处理，而不是丢弃。
type ChatSession struct {
	ID       string        `json:"id"`
	UserID   string        `json:"user_id,omitempty"`
	Title    string        `json:"title"`
	Created  time.Time     `json:"created"`
	Messages []ChatMessage `json:"messages"`
}

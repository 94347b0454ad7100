// Package repository 提供了数据访问层的实现。
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"docuchat-go/internal/model"
	"docuchat-go/pkg/log"
)

// UnknownOwner 是恢复旧格式记录时使用的归属哨兵值。
// 缺失 user_id 的持久化记录会归入这个桶，而不是被丢弃。
const UnknownOwner = "unknown"

// ErrSessionNotFound 表示磁盘上不存在该会话的持久化记录。
var ErrSessionNotFound = errors.New("会话记录不存在")

// SessionRepository 定义了会话持久化记录的操作接口。
// 内存中的会话是运行期间的权威状态，磁盘记录只作为进程重启后的恢复来源。
type SessionRepository interface {
	SaveSession(session *model.ChatSession) error
	LoadSession(sessionID string) (*model.ChatSession, error)
	DeleteSession(sessionID string) error
	LoadAll() map[string][]*model.ChatSession
}

type fileSessionRepository struct {
	historyDir string
}

// NewSessionRepository 创建一个以本地目录为后端的 SessionRepository。
func NewSessionRepository(historyDir string) (SessionRepository, error) {
	if err := os.MkdirAll(historyDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("创建会话历史目录失败: %w", err)
	}
	return &fileSessionRepository{historyDir: historyDir}, nil
}

// SaveSession 将整个会话记录写入磁盘。
// 先写临时文件再原子替换，保证读取方不会看到半写的记录。
func (r *fileSessionRepository) SaveSession(session *model.ChatSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("序列化会话记录失败: %w", err)
	}

	tmp, err := os.CreateTemp(r.historyDir, session.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时会话文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入临时会话文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("关闭临时会话文件失败: %w", err)
	}
	if err := os.Rename(tmpName, r.sessionPath(session.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("替换会话文件失败: %w", err)
	}
	return nil
}

// LoadSession 读取单条会话记录（崩溃恢复路径）。
func (r *fileSessionRepository) LoadSession(sessionID string) (*model.ChatSession, error) {
	data, err := os.ReadFile(r.sessionPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("读取会话文件失败: %w", err)
	}
	var session model.ChatSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("解析会话文件失败: %w", err)
	}
	return &session, nil
}

// DeleteSession 删除会话的持久化记录，幂等：记录不存在不算错误。
func (r *fileSessionRepository) DeleteSession(sessionID string) error {
	err := os.Remove(r.sessionPath(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除会话文件失败: %w", err)
	}
	return nil
}

// LoadAll 在进程启动时扫描一次历史目录，把所有持久化记录按内嵌的归属字段分桶。
// 损坏的记录记一条警告后跳过，恢复流程对剩余记录继续。
func (r *fileSessionRepository) LoadAll() map[string][]*model.ChatSession {
	result := make(map[string][]*model.ChatSession)

	files, err := os.ReadDir(r.historyDir)
	if err != nil {
		log.Warnf("[SessionRepository] 扫描会话历史目录失败: %v", err)
		return result
	}

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.historyDir, f.Name()))
		if err != nil {
			log.Warnf("[SessionRepository] 读取会话文件 %s 失败, 已跳过: %v", f.Name(), err)
			continue
		}
		var session model.ChatSession
		if err := json.Unmarshal(data, &session); err != nil {
			log.Warnf("[SessionRepository] 会话文件 %s 损坏, 已跳过: %v", f.Name(), err)
			continue
		}
		if session.ID == "" {
			log.Warnf("[SessionRepository] 会话文件 %s 缺少 id, 已跳过", f.Name())
			continue
		}
		owner := session.UserID
		if owner == "" {
			owner = UnknownOwner
		}
		result[owner] = append(result[owner], &session)
	}

	total := 0
	for _, sessions := range result {
		total += len(sessions)
	}
	log.Infof("[SessionRepository] 启动恢复完成, 共加载 %d 个会话, 涉及 %d 个用户", total, len(result))
	return result
}

func (r *fileSessionRepository) sessionPath(sessionID string) string {
	return filepath.Join(r.historyDir, sessionID+".json")
}

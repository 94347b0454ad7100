// Package service 包含了应用的业务逻辑层。
package service

import (
	"sort"
	"time"

	"docuchat-go/internal/model"
	"docuchat-go/internal/repository"
	"docuchat-go/internal/state"
	"docuchat-go/pkg/log"

	"github.com/google/uuid"
)

// SessionService 定义了会话管理的业务操作，全部按 user_id 限定范围。
type SessionService interface {
	ListSessions(userID string) []*model.ChatSession
	GetSession(userID, sessionID string) (*model.ChatSession, error)
	NewSession(userID string) *model.ChatSession
	DeleteSession(userID, sessionID string) error
	CurrentSession(userID string) (sessionID string, exists bool)
}

type sessionService struct {
	sessionRepo repository.SessionRepository
	manager     *state.Manager
}

// NewSessionService 创建一个新的 SessionService 实例。
func NewSessionService(sessionRepo repository.SessionRepository, manager *state.Manager) SessionService {
	return &sessionService{sessionRepo: sessionRepo, manager: manager}
}

// ListSessions 返回用户的全部会话，按创建时间倒序。
func (s *sessionService) ListSessions(userID string) []*model.ChatSession {
	c := s.manager.Acquire(userID)
	defer c.Unlock()

	sessions := make([]*model.ChatSession, 0, len(c.Sessions))
	for _, session := range c.Sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Created.After(sessions[j].Created)
	})
	return sessions
}

// GetSession 获取指定会话；内存中不存在时尝试从磁盘恢复（归属必须匹配）。
func (s *sessionService) GetSession(userID, sessionID string) (*model.ChatSession, error) {
	c := s.manager.Acquire(userID)
	defer c.Unlock()

	if session, ok := c.Sessions[sessionID]; ok {
		return session, nil
	}
	record, err := s.sessionRepo.LoadSession(sessionID)
	if err != nil || record.UserID != userID {
		return nil, ErrSessionNotFound
	}
	c.Sessions[record.ID] = record
	return record, nil
}

// NewSession 显式创建一个新会话，立即持久化并设为当前会话。
func (s *sessionService) NewSession(userID string) *model.ChatSession {
	c := s.manager.Acquire(userID)
	defer c.Unlock()

	session := &model.ChatSession{
		ID:       uuid.NewString(),
		UserID:   userID,
		Title:    defaultTitle,
		Created:  time.Now(),
		Messages: []model.ChatMessage{},
	}
	c.Sessions[session.ID] = session
	c.CurrentSessionID = session.ID

	if err := s.sessionRepo.SaveSession(session); err != nil {
		log.Errorf("[SessionService] 持久化新会话 %s 失败: %v", session.ID, err)
	}
	return session
}

// DeleteSession 同时移除内存条目与磁盘记录；会话不存在不算错误（幂等）。
// 会话不在本用户的内存状态中时，磁盘记录的归属必须匹配才会被删除，
// 归属不符按不存在处理，不得动到别的用户的记录。
func (s *sessionService) DeleteSession(userID, sessionID string) error {
	c := s.manager.Acquire(userID)
	defer c.Unlock()

	if _, ok := c.Sessions[sessionID]; !ok {
		record, err := s.sessionRepo.LoadSession(sessionID)
		if err != nil || record.UserID != userID {
			return nil
		}
	}

	delete(c.Sessions, sessionID)
	if c.CurrentSessionID == sessionID {
		c.CurrentSessionID = ""
	}
	return s.sessionRepo.DeleteSession(sessionID)
}

// CurrentSession 返回用户当前活跃的会话 id。
func (s *sessionService) CurrentSession(userID string) (string, bool) {
	c := s.manager.Acquire(userID)
	defer c.Unlock()

	if c.CurrentSessionID == "" {
		return "", false
	}
	_, ok := c.Sessions[c.CurrentSessionID]
	return c.CurrentSessionID, ok
}

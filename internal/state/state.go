// Package state 维护按用户划分的进程内状态容器。
package state

import (
	"sync"

	"docuchat-go/internal/model"
	"docuchat-go/internal/vectorstore"
)

// Container 聚合了单个用户的全部可变状态：向量索引、文档元数据和会话。
// 同一用户的上传与问答必须串行执行：操作方在整个请求期间持有 Lock，
// 所有退出路径（包括出错）都要释放。不同用户的容器互不共享，完全并行。
type Container struct {
	mu      sync.Mutex
	cleared bool

	UserID           string
	Index            *vectorstore.Index
	Documents        map[string]*model.Document
	Sessions         map[string]*model.ChatSession
	CurrentSessionID string
}

// Lock 获取该用户的互斥范围。
func (c *Container) Lock() { c.mu.Lock() }

// Unlock 释放该用户的互斥范围。
func (c *Container) Unlock() { c.mu.Unlock() }

// Manager 管理 user_id 到状态容器的映射，容器在用户首次交互时惰性创建。
type Manager struct {
	mu    sync.RWMutex
	users map[string]*Container
}

// NewManager 创建一个 Manager，并用启动恢复扫描得到的会话数据预填容器。
func NewManager(recovered map[string][]*model.ChatSession) *Manager {
	m := &Manager{users: make(map[string]*Container)}
	for owner, sessions := range recovered {
		c := m.getOrCreate(owner)
		for _, s := range sessions {
			c.Sessions[s.ID] = s
		}
	}
	return m
}

// Get 返回该用户的状态容器，不存在时创建。
func (m *Manager) Get(userID string) *Container {
	m.mu.RLock()
	c, ok := m.users[userID]
	m.mu.RUnlock()
	if ok {
		return c
	}
	return m.getOrCreate(userID)
}

// Acquire 返回该用户的状态容器并持有其锁，调用方用完必须 Unlock。
// 等锁期间容器可能已被整体销毁（clear 操作），此时换当前注册的容器重试，
// 保证拿到锁的一定是在册容器：写进已销毁容器的状态对后续请求不可见。
func (m *Manager) Acquire(userID string) *Container {
	for {
		c := m.Get(userID)
		c.Lock()
		if !c.cleared {
			return c
		}
		c.Unlock()
	}
}

// Remove 整体销毁一个用户的容器（clear 操作）。
// 必须在持有该容器锁的情况下调用；磁盘上的残留物由调用方负责清理。
func (m *Manager) Remove(userID string) {
	m.mu.Lock()
	if c, ok := m.users[userID]; ok {
		c.cleared = true
	}
	delete(m.users, userID)
	m.mu.Unlock()
}

func (m *Manager) getOrCreate(userID string) *Container {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.users[userID]; ok {
		return c
	}
	c := &Container{
		UserID:    userID,
		Documents: make(map[string]*model.Document),
		Sessions:  make(map[string]*model.ChatSession),
	}
	m.users[userID] = c
	return c
}

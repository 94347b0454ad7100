package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat-go/internal/model"
)

func TestGetReturnsSameContainer(t *testing.T) {
	m := NewManager(nil)

	c1 := m.Get("u1")
	c2 := m.Get("u1")
	assert.Same(t, c1, c2)
	assert.Equal(t, "u1", c1.UserID)

	assert.NotSame(t, c1, m.Get("u2"))
}

func TestNewManagerSeedsRecoveredSessions(t *testing.T) {
	recovered := map[string][]*model.ChatSession{
		"u1": {{ID: "s1", UserID: "u1"}, {ID: "s2", UserID: "u1"}},
		"u2": {{ID: "s3", UserID: "u2"}},
	}
	m := NewManager(recovered)

	assert.Len(t, m.Get("u1").Sessions, 2)
	assert.Len(t, m.Get("u2").Sessions, 1)
	assert.Empty(t, m.Get("u3").Sessions)
}

func TestAcquireAfterRemove(t *testing.T) {
	m := NewManager(nil)

	c := m.Acquire("u1")
	m.Remove("u1")
	c.Unlock()

	// 销毁后的容器不得再被取到
	fresh := m.Acquire("u1")
	defer fresh.Unlock()
	assert.NotSame(t, c, fresh)
}

func TestAcquireSkipsDestroyedContainer(t *testing.T) {
	m := NewManager(nil)

	c := m.Acquire("u1")

	acquired := make(chan *Container)
	go func() {
		acquired <- m.Acquire("u1")
	}()

	// 给并发方时间在旧容器的锁上排队
	time.Sleep(10 * time.Millisecond)

	// clear 的调用顺序：持锁销毁后才释放锁
	m.Remove("u1")
	c.Unlock()

	fresh := <-acquired
	defer fresh.Unlock()

	// 排队方不得拿到已销毁的容器，拿到的必须是在册容器
	require.NotSame(t, c, fresh)
	assert.Same(t, fresh, m.Get("u1"))

	// 写入对后续请求可见
	fresh.Documents["f1"] = &model.Document{FileID: "f1"}
	assert.Contains(t, m.Get("u1").Documents, "f1")
}

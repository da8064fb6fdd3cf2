// Package lock 提供路径级的建议锁（advisory lock）。
// 与 OT 完全独立：引擎不检查锁，锁只约束 UI 层对难以合并字段的独占编辑。
package lock

import (
	"errors"
	"sync"
	"time"
)

var ErrLockDenied = errors.New("LOCK_DENIED")

type Lock struct {
	Path       string    `json:"path"`
	HolderID   string    `json:"holderId"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Manager 是进程级锁表。一条路径同一时刻至多一个持有者。
type Manager struct {
	mu    sync.Mutex
	locks map[string]Lock
}

func NewManager() *Manager {
	return &Manager{locks: make(map[string]Lock)}
}

// Acquire 从不排队、从不阻塞：要么立刻成功，要么立刻 ErrLockDenied。
// 同一持有者重复获取是幂等的（保留原 acquiredAt）。
func (m *Manager) Acquire(path, holderID string) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[path]; ok {
		if l.HolderID == holderID {
			return l, nil
		}
		return Lock{}, ErrLockDenied
	}
	l := Lock{Path: path, HolderID: holderID, AcquiredAt: time.Now()}
	m.locks[path] = l
	return l, nil
}

// Release 只在当前持有者是 holderID 时移除锁；
// 释放不属于自己的锁是静默 no-op，方便断线清理路径无脑调用。
func (m *Manager) Release(path, holderID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[path]; ok && l.HolderID == holderID {
		delete(m.locks, path)
		return true
	}
	return false
}

func (m *Manager) IsLocked(path string) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[path]
	return l, ok
}

// HeldBy 返回 holderID 当前持有的所有锁。
func (m *Manager) HeldBy(holderID string) []Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lock
	for _, l := range m.locks {
		if l.HolderID == holderID {
			out = append(out, l)
		}
	}
	return out
}

// ReleaseAll 释放 holderID 的全部锁并返回释放掉的路径。
// 会话结束时调用，避免客户端消失导致字段被永久锁死。
func (m *Manager) ReleaseAll(holderID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var released []string
	for path, l := range m.locks {
		if l.HolderID == holderID {
			delete(m.locks, path)
			released = append(released, path)
		}
	}
	return released
}

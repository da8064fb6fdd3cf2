// Package session 维护连接级会话与由此派生的在线状态（presence）。
package session

import (
	"sync"
	"time"
)

type Status string

const (
	StatusEditing Status = "editing"
	StatusViewing Status = "viewing"
	StatusIdle    Status = "idle"
)

type CursorPosition struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
}

// EditSession 一个连接一条会话；同一 userId 可以有多条（多设备/多标签页）。
type EditSession struct {
	ID           string          `json:"id"` // = 连接 id
	UserID       string          `json:"userId"`
	Username     string          `json:"username"`
	DocumentID   string          `json:"documentId"`
	Cursor       *CursorPosition `json:"cursorPosition,omitempty"`
	Status       Status          `json:"status"`
	JoinedAt     time.Time       `json:"joinedAt"`
	LastActivity time.Time       `json:"lastActivity"`
}

// Presence 是对外投影：带稳定颜色与闲置判定。
type Presence struct {
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Username  string          `json:"userName"`
	Status    Status          `json:"status"`
	Cursor    *CursorPosition `json:"cursorPosition,omitempty"`
	Color     string          `json:"color"`
}

// 固定调色板；颜色按 userId 首次出现的顺序分配，进程生命周期内稳定。
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#008080",
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*EditSession // 会话 id（连接 id）→ 会话
	colors   map[string]string       // userId → color

	// 超过 idleAfter 无活动的会话在投影时显示为 idle。
	// 读取时计算，不起定时器。
	idleAfter time.Duration
}

func NewManager(idleAfter time.Duration) *Manager {
	if idleAfter <= 0 {
		idleAfter = 5 * time.Minute
	}
	return &Manager{
		sessions:  make(map[string]*EditSession),
		colors:    make(map[string]string),
		idleAfter: idleAfter,
	}
}

func (m *Manager) Create(sessionID, userID, username, documentID string) *EditSession {
	now := time.Now()
	s := &EditSession{
		ID:           sessionID,
		UserID:       userID,
		Username:     username,
		DocumentID:   documentID,
		Status:       StatusEditing,
		JoinedAt:     now,
		LastActivity: now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.colors[userID]; !ok {
		m.colors[userID] = palette[len(m.colors)%len(palette)]
	}
	m.sessions[sessionID] = s
	return s
}

func (m *Manager) Get(sessionID string) (*EditSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	cp := *s
	return &cp, true
}

// UpdateCursor 更新光标并刷新活跃时间。
func (m *Manager) UpdateCursor(sessionID string, cur CursorPosition) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	s.Cursor = &cur
	s.LastActivity = time.Now()
	return true
}

// Touch 只刷新活跃时间（收到任何编辑类消息时调用）。
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.LastActivity = time.Now()
	}
}

// End 移除会话并返回它，供调用方做断线清理（锁释放、presence 重算）。
func (m *Manager) End(sessionID string) (*EditSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, false
	}
	delete(m.sessions, sessionID)
	cp := *s
	return &cp, true
}

// ByDocument 返回挂在某文档上的全部会话（拷贝）。
func (m *Manager) ByDocument(documentID string) []EditSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []EditSession
	for _, s := range m.sessions {
		if s.DocumentID == documentID {
			out = append(out, *s)
		}
	}
	return out
}

// CountByUser 该用户还剩多少条活跃会话；为 0 时才释放其持有的锁。
func (m *Manager) CountByUser(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

// PresenceFor 某文档的在线投影。
func (m *Manager) PresenceFor(documentID string) []Presence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now()
	var out []Presence
	for _, s := range m.sessions {
		if s.DocumentID != documentID {
			continue
		}
		status := s.Status
		if now.Sub(s.LastActivity) > m.idleAfter {
			status = StatusIdle
		}
		out = append(out, Presence{
			SessionID: s.ID,
			UserID:    s.UserID,
			Username:  s.Username,
			Status:    status,
			Cursor:    s.Cursor,
			Color:     m.colors[s.UserID],
		})
	}
	return out
}

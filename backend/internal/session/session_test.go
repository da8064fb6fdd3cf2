package session

import (
	"testing"
	"time"
)

func TestManager_CreateAndPresence(t *testing.T) {
	m := NewManager(0) // 默认闲置阈值

	m.Create("conn-1", "alice", "Alice", "doc-1")
	m.Create("conn-2", "bob", "Bob", "doc-1")
	m.Create("conn-3", "carol", "Carol", "doc-2")

	ps := m.PresenceFor("doc-1")
	if len(ps) != 2 {
		t.Fatalf("PresenceFor(doc-1) = %d entries, want 2", len(ps))
	}
	for _, p := range ps {
		if p.Status != StatusEditing {
			t.Fatalf("status = %q, want editing", p.Status)
		}
		if p.Color == "" {
			t.Fatalf("user %s has no color", p.UserID)
		}
	}
}

func TestManager_ColorStablePerUser(t *testing.T) {
	m := NewManager(0)

	m.Create("conn-1", "alice", "Alice", "doc-1")
	first := m.PresenceFor("doc-1")[0].Color

	// 同一用户另开一条会话，颜色不变
	m.Create("conn-2", "alice", "Alice", "doc-1")
	for _, p := range m.PresenceFor("doc-1") {
		if p.Color != first {
			t.Fatalf("color changed across sessions: %q vs %q", p.Color, first)
		}
	}

	// 会话全部结束后重进，颜色仍然不变（按 userId 记忆）
	m.End("conn-1")
	m.End("conn-2")
	m.Create("conn-3", "alice", "Alice", "doc-1")
	if got := m.PresenceFor("doc-1")[0].Color; got != first {
		t.Fatalf("color after rejoin = %q, want %q", got, first)
	}
}

func TestManager_IdleComputedAtReadTime(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	m.Create("conn-1", "alice", "Alice", "doc-1")

	if got := m.PresenceFor("doc-1")[0].Status; got != StatusEditing {
		t.Fatalf("fresh session status = %q, want editing", got)
	}

	time.Sleep(50 * time.Millisecond)
	if got := m.PresenceFor("doc-1")[0].Status; got != StatusIdle {
		t.Fatalf("stale session status = %q, want idle", got)
	}

	// 任何活动都会把它拉回来
	m.Touch("conn-1")
	if got := m.PresenceFor("doc-1")[0].Status; got != StatusEditing {
		t.Fatalf("touched session status = %q, want editing", got)
	}
}

func TestManager_UpdateCursor(t *testing.T) {
	m := NewManager(0)
	m.Create("conn-1", "alice", "Alice", "doc-1")

	if ok := m.UpdateCursor("conn-1", CursorPosition{Path: "body", Offset: 7}); !ok {
		t.Fatal("UpdateCursor() returned false for live session")
	}
	p := m.PresenceFor("doc-1")[0]
	if p.Cursor == nil || p.Cursor.Path != "body" || p.Cursor.Offset != 7 {
		t.Fatalf("cursor = %+v, want body:7", p.Cursor)
	}

	if ok := m.UpdateCursor("ghost", CursorPosition{}); ok {
		t.Fatal("UpdateCursor() returned true for unknown session")
	}
}

func TestManager_EndAndCountByUser(t *testing.T) {
	m := NewManager(0)
	m.Create("conn-1", "alice", "Alice", "doc-1")
	m.Create("conn-2", "alice", "Alice", "doc-1")

	if got := m.CountByUser("alice"); got != 2 {
		t.Fatalf("CountByUser() = %d, want 2", got)
	}

	s, ok := m.End("conn-1")
	if !ok || s.UserID != "alice" {
		t.Fatalf("End() = %+v, %v", s, ok)
	}
	if got := m.CountByUser("alice"); got != 1 {
		t.Fatalf("CountByUser() after end = %d, want 1", got)
	}

	if _, ok := m.End("conn-1"); ok {
		t.Fatal("End() twice returned true")
	}
}

package ws

import (
	"context"
	"errors"
	"testing"
	"time"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/lock"
	"collabEngine/backend/internal/session"
)

// 搭一套不带 redis / kafka / 真实 websocket 的完整管线。
func testManager(t *testing.T) *Manager {
	t.Helper()
	svc := collab.NewInMemoryService()
	hub := NewHub()
	svc.SetBroadcaster(hub)
	sessions := session.NewManager(0)
	locks := lock.NewManager()
	sem := collab.NewSemaphoreControl(10)
	return NewManager(hub, svc, sessions, locks, nil, nil, sem)
}

func join(t *testing.T, m *Manager, sessionID, userID, docID string) *Conn {
	t.Helper()
	c := newConn(nil, m, sessionID, userID, userID)
	c.dispatch(context.Background(), ClientMessage{Type: "join-document", DocID: docID})
	msgs := drain(c)
	if len(msgs) < 2 {
		t.Fatalf("join produced %d messages, want document-loaded + presence-updated", len(msgs))
	}
	if _, ok := msgs[0].(DocumentLoadedMessage); !ok {
		t.Fatalf("first message = %T, want DocumentLoadedMessage", msgs[0])
	}
	return c
}

type failingCreateService struct {
	collab.Service
	err error
}

func (s failingCreateService) CreateDocument(ctx context.Context, id string, initial *collab.Node, authorID string) (collab.Document, error) {
	return collab.Document{}, s.err
}

// 建档失败的 join 不得留下半个会话：docID 不落位，后续操作仍报未加入。
func TestConn_FailedJoinLeavesNoSession(t *testing.T) {
	m := testManager(t)
	m.svc = failingCreateService{Service: m.svc, err: errors.New("backing store on fire")}
	c := newConn(nil, m, "s1", "alice", "alice")

	c.dispatch(context.Background(), ClientMessage{Type: "join-document", DocID: "doc-1"})
	msgs := drain(c)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 error", len(msgs))
	}
	if e, ok := msgs[0].(ErrorMessage); !ok || e.Code != codeInternal {
		t.Fatalf("message = %+v, want INTERNAL error", msgs[0])
	}
	if c.docID != "" {
		t.Fatalf("docID = %q after failed join, want empty", c.docID)
	}
	if got := m.sessions.CountByUser("alice"); got != 0 {
		t.Fatalf("sessions = %d after failed join, want 0", got)
	}

	c.dispatch(context.Background(), ClientMessage{Type: "request-sync"})
	msgs = drain(c)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if e, ok := msgs[0].(ErrorMessage); !ok || e.Code != codeNotInDocument {
		t.Fatalf("message = %+v, want NOT_IN_DOCUMENT", msgs[0])
	}
}

func TestConn_OperationBeforeJoinRejected(t *testing.T) {
	m := testManager(t)
	c := newConn(nil, m, "s1", "alice", "alice")

	c.dispatch(context.Background(), ClientMessage{Type: "operation", Op: &OperationPayload{Kind: "insert"}})

	msgs := drain(c)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	e, ok := msgs[0].(ErrorMessage)
	if !ok || e.Code != codeNotInDocument {
		t.Fatalf("message = %+v, want NOT_IN_DOCUMENT error", msgs[0])
	}
}

func TestConn_OperationAppliedBroadcastToRoom(t *testing.T) {
	m := testManager(t)
	alice := join(t, m, "s1", "alice", "doc-1")
	bob := join(t, m, "s2", "bob", "doc-1")
	drain(alice) // 丢掉 bob 加入时的 presence 广播

	alice.dispatch(context.Background(), ClientMessage{Type: "operation", Op: &OperationPayload{
		Kind: "insert", Path: "title", Value: collab.StrNode("hello"),
	}})

	for name, c := range map[string]*Conn{"alice": alice, "bob": bob} {
		msgs := drain(c)
		var found *OperationAppliedMessage
		for _, msg := range msgs {
			if a, ok := msg.(OperationAppliedMessage); ok {
				found = &a
				break
			}
		}
		if found == nil {
			t.Fatalf("%s did not receive operation-applied: %+v", name, msgs)
		}
		if found.Revision != 1 {
			t.Fatalf("%s saw revision %d, want 1", name, found.Revision)
		}
	}
}

func TestConn_InvalidOperationRejectedWithCode(t *testing.T) {
	m := testManager(t)
	alice := join(t, m, "s1", "alice", "doc-1")

	// update 一条不存在的路径：INVALID_PATH
	alice.dispatch(context.Background(), ClientMessage{Type: "operation", Op: &OperationPayload{
		Kind: "update", Path: "no.such.path", Value: collab.StrNode("x"),
	}})

	msgs := drain(alice)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 rejection", len(msgs))
	}
	rej, ok := msgs[0].(OperationRejectedMessage)
	if !ok || rej.Code != codeInvalidPath {
		t.Fatalf("message = %+v, want operation-rejected INVALID_PATH", msgs[0])
	}
}

func TestConn_LockFlow(t *testing.T) {
	m := testManager(t)
	alice := join(t, m, "s1", "alice", "doc-1")
	bob := join(t, m, "s2", "bob", "doc-1")
	drain(alice)

	alice.dispatch(context.Background(), ClientMessage{Type: "request-lock", Path: "sections.0"})
	aliceMsgs := drain(alice)
	if len(aliceMsgs) != 2 {
		t.Fatalf("alice got %d messages, want lock-acquired + lock-changed", len(aliceMsgs))
	}
	acq, ok := aliceMsgs[0].(LockResultMessage)
	if !ok || acq.Type != "lock-acquired" || acq.HolderID != "alice" {
		t.Fatalf("first message = %+v, want lock-acquired by alice", aliceMsgs[0])
	}
	drain(bob)

	// bob 申请同一路径被拒，并看到持有者
	bob.dispatch(context.Background(), ClientMessage{Type: "request-lock", Path: "sections.0"})
	bobMsgs := drain(bob)
	if len(bobMsgs) != 1 {
		t.Fatalf("bob got %d messages, want 1", len(bobMsgs))
	}
	denied, ok := bobMsgs[0].(LockResultMessage)
	if !ok || denied.Type != "lock-denied" || denied.HolderID != "alice" {
		t.Fatalf("message = %+v, want lock-denied with holder alice", bobMsgs[0])
	}

	// bob 释放别人的锁：no-op，无广播
	bob.dispatch(context.Background(), ClientMessage{Type: "release-lock", Path: "sections.0"})
	if got := len(drain(alice)); got != 0 {
		t.Fatalf("foreign release caused %d broadcasts, want 0", got)
	}

	alice.dispatch(context.Background(), ClientMessage{Type: "release-lock", Path: "sections.0"})
	released := drain(bob)
	if len(released) != 1 {
		t.Fatalf("bob got %d messages after release, want 1", len(released))
	}
	if ch, ok := released[0].(LockChangedMessage); !ok || ch.Locked {
		t.Fatalf("message = %+v, want lock-changed unlocked", released[0])
	}
}

// 用户最后一条会话断开时，其全部锁自动释放并广播。
func TestConn_DisconnectReleasesLocks(t *testing.T) {
	m := testManager(t)
	alice := join(t, m, "s1", "alice", "doc-1")
	bob := join(t, m, "s2", "bob", "doc-1")
	drain(alice)

	alice.dispatch(context.Background(), ClientMessage{Type: "request-lock", Path: "sections.0"})
	drain(alice)
	drain(bob)

	alice.teardown(context.Background())

	var sawUnlock bool
	for _, msg := range drain(bob) {
		if ch, ok := msg.(LockChangedMessage); ok && !ch.Locked && ch.Path == "sections.0" {
			sawUnlock = true
		}
	}
	if !sawUnlock {
		t.Fatal("bob did not see lock-changed after holder disconnect")
	}
	if _, held := m.locks.IsLocked("sections.0"); held {
		t.Fatal("lock survived holder disconnect")
	}
	if got := len(m.sessions.PresenceFor("doc-1")); got != 1 {
		t.Fatalf("presence after disconnect = %d sessions, want 1", got)
	}
}

// 同一用户还有别的会话在线时，断开一条连接不动锁。
func TestConn_MultiTabKeepsLocks(t *testing.T) {
	m := testManager(t)
	tab1 := join(t, m, "s1", "alice", "doc-1")
	tab2 := join(t, m, "s2", "alice", "doc-1")
	drain(tab1)

	tab1.dispatch(context.Background(), ClientMessage{Type: "request-lock", Path: "title"})
	drain(tab1)
	drain(tab2)

	tab1.teardown(context.Background())
	if _, held := m.locks.IsLocked("title"); !held {
		t.Fatal("lock released while user still has a live session")
	}
}

func TestConn_CursorMoveBroadcast(t *testing.T) {
	m := testManager(t)
	alice := join(t, m, "s1", "alice", "doc-1")
	bob := join(t, m, "s2", "bob", "doc-1")
	drain(alice)

	alice.dispatch(context.Background(), ClientMessage{Type: "cursor-move",
		Cursor: &session.CursorPosition{Path: "body", Offset: 12}})

	var found *CursorUpdatedMessage
	for _, msg := range drain(bob) {
		if cu, ok := msg.(CursorUpdatedMessage); ok {
			found = &cu
		}
	}
	if found == nil {
		t.Fatal("bob did not receive cursor-updated")
	}
	if found.UserID != "alice" || found.Cursor.Offset != 12 {
		t.Fatalf("cursor-updated = %+v", found)
	}
}

func TestConn_MentionTargetsOneUser(t *testing.T) {
	m := testManager(t)
	alice := join(t, m, "s1", "alice", "doc-1")
	bob := join(t, m, "s2", "bob", "doc-1")
	carol := join(t, m, "s3", "carol", "doc-1")
	drain(alice)
	drain(bob)

	alice.dispatch(context.Background(), ClientMessage{Type: "mention",
		TargetUserID: "bob", Path: "body", Text: "look here"})

	var got *MentionedMessage
	for _, msg := range drain(bob) {
		if mn, ok := msg.(MentionedMessage); ok {
			got = &mn
		}
	}
	if got == nil || got.FromUserID != "alice" || got.Text != "look here" {
		t.Fatalf("mention = %+v", got)
	}
	for _, msg := range drain(carol) {
		if _, ok := msg.(MentionedMessage); ok {
			t.Fatal("mention leaked to a non-target user")
		}
	}
}

func TestConn_RequestSyncCatchesUp(t *testing.T) {
	m := testManager(t)
	alice := join(t, m, "s1", "alice", "doc-1")

	for i := 0; i < 3; i++ {
		alice.dispatch(context.Background(), ClientMessage{Type: "operation", Op: &OperationPayload{
			Kind: "insert", Path: "body", Value: collab.StrNode("x"),
			Position: i, BaseRevision: uint64(i), Timestamp: time.Now(),
		}})
	}
	drain(alice)

	alice.dispatch(context.Background(), ClientMessage{Type: "request-sync", SinceRevision: 1})
	msgs := drain(alice)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 sync-response", len(msgs))
	}
	sync, ok := msgs[0].(SyncResponseMessage)
	if !ok {
		t.Fatalf("message = %T, want SyncResponseMessage", msgs[0])
	}
	if sync.Revision != 3 || len(sync.Ops) != 2 {
		t.Fatalf("sync-response rev=%d ops=%d, want rev=3 ops=2", sync.Revision, len(sync.Ops))
	}
	if sync.Ops[0].Revision != 2 || sync.Ops[1].Revision != 3 {
		t.Fatalf("ops revisions = %d,%d, want 2,3", sync.Ops[0].Revision, sync.Ops[1].Revision)
	}
}

func TestConn_AddCommentBroadcast(t *testing.T) {
	m := testManager(t)
	alice := join(t, m, "s1", "alice", "doc-1")
	bob := join(t, m, "s2", "bob", "doc-1")
	drain(alice)

	alice.dispatch(context.Background(), ClientMessage{Type: "add-comment",
		Path: "body", Text: "typo here", Range: &[2]int{3, 7}})

	var got *CommentAddedMessage
	for _, msg := range drain(bob) {
		if cm, ok := msg.(CommentAddedMessage); ok {
			got = &cm
		}
	}
	if got == nil {
		t.Fatal("bob did not receive comment-added")
	}
	c := got.Comment
	if c.AuthorID != "alice" || c.Content != "typo here" || c.ID == "" || c.Range == nil {
		t.Fatalf("comment = %+v", c)
	}
}

func TestConn_UnknownTypeRejected(t *testing.T) {
	m := testManager(t)
	alice := join(t, m, "s1", "alice", "doc-1")

	alice.dispatch(context.Background(), ClientMessage{Type: "fly-to-moon"})
	msgs := drain(alice)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if e, ok := msgs[0].(ErrorMessage); !ok || e.Code != codeInvalidOperation {
		t.Fatalf("message = %+v, want INVALID_OPERATION error", msgs[0])
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/telemetry"
)

// 错误码（只回给发起连接，绝不打断别人的会话）
const (
	codeNotInDocument    = "NOT_IN_DOCUMENT"
	codeLockDenied       = "LOCK_DENIED"
	codeDocumentNotFound = "DOCUMENT_NOT_FOUND"
	codeInvalidOperation = "INVALID_OPERATION"
	codeInvalidPath      = "INVALID_PATH"
	codeInternal         = "INTERNAL"
)

const presenceTTL = 600 * time.Second

type Conn struct {
	ws        *websocket.Conn
	m         *Manager
	sessionID string // 连接 id，= 会话 id
	docID     string
	userID    string
	username  string
	// send 是该连接的出站队列；writeLoop 持续消费
	send chan OutboundMessage
}

func newConn(ws *websocket.Conn, m *Manager, sessionID, userID, username string) *Conn {
	return &Conn{
		ws:        ws,
		m:         m,
		sessionID: sessionID,
		userID:    userID,
		username:  username,
		send:      make(chan OutboundMessage, 32),
	}
}

func (c *Conn) enqueue(msg OutboundMessage) {
	// send 可能恰好已被 readLoop 关闭（连接退出与房间广播的竞态）
	defer func() { _ = recover() }()
	select {
	case c.send <- msg:
	default:
		// 队列满了则丢弃；慢连接靠 request-sync 追平
	}
}

func (c *Conn) writeLoop() {
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}

func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.send)
	defer c.teardown(ctx)
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			// 连接断开是唯一的取消信号
			log.Printf("read json error (user=%s, doc=%s): %v", c.userID, c.docID, err)
			return
		}
		c.dispatch(ctx, msg)
	}
}

// dispatch 一条消息一个逻辑任务；内部的状态变更全是同步的，
// panic 在这里兜住，转成发给发送方的通用错误，进程不退出。
func (c *Conn) dispatch(ctx context.Context, msg ClientMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("handler panic (type=%s, user=%s): %v", msg.Type, c.userID, r)
			c.enqueue(ErrorMessage{Type: "error", Code: codeInternal})
		}
	}()

	switch msg.Type {
	case "join-document":
		c.handleJoin(ctx, msg)
	case "operation":
		c.handleOperation(ctx, msg)
	case "cursor-move":
		c.handleCursorMove(ctx, msg)
	case "request-lock":
		c.handleRequestLock(msg)
	case "release-lock":
		c.handleReleaseLock(msg)
	case "add-comment":
		c.handleAddComment(ctx, msg)
	case "mention":
		c.handleMention(msg)
	case "request-sync":
		c.handleRequestSync(ctx, msg)
	default:
		c.enqueue(ErrorMessage{Type: "error", Code: codeInvalidOperation, Message: "unknown message type"})
	}
}

// inDocument 校验非 join 消息必须已有会话。
func (c *Conn) inDocument() bool {
	if c.docID == "" {
		c.enqueue(ErrorMessage{Type: "error", Code: codeNotInDocument})
		return false
	}
	return true
}

func (c *Conn) handleJoin(ctx context.Context, msg ClientMessage) {
	if msg.DocID == "" {
		c.enqueue(ErrorMessage{Type: "error", Code: codeInvalidOperation, Message: "missing docId"})
		return
	}
	// 换房间：先把旧房间清干净
	if c.docID != "" && c.docID != msg.DocID {
		c.leaveCurrent(ctx)
	}

	// 首次加入时惰性建档；已存在则幂等返回，不覆盖。
	// docID 在建档和建会话都成功之前不落位，失败的 join 不产生半个会话。
	doc, err := c.m.svc.CreateDocument(ctx, msg.DocID, msg.Content, c.userID)
	if err != nil {
		c.enqueue(ErrorMessage{Type: "error", Code: codeInternal, Message: err.Error()})
		return
	}

	c.m.sessions.Create(c.sessionID, c.userID, c.username, msg.DocID)
	c.m.hub.Join(msg.DocID, c)
	c.docID = msg.DocID

	// redis 镜像是 best-effort：失败只记日志
	if c.m.presence != nil {
		if err := c.m.presence.AddMember(ctx, msg.DocID, c.userID, c.username, presenceTTL); err != nil {
			log.Printf("presence cache add member error: %v", err)
		}
	}

	c.enqueue(DocumentLoadedMessage{Type: "document-loaded", Document: doc})
	c.broadcastPresence(msg.DocID)
	c.m.sink.Track(telemetry.Event{
		Category: "collaboration", Action: "join", UserID: c.userID,
		Metadata: map[string]any{"docId": msg.DocID},
	})
}

func (c *Conn) handleOperation(ctx context.Context, msg ClientMessage) {
	if !c.inDocument() {
		return
	}
	if msg.Op == nil {
		c.enqueue(OperationRejectedMessage{Type: "operation-rejected", DocID: c.docID,
			Code: codeInvalidOperation, Message: "missing op"})
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if err := c.m.sem.Acquire(opCtx); err != nil {
		c.enqueue(OperationRejectedMessage{Type: "operation-rejected", DocID: c.docID,
			Code: codeInternal, Message: err.Error()})
		return
	}
	defer c.m.sem.Release()

	op := msg.Op.ToOperation(c.sessionID, c.userID)
	if _, err := c.m.svc.Apply(opCtx, c.docID, op); err != nil {
		c.enqueue(OperationRejectedMessage{Type: "operation-rejected", DocID: c.docID,
			OpID: op.ID, Code: rejectCode(err), Message: err.Error()})
		return
	}
	// ack 就是房间广播本身：引擎在文档临界区内已经把
	// operation-applied 扇出给了包括本连接在内的所有成员。
	c.m.sessions.Touch(c.sessionID)
	c.m.sink.Track(telemetry.Event{
		Category: "collaboration", Action: "operation", UserID: c.userID,
		Metadata: map[string]any{"docId": c.docID, "kind": string(op.Kind)},
	})
}

func rejectCode(err error) string {
	switch {
	case errors.Is(err, collab.ErrDocumentNotFound):
		return codeDocumentNotFound
	case errors.Is(err, collab.ErrInvalidPath):
		return codeInvalidPath
	case errors.Is(err, collab.ErrInvalidOperation):
		return codeInvalidOperation
	default:
		return codeInternal
	}
}

func (c *Conn) handleCursorMove(ctx context.Context, msg ClientMessage) {
	if !c.inDocument() {
		return
	}
	if msg.Cursor == nil {
		return
	}
	c.m.sessions.UpdateCursor(c.sessionID, *msg.Cursor)
	if c.m.presence != nil {
		if b, err := json.Marshal(msg.Cursor); err == nil {
			if err := c.m.presence.SetCursor(ctx, c.docID, c.userID, b, presenceTTL); err != nil {
				log.Printf("presence cache set cursor error: %v", err)
			}
		}
	}
	c.m.hub.Broadcast(c.docID, CursorUpdatedMessage{
		Type: "cursor-updated", DocID: c.docID,
		SessionID: c.sessionID, UserID: c.userID, Cursor: msg.Cursor,
	})
}

func (c *Conn) handleRequestLock(msg ClientMessage) {
	if !c.inDocument() {
		return
	}
	l, err := c.m.locks.Acquire(msg.Path, c.userID)
	if err != nil {
		holder, _ := c.m.locks.IsLocked(msg.Path)
		c.enqueue(LockResultMessage{Type: "lock-denied", DocID: c.docID, Path: msg.Path, HolderID: holder.HolderID})
		return
	}
	c.enqueue(LockResultMessage{Type: "lock-acquired", DocID: c.docID, Path: msg.Path, HolderID: l.HolderID})
	c.m.hub.Broadcast(c.docID, LockChangedMessage{
		Type: "lock-changed", DocID: c.docID, Path: msg.Path, HolderID: l.HolderID, Locked: true,
	})
}

func (c *Conn) handleReleaseLock(msg ClientMessage) {
	if !c.inDocument() {
		return
	}
	// 释放别人的锁是静默 no-op，不广播假变化
	if c.m.locks.Release(msg.Path, c.userID) {
		c.m.hub.Broadcast(c.docID, LockChangedMessage{
			Type: "lock-changed", DocID: c.docID, Path: msg.Path, Locked: false,
		})
	}
}

func (c *Conn) handleAddComment(ctx context.Context, msg ClientMessage) {
	if !c.inDocument() {
		return
	}
	comment, err := c.m.svc.AddComment(ctx, c.docID, collab.Comment{
		Path:     msg.Path,
		Content:  msg.Text,
		AuthorID: c.userID,
		Range:    msg.Range,
	})
	if err != nil {
		c.enqueue(ErrorMessage{Type: "error", Code: rejectCode(err), Message: err.Error()})
		return
	}
	c.m.sessions.Touch(c.sessionID)
	c.m.hub.Broadcast(c.docID, CommentAddedMessage{Type: "comment-added", DocID: c.docID, Comment: comment})
	c.m.sink.Track(telemetry.Event{
		Category: "collaboration", Action: "comment", UserID: c.userID,
		Metadata: map[string]any{"docId": c.docID, "path": msg.Path},
	})
}

func (c *Conn) handleMention(msg ClientMessage) {
	if !c.inDocument() {
		return
	}
	if msg.TargetUserID == "" {
		c.enqueue(ErrorMessage{Type: "error", Code: codeInvalidOperation, Message: "missing targetUserId"})
		return
	}
	c.m.hub.SendToUser(c.docID, msg.TargetUserID, MentionedMessage{
		Type: "mentioned", DocID: c.docID, FromUserID: c.userID, Path: msg.Path, Text: msg.Text,
	})
	c.m.sink.Track(telemetry.Event{
		Category: "collaboration", Action: "mention", UserID: c.userID,
		Metadata: map[string]any{"docId": c.docID, "target": msg.TargetUserID},
	})
}

func (c *Conn) handleRequestSync(ctx context.Context, msg ClientMessage) {
	if !c.inDocument() {
		return
	}
	ops, err := c.m.svc.OpsSince(ctx, c.docID, msg.SinceRevision)
	if err != nil {
		c.enqueue(ErrorMessage{Type: "error", Code: rejectCode(err), Message: err.Error()})
		return
	}
	rev, _ := c.m.svc.CurrentRevision(ctx, c.docID)
	c.enqueue(SyncResponseMessage{Type: "sync-response", DocID: c.docID, Revision: rev, Ops: ops})
}

func (c *Conn) broadcastPresence(docID string) {
	c.m.hub.Broadcast(docID, PresenceUpdatedMessage{
		Type: "presence-updated", DocID: docID,
		Members: c.m.sessions.PresenceFor(docID),
	})
}

// leaveCurrent 把连接从当前文档上摘下来并做全部断线清理。
func (c *Conn) leaveCurrent(ctx context.Context) {
	docID := c.docID
	if docID == "" {
		return
	}
	c.m.hub.Leave(docID, c)
	s, ok := c.m.sessions.End(c.sessionID)
	if ok && c.m.sessions.CountByUser(s.UserID) == 0 {
		// 该用户最后一条会话结束：自动释放其全部锁，
		// 避免客户端消失把字段永久锁死
		for _, path := range c.m.locks.ReleaseAll(s.UserID) {
			c.m.hub.Broadcast(docID, LockChangedMessage{
				Type: "lock-changed", DocID: docID, Path: path, Locked: false,
			})
		}
	}
	if c.m.presence != nil {
		if err := c.m.presence.RemoveMember(ctx, docID, c.userID); err != nil {
			log.Printf("presence cache remove member error: %v", err)
		}
	}
	c.broadcastPresence(docID)
	c.docID = ""
}

func (c *Conn) teardown(ctx context.Context) {
	c.leaveCurrent(ctx)
}

package ws

import (
	"time"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/session"
)

// ClientMessage 入站消息的统一外壳，按 Type 取用字段。
type ClientMessage struct {
	Type          string                  `json:"type"`
	DocID         string                  `json:"docId,omitempty"`
	Content       *collab.Node            `json:"content,omitempty"` // join-document 的初始内容（可选）
	Op            *OperationPayload       `json:"op,omitempty"`
	Cursor        *session.CursorPosition `json:"cursor,omitempty"`
	Path          string                  `json:"path,omitempty"` // request-lock / release-lock / add-comment
	Text          string                  `json:"text,omitempty"` // add-comment 正文 / mention 附言
	Range         *[2]int                 `json:"range,omitempty"`
	TargetUserID  string                  `json:"targetUserId,omitempty"`  // mention
	SinceRevision uint64                  `json:"sinceRevision,omitempty"` // request-sync
}

// OperationPayload 是线上的操作载荷；进入引擎前统一转成 collab.Operation 并校验。
type OperationPayload struct {
	ID           string       `json:"id,omitempty"`
	Kind         string       `json:"kind"` // "insert" / "update" / "delete"
	Path         string       `json:"path"` // 点号分隔
	Value        *collab.Node `json:"value,omitempty"`
	Position     int          `json:"position,omitempty"`
	Length       int          `json:"length,omitempty"`
	BaseRevision uint64       `json:"baseRevision"`
	// 客户端落笔时间，Insert 并列裁决用；缺省由服务端补当前时间。
	Timestamp time.Time `json:"timestamp,omitempty"`
}

func (p OperationPayload) ToOperation(clientID, userID string) collab.Operation {
	return collab.Operation{
		ID:           p.ID,
		Kind:         collab.OpKind(p.Kind),
		Path:         collab.ParsePath(p.Path),
		Value:        p.Value,
		Position:     p.Position,
		Length:       p.Length,
		ClientID:     clientID,
		UserID:       userID,
		Timestamp:    p.Timestamp,
		BaseRevision: p.BaseRevision,
	}
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

type ErrorMessage struct {
	Type    string `json:"type"` // 固定 "error"
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type DocumentLoadedMessage struct {
	Type     string          `json:"type"` // 固定 "document-loaded"
	Document collab.Document `json:"document"`
}

type PresenceUpdatedMessage struct {
	Type    string             `json:"type"` // 固定 "presence-updated"
	DocID   string             `json:"docId"`
	Members []session.Presence `json:"members"`
}

type OperationAppliedMessage struct {
	Type     string           `json:"type"` // 固定 "operation-applied"
	DocID    string           `json:"docId"`
	Revision uint64           `json:"revision"` // 服务端已应用后的最新版本
	Op       collab.AppliedOp `json:"op"`
}

type OperationRejectedMessage struct {
	Type    string `json:"type"` // 固定 "operation-rejected"
	DocID   string `json:"docId"`
	OpID    string `json:"opId,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type CursorUpdatedMessage struct {
	Type      string                  `json:"type"` // 固定 "cursor-updated"
	DocID     string                  `json:"docId"`
	SessionID string                  `json:"sessionId"`
	UserID    string                  `json:"userId"`
	Cursor    *session.CursorPosition `json:"cursor"`
}

type LockResultMessage struct {
	Type     string `json:"type"` // "lock-acquired" / "lock-denied"
	DocID    string `json:"docId"`
	Path     string `json:"path"`
	HolderID string `json:"holderId,omitempty"`
}

// 广播给房间的锁状态变化；Locked=false 表示释放。
type LockChangedMessage struct {
	Type     string `json:"type"` // 固定 "lock-changed"
	DocID    string `json:"docId"`
	Path     string `json:"path"`
	HolderID string `json:"holderId,omitempty"`
	Locked   bool   `json:"locked"`
}

type CommentAddedMessage struct {
	Type    string         `json:"type"` // 固定 "comment-added"
	DocID   string         `json:"docId"`
	Comment collab.Comment `json:"comment"`
}

type MentionedMessage struct {
	Type       string `json:"type"` // 固定 "mentioned"
	DocID      string `json:"docId"`
	FromUserID string `json:"fromUserId"`
	Path       string `json:"path,omitempty"`
	Text       string `json:"text,omitempty"`
}

type SyncResponseMessage struct {
	Type     string             `json:"type"` // 固定 "sync-response"
	DocID    string             `json:"docId"`
	Revision uint64             `json:"revision"`
	Ops      []collab.AppliedOp `json:"ops"`
}

func (m ErrorMessage) MessageType() string             { return m.Type }
func (m DocumentLoadedMessage) MessageType() string    { return m.Type }
func (m PresenceUpdatedMessage) MessageType() string   { return m.Type }
func (m OperationAppliedMessage) MessageType() string  { return m.Type }
func (m OperationRejectedMessage) MessageType() string { return m.Type }
func (m CursorUpdatedMessage) MessageType() string     { return m.Type }
func (m LockResultMessage) MessageType() string        { return m.Type }
func (m LockChangedMessage) MessageType() string       { return m.Type }
func (m CommentAddedMessage) MessageType() string      { return m.Type }
func (m MentionedMessage) MessageType() string         { return m.Type }
func (m SyncResponseMessage) MessageType() string      { return m.Type }

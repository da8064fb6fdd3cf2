package ws

import (
	"sync"

	"collabEngine/backend/internal/collab"
)

// Hub 管理文档房间与扇出。
// 房间里存的是连接而不是 userID：一个用户可开多个标签页/设备，
// 广播要逐连接发。
type Hub struct {
	mu sync.RWMutex
	// docID -> set of connections
	rooms map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Conn]struct{})}
}

// Join 将连接加入指定文档房间
func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

// Leave 将连接从指定文档房间移除
func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// Broadcast 把消息送进房间内每个连接的发送队列。
// enqueue 从不阻塞，所以整个遍历都在读锁内进行：
// 其他连接的 Join/Leave 在改同一张房间表，锁外遍历会撞上 map 并发写。
func (h *Hub) Broadcast(docID string, msg OutboundMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[docID] {
		c.enqueue(msg)
	}
}

// SendToUser 定向投递（mention）：同一用户的所有连接都各收一份。
func (h *Hub) SendToUser(docID, userID string, msg OutboundMessage) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := false
	for c := range h.rooms[docID] {
		if c.userID == userID {
			c.enqueue(msg)
			sent = true
		}
	}
	return sent
}

// OperationApplied 实现 collab.Broadcaster。
// 引擎在文档临界区内同步调用，所以入队顺序恒等于 revision 顺序；
// 发送链路上（每连接的 FIFO 通道）不会再重排。
func (h *Hub) OperationApplied(docID string, op collab.AppliedOp) {
	h.Broadcast(docID, OperationAppliedMessage{
		Type:     "operation-applied",
		DocID:    docID,
		Revision: op.Revision,
		Op:       op,
	})
}

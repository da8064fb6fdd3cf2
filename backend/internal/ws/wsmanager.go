package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"collabEngine/backend/internal/cache"
	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/lock"
	"collabEngine/backend/internal/session"
	"collabEngine/backend/internal/telemetry"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

// Manager 是网关的装配点：把一条连接上的消息路由到各组件。
// 各组件自己管自己的表，这里不碰任何内部状态。
type Manager struct {
	hub      *Hub
	svc      collab.Service
	sessions *session.Manager
	locks    *lock.Manager
	presence cache.PresenceCache // 可为 nil（无 redis 环境）
	sink     telemetry.Sink
	sem      *collab.SemaphoreControl
}

func NewManager(hub *Hub, svc collab.Service, sessions *session.Manager, locks *lock.Manager,
	presence cache.PresenceCache, sink telemetry.Sink, sem *collab.SemaphoreControl) *Manager {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Manager{
		hub: hub, svc: svc, sessions: sessions, locks: locks,
		presence: presence, sink: sink, sem: sem,
	}
}

func (m *Manager) Hub() *Hub { return m.hub }

// WebSocketConnect 升级连接并进入读循环（阻塞至连接关闭）。
// userId/username 由鉴权中间件写入 gin 上下文。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetString("userId")
	username := c.GetString("username")
	if userID == "" {
		// 兼容本地联调：允许从 query 里带身份
		userID = c.Query("userId")
		username = c.Query("username")
	}
	if userID == "" {
		c.String(http.StatusBadRequest, "missing user identity")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := newConn(conn, m, uuid.NewString(), userID, username)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()

	wsConn.readLoop(c.Request.Context())
}

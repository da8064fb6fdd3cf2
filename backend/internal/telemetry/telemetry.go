// Package telemetry 把协作事件以 fire-and-forget 方式送出。
// 核心逻辑绝不等待、绝不重试、绝不因为投递失败而失败。
package telemetry

import "time"

type Event struct {
	Category string         `json:"category"` // "collaboration"
	Action   string         `json:"action"`   // "join" / "operation" / "comment" / "mention"
	UserID   string         `json:"userId"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}

// Sink 的 Track 必须立即返回；投递是否成功调用方不关心。
type Sink interface {
	Track(evt Event)
}

// NopSink 给测试和无 kafka 环境用。
type NopSink struct{}

func (NopSink) Track(Event) {}

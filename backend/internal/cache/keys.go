package cache

import "fmt"

// 键语义：
// - roomKey(docID):           房间在线成员（Set<userId>）
// - namesKey(docID):          房间内 userId→username 映射（Hash）
// - memberKey(docID, userID): 成员心跳存活键（String，带 TTL）
// - cursorKey(docID, userID): 光标位置（String，JSON，带 TTL）

const (
	keyRoomFmt   = "presence:room:{docID:%s}"       // Set<userId>
	keyNamesFmt  = "presence:room:names:{docID:%s}" // Hash<userId -> username>
	keyAliveFmt  = "presence:alive:{docID:%s}:%s"   // 心跳 TTL
	keyCursorFmt = "presence:cursor:{docID:%s}:%s"  // JSON blob
)

func roomKey(docID string) string           { return fmt.Sprintf(keyRoomFmt, docID) }
func namesKey(docID string) string          { return fmt.Sprintf(keyNamesFmt, docID) }
func memberKey(docID, userID string) string { return fmt.Sprintf(keyAliveFmt, docID, userID) }
func cursorKey(docID, userID string) string { return fmt.Sprintf(keyCursorFmt, docID, userID) }

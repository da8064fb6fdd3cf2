// Package merge 在 OT 热路径之外调和两个各自演化的文档快照
// （典型场景：断线期间的离线编辑分支回灌）。
package merge

import (
	"encoding/json"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"collabEngine/backend/internal/collab"
)

// DocumentVersion 不可变快照。Hash 是 xxhash64 指纹，
// 只作为不相等的廉价预判，绝不用于身份或安全判断。
type DocumentVersion struct {
	DocumentID string             `json:"documentId"`
	ID         string             `json:"id"`
	Revision   uint64             `json:"revision"`
	Content    *collab.Node       `json:"content"`
	Operations []collab.AppliedOp `json:"operations,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	CreatedBy  string             `json:"createdBy"`
	Hash       uint64             `json:"hash"`
}

func NewVersion(docID string, rev uint64, content *collab.Node, ops []collab.AppliedOp, createdBy string) DocumentVersion {
	return DocumentVersion{
		DocumentID: docID,
		ID:         uuid.NewString(),
		Revision:   rev,
		Content:    content.Clone(),
		Operations: ops,
		CreatedAt:  time.Now(),
		CreatedBy:  createdBy,
		Hash:       Fingerprint(content),
	}
}

// VersionOf 把一份实时文档快照包装成版本。
func VersionOf(doc collab.Document, createdBy string) DocumentVersion {
	return NewVersion(doc.ID, doc.Revision, doc.Content, doc.Log, createdBy)
}

// Fingerprint 对规范化 JSON 求 xxhash64。
// encoding/json 对 map 键排序，同一棵树的序列化结果是确定的。
func Fingerprint(n *collab.Node) uint64 {
	b, err := json.Marshal(n)
	if err != nil {
		return 0
	}
	return xxhash.Sum64(b)
}

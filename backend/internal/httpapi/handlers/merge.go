package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"collabEngine/backend/internal/collab"
	"collabEngine/backend/internal/merge"
)

// MergeHandler 是冲突解决器的带外入口：OT 流处理不了的场景
// （离线分支回灌、丢连接后的快照对账）从这里走。
type MergeHandler struct {
	svc      collab.Service
	resolver *merge.Resolver
}

func NewMergeHandler(svc collab.Service, resolver *merge.Resolver) *MergeHandler {
	return &MergeHandler{svc: svc, resolver: resolver}
}

// Detect 把上传的离线版本和当前实时文档做比对，登记冲突。
func (h *MergeHandler) Detect(c *gin.Context) {
	var remote merge.DocumentVersion
	if err := c.ShouldBindJSON(&remote); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_OPERATION", "message": err.Error()})
		return
	}
	doc, err := h.svc.GetDocument(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		if errors.Is(err, collab.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "DOCUMENT_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	local := merge.VersionOf(doc, doc.CreatedBy)
	if remote.Hash == 0 {
		remote.Hash = merge.Fingerprint(remote.Content)
	}
	conflict := h.resolver.DetectConflicts(local, remote)
	if conflict == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, conflict)
}

type resolveRequest struct {
	Strategy string                 `json:"strategy"` // "lww" / "three-way" / "path-priority"
	Base     *merge.DocumentVersion `json:"base,omitempty"`
	Priority map[string]int         `json:"priority,omitempty"`
}

func (h *MergeHandler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_OPERATION", "message": err.Error()})
		return
	}
	id := c.Param("conflictID")

	var (
		result merge.MergeResult
		err    error
	)
	switch req.Strategy {
	case "lww":
		result, err = h.resolver.ResolveLWW(id)
	case "three-way":
		if req.Base == nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_OPERATION", "message": "three-way requires base"})
			return
		}
		result, err = h.resolver.ResolveThreeWay(id, *req.Base)
	case "path-priority":
		result, err = h.resolver.ResolveByPathPriority(id, req.Priority)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_OPERATION", "message": "unknown strategy"})
		return
	}
	if err != nil {
		if errors.Is(err, merge.ErrUnresolvedMerge) {
			c.JSON(http.StatusConflict, gin.H{"code": "UNRESOLVED_MERGE", "message": err.Error()})
			return
		}
		if errors.Is(err, merge.ErrConflictResolved) {
			c.JSON(http.StatusConflict, gin.H{"code": "CONFLICT_ALREADY_RESOLVED", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *MergeHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conflicts": h.resolver.List()})
}

// Purge 清理已解决冲突；olderThan 形如 "24h"，缺省立即清全部已解决项。
func (h *MergeHandler) Purge(c *gin.Context) {
	olderThan := time.Duration(0)
	if s := c.Query("olderThan"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_OPERATION", "message": err.Error()})
			return
		}
		olderThan = d
	}
	c.JSON(http.StatusOK, gin.H{"purged": h.resolver.PurgeResolved(olderThan)})
}

type diffRequest struct {
	V1 merge.DocumentVersion `json:"v1"`
	V2 merge.DocumentVersion `json:"v2"`
}

// Diff 给 UI 的诊断视图：path → 双方取值。
func (h *MergeHandler) Diff(c *gin.Context) {
	var req diffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_OPERATION", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": h.resolver.CalculateMergeDiff(req.V1, req.V2)})
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"collabEngine/backend/internal/collab"
)

// DocumentHandler 暴露只读的文档快照/历史（协作走 websocket，这里是旁路查询）。
type DocumentHandler struct {
	svc collab.Service
}

func NewDocumentHandler(svc collab.Service) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.svc.GetDocument(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		if errors.Is(err, collab.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "DOCUMENT_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// History 返回 sinceRevision 之后的操作，断线客户端用 HTTP 也能追平。
func (h *DocumentHandler) History(c *gin.Context) {
	since, _ := strconv.ParseUint(c.Query("sinceRevision"), 10, 64)
	ops, err := h.svc.OpsSince(c.Request.Context(), c.Param("documentID"), since)
	if err != nil {
		if errors.Is(err, collab.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "DOCUMENT_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documentId": c.Param("documentID"), "ops": ops})
}

func (h *DocumentHandler) ResolveComment(c *gin.Context) {
	err := h.svc.ResolveComment(c.Request.Context(), c.Param("documentID"), c.Param("commentID"))
	if err != nil {
		if errors.Is(err, collab.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "DOCUMENT_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"code": "COMMENT_NOT_FOUND", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

func (h *DocumentHandler) Comments(c *gin.Context) {
	comments, err := h.svc.Comments(c.Request.Context(), c.Param("documentID"))
	if err != nil {
		if errors.Is(err, collab.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "DOCUMENT_NOT_FOUND"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documentId": c.Param("documentID"), "comments": comments})
}

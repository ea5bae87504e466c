package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/bull/doc-chat-server/internal/domain"
)

type uploadURLRequest struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func (s *Server) handleUploadURL(c *gin.Context) {
	var req uploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.Size <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "size must be positive"})
		return
	}

	cred, err := s.issuer.IssueUploadURL(c.Request.Context(), req.Name, req.Size)
	if err != nil {
		s.logger.Error("issue upload url failed", "name", req.Name, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not issue upload url"})
		return
	}
	c.JSON(http.StatusOK, cred)
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.lister.List(c.Request.Context())
	if err != nil {
		s.logger.Error("list documents failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not list documents"})
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	c.JSON(http.StatusOK, docs)
}

func (s *Server) handleDeleteDocument(c *gin.Context) {
	id := c.Param("documentId")
	if err := s.deleter.Run(c.Request.Context(), id); err != nil {
		s.logger.Error("delete document failed", "documentId", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not delete document"})
		return
	}
	c.Status(http.StatusNoContent)
}

type chatRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleChat(c *gin.Context) {
	id := c.Param("documentId")

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	// Fragments stream over the document's response channel; the HTTP
	// response only acknowledges that the answer finished.
	if err := s.chatter.Chat(c.Request.Context(), id, req.Text); err != nil {
		s.logger.Error("chat failed", "documentId", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "could not answer question"})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	result := gin.H{}
	healthy := true
	for _, check := range s.checks {
		if err := check.Probe(ctx); err != nil {
			result[check.Name] = err.Error()
			healthy = false
			continue
		}
		result[check.Name] = "ok"
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// Package httpapi exposes the document-chat HTTP API: upload credential
// issuing, document listing, deletion, and chat.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bull/doc-chat-server/internal/domain"
)

// documentLister reads the status records for the document list view.
type documentLister interface {
	List(ctx context.Context) ([]domain.Document, error)
}

// documentDeleter runs the deletion workflow for one document.
type documentDeleter interface {
	Run(ctx context.Context, id string) error
}

// chatter answers one chat question, streaming fragments out of band.
type chatter interface {
	Chat(ctx context.Context, documentID, text string) error
}

// HealthCheck probes one dependency.
type HealthCheck struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	issuer  domain.UploadURLIssuer
	lister  documentLister
	deleter documentDeleter
	chatter chatter
	checks  []HealthCheck
	logger  *slog.Logger

	httpServer *http.Server
}

// NewServer wires the API server. addr is the listen address.
func NewServer(addr string, issuer domain.UploadURLIssuer, lister documentLister, deleter documentDeleter, chat chatter, checks []HealthCheck, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		issuer:  issuer,
		lister:  lister,
		deleter: deleter,
		chatter: chat,
		checks:  checks,
		logger:  logger,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.POST("/upload-url", s.handleUploadURL)
	r.GET("/documents", s.handleListDocuments)
	r.DELETE("/document/:documentId", s.handleDeleteDocument)
	r.POST("/document/:documentId/chat", s.handleChat)
	r.GET("/health", s.handleHealth)

	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return <-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

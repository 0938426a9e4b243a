// Package server exposes the task list over a small JSON API.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"focuslist/internal/assistant"
	"focuslist/internal/controller"
	"focuslist/internal/session"
	"focuslist/internal/utils"
)

// Server is the focuslist HTTP API
type Server struct {
	ctrl      *controller.Controller
	assistant assistant.Assistant
	profile   session.Profile
	router    *gin.Engine
	http      *http.Server
}

// Option is a functional option for Server
type Option func(*Server)

// WithProfile sets the profile reported by /api/status
func WithProfile(p session.Profile) Option {
	return func(s *Server) {
		s.profile = p
	}
}

// NewServer creates the API server. asst may be nil to disable /api/chat.
func NewServer(ctrl *controller.Controller, asst assistant.Assistant, opts ...Option) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		ctrl:      ctrl,
		assistant: asst,
		router:    router,
	}
	for _, opt := range opts {
		opt(s)
	}

	api := router.Group("/api")
	{
		api.GET("/tasks", s.handleListTasks)
		api.POST("/tasks", s.handleCreateTask)
		api.PATCH("/tasks/:id", s.handleToggleTask)
		api.DELETE("/tasks/:id", s.handleDeleteTask)
		api.GET("/status", s.handleStatus)
		api.POST("/chat", s.handleChat)
	}

	return s
}

// Handler returns the router for use with httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr in the background. Errors other than a clean
// shutdown are sent on the returned channel.
func (s *Server) Start(addr string) <-chan error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		utils.Infof("Serving API on http://%s", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// requestLogger logs each request at debug level
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		utils.Debugf("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}

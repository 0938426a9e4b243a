package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"focuslist/backend"
	"focuslist/internal/assistant"
	"focuslist/internal/controller"
)

const maxTextSize = 4 << 10 // 4KB

type createTaskRequest struct {
	Text string `json:"text"`
}

type chatRequest struct {
	Message string `json:"message"`
}

// taskJSON is a task as returned by the API
type taskJSON struct {
	backend.Task
	State string `json:"state"`
}

func (s *Server) tasksJSON() []taskJSON {
	tasks := s.ctrl.Tasks()
	out := make([]taskJSON, len(tasks))
	for i, t := range tasks {
		state, _ := s.ctrl.State(t.ID)
		out[i] = taskJSON{Task: t, State: state.String()}
	}
	return out
}

// statusFor maps controller and backend errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, controller.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, controller.ErrEmptyText), errors.Is(err, assistant.ErrEmptyMessage):
		return http.StatusBadRequest
	case backend.IsAuthError(err):
		return http.StatusUnauthorized
	case errors.Is(err, backend.ErrStalePosition):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"success": false,
		"error":   backend.Message(err),
	})
}

func (s *Server) handleListTasks(c *gin.Context) {
	if c.Query("refresh") != "false" {
		if err := s.ctrl.Refresh(c.Request.Context()); err != nil {
			fail(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      s.tasksJSON(),
		"count":     len(s.ctrl.Tasks()),
		"remaining": s.ctrl.ActiveCount(),
	})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	if len(req.Text) > maxTextSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "text exceeds maximum size of 4KB",
		})
		return
	}

	task, err := s.ctrl.Add(c.Request.Context(), req.Text)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    task,
		"message": "Task created",
	})
}

func (s *Server) handleToggleTask(c *gin.Context) {
	task, err := s.ctrl.Resolve(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	if err := s.ctrl.Toggle(c.Request.Context(), task.ID); err != nil {
		fail(c, err)
		return
	}

	updated, err := s.ctrl.Resolve(task.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    updated,
		"message": "Task updated",
	})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	task, err := s.ctrl.Resolve(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	if err := s.ctrl.Delete(c.Request.Context(), task.ID); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Task deleted",
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"error":     s.ctrl.Error(),
		"remaining": s.ctrl.ActiveCount(),
		"loading":   s.ctrl.Loading(),
		"owner":     s.ctrl.Owner(),
		"profile":   s.profile,
	})
}

func (s *Server) handleChat(c *gin.Context) {
	if s.assistant == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "assistant is disabled",
		})
		return
	}

	var req chatRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	reply, err := s.assistant.Reply(c.Request.Context(), req.Message, s.ctrl.Tasks())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"assistant": s.assistant.Name(),
		"reply":     reply,
	})
}

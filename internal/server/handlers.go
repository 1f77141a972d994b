package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coralsh/coral/internal/types"
)

// executeRequest is one command line to run on the session.
type executeRequest struct {
	Line    string `json:"line" binding:"required"`
	PTY     bool   `json:"pty"`
	Timeout string `json:"timeout"`
}

const defaultExecuteTimeout = 30 * time.Second

func (s *Server) health(c *gin.Context) {
	s.metrics.UpdateUptime()
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "coral",
		"jobs":    len(s.jobs.List()),
	})
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.jobs.List()})
}

// execute runs one command line to completion and returns its value. With
// pty set, the command runs detached on a pseudo-terminal and the
// response carries the job and stream ids to follow on /stream.
func (s *Server) execute(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	timeout := defaultExecuteTimeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad timeout"})
			return
		}
		timeout = d
	}

	if req.PTY {
		// The job outlives the request; callers follow it on /stream. Tying
		// it to the request context would kill it the moment the 202 is
		// written.
		j, p, err := s.engine.RunPTY(s.baseCtx, req.Line)
		if err != nil {
			s.renderError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"job":    j.ID(),
			"stream": p.StreamID.String(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()
	value, err := s.engine.Run(ctx, req.Line)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"kind":  value.Kind(),
		"value": types.Plain(value),
		"text":  value.Text(),
	})
}

// renderError maps the error taxonomy onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch types.KindOf(err) {
	case types.ErrParse, types.ErrSyntax:
		status = http.StatusBadRequest
	case types.ErrCommandNotFound:
		status = http.StatusNotFound
	}
	s.log.Debug("execute failed",
		zap.String("kind", types.KindOf(err).String()),
		zap.Error(err))
	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  types.KindOf(err).String(),
	})
}

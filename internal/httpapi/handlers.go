package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type createRequest struct {
	Scenario  string `json:"scenario" binding:"required"`
	AlertText string `json:"alert_text" binding:"required"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// handleCreate implements POST /sessions (spec.md §6.1). The session is
// admitted and started in the same request; status is read after Start,
// so it is normally in_progress (or already terminal if the run has
// finished by then).
func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	sess, err := s.manager.Create(req.Scenario, req.AlertText)
	if err != nil {
		writeError(c, err)
		return
	}
	s.manager.Start(sess)

	c.JSON(http.StatusOK, createResponse{SessionID: sess.ID, Status: string(sess.Status())})
}

// handleListAll implements GET /sessions.
func (s *Server) handleListAll(c *gin.Context) {
	summaries, err := s.manager.ListAll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

// handleGet implements GET /sessions/{id}.
func (s *Server) handleGet(c *gin.Context) {
	doc, err := s.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type cancelResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleCancel implements POST /sessions/{id}/cancel; idempotent per
// spec.md §6.1.
func (s *Server) handleCancel(c *gin.Context) {
	if err := s.manager.Cancel(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cancelResponse{Status: "cancelling", Message: "cancellation requested"})
}

type messageRequest struct {
	Text string `json:"text" binding:"required"`
}

type messageResponse struct {
	EventOffset int `json:"event_offset"`
}

// handleMessage implements POST /sessions/{id}/message (spec.md §6.1):
// 409 if the session is already running, 400 if it has no thread yet.
func (s *Server) handleMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, err.Error())
		return
	}
	offset, err := s.manager.SendFollowUp(c.Param("id"), req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{EventOffset: offset})
}

type deleteResponse struct {
	Deleted bool `json:"deleted"`
}

// handleDelete implements DELETE /sessions/{id}.
func (s *Server) handleDelete(c *gin.Context) {
	if err := s.manager.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, deleteResponse{Deleted: true})
}

// parseSinceOffset parses the ?since=N query parameter, defaulting to 0
// (spec.md §6.1). Negative or malformed values clamp to 0; upper-bound
// clamping to event_count happens inside eventlog.Log.Subscribe.
func parseSinceOffset(c *gin.Context) int {
	raw := c.Query("since")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentientmobilefurniture/sessiond/internal/manager"
)

// writeError maps a domain error to the HTTP status taxonomy in spec.md
// §7: admission failures are 429, not-found is 404, precondition
// failures are 409 (already running) or 400 (no thread yet), and
// anything unrecognised is a 500 with no internal detail leaked.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, manager.ErrTooMany):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too_many_active_sessions", "detail": err.Error()})
	case errors.Is(err, manager.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "detail": err.Error()})
	case errors.Is(err, manager.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "already_running", "detail": err.Error()})
	case errors.Is(err, manager.ErrNoThread):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_thread", "detail": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func writeBadRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "detail": detail})
}

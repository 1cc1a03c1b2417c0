package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sentientmobilefurniture/sessiond/internal/eventlog"
)

// handleStream implements GET /sessions/{id}/stream (spec.md §4.5, §6.2):
// it replays history since the requested offset, then tails live events,
// interleaving periodic heartbeats so an idle connection is never
// silently dropped by an intermediary.
func (s *Server) handleStream(c *gin.Context) {
	id := c.Param("id")
	since := parseSinceOffset(c)

	history, ch, unsubscribe, err := s.manager.Stream(id, since)
	if err != nil {
		writeError(c, err)
		return
	}
	defer unsubscribe()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming_not_supported"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	for _, e := range history {
		if !writeEvent(c.Writer, flusher, e) {
			return
		}
	}

	// A subscriber joining after finalization (session already in Recent,
	// or already Completed/Failed/Cancelled) gets the done sentinel inside
	// history rather than on the live channel, which never closes on its
	// own; without this check the loop below would heartbeat forever
	// instead of closing (spec.md §4.5 step 3: tail only until status is
	// out of InProgress and the channel is observably empty). A subscriber
	// whose offset is already at the end of a terminal session's log
	// (empty history) also returns here without tailing. That includes
	// the window between finalizeTurn setting the terminal status and it
	// pushing the done event; such a subscriber gets no done frame.
	lastIsDone := len(history) > 0 && history[len(history)-1].Event == eventlog.TagDone
	alreadyTerminalAndCaughtUp := false
	if status, ok := s.manager.Status(id); ok && status.Terminal() && len(history) == 0 {
		alreadyTerminalAndCaughtUp = true
	}
	if lastIsDone || alreadyTerminalAndCaughtUp {
		return
	}

	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case e, open := <-ch:
			if !open {
				// the log dropped us for being too slow; close cleanly and
				// let the client reconnect with a fresh since offset.
				return
			}
			if !writeEvent(c.Writer, flusher, e) {
				return
			}
			if e.Event == eventlog.TagDone {
				return
			}
		case <-ticker.C:
			if !writeEvent(c.Writer, flusher, eventlog.Event{
				Event:     eventlog.TagHeartbeat,
				Timestamp: time.Now().Format(time.RFC3339Nano),
				Data:      "{}",
			}) {
				return
			}
		}
	}
}

// writeEvent writes one SSE frame and flushes. It returns false on write
// failure so the caller can unsubscribe and exit cleanly (spec.md §7:
// stream-side write failures never affect the session's server-side run).
func writeEvent(w http.ResponseWriter, flusher http.Flusher, e eventlog.Event) bool {
	if _, err := fmt.Fprintf(w, "event: %s\n", e.Event); err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", eventData(e)); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// eventData renders the event's data field, falling back to an empty
// object if Data is itself empty (e.g. a synthesized heartbeat).
func eventData(e eventlog.Event) string {
	if e.Data == "" {
		return "{}"
	}
	// Data is already a JSON-encoded string (eventlog.MustMarshal output);
	// re-validate defensively rather than trust it blindly over the wire.
	var probe json.RawMessage
	if json.Unmarshal([]byte(e.Data), &probe) != nil {
		return "{}"
	}
	return e.Data
}

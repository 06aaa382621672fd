package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"kinechat/internal/logger"
	"kinechat/internal/models"
	"kinechat/internal/session"
)

const defaultKeepAlive = 25 * time.Second

var sseHeaders = map[string]string{
	"Content-Type":      "text/event-stream",
	"Cache-Control":     "no-cache",
	"Connection":        "keep-alive",
	"X-Accel-Buffering": "no",
}

type sseWriter struct {
	w io.Writer
	f http.Flusher
}

// frame writes ev as a data-only event.
func (s sseWriter) frame(ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// streamEvents holds a server-sent event stream open for one session. Frames
// carry no event name so EventSource.onmessage sees them; the JSON type field
// tells "connected" from "message".
func (h *Handler) streamEvents(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Query("sessionId"))
	if sessionID == "" {
		c.String(http.StatusBadRequest, "SessionId required")
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	ctx := logger.WithStr(c.Request.Context(), "session_id", sessionID)
	log := logger.FromCtx(ctx)

	conn := session.NewConnection(sessionID, session.DefaultBuffer)
	if h.registry.Register(sessionID, conn) {
		log.Info().Msg("replaced existing stream for session")
	}
	defer func() {
		h.registry.Release(sessionID, conn)
		log.Debug().Msg("stream closed")
	}()

	for k, v := range sseHeaders {
		c.Header(k, v)
	}
	c.Status(http.StatusOK)
	w := sseWriter{w: c.Writer, f: flusher}

	if err := w.frame(models.Event{
		Type:      models.EventConnected,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return
	}
	conn.MarkConnected()
	log.Info().Msg("stream connected")

	interval := h.cfg.Server.KeepAlive()
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			return
		case ev := <-conn.Events():
			if err := w.frame(ev); err != nil {
				log.Warn().Err(err).Msg("stream write failed")
				return
			}
		case <-ticker.C:
			if err := w.comment("keepalive"); err != nil {
				return
			}
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"kinechat/internal/chat"
	"kinechat/internal/config"
	"kinechat/internal/logger"
	"kinechat/internal/models"
	"kinechat/internal/session"
)

// ChatService runs one chat turn.
type ChatService interface {
	Handle(ctx context.Context, req chat.Request) (*chat.Result, error)
}

// Handler wires HTTP routes to the chat orchestrator and the delivery subsystem.
type Handler struct {
	cfg      *config.Config
	chat     ChatService
	registry *session.Registry
	relay    *session.Relay
}

// NewHandler constructs a Handler instance.
func NewHandler(cfg *config.Config, chatService ChatService, registry *session.Registry, relay *session.Relay) *Handler {
	return &Handler{
		cfg:      cfg,
		chat:     chatService,
		registry: registry,
		relay:    relay,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(cors.New(corsConfig(h.cfg.Server.AllowOrigins)))

	for _, path := range []string{"/chat", "/api/chat-agent"} {
		router.POST(path, h.handleChat)
		router.OPTIONS(path, preflight)
	}
	for _, path := range []string{"/events", "/api/events"} {
		router.GET(path, h.streamEvents)
		router.OPTIONS(path, preflight)
	}
	for _, path := range []string{"/relay", "/api/webhook"} {
		router.POST(path, h.handleRelay)
		router.OPTIONS(path, preflight)
	}
	router.GET("/health", h.health)
	if h.cfg.Server.DebugEnv {
		router.GET("/debug/env", h.debugEnv)
		router.GET("/api/debug-env", h.debugEnv)
	}
}

func corsConfig(origins []string) cors.Config {
	cc := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Cache-Control", logger.RequestIDHeader},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cc.AllowAllOrigins = true
			return cc
		}
	}
	cc.AllowOrigins = origins
	return cc
}

// preflight answers OPTIONS requests that reach the router without an
// Origin header, which the cors middleware passes through.
func preflight(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleChat(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || !gjson.ValidBytes(body) {
		c.JSON(http.StatusBadRequest, gin.H{
			"success":  false,
			"error":    "invalid request body",
			"response": chat.ApologyText,
			"message":  models.ErrorCode(models.ErrInvalidInput),
		})
		return
	}
	req := parseChatRequest(body)

	res, err := h.chat.Handle(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Error al procesar mensaje"
		if errors.Is(err, models.ErrInvalidInput) {
			status = http.StatusBadRequest
			msg = "message is required"
		}
		c.JSON(status, gin.H{
			"success":  false,
			"error":    msg,
			"response": chat.ApologyText,
			"message":  models.ErrorCode(err),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Response sent successfully",
		"response":  res.Answer,
		"sessionId": res.SessionID,
		"timestamp": res.Timestamp.Format(time.RFC3339Nano),
	})
}

// parseChatRequest accepts the flat {sessionId, message, timestamp} shape and
// the messaging webhook envelope, with or without its "body" wrapper.
func parseChatRequest(body []byte) chat.Request {
	doc := gjson.ParseBytes(body)
	first := func(paths ...string) string {
		for _, p := range paths {
			if v := doc.Get(p); v.Exists() && v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
				return v.String()
			}
		}
		return ""
	}

	req := chat.Request{
		SessionID: first("body.data.key.id", "data.key.id", "sessionId"),
		Message:   first("body.data.message.conversation", "data.message.conversation", "message"),
	}
	if req.SessionID == "" {
		req.SessionID = models.DefaultSessionID
	}
	if ts := first("body.date_time", "date_time", "timestamp"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			req.Timestamp = t.UTC()
		}
	}
	return req
}

type relayRequest struct {
	SessionID   string          `json:"sessionId" binding:"required"`
	RemoteJID   string          `json:"remoteJid"`
	Message     json.RawMessage `json:"message"`
	MessageType string          `json:"messageType"`
	Timestamp   string          `json:"timestamp"`
}

func (h *Handler) handleRelay(c *gin.Context) {
	var req relayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "sessionId is required"})
		return
	}

	ctx := logger.WithStr(c.Request.Context(), "session_id", req.SessionID)
	log := logger.FromCtx(ctx)

	answer := models.ParseAnswer(req.Message)
	if answer.Kind != models.AnswerText {
		log.Warn().RawJSON("message", nonEmptyJSON(answer.Raw)).Msg("relayed message not understood, sending fallback")
	}
	payload := models.RelayPayload{Text: answer.TextOrFallback(), MessageType: req.MessageType}

	delivered, err := h.relay.Deliver(ctx, req.SessionID, payload)
	if err != nil {
		log.Warn().Err(err).Msg("relay delivery failed")
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"sessionId": req.SessionID,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"delivered": delivered,
	})
}

func nonEmptyJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"sessions":  h.registry.Count(),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// debugEnv reports which credentials are set without revealing them.
func (h *Handler) debugEnv(c *gin.Context) {
	secret := func(v string) gin.H {
		return gin.H{"configured": v != "", "length": len(v)}
	}
	cfg := h.cfg
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"variables": gin.H{
			"GOOGLE_GEMINI_API_KEY":    secret(cfg.Generation.APIKey),
			"GEMINI_EMBEDDING_API_KEY": secret(cfg.Embedding.APIKey),
			"SUPABASE_URL":             secret(cfg.Retrieval.SupabaseURL),
			"SUPABASE_KEY":             secret(cfg.Retrieval.SupabaseKey),
			"DATABASE_URL":             secret(cfg.Retrieval.PostgresDSN),
			"REDIS_PASSWORD":           secret(cfg.Redis.Password),
		},
		"settings": gin.H{
			"generation_provider":          cfg.Generation.Provider,
			"GEMINI_API_VERSION":           cfg.Generation.APIVersion,
			"GEMINI_MODEL":                 cfg.Generation.Model,
			"GEMINI_EMBEDDING_MODEL":       cfg.Embedding.Model,
			"GEMINI_EMBEDDING_API_VERSION": cfg.Embedding.APIVersion,
			"retrieval_backend":            cfg.Retrieval.Backend,
			"history_backend":              cfg.History.Backend,
			"relay_bridge":                 cfg.Relay.Bridge,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

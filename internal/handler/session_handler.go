package handler

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/session"
)

// SessionHandler upgrades exam pages to the live session websocket.
type SessionHandler struct {
	server *session.Server
	logger zerolog.Logger
}

// NewSessionHandler creates a session handler instance.
func NewSessionHandler(server *session.Server, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		server: server,
		logger: logger.With().Str("component", "session_handler").Logger(),
	}
}

// Register binds the websocket route under the provided router group.
func (h *SessionHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
}

func (h *SessionHandler) handleConnection(conn *websocket.Conn) {
	code := conn.Query("code")
	if strings.TrimSpace(code) == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "code required"))
		_ = conn.Close()
		return
	}

	identity := session.Identity{
		Code:      code,
		Email:     strings.TrimSpace(conn.Query("email")),
		FirstName: strings.TrimSpace(conn.Query("first_name")),
		LastName:  strings.TrimSpace(conn.Query("last_name")),
	}
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)

	h.logger.Info().Str("email", identity.Email).Msg("exam session connected")
	h.server.Serve(baseCtx, conn, identity)
	h.logger.Info().Str("email", identity.Email).Msg("exam session disconnected")
}

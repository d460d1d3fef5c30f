package ws

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"whosaid/internal/app"
	"whosaid/internal/domain"
	"whosaid/internal/identity"
)

// attachTimeout bounds the membership lookup done before the upgrade
const attachTimeout = 10 * time.Second

// HandlerConfig tunes WebSocket connections
type HandlerConfig struct {
	// AllowedOrigins lists accepted Origin hosts. Empty accepts any origin.
	AllowedOrigins []string
	// MessageRate is the sustained number of messages per second a client
	// may send; zero disables limiting.
	MessageRate  float64
	MessageBurst int
}

// Handler handles WebSocket connections
type Handler struct {
	hub      *app.Hub
	identity identity.Provider
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *app.Hub, ident identity.Provider, cfg HandlerConfig, logger *slog.Logger) *Handler {
	h := &Handler{
		hub:      hub,
		identity: ident,
		cfg:      cfg,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("roomCode")
	if roomCode == "" {
		http.Error(w, "roomCode is required", http.StatusBadRequest)
		return
	}

	playerID, err := h.identity.Identify(w, r)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, playerID, h.newLimiter(), h.logger)

	ctx, cancel := context.WithTimeout(r.Context(), attachTimeout)
	session, err := h.hub.Attach(ctx, roomCode, client)
	cancel()
	if err != nil {
		h.reject(conn, err)
		return
	}

	h.logger.Info("websocket connected", "roomCode", session.Code(), "playerID", playerID)

	client.Run(session)
	h.hub.Detach(session, client)

	h.logger.Info("websocket disconnected", "roomCode", session.Code(), "playerID", playerID)
}

// reject reports why a connection cannot attach and closes it
func (h *Handler) reject(conn *websocket.Conn, err error) {
	payload := domain.ErrorPayloadFrom(err)
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(NewServerMessage(MsgError, &payload))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, payload.Code))
	_ = conn.Close()
}

func (h *Handler) newLimiter() *rate.Limiter {
	if h.cfg.MessageRate <= 0 {
		return nil
	}
	burst := h.cfg.MessageBurst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.cfg.MessageRate), burst)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(h.cfg.AllowedOrigins, func(allowed string) bool {
		return strings.EqualFold(allowed, u.Host)
	})
}

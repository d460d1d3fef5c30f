package http

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"whosaid/internal/app"
	"whosaid/internal/config"
	"whosaid/internal/identity"
	"whosaid/internal/transport/ws"
)

// maxBodySize bounds JSON request bodies
const maxBodySize = 64 << 10

// Server represents the HTTP server
type Server struct {
	server   *http.Server
	hub      *app.Hub
	identity identity.Provider
	config   *config.Config
	logger   *slog.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, hub *app.Hub, ident identity.Provider, logger *slog.Logger) *Server {
	s := &Server{
		hub:      hub,
		identity: ident,
		config:   cfg,
		logger:   logger,
	}

	router := httprouter.New()
	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.middleware(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the root handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(router *httprouter.Router) {
	router.POST("/api/rooms", s.handleCreateRoom)
	router.GET("/api/rooms/:code", s.handleGetRoom)
	router.POST("/api/rooms/:code/join", s.handleJoinRoom)
	router.POST("/api/rooms/:code/leave", s.handleLeaveRoom)
	router.DELETE("/api/rooms/:code", s.handleEndRoom)
	router.GET("/api/rooms/:code/share", s.handleShare)
	router.GET("/api/rooms/:code/qr.png", s.handleQR)
	router.GET("/api/health", s.handleHealth)
	router.GET("/api/stats", s.handleStats)

	router.Handler(http.MethodGet, "/ws", ws.NewHandler(s.hub, s.identity, ws.HandlerConfig{
		AllowedOrigins: s.config.Server.AllowedOrigins,
		MessageRate:    s.config.Server.MessageRate,
		MessageBurst:   s.config.Server.MessageBurst,
	}, s.logger))

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, http.StatusNotFound, "NOT_FOUND", "no such endpoint")
	})
	router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		s.logger.Error("handler panic", "method", r.Method, "path", r.URL.Path, "panic", v)
		s.sendError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
	}
}

// middleware wraps the handler with logging and other middleware
func (s *Server) middleware(next http.Handler) http.Handler {
	propagator := otel.GetTextMapPropagator()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		s.setCORS(w, r)

		// Handle preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		level := slog.LevelInfo
		if r.URL.Path == "/api/health" && !s.config.IsDevelopment() {
			level = slog.LevelDebug
		}
		s.logger.Log(ctx, level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) setCORS(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	allowed := s.config.Server.AllowedOrigins
	if len(allowed) == 0 {
		h.Set("Access-Control-Allow-Origin", "*")
		return
	}
	origin := r.Header.Get("Origin")
	u, err := url.Parse(origin)
	if origin == "" || err != nil {
		return
	}
	if slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, u.Host) }) {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("server starting", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.server.Shutdown(ctx)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker for WebSocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		rw.statusCode = http.StatusSwitchingProtocols
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Flush implements http.Flusher
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

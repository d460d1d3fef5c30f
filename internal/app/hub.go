package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
	"whosaid/internal/game"
)

const (
	// DefaultRoomTTL is how long a room may live before it is purged
	DefaultRoomTTL = 6 * time.Hour

	// DefaultCleanupInterval is how often stale rooms are purged
	DefaultCleanupInterval = 10 * time.Minute
)

// HubConfig tunes the hub's housekeeping
type HubConfig struct {
	RoomTTL         time.Duration
	CleanupInterval time.Duration
}

// Hub manages the live room sessions of this process
type Hub struct {
	svc    *game.Service
	store  docstore.Store
	cfg    HubConfig
	logger *slog.Logger

	sessions map[string]*RoomSession
	mu       sync.Mutex
	done     chan struct{}
	once     sync.Once
}

// NewHub creates a hub and starts its cleanup loop
func NewHub(svc *game.Service, store docstore.Store, cfg HubConfig, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = DefaultRoomTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	h := &Hub{
		svc:      svc,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*RoomSession),
		done:     make(chan struct{}),
	}

	go h.cleanupLoop()

	return h
}

// Service returns the game service behind the hub
func (h *Hub) Service() *game.Service {
	return h.svc
}

// Attach connects a client to the live session of a room, opening the
// session if needed. Only active players of the room may attach.
func (h *Hub) Attach(ctx context.Context, code string, client ClientConnection) (*RoomSession, error) {
	code = game.NormalizeCode(code)
	if _, err := h.svc.GetRoom(ctx, code); err != nil {
		return nil, err
	}
	player, err := h.svc.Player(ctx, code, client.PlayerID())
	if err != nil {
		if domain.CodeOf(err) == domain.CodeNotFound {
			return nil, domain.Errorf(domain.ErrForbidden, "join the room before connecting")
		}
		return nil, err
	}
	if !player.Active {
		return nil, domain.Errorf(domain.ErrForbidden, "player has left the room")
	}

	// registering under h.mu keeps Detach from retiring the session between
	// lookup and registration
	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		session, ok := h.sessions[code]
		if !ok {
			session = NewRoomSession(code, h.svc, h.store, h.logger)
			session.onClose = h.remove
			h.sessions[code] = session
			session.Start()
			h.logger.Info("room session opened", "roomCode", code)
		}
		if session.RegisterClient(client) {
			return session, nil
		}
		// shut down on its own (room gone or subscription lost)
		delete(h.sessions, code)
		if !ok {
			return nil, domain.Errorf(domain.ErrStoreUnavailable, "room session closed while opening")
		}
	}
}

// Detach disconnects a client. The session closes with its last client.
func (h *Hub) Detach(session *RoomSession, client ClientConnection) {
	session.UnregisterClient(client)

	h.mu.Lock()
	idle := session.ClientCount() == 0 && h.sessions[session.Code()] == session
	if idle {
		delete(h.sessions, session.Code())
	}
	h.mu.Unlock()

	if idle {
		session.Close()
		h.logger.Info("room session closed", "roomCode", session.Code())
	}
}

// Session returns the live session of a room, if one is open
func (h *Hub) Session(code string) (*RoomSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[game.NormalizeCode(code)]
	return s, ok
}

// SessionCount returns the number of open sessions
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// ClientCount returns the number of connected clients across all sessions
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	sessions := make([]*RoomSession, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	total := 0
	for _, s := range sessions {
		total += s.ClientCount()
	}
	return total
}

// Close shuts down the hub and all sessions
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.done)

		h.mu.Lock()
		sessions := h.sessions
		h.sessions = make(map[string]*RoomSession)
		h.mu.Unlock()

		for _, s := range sessions {
			s.Close()
		}
	})
}

func (h *Hub) remove(s *RoomSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[s.Code()] == s {
		delete(h.sessions, s.Code())
	}
}

// cleanupLoop periodically purges stale rooms from the store
func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(h.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.PurgeStale(context.Background())
		}
	}
}

// PurgeStale deletes rooms older than the configured TTL. Open sessions of
// purged rooms close on their own once the deletion reaches them.
func (h *Hub) PurgeStale(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	n, err := h.svc.PurgeStaleRooms(ctx, h.cfg.RoomTTL)
	if err != nil {
		h.logger.Error("purge stale rooms", "error", err)
	}
	if n > 0 {
		h.logger.Info("stale rooms purged", "count", n)
	}
	return n
}

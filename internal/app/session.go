package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
	"whosaid/internal/game"
)

const (
	// maxResubscribeAttempts is how many consecutive subscription failures a
	// session tolerates before it shuts down
	maxResubscribeAttempts = 8

	resubscribeInitialInterval = 100 * time.Millisecond
	resubscribeMaxInterval     = 5 * time.Second

	// Time allowed to read a consistent snapshot of the room
	loadTimeout = 10 * time.Second
)

// Watched documents of a room
const (
	watchRoom      = "room"
	watchPlayers   = "players"
	watchQuestions = "questions"
	watchAnswers   = "answers"
	watchGuesses   = "guesses"
)

// ClientConnection represents a connected viewer
type ClientConnection interface {
	Send(event *domain.RoomEvent) error
	PlayerID() string
	Close() error
}

// RoomSession keeps the live view of one room: it subscribes to the room's
// documents, rereads all of them in one transaction on change, rebuilds
// every viewer's state from that read and forwards intents to the game
// service.
type RoomSession struct {
	code   string
	svc    *game.Service
	store  docstore.Store
	logger *slog.Logger

	mu     sync.Mutex
	loaded map[string]bool
	state  roomState
	ready  bool

	clients   map[string]ClientConnection // playerID -> client
	clientsMu sync.RWMutex

	watches []*watch
	dirty   chan struct{}
	done    chan struct{}
	once    sync.Once
	onClose func(*RoomSession)
}

// NewRoomSession creates a session for a room. Call Start to begin watching.
func NewRoomSession(code string, svc *game.Service, store docstore.Store, logger *slog.Logger) *RoomSession {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RoomSession{
		code:    game.NormalizeCode(code),
		svc:     svc,
		store:   store,
		logger:  logger.With("roomCode", game.NormalizeCode(code)),
		loaded:  make(map[string]bool),
		clients: make(map[string]ClientConnection),
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.watches = []*watch{
		s.newWatch(watchRoom, func(onError func(error)) func() {
			return store.SubscribeDoc(game.RoomRef(s.code), func(docstore.Snapshot) { s.changed(watchRoom) }, onError)
		}),
		s.newWatch(watchPlayers, s.queryWatch(watchPlayers, game.PlayersCollection(s.code))),
		s.newWatch(watchQuestions, s.queryWatch(watchQuestions, game.QuestionsCollection(s.code))),
		s.newWatch(watchAnswers, s.queryWatch(watchAnswers, game.AnswersCollection(s.code))),
		s.newWatch(watchGuesses, s.queryWatch(watchGuesses, game.GuessesCollection(s.code))),
	}
	return s
}

// Start subscribes to the room's documents and starts the event loop
func (s *RoomSession) Start() {
	go s.eventLoop()
	for _, w := range s.watches {
		w.start()
	}
}

// Code returns the room code
func (s *RoomSession) Code() string {
	return s.code
}

// Done is closed when the session shuts down
func (s *RoomSession) Done() <-chan struct{} {
	return s.done
}

// RegisterClient attaches a viewer. A previous connection of the same player
// is closed. It reports false, leaving the client untouched, if the session
// has already shut down.
func (s *RoomSession) RegisterClient(client ClientConnection) bool {
	s.clientsMu.Lock()
	select {
	case <-s.done:
		s.clientsMu.Unlock()
		return false
	default:
	}
	prev := s.clients[client.PlayerID()]
	s.clients[client.PlayerID()] = client
	s.clientsMu.Unlock()

	if prev != nil && prev != client {
		_ = prev.Close()
	}
	s.markDirty()
	return true
}

// UnregisterClient detaches a viewer if it is still the registered
// connection for its player.
func (s *RoomSession) UnregisterClient(client ClientConnection) {
	s.clientsMu.Lock()
	if cur, ok := s.clients[client.PlayerID()]; ok && cur == client {
		delete(s.clients, client.PlayerID())
	}
	s.clientsMu.Unlock()
	s.markDirty()
}

// ClientCount returns the number of connected viewers
func (s *RoomSession) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Refresh rebroadcasts the current state to every viewer
func (s *RoomSession) Refresh() {
	s.markDirty()
}

// View returns the current view for one viewer. It reports false until the
// first snapshot of the room has been read.
func (s *RoomSession) View(viewerID string) (*domain.RoomView, bool, error) {
	st, ready := s.snapshot()
	if !ready || st.gone {
		return nil, false, nil
	}
	view, err := buildView(st, viewerID, s.connected(), s.svc.Settings())
	if err != nil {
		return nil, false, err
	}
	return view, true, nil
}

// Intents

// StartRound starts the next round
func (s *RoomSession) StartRound(ctx context.Context, playerID string) error {
	_, err := s.svc.StartNextRound(ctx, s.code, playerID)
	return err
}

// PrepareRound moves the room to ROUND_READY
func (s *RoomSession) PrepareRound(ctx context.Context, playerID string) error {
	_, err := s.svc.PrepareRound(ctx, s.code, playerID)
	return err
}

// CloseAnswers stops answer collection
func (s *RoomSession) CloseAnswers(ctx context.Context, playerID string) error {
	_, err := s.svc.CloseAnswers(ctx, s.code, playerID)
	return err
}

// ReleaseAnswers reveals the round's answers
func (s *RoomSession) ReleaseAnswers(ctx context.Context, playerID string) error {
	_, err := s.svc.ReleaseAnswers(ctx, s.code, playerID)
	return err
}

// Advance moves the room to its next step
func (s *RoomSession) Advance(ctx context.Context, playerID string) error {
	_, err := s.svc.Advance(ctx, s.code, playerID)
	return err
}

// SubmitAnswer submits an answer. A nil roundIndex targets the round the
// session last saw.
func (s *RoomSession) SubmitAnswer(ctx context.Context, playerID string, roundIndex *int, text string) (string, error) {
	idx, err := s.roundIndex(roundIndex)
	if err != nil {
		return "", err
	}
	return s.svc.SubmitAnswer(ctx, s.code, idx, playerID, text)
}

// SubmitGuess records a guess on a released answer
func (s *RoomSession) SubmitGuess(ctx context.Context, playerID, answerID, guessedPlayerID string) (string, error) {
	return s.svc.SubmitGuess(ctx, s.code, answerID, playerID, guessedPlayerID)
}

// Leave removes the player from the room
func (s *RoomSession) Leave(ctx context.Context, playerID string) error {
	return s.svc.LeaveRoom(ctx, s.code, playerID)
}

// End deletes the room
func (s *RoomSession) End(ctx context.Context, playerID string) error {
	return s.svc.EndRoom(ctx, s.code, playerID)
}

// Close stops the subscriptions and disconnects every viewer
func (s *RoomSession) Close() {
	s.once.Do(func() {
		close(s.done)
		for _, w := range s.watches {
			w.stop()
		}

		s.clientsMu.Lock()
		clients := s.clients
		s.clients = make(map[string]ClientConnection)
		s.clientsMu.Unlock()
		for _, client := range clients {
			_ = client.Close()
		}

		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

func (s *RoomSession) roundIndex(explicit *int) (int, error) {
	if explicit != nil {
		return *explicit, nil
	}
	st, _ := s.snapshot()
	if st.room == nil {
		return 0, domain.Errorf(domain.ErrNotFound, "room not loaded")
	}
	return st.room.CurrentRoundIndex, nil
}

func (s *RoomSession) snapshot() (roomState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.ready
}

func (s *RoomSession) connected() map[string]bool {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	out := make(map[string]bool, len(s.clients))
	for id := range s.clients {
		out[id] = true
	}
	return out
}

// changed records that a watch delivered. Views are only built once every
// watch has delivered at least once.
func (s *RoomSession) changed(name string) {
	s.mu.Lock()
	s.loaded[name] = true
	s.mu.Unlock()

	for _, w := range s.watches {
		if w.name == name {
			w.succeeded()
		}
	}
	s.markDirty()
}

func (s *RoomSession) watching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loaded) == len(s.watches)
}

func (s *RoomSession) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// eventLoop rebuilds and broadcasts views whenever the state changes
func (s *RoomSession) eventLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.dirty:
			s.publish()
		}
	}
}

func (s *RoomSession) publish() {
	if !s.watching() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	st, err := loadRoomState(ctx, s.store, s.code)
	if err != nil {
		s.logger.Error("load room state", "error", err)
		return
	}

	s.mu.Lock()
	s.state = st
	s.ready = !st.gone
	s.mu.Unlock()

	if st.gone {
		s.broadcast(func(string) *domain.RoomEvent {
			return domain.NewEvent(domain.EventRoomGone, s.code, domain.RoomGonePayload{Code: s.code})
		})
		s.logger.Info("room gone, closing session")
		s.Close()
		return
	}

	connected := s.connected()
	settings := s.svc.Settings()
	s.broadcast(func(playerID string) *domain.RoomEvent {
		view, err := buildView(st, playerID, connected, settings)
		if err != nil {
			s.logger.Error("build view", "playerID", playerID, "error", err)
			return nil
		}
		return domain.NewPlayerEvent(domain.EventRoomState, s.code, playerID, view)
	})
}

func (s *RoomSession) broadcast(build func(playerID string) *domain.RoomEvent) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for playerID, client := range s.clients {
		event := build(playerID)
		if event == nil {
			continue
		}
		if err := client.Send(event); err != nil {
			s.logger.Debug("failed to send to client", "playerID", playerID, "error", err)
		}
	}
}

// watch keeps one store subscription alive, resubscribing with exponential
// backoff after errors.
type watch struct {
	name      string
	subscribe func(onError func(error)) func()
	session   *RoomSession

	mu       sync.Mutex
	backoff  *backoff.ExponentialBackOff
	failures int
	unsub    func()
	timer    *time.Timer
	stopped  bool
}

func (s *RoomSession) newWatch(name string, subscribe func(onError func(error)) func()) *watch {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = resubscribeInitialInterval
	b.MaxInterval = resubscribeMaxInterval
	return &watch{name: name, subscribe: subscribe, session: s, backoff: b}
}

func (s *RoomSession) queryWatch(name, collection string) func(func(error)) func() {
	return func(onError func(error)) func() {
		return s.store.SubscribeQuery(docstore.Where(collection), func([]docstore.Snapshot) { s.changed(name) }, onError)
	}
}

func (w *watch) start() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	// onError may run before subscribe returns
	unsub := w.subscribe(w.fail)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		unsub()
		return
	}
	w.unsub = unsub
}

func (w *watch) succeeded() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = 0
	w.backoff.Reset()
}

func (w *watch) fail(err error) {
	logger := w.session.logger.With("watch", w.name)

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.failures++
	if errors.Is(err, docstore.ErrClosed) || w.failures > maxResubscribeAttempts {
		w.mu.Unlock()
		logger.Error("subscription lost", "error", err)
		go w.session.Close()
		return
	}
	delay := w.backoff.NextBackOff()
	w.timer = time.AfterFunc(delay, w.start)
	w.mu.Unlock()

	logger.Warn("subscription failed, retrying", "error", err, "delay", delay)
}

func (w *watch) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.unsub != nil {
		w.unsub()
		w.unsub = nil
	}
}

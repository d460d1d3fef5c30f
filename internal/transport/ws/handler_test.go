package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whosaid/internal/app"
	"whosaid/internal/docstore/memory"
	"whosaid/internal/domain"
	"whosaid/internal/game"
	"whosaid/internal/identity"
)

const userHeader = "X-Test-User"

// headerIdentity trusts a request header, for tests only
type headerIdentity struct{}

func (headerIdentity) Identify(_ http.ResponseWriter, r *http.Request) (string, error) {
	if id := r.Header.Get(userHeader); id != "" {
		return id, nil
	}
	return "", identity.ErrUnauthenticated
}

type wireMessage struct {
	Type    MessageType     `json:"type"`
	ReplyTo string          `json:"replyTo"`
	Payload json.RawMessage `json:"payload"`
}

type testEnv struct {
	server *httptest.Server
	svc    *game.Service
	room   *domain.Room
}

func newTestEnv(t *testing.T, cfg HandlerConfig) *testEnv {
	t.Helper()
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(store, domain.DefaultGameSettings(), logger)
	hub := app.NewHub(svc, store, app.HubConfig{}, logger)

	server := httptest.NewServer(NewHandler(hub, headerIdentity{}, cfg, logger))
	t.Cleanup(func() {
		server.Close()
		hub.Close()
		_ = store.Close()
	})

	ctx := context.Background()
	room, err := svc.CreateRoom(ctx, game.CreateRoomParams{HostID: "host", HostName: "Host", TotalRounds: 1})
	require.NoError(t, err)
	for _, id := range []string{"p1", "p2"} {
		_, err := svc.JoinRoom(ctx, room.Code, room.Passcode, id, "Player "+id)
		require.NoError(t, err)
	}
	return &testEnv{server: server, svc: svc, room: room}
}

func (e *testEnv) dial(t *testing.T, userID, roomCode string) *wsConn {
	t.Helper()
	conn, resp, err := e.tryDial(userID, roomCode)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &wsConn{t: t, conn: conn}
}

func (e *testEnv) tryDial(userID, roomCode string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/?roomCode=" + roomCode
	header := http.Header{}
	if userID != "" {
		header.Set(userHeader, userID)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

type wsConn struct {
	t       *testing.T
	conn    *websocket.Conn
	pending []wireMessage
}

func (c *wsConn) send(msgType MessageType, id string, payload any) {
	c.t.Helper()
	msg := map[string]any{"type": msgType, "id": id}
	if payload != nil {
		msg["payload"] = payload
	}
	require.NoError(c.t, c.conn.WriteJSON(msg))
}

// next returns the next server message; frames may batch several
// newline-separated messages
func (c *wsConn) next() (wireMessage, error) {
	if len(c.pending) > 0 {
		msg := c.pending[0]
		c.pending = c.pending[1:]
		return msg, nil
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return wireMessage{}, err
	}
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		var msg wireMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			return wireMessage{}, err
		}
		c.pending = append(c.pending, msg)
	}
	return c.next()
}

// waitFor skips messages until one of the given type arrives
func (c *wsConn) waitFor(msgType MessageType, match func(wireMessage) bool) wireMessage {
	c.t.Helper()
	for {
		msg, err := c.next()
		require.NoError(c.t, err, "waiting for %s", msgType)
		if msg.Type == msgType && (match == nil || match(msg)) {
			return msg
		}
	}
}

func decodePayload[T any](t *testing.T, msg wireMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Payload, &v))
	return v
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, HandlerConfig{})

	_, resp, err := env.tryDial("p1", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = env.tryDial("", env.room.Code)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerReportsAttachFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, HandlerConfig{})

	tests := map[string]struct {
		user, room string
		code       domain.Code
	}{
		"unknown room": {"p1", "NOPE42", domain.CodeNotFound},
		"stranger":     {"stranger", env.room.Code, domain.CodeForbidden},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			c := env.dial(t, tt.user, tt.room)
			msg := c.waitFor(MsgError, nil)
			payload := decodePayload[domain.ErrorPayload](t, msg)
			assert.Equal(t, string(tt.code), payload.Code)

			_, err := c.next()
			var closeErr *websocket.CloseError
			require.True(t, errors.As(err, &closeErr), "err = %v", err)
			assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
		})
	}
}

func TestConnectedAndRoomState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, HandlerConfig{})
	host := env.dial(t, "host", strings.ToLower(env.room.Code))

	connected := decodePayload[ConnectedPayload](t, host.waitFor(MsgConnected, nil))
	assert.Equal(t, "host", connected.PlayerID)
	assert.Equal(t, env.room.Code, connected.RoomCode)

	state := decodePayload[domain.RoomView](t, host.waitFor(MsgRoomState, nil))
	if connected.State != nil {
		assert.Equal(t, connected.State.Version, state.Version)
	}
	assert.Equal(t, "host", state.ViewerID)
	assert.True(t, state.IsHost)
	assert.Len(t, state.Players, 3)
}

func TestIntentsAreAckedAndBroadcast(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, HandlerConfig{})
	host := env.dial(t, "host", env.room.Code)
	p1 := env.dial(t, "p1", env.room.Code)
	host.waitFor(MsgConnected, nil)
	p1.waitFor(MsgConnected, nil)

	p1.send(MsgStartRound, "a", nil)
	errMsg := p1.waitFor(MsgError, nil)
	assert.Equal(t, "a", errMsg.ReplyTo)
	assert.Equal(t, string(domain.CodeForbidden), decodePayload[domain.ErrorPayload](t, errMsg).Code)

	host.send(MsgStartRound, "b", nil)
	ack := host.waitFor(MsgAck, nil)
	assert.Equal(t, "b", ack.ReplyTo)

	p1.waitFor(MsgRoomState, func(m wireMessage) bool {
		return decodePayload[domain.RoomView](t, m).Room.Phase == domain.PhaseCollectingAnswers
	})

	round := 0
	p1.send(MsgSubmitAnswer, "c", SubmitAnswerPayload{Text: "  my   answer ", RoundIndex: &round})
	ack = p1.waitFor(MsgAck, func(m wireMessage) bool { return m.ReplyTo == "c" })
	payload := decodePayload[AckPayload](t, ack)
	assert.Equal(t, MsgSubmitAnswer, payload.Type)
	assert.NotEmpty(t, payload.ID)

	p1.send(MsgSubmitAnswer, "d", SubmitAnswerPayload{Text: "again"})
	errMsg = p1.waitFor(MsgError, func(m wireMessage) bool { return m.ReplyTo == "d" })
	assert.Equal(t, string(domain.CodeDuplicateSubmission), decodePayload[domain.ErrorPayload](t, errMsg).Code)
}

func TestMalformedMessages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, HandlerConfig{})
	c := env.dial(t, "p1", env.room.Code)
	c.waitFor(MsgConnected, nil)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, ErrCodeInvalidMessage, decodePayload[domain.ErrorPayload](t, c.waitFor(MsgError, nil)).Code)

	c.send("dance", "x", nil)
	msg := c.waitFor(MsgError, nil)
	assert.Equal(t, "x", msg.ReplyTo)
	assert.Equal(t, ErrCodeInvalidMessage, decodePayload[domain.ErrorPayload](t, msg).Code)

	c.send(MsgSubmitGuess, "y", nil)
	msg = c.waitFor(MsgError, nil)
	assert.Equal(t, "y", msg.ReplyTo)

	c.send(MsgPing, "", nil)
	c.waitFor(MsgPong, nil)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, HandlerConfig{MessageRate: 0.001, MessageBurst: 1})
	c := env.dial(t, "p1", env.room.Code)
	c.waitFor(MsgConnected, nil)

	c.send(MsgPing, "", nil)
	c.waitFor(MsgPong, nil)

	c.send(MsgPing, "", nil)
	msg := c.waitFor(MsgError, nil)
	assert.Equal(t, ErrCodeRateLimited, decodePayload[domain.ErrorPayload](t, msg).Code)
}

func TestLeaveClosesConnection(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, HandlerConfig{})
	c := env.dial(t, "p1", env.room.Code)
	c.waitFor(MsgConnected, nil)

	c.send(MsgLeaveRoom, "bye", nil)
	c.waitFor(MsgAck, func(m wireMessage) bool { return m.ReplyTo == "bye" })

	for {
		if _, err := c.next(); err != nil {
			var closeErr *websocket.CloseError
			require.True(t, errors.As(err, &closeErr), "err = %v", err)
			assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
			break
		}
	}

	p, err := env.svc.Player(context.Background(), env.room.Code, "p1")
	require.NoError(t, err)
	assert.False(t, p.Active)
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	h := NewHandler(nil, headerIdentity{}, HandlerConfig{AllowedOrigins: []string{"game.example.com"}}, slog.Default())
	tests := map[string]bool{
		"":                                true,
		"https://game.example.com":        true,
		"https://GAME.example.com":        true,
		"https://evil.example.com":        false,
		"https://game.example.com.evil.io": false,
	}
	for origin, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, h.checkOrigin(r), "origin %q", origin)
	}
}

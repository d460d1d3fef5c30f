package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"whosaid/internal/app"
	"whosaid/internal/domain"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Size of the send channel buffer
	sendBufferSize = 256

	// Time allowed for one intent to reach the store
	intentTimeout = 10 * time.Second
)

// Client represents a WebSocket client connection
type Client struct {
	conn      *websocket.Conn
	session   *app.RoomSession
	playerID  string
	limiter   *rate.Limiter
	send      chan []byte
	done      chan struct{}
	logger    *slog.Logger
	mu        sync.Mutex
	closed    bool
	connected bool
}

// NewClient creates a new WebSocket client. limiter may be nil.
func NewClient(conn *websocket.Conn, playerID string, limiter *rate.Limiter, logger *slog.Logger) *Client {
	return &Client{
		conn:     conn,
		playerID: playerID,
		limiter:  limiter,
		send:     make(chan []byte, sendBufferSize),
		done:     make(chan struct{}),
		logger:   logger.With("playerID", playerID),
	}
}

// PlayerID implements app.ClientConnection
func (c *Client) PlayerID() string {
	return c.playerID
}

// Send implements app.ClientConnection. Room events are held back until
// the connected message has been queued.
func (c *Client) Send(event *domain.RoomEvent) error {
	msgType, ok := messageTypeFor(event.Type)
	if !ok {
		return nil
	}
	return c.enqueue(NewServerMessage(msgType, event.Payload), true)
}

func (c *Client) write(message *ServerMessage) error {
	return c.enqueue(message, false)
}

func (c *Client) enqueue(message *ServerMessage, roomEvent bool) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || (roomEvent && !c.connected) {
		return nil
	}

	select {
	case c.send <- data:
		return nil
	default:
		// Buffer full, message dropped
		c.logger.Warn("send buffer full, message dropped")
		return nil
	}
}

// Close implements app.ClientConnection. Messages already queued are still
// written before the connection closes.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)
	return nil
}

// Run starts the client's read and write pumps and blocks until the
// connection ends
func (c *Client) Run(session *app.RoomSession) {
	c.session = session
	go c.writePump()
	c.sendConnected()
	c.readPump()
}

// readPump pumps messages from the WebSocket connection
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError("", ErrCodeRateLimited, "too many messages")
			continue
		}
		c.handleMessage(message)
	}
}

// writePump pumps messages from the send channel to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case message := <-c.send:
			if err := c.writeBatch(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeBatch writes message plus everything already queued as one frame
func (c *Client) writeBatch(message []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	_, _ = w.Write(message)

	n := len(c.send)
	for i := 0; i < n; i++ {
		_, _ = w.Write([]byte{'\n'})
		_, _ = w.Write(<-c.send)
	}

	return w.Close()
}

func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if err := c.writeBatch(message); err != nil {
				return
			}
		default:
			return
		}
	}
}

// handleMessage processes an incoming message from the client
func (c *Client) handleMessage(data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", ErrCodeInvalidMessage, "invalid message format")
		return
	}

	if msg.Type == MsgPing {
		c.sendPong()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), intentTimeout)
	defer cancel()

	var (
		id  string
		err error
	)
	switch msg.Type {
	case MsgStartRound:
		err = c.session.StartRound(ctx, c.playerID)
	case MsgPrepareRound:
		err = c.session.PrepareRound(ctx, c.playerID)
	case MsgCloseAnswers:
		err = c.session.CloseAnswers(ctx, c.playerID)
	case MsgReleaseAnswers:
		err = c.session.ReleaseAnswers(ctx, c.playerID)
	case MsgAdvance:
		err = c.session.Advance(ctx, c.playerID)
	case MsgSubmitAnswer:
		var p SubmitAnswerPayload
		if !c.decode(msg, &p) {
			return
		}
		id, err = c.session.SubmitAnswer(ctx, c.playerID, p.RoundIndex, p.Text)
	case MsgSubmitGuess:
		var p SubmitGuessPayload
		if !c.decode(msg, &p) {
			return
		}
		id, err = c.session.SubmitGuess(ctx, c.playerID, p.AnswerID, p.GuessedPlayerID)
	case MsgLeaveRoom:
		err = c.session.Leave(ctx, c.playerID)
		if err == nil {
			c.ack(msg, "")
			_ = c.Close()
			return
		}
	case MsgEndRoom:
		err = c.session.End(ctx, c.playerID)
	default:
		c.sendError(msg.ID, ErrCodeInvalidMessage, "unknown message type")
		return
	}

	if err != nil {
		c.logger.Debug("intent rejected", "type", msg.Type, "error", err)
		payload := domain.ErrorPayloadFrom(err)
		c.sendError(msg.ID, payload.Code, payload.Message)
		return
	}
	c.ack(msg, id)
}

func (c *Client) decode(msg ClientMessage, v any) bool {
	if len(msg.Payload) == 0 {
		c.sendError(msg.ID, ErrCodeInvalidMessage, "payload is required")
		return false
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		c.sendError(msg.ID, ErrCodeInvalidMessage, "invalid payload")
		return false
	}
	return true
}

// sendConnected sends the connected message to the client
func (c *Client) sendConnected() {
	payload := &ConnectedPayload{
		PlayerID: c.playerID,
		RoomCode: c.session.Code(),
	}
	if view, ok, err := c.session.View(c.playerID); err == nil && ok {
		payload.State = view
	}
	_ = c.write(NewServerMessage(MsgConnected, payload))

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	// room events sent before this point were dropped
	c.session.Refresh()
}

func (c *Client) ack(msg ClientMessage, id string) {
	reply := NewServerMessage(MsgAck, &AckPayload{Type: msg.Type, ID: id})
	reply.ReplyTo = msg.ID
	_ = c.write(reply)
}

// sendError sends an error message to the client
func (c *Client) sendError(replyTo, code, message string) {
	reply := NewServerMessage(MsgError, &domain.ErrorPayload{Code: code, Message: message})
	reply.ReplyTo = replyTo
	_ = c.write(reply)
}

// sendPong sends a pong message in response to ping
func (c *Client) sendPong() {
	_ = c.write(NewServerMessage(MsgPong, nil))
}

package ws

import (
	"encoding/json"
	"time"

	"whosaid/internal/domain"
)

// MessageType represents the type of WebSocket message
type MessageType string

// Client → Server message types
const (
	MsgStartRound     MessageType = "start_round"
	MsgPrepareRound   MessageType = "prepare_round"
	MsgCloseAnswers   MessageType = "close_answers"
	MsgReleaseAnswers MessageType = "release_answers"
	MsgAdvance        MessageType = "advance"
	MsgSubmitAnswer   MessageType = "submit_answer"
	MsgSubmitGuess    MessageType = "submit_guess"
	MsgLeaveRoom      MessageType = "leave_room"
	MsgEndRoom        MessageType = "end_room"
	MsgPing           MessageType = "ping"
)

// Server → Client message types
const (
	MsgConnected MessageType = "connected"
	MsgRoomState MessageType = "room_state"
	MsgRoomGone  MessageType = "room_gone"
	MsgAck       MessageType = "ack"
	MsgError     MessageType = "error"
	MsgPong      MessageType = "pong"
)

// ClientMessage represents a message from client to server
type ClientMessage struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"` // echoed in ack and error replies
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage represents a message from server to client
type ServerMessage struct {
	Type      MessageType `json:"type"`
	ReplyTo   string      `json:"replyTo,omitempty"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewServerMessage creates a new server message with current timestamp
func NewServerMessage(msgType MessageType, payload any) *ServerMessage {
	return &ServerMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Client message payloads

// SubmitAnswerPayload is the payload for submit_answer. RoundIndex defaults
// to the current round.
type SubmitAnswerPayload struct {
	Text       string `json:"text"`
	RoundIndex *int   `json:"roundIndex,omitempty"`
}

// SubmitGuessPayload is the payload for submit_guess
type SubmitGuessPayload struct {
	AnswerID        string `json:"answerId"`
	GuessedPlayerID string `json:"guessedPlayerId"`
}

// Server message payloads

// ConnectedPayload is the payload for connected message. State is omitted
// until the live session has loaded the room.
type ConnectedPayload struct {
	PlayerID string           `json:"playerId"`
	RoomCode string           `json:"roomCode"`
	State    *domain.RoomView `json:"state,omitempty"`
}

// AckPayload confirms an intent. ID is set for submissions.
type AckPayload struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`
}

// Transport-level error codes; game errors carry their domain code
const (
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	ErrCodeRateLimited    = "RATE_LIMITED"
)

func messageTypeFor(t domain.EventType) (MessageType, bool) {
	switch t {
	case domain.EventRoomState:
		return MsgRoomState, true
	case domain.EventRoomGone:
		return MsgRoomGone, true
	default:
		return "", false
	}
}

package domain

import (
	"errors"
	"time"
)

// EventType represents the type of room event
type EventType string

const (
	EventRoomState EventType = "ROOM_STATE"
	EventRoomGone  EventType = "ROOM_GONE"
)

// RoomEvent is a change pushed from a live room session to its clients
type RoomEvent struct {
	Type      EventType `json:"type"`
	RoomCode  string    `json:"roomCode"`
	PlayerID  string    `json:"playerId,omitempty"` // set when the event is for one viewer
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates a room-wide event
func NewEvent(eventType EventType, roomCode string, payload any) *RoomEvent {
	return &RoomEvent{
		Type:      eventType,
		RoomCode:  roomCode,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// NewPlayerEvent creates an event addressed to one player
func NewPlayerEvent(eventType EventType, roomCode, playerID string, payload any) *RoomEvent {
	e := NewEvent(eventType, roomCode, payload)
	e.PlayerID = playerID
	return e
}

// Payload types pushed to clients

// RoomView is the state of a room as seen by one viewer. It is rebuilt
// from the latest snapshots on every change.
type RoomView struct {
	Room          Summary          `json:"room"`
	ViewerID      string           `json:"viewerId"`
	IsHost        bool             `json:"isHost"`
	Players       []PlayerInfo     `json:"players"`
	Prompt        string           `json:"prompt,omitempty"`
	Answers       []ReadableAnswer `json:"answers,omitempty"`
	Results       []RoundResult    `json:"results,omitempty"`
	Standings     []Standing       `json:"standings,omitempty"`
	RoundComplete bool             `json:"roundComplete"`
	CanStart      bool             `json:"canStart"`
	Version       int64            `json:"version"`
}

// RoomGonePayload is sent once when the room document disappears
type RoomGonePayload struct {
	Code string `json:"code"`
}

// ErrorPayload is sent when an intent fails
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorPayloadFrom converts err to a client-facing payload. Errors without a
// domain code are reported as UNKNOWN with a generic message.
func ErrorPayloadFrom(err error) ErrorPayload {
	var de *Error
	if !errors.As(err, &de) {
		return ErrorPayload{Code: string(CodeUnknown), Message: "internal error"}
	}
	return ErrorPayload{Code: string(de.Code), Message: de.Message}
}

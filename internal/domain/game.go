package domain

import (
	"fmt"
	"time"
)

// GameSettings holds configurable game parameters
type GameSettings struct {
	MinPlayers      int `json:"minPlayers"`
	MaxPlayers      int `json:"maxPlayers"`
	DefaultRounds   int `json:"defaultRounds"`
	MaxAnswerLength int `json:"maxAnswerLength"`
	MaxNameLength   int `json:"maxNameLength"`
}

// DefaultGameSettings returns the default game settings
func DefaultGameSettings() GameSettings {
	return GameSettings{
		MinPlayers:      3,
		MaxPlayers:      8,
		DefaultRounds:   10,
		MaxAnswerLength: 280,
		MaxNameLength:   24,
	}
}

// Room is one isolated game session. The prompt list is frozen at creation
// so every player sees the same sequence.
type Room struct {
	Code              string    `json:"code"`
	Passcode          string    `json:"passcode"`
	HostID            string    `json:"hostId"`
	Phase             Phase     `json:"phase"`
	CurrentRoundIndex int       `json:"currentRoundIndex"`
	TotalRounds       int       `json:"totalRounds"`
	Prompts           []string  `json:"prompts"`
	ParticipantCount  int       `json:"participantCount"`
	CreatedAt         time.Time `json:"createdAt"`
}

// NewRoom creates a room in PRE_START with its host as the only participant
func NewRoom(code, passcode, hostID string, prompts []string, now time.Time) *Room {
	frozen := make([]string, len(prompts))
	copy(frozen, prompts)
	return &Room{
		Code:              code,
		Passcode:          passcode,
		HostID:            hostID,
		Phase:             PhasePreStart,
		CurrentRoundIndex: -1,
		TotalRounds:       len(frozen),
		Prompts:           frozen,
		ParticipantCount:  1,
		CreatedAt:         now,
	}
}

// IsHost checks if the given user is the host
func (r *Room) IsHost(userID string) bool {
	return userID != "" && r.HostID == userID
}

// HasNextRound reports whether another round can still be started
func (r *Room) HasNextRound() bool {
	return r.CurrentRoundIndex+1 < r.TotalRounds
}

// Prompt returns the prompt of the given round
func (r *Room) Prompt(roundIndex int) (string, bool) {
	if roundIndex < 0 || roundIndex >= len(r.Prompts) {
		return "", false
	}
	return r.Prompts[roundIndex], true
}

// Validate checks the room invariants
func (r *Room) Validate() error {
	if !r.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", r.Phase)
	}
	if r.TotalRounds != len(r.Prompts) {
		return fmt.Errorf("total rounds %d does not match %d prompts", r.TotalRounds, len(r.Prompts))
	}
	if r.Phase.InRound() && (r.CurrentRoundIndex < 0 || r.CurrentRoundIndex >= r.TotalRounds) {
		return fmt.Errorf("round index %d out of range in phase %s", r.CurrentRoundIndex, r.Phase)
	}
	if r.ParticipantCount < 0 {
		return fmt.Errorf("negative participant count %d", r.ParticipantCount)
	}
	return nil
}

// Summary is the public part of a room, without its passcode
type Summary struct {
	Code              string `json:"code"`
	HostID            string `json:"hostId"`
	Phase             Phase  `json:"phase"`
	CurrentRoundIndex int    `json:"currentRoundIndex"`
	TotalRounds       int    `json:"totalRounds"`
	ParticipantCount  int    `json:"participantCount"`
}

// ToSummary converts a Room to its public Summary
func (r *Room) ToSummary() Summary {
	return Summary{
		Code:              r.Code,
		HostID:            r.HostID,
		Phase:             r.Phase,
		CurrentRoundIndex: r.CurrentRoundIndex,
		TotalRounds:       r.TotalRounds,
		ParticipantCount:  r.ParticipantCount,
	}
}

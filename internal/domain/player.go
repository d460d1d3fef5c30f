package domain

import "time"

// Player is a participant of one room, keyed by user id
type Player struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	IsHost      bool      `json:"isHost"`
	Score       int       `json:"score"`
	HasAnswered bool      `json:"hasAnswered"`
	HasGuessed  bool      `json:"hasGuessed"`
	Active      bool      `json:"active"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// NewPlayer creates an active player with score 0
func NewPlayer(userID, displayName string, isHost bool, now time.Time) *Player {
	return &Player{
		UserID:      userID,
		DisplayName: displayName,
		IsHost:      isHost,
		Score:       0,
		HasAnswered: false,
		HasGuessed:  false,
		Active:      true,
		JoinedAt:    now,
	}
}

// ResetForNewRound clears the per-round flags
func (p *Player) ResetForNewRound() {
	p.HasAnswered = false
	p.HasGuessed = false
}

// PlayerInfo is the public view of a player
type PlayerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	IsHost      bool   `json:"isHost"`
	Score       int    `json:"score"`
	HasAnswered bool   `json:"hasAnswered"`
	HasGuessed  bool   `json:"hasGuessed"`
	Active      bool   `json:"active"`
	Connected   bool   `json:"connected"`
}

// ToInfo converts a Player to PlayerInfo. Connection state is not stored
// and is filled in by the live session.
func (p *Player) ToInfo() PlayerInfo {
	return PlayerInfo{
		ID:          p.UserID,
		DisplayName: p.DisplayName,
		IsHost:      p.IsHost,
		Score:       p.Score,
		HasAnswered: p.HasAnswered,
		HasGuessed:  p.HasGuessed,
		Active:      p.Active,
	}
}

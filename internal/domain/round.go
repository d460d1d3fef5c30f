package domain

import "strconv"

// Question is the prompt of one round. Reveal flips once when the host
// releases answers; Scored guards the round against double scoring.
type Question struct {
	RoundIndex int    `json:"roundIndex"`
	Prompt     string `json:"prompt"`
	Reveal     bool   `json:"reveal"`
	Scored     bool   `json:"scored"`
}

// QuestionID returns the document id of a round's question
func QuestionID(roundIndex int) string {
	return strconv.Itoa(roundIndex)
}

// ActivePlayers returns the players still taking part in the game
func ActivePlayers(players []*Player) []*Player {
	active := make([]*Player, 0, len(players))
	for _, p := range players {
		if p != nil && p.Active {
			active = append(active, p)
		}
	}
	return active
}

// AllAnswered reports whether every active player answered this round.
// An empty roster is never complete.
func AllAnswered(players []*Player) bool {
	active := ActivePlayers(players)
	if len(active) == 0 {
		return false
	}
	for _, p := range active {
		if !p.HasAnswered {
			return false
		}
	}
	return true
}

// AllGuessed reports whether every active player guessed this round
func AllGuessed(players []*Player) bool {
	active := ActivePlayers(players)
	if len(active) == 0 {
		return false
	}
	for _, p := range active {
		if !p.HasGuessed {
			return false
		}
	}
	return true
}

// RoundComplete reports whether the flag relevant to the room's phase holds
// for every active player. Phases without a per-player flag are complete as
// soon as they are entered; PRE_START and FINISHED never are.
func RoundComplete(room *Room, players []*Player) bool {
	if room == nil {
		return false
	}
	switch room.Phase {
	case PhaseCollectingAnswers:
		return AllAnswered(players)
	case PhaseCollectingGuesses:
		return AllGuessed(players)
	case PhaseRoundReady, PhaseReviewPending, PhaseScoring:
		return true
	default:
		return false
	}
}

// CanStart reports whether the host may start the first round
func CanStart(room *Room, players []*Player, minPlayers int) bool {
	if room == nil || room.Phase != PhasePreStart {
		return false
	}
	return len(ActivePlayers(players)) >= minPlayers
}

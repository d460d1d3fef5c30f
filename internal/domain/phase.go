package domain

// Phase represents the current stage of a room's round lifecycle
type Phase string

const (
	PhasePreStart          Phase = "PRE_START"          // Lobby, waiting for players
	PhaseRoundReady        Phase = "ROUND_READY"        // Optional pause before a round
	PhaseCollectingAnswers Phase = "COLLECTING_ANSWERS" // Players answer the prompt
	PhaseReviewPending     Phase = "REVIEW_PENDING"     // Answers closed, not yet visible
	PhaseCollectingGuesses Phase = "COLLECTING_GUESSES" // Answers revealed, players guess authors
	PhaseScoring           Phase = "SCORING"            // Round scored, results shown
	PhaseFinished          Phase = "FINISHED"           // Terminal, scores frozen
)

// String returns the string representation of the phase
func (p Phase) String() string {
	return string(p)
}

// Valid reports whether p is a known phase
func (p Phase) Valid() bool {
	_, ok := validTransitions[p]
	return ok
}

// InRound reports whether a round index is current in this phase
func (p Phase) InRound() bool {
	return p.Valid() && p != PhasePreStart && p != PhaseFinished
}

// Joinable reports whether new players may join in this phase
func (p Phase) Joinable() bool {
	return p == PhasePreStart || p == PhaseFinished
}

var validTransitions = map[Phase][]Phase{
	PhasePreStart:          {PhaseRoundReady, PhaseCollectingAnswers},
	PhaseRoundReady:        {PhaseCollectingAnswers, PhaseFinished},
	PhaseCollectingAnswers: {PhaseReviewPending},
	PhaseReviewPending:     {PhaseCollectingGuesses},
	PhaseCollectingGuesses: {PhaseScoring},
	PhaseScoring:           {PhaseRoundReady, PhaseCollectingAnswers, PhaseFinished},
	PhaseFinished:          {},
}

// CanTransitionTo checks if a transition from current phase to target phase is valid
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, phase := range validTransitions[p] {
		if phase == target {
			return true
		}
	}
	return false
}

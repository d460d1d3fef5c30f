package domain

import (
	"sort"
	"time"
)

// Guess is a player's attempt to attribute an answer to its author
type Guess struct {
	ID              string    `json:"id"`
	RoundIndex      int       `json:"roundIndex"`
	AnswerID        string    `json:"answerId"`
	GuesserID       string    `json:"guesserId"`
	GuessedPlayerID string    `json:"guessedPlayerId"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ScoreDelta maps a user id to the points earned in one round
type ScoreDelta map[string]int

// ComputeDeltas awards +1 to a guesser for every guess naming the true
// author of the guessed answer. Guesses on unknown answers earn nothing and
// zero entries are omitted.
func ComputeDeltas(answers []*Answer, guesses []*Guess) ScoreDelta {
	authors := make(map[string]string, len(answers))
	for _, a := range answers {
		authors[a.ID] = a.AuthorID
	}

	deltas := make(ScoreDelta)
	for _, g := range guesses {
		author, ok := authors[g.AnswerID]
		if !ok || author == "" {
			continue
		}
		if g.GuessedPlayerID == author {
			deltas[g.GuesserID]++
		}
	}
	return deltas
}

// RoundResult reveals the author of one answer once the round is scored
type RoundResult struct {
	AnswerID        string   `json:"answerId"`
	Text            string   `json:"text"`
	AuthorID        string   `json:"authorId"`
	CorrectGuessers []string `json:"correctGuessers"`
}

// BuildRoundResults pairs every answer of a round with its author and the
// players who guessed it right. Callers must only expose the result once the
// round is scored.
func BuildRoundResults(answers []*Answer, guesses []*Guess) ([]RoundResult, error) {
	authors := make(map[string]string, len(answers))
	for _, a := range answers {
		authors[a.ID] = a.AuthorID
	}
	correct := make(map[string][]string)
	for _, g := range guesses {
		if author, ok := authors[g.AnswerID]; ok && author == g.GuessedPlayerID {
			correct[g.AnswerID] = append(correct[g.AnswerID], g.GuesserID)
		}
	}

	out := make([]RoundResult, 0, len(answers))
	for _, a := range answers {
		text, err := a.Text()
		if err != nil {
			return nil, err
		}
		guessers := correct[a.ID]
		sort.Strings(guessers)
		out = append(out, RoundResult{
			AnswerID:        a.ID,
			Text:            text,
			AuthorID:        a.AuthorID,
			CorrectGuessers: guessers,
		})
	}
	return out, nil
}

// Standing is one line of the ranking
type Standing struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
	Active      bool   `json:"active"`
}

// Standings ranks players by score, ties broken by join order
func Standings(players []*Player) []Standing {
	sorted := make([]*Player, 0, len(players))
	for _, p := range players {
		if p != nil {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
	})

	out := make([]Standing, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, Standing{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Score:       p.Score,
			Active:      p.Active,
		})
	}
	return out
}

package game

import (
	"context"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
)

// ScoreResult reports what one scoring run did
type ScoreResult struct {
	RoundIndex int               `json:"roundIndex"`
	Deltas     domain.ScoreDelta `json:"deltas"`
	Applied    bool              `json:"applied"` // false when the round was already scored
}

// ComputeAndApply scores the current round once. The per-round scored flag
// is checked and set in the transaction that applies the deltas, so any
// further call applies nothing.
func (s *Service) ComputeAndApply(ctx context.Context, code string, roundIndex int) (result ScoreResult, err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "ComputeAndApply", code)
	defer func() { endSpan(span, err) }()

	err = s.run(ctx, func(tx docstore.Tx) error {
		result = ScoreResult{RoundIndex: roundIndex, Deltas: domain.ScoreDelta{}}

		room, err := loadRoom(tx, code)
		if err != nil {
			return err
		}
		if room.Phase != domain.PhaseScoring || room.CurrentRoundIndex != roundIndex {
			return domain.Errorf(domain.ErrInvalidPhase, "round is not being scored")
		}

		q, err := loadQuestion(tx, code, roundIndex)
		if err != nil {
			return err
		}
		if q.Scored {
			return nil
		}

		answers, err := roundAnswers(tx, code, roundIndex)
		if err != nil {
			return err
		}
		guesses, err := roundGuesses(tx, code, roundIndex)
		if err != nil {
			return err
		}
		players, err := loadPlayers(tx, code)
		if err != nil {
			return err
		}

		deltas := domain.ComputeDeltas(answers, guesses)
		for _, p := range players {
			d := deltas[p.UserID]
			if d == 0 || !p.Active {
				continue
			}
			p.Score += d
			if err := tx.Set(playerRef(code, p.UserID), p); err != nil {
				return err
			}
			result.Deltas[p.UserID] = d
		}

		q.Scored = true
		if err := tx.Set(QuestionRef(code, roundIndex), q); err != nil {
			return err
		}
		result.Applied = true
		return nil
	})
	if err != nil {
		return ScoreResult{}, err
	}

	if result.Applied {
		s.logger.Info("round scored", "roomCode", code, "round", roundIndex, "scorers", len(result.Deltas))
	}
	return result, nil
}

// RoundResults reveals the authors of the current round's answers once the
// round has been scored. Before that it returns an empty list.
func (s *Service) RoundResults(ctx context.Context, code string) ([]domain.RoundResult, error) {
	code = NormalizeCode(code)
	out := make([]domain.RoundResult, 0)
	err := s.run(ctx, func(tx docstore.Tx) error {
		out = out[:0]
		room, err := loadRoom(tx, code)
		if err != nil {
			return err
		}
		if !room.Phase.InRound() {
			return nil
		}
		q, err := loadQuestion(tx, code, room.CurrentRoundIndex)
		if err != nil {
			return err
		}
		if !q.Scored {
			return nil
		}

		answers, err := roundAnswers(tx, code, room.CurrentRoundIndex)
		if err != nil {
			return err
		}
		guesses, err := roundGuesses(tx, code, room.CurrentRoundIndex)
		if err != nil {
			return err
		}

		out, err = domain.BuildRoundResults(answers, guesses)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

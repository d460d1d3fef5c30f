package game

import (
	"context"
	"fmt"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
)

// hostTransition loads the room, rejects non-host callers before anything
// is written, and lets fn mutate the room inside the same transaction.
func (s *Service) hostTransition(ctx context.Context, code, callerID string, fn func(tx docstore.Tx, room *domain.Room) error) (*domain.Room, error) {
	var out *domain.Room
	err := s.run(ctx, func(tx docstore.Tx) error {
		room, err := loadRoom(tx, code)
		if err != nil {
			return err
		}
		if !room.IsHost(callerID) {
			return domain.Errorf(domain.ErrForbidden, "only host can perform this action")
		}
		if err := fn(tx, room); err != nil {
			return err
		}
		out = room
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func setPhase(tx docstore.Tx, room *domain.Room, next domain.Phase) error {
	if !room.Phase.CanTransitionTo(next) {
		return domain.Errorf(domain.ErrInvalidPhase,
			fmt.Sprintf("cannot move from %s to %s", room.Phase, next))
	}
	room.Phase = next
	return tx.Set(RoomRef(room.Code), room)
}

// requireStartable checks the conditions for leaving PRE_START or for
// starting the round after a scored one.
func (s *Service) requireStartable(tx docstore.Tx, room *domain.Room) error {
	switch room.Phase {
	case domain.PhasePreStart:
		return s.requirePlayers(tx, room)
	case domain.PhaseScoring:
		q, err := loadQuestion(tx, room.Code, room.CurrentRoundIndex)
		if err != nil {
			return err
		}
		if !q.Scored {
			return domain.Errorf(domain.ErrInvalidPhase, "round is not scored yet")
		}
		return nil
	default:
		return domain.ErrInvalidPhase
	}
}

func (s *Service) requirePlayers(tx docstore.Tx, room *domain.Room) error {
	players, err := loadPlayers(tx, room.Code)
	if err != nil {
		return err
	}
	if len(domain.ActivePlayers(players)) < s.settings.MinPlayers {
		return domain.ErrNotEnoughPlayers
	}
	return nil
}

// StartNextRound opens the next round or finishes the game when no rounds
// remain. The index advance, the phase change, every player's flag reset
// and the new question are committed together.
func (s *Service) StartNextRound(ctx context.Context, code, callerID string) (room *domain.Room, err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "StartNextRound", code)
	defer func() { endSpan(span, err) }()

	room, err = s.hostTransition(ctx, code, callerID, func(tx docstore.Tx, room *domain.Room) error {
		switch {
		case room.Phase != domain.PhaseRoundReady:
			if err := s.requireStartable(tx, room); err != nil {
				return err
			}
		case room.CurrentRoundIndex < 0:
			// players may have left during the pause before the first round
			if err := s.requirePlayers(tx, room); err != nil {
				return err
			}
		}
		return s.openRound(tx, room)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("round started", "roomCode", code, "round", room.CurrentRoundIndex, "phase", room.Phase)
	return room, nil
}

func (s *Service) openRound(tx docstore.Tx, room *domain.Room) error {
	if !room.HasNextRound() {
		return setPhase(tx, room, domain.PhaseFinished)
	}

	players, err := loadPlayers(tx, room.Code)
	if err != nil {
		return err
	}
	next := room.CurrentRoundIndex + 1
	prompt, _ := room.Prompt(next)
	for _, p := range players {
		p.ResetForNewRound()
		if err := tx.Set(playerRef(room.Code, p.UserID), p); err != nil {
			return err
		}
	}
	if err := tx.Set(QuestionRef(room.Code, next), &domain.Question{
		RoundIndex: next,
		Prompt:     prompt,
	}); err != nil {
		return err
	}

	room.CurrentRoundIndex = next
	return setPhase(tx, room, domain.PhaseCollectingAnswers)
}

// PrepareRound moves to the optional ROUND_READY pause before a round, or
// finishes the game when no rounds remain.
func (s *Service) PrepareRound(ctx context.Context, code, callerID string) (room *domain.Room, err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "PrepareRound", code)
	defer func() { endSpan(span, err) }()

	room, err = s.hostTransition(ctx, code, callerID, func(tx docstore.Tx, room *domain.Room) error {
		if err := s.requireStartable(tx, room); err != nil {
			return err
		}
		if !room.HasNextRound() {
			return setPhase(tx, room, domain.PhaseFinished)
		}
		return setPhase(tx, room, domain.PhaseRoundReady)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("round prepared", "roomCode", code, "phase", room.Phase)
	return room, nil
}

// CloseAnswers stops answer collection for the current round
func (s *Service) CloseAnswers(ctx context.Context, code, callerID string) (room *domain.Room, err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "CloseAnswers", code)
	defer func() { endSpan(span, err) }()

	room, err = s.hostTransition(ctx, code, callerID, func(tx docstore.Tx, room *domain.Room) error {
		if room.Phase != domain.PhaseCollectingAnswers {
			return domain.ErrInvalidPhase
		}
		return setPhase(tx, room, domain.PhaseReviewPending)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("answers closed", "roomCode", code, "round", room.CurrentRoundIndex)
	return room, nil
}

// ReleaseAnswers reveals the round's answers and opens guessing. The
// question's reveal flag, every answer's released flag and the phase change
// are committed together.
func (s *Service) ReleaseAnswers(ctx context.Context, code, callerID string) (room *domain.Room, err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "ReleaseAnswers", code)
	defer func() { endSpan(span, err) }()

	room, err = s.hostTransition(ctx, code, callerID, func(tx docstore.Tx, room *domain.Room) error {
		if room.Phase != domain.PhaseReviewPending {
			return domain.ErrInvalidPhase
		}

		q, err := loadQuestion(tx, code, room.CurrentRoundIndex)
		if err != nil {
			return err
		}
		answers, err := roundAnswers(tx, code, room.CurrentRoundIndex)
		if err != nil {
			return err
		}

		q.Reveal = true
		if err := tx.Set(QuestionRef(code, q.RoundIndex), q); err != nil {
			return err
		}
		for _, a := range answers {
			a.Released = true
			if err := tx.Set(answerRef(code, a.ID), a); err != nil {
				return err
			}
		}
		return setPhase(tx, room, domain.PhaseCollectingGuesses)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("answers released", "roomCode", code, "round", room.CurrentRoundIndex)
	return room, nil
}

// closeGuesses moves a room from COLLECTING_GUESSES to SCORING
func (s *Service) closeGuesses(ctx context.Context, code, callerID string) (*domain.Room, error) {
	return s.hostTransition(ctx, code, callerID, func(tx docstore.Tx, room *domain.Room) error {
		if room.Phase != domain.PhaseCollectingGuesses {
			return domain.ErrInvalidPhase
		}
		return setPhase(tx, room, domain.PhaseScoring)
	})
}

// Advance is the host's single "next" control. It dispatches on the
// current phase; from COLLECTING_GUESSES it scores the round right away and
// from SCORING it makes sure the round is scored before opening the next.
func (s *Service) Advance(ctx context.Context, code, callerID string) (room *domain.Room, err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "Advance", code)
	defer func() { endSpan(span, err) }()

	current, err := s.hostTransition(ctx, code, callerID, func(docstore.Tx, *domain.Room) error { return nil })
	if err != nil {
		return nil, err
	}

	switch current.Phase {
	case domain.PhasePreStart, domain.PhaseRoundReady:
		return s.StartNextRound(ctx, code, callerID)
	case domain.PhaseCollectingAnswers:
		return s.CloseAnswers(ctx, code, callerID)
	case domain.PhaseReviewPending:
		return s.ReleaseAnswers(ctx, code, callerID)
	case domain.PhaseCollectingGuesses:
		room, err := s.closeGuesses(ctx, code, callerID)
		if err != nil {
			return nil, err
		}
		if _, err := s.ComputeAndApply(ctx, code, room.CurrentRoundIndex); err != nil {
			return nil, err
		}
		return s.GetRoom(ctx, code)
	case domain.PhaseScoring:
		if _, err := s.ComputeAndApply(ctx, code, current.CurrentRoundIndex); err != nil {
			return nil, err
		}
		return s.StartNextRound(ctx, code, callerID)
	default:
		return nil, domain.Errorf(domain.ErrInvalidPhase, "game is finished")
	}
}

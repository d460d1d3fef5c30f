package game

import (
	"context"

	"github.com/google/uuid"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
)

// SubmitAnswer records a player's answer for the current round. The
// existence checks and the hasAnswered flag are read and written in one
// transaction, so of two racing submissions only one commits; the other is
// retried, sees the flag and fails as a duplicate.
func (s *Service) SubmitAnswer(ctx context.Context, code string, roundIndex int, playerID, text string) (answerID string, err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "SubmitAnswer", code)
	defer func() { endSpan(span, err) }()

	id := uuid.NewString()
	err = s.run(ctx, func(tx docstore.Tx) error {
		room, err := loadRoom(tx, code)
		if err != nil {
			return err
		}
		if room.Phase != domain.PhaseCollectingAnswers || room.CurrentRoundIndex != roundIndex {
			return domain.Errorf(domain.ErrInvalidPhase, "answers are not being collected for this round")
		}

		player, ok, err := loadPlayer(tx, code, playerID)
		if err != nil {
			return err
		}
		if !ok || !player.Active {
			return domain.Errorf(domain.ErrNotFound, "player not found")
		}

		clean, err := domain.ValidateText(text, s.settings.MaxAnswerLength)
		if err != nil {
			return err
		}

		if player.HasAnswered {
			return domain.Errorf(domain.ErrDuplicateSubmission, "already answered this round")
		}
		existing, err := roundAnswers(tx, code, roundIndex, docstore.Eq("authorId", playerID))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return domain.Errorf(domain.ErrDuplicateSubmission, "already answered this round")
		}

		answer := &domain.Answer{
			ID:         id,
			RoomCode:   code,
			RoundIndex: roundIndex,
			AuthorID:   playerID,
			Payload:    domain.Obfuscate(clean),
			Released:   false,
			CreatedAt:  s.now(),
		}
		if err := tx.Create(answerRef(code, id), answer); err != nil {
			return err
		}
		player.HasAnswered = true
		return tx.Set(playerRef(code, playerID), player)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("answer submitted", "roomCode", code, "round", roundIndex, "userId", playerID)
	return id, nil
}

// SubmitGuess records who a player thinks wrote an answer. A player guesses
// once per round, never on their own answer and never naming themselves.
func (s *Service) SubmitGuess(ctx context.Context, code, answerID, guesserID, guessedPlayerID string) (id string, err error) {
	code = NormalizeCode(code)
	ctx, span := s.startSpan(ctx, "SubmitGuess", code)
	defer func() { endSpan(span, err) }()

	id = guessID(answerID, guesserID)
	err = s.run(ctx, func(tx docstore.Tx) error {
		room, err := loadRoom(tx, code)
		if err != nil {
			return err
		}
		if room.Phase != domain.PhaseCollectingGuesses {
			return domain.Errorf(domain.ErrInvalidPhase, "guesses are not being collected")
		}

		guesser, ok, err := loadPlayer(tx, code, guesserID)
		if err != nil {
			return err
		}
		if !ok || !guesser.Active {
			return domain.Errorf(domain.ErrNotFound, "player not found")
		}

		answer, ok, err := loadAnswer(tx, code, answerID)
		if err != nil {
			return err
		}
		if !ok || answer.RoundIndex != room.CurrentRoundIndex || !answer.Released {
			return domain.Errorf(domain.ErrInvalidTarget, "answer is not part of this round")
		}

		prior, err := tx.Get(guessRef(code, id))
		if err != nil {
			return err
		}
		if prior.Exists {
			return domain.Errorf(domain.ErrDuplicateSubmission, "already guessed this answer")
		}
		if guesser.HasGuessed {
			return domain.Errorf(domain.ErrDuplicateSubmission, "already guessed this round")
		}

		if guessedPlayerID == guesserID {
			return domain.Errorf(domain.ErrInvalidTarget, "cannot guess yourself")
		}
		if answer.AuthorID == guesserID {
			return domain.Errorf(domain.ErrInvalidTarget, "cannot guess your own answer")
		}
		if _, ok, err := loadPlayer(tx, code, guessedPlayerID); err != nil {
			return err
		} else if !ok {
			return domain.Errorf(domain.ErrInvalidTarget, "unknown player")
		}

		guess := &domain.Guess{
			ID:              id,
			RoundIndex:      room.CurrentRoundIndex,
			AnswerID:        answerID,
			GuesserID:       guesserID,
			GuessedPlayerID: guessedPlayerID,
			CreatedAt:       s.now(),
		}
		if err := tx.Create(guessRef(code, id), guess); err != nil {
			return err
		}
		guesser.HasGuessed = true
		return tx.Set(playerRef(code, guesserID), guesser)
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("guess submitted", "roomCode", code, "userId", guesserID)
	return id, nil
}

// ListPlayers returns the active roster in join order
func (s *Service) ListPlayers(ctx context.Context, code string) ([]*domain.Player, error) {
	code = NormalizeCode(code)
	var players []*domain.Player
	err := s.run(ctx, func(tx docstore.Tx) error {
		if _, err := loadRoom(tx, code); err != nil {
			return err
		}
		all, err := loadPlayers(tx, code)
		if err != nil {
			return err
		}
		players = domain.ActivePlayers(all)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return players, nil
}

// Player returns one member of the room, inactive members included. It
// fails with NotFound when the room or the player does not exist.
func (s *Service) Player(ctx context.Context, code, userID string) (*domain.Player, error) {
	code = NormalizeCode(code)
	var player *domain.Player
	err := s.run(ctx, func(tx docstore.Tx) error {
		if _, err := loadRoom(tx, code); err != nil {
			return err
		}
		p, ok, err := loadPlayer(tx, code, userID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.Errorf(domain.ErrNotFound, "player not found")
		}
		player = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return player, nil
}

// Standings ranks every player who took part, including those who left
func (s *Service) Standings(ctx context.Context, code string) ([]domain.Standing, error) {
	code = NormalizeCode(code)
	var standings []domain.Standing
	err := s.run(ctx, func(tx docstore.Tx) error {
		if _, err := loadRoom(tx, code); err != nil {
			return err
		}
		all, err := loadPlayers(tx, code)
		if err != nil {
			return err
		}
		standings = domain.Standings(all)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return standings, nil
}

// ReadableAnswers returns the current round's answers once they have been
// revealed, without authors. Before the reveal it returns an empty list.
func (s *Service) ReadableAnswers(ctx context.Context, code, viewerID string) ([]domain.ReadableAnswer, error) {
	code = NormalizeCode(code)
	out := make([]domain.ReadableAnswer, 0)
	err := s.run(ctx, func(tx docstore.Tx) error {
		out = out[:0]
		room, err := loadRoom(tx, code)
		if err != nil {
			return err
		}
		if _, ok, err := loadPlayer(tx, code, viewerID); err != nil {
			return err
		} else if !ok {
			return domain.Errorf(domain.ErrForbidden, "only players can read answers")
		}
		if !room.Phase.InRound() {
			return nil
		}

		q, err := loadQuestion(tx, code, room.CurrentRoundIndex)
		if err != nil {
			return err
		}
		if !q.Reveal {
			return nil
		}

		answers, err := roundAnswers(tx, code, room.CurrentRoundIndex, docstore.Eq("released", true))
		if err != nil {
			return err
		}
		out, err = domain.RevealedAnswers(q, answers, viewerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

package game

import (
	"context"
	"errors"
	"sort"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
)

// storeError maps store failures onto the domain taxonomy. Domain errors
// pass through unchanged.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.Wrap(domain.ErrStoreUnavailable, err)
}

// run executes fn in a store transaction. fn may run several times, so it
// must only touch state through tx and its own locals.
func (s *Service) run(ctx context.Context, fn func(tx docstore.Tx) error) error {
	return storeError(s.store.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		return fn(tx)
	}))
}

func loadRoom(tx docstore.Tx, code string) (*domain.Room, error) {
	snap, err := tx.Get(RoomRef(code))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, domain.Errorf(domain.ErrNotFound, "room not found")
	}
	var room domain.Room
	if err := snap.DataTo(&room); err != nil {
		return nil, err
	}
	return &room, nil
}

func loadPlayer(tx docstore.Tx, code, userID string) (*domain.Player, bool, error) {
	if userID == "" {
		return nil, false, nil
	}
	snap, err := tx.Get(playerRef(code, userID))
	if err != nil {
		return nil, false, err
	}
	if !snap.Exists {
		return nil, false, nil
	}
	var player domain.Player
	if err := snap.DataTo(&player); err != nil {
		return nil, false, err
	}
	return &player, true, nil
}

// loadPlayers returns every player of the room, inactive ones included,
// in join order.
func loadPlayers(tx docstore.Tx, code string) ([]*domain.Player, error) {
	snaps, err := tx.Query(docstore.Where(PlayersCollection(code)))
	if err != nil {
		return nil, err
	}
	return DecodePlayers(snaps)
}

// DecodePlayers decodes player snapshots and sorts them in join order
func DecodePlayers(snaps []docstore.Snapshot) ([]*domain.Player, error) {
	players, err := decodeAll[domain.Player](snaps)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].UserID < players[j].UserID
	})
	return players, nil
}

func loadQuestion(tx docstore.Tx, code string, roundIndex int) (*domain.Question, error) {
	snap, err := tx.Get(QuestionRef(code, roundIndex))
	if err != nil {
		return nil, err
	}
	if !snap.Exists {
		return nil, domain.Errorf(domain.ErrNotFound, "question not found")
	}
	var q domain.Question
	if err := snap.DataTo(&q); err != nil {
		return nil, err
	}
	return &q, nil
}

func loadAnswer(tx docstore.Tx, code, answerID string) (*domain.Answer, bool, error) {
	if answerID == "" || !answerRef(code, answerID).Valid() {
		return nil, false, nil
	}
	snap, err := tx.Get(answerRef(code, answerID))
	if err != nil {
		return nil, false, err
	}
	if !snap.Exists {
		return nil, false, nil
	}
	var a domain.Answer
	if err := snap.DataTo(&a); err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

func roundAnswers(tx docstore.Tx, code string, roundIndex int, filters ...docstore.Filter) ([]*domain.Answer, error) {
	filters = append([]docstore.Filter{docstore.Eq("roundIndex", roundIndex)}, filters...)
	snaps, err := tx.Query(docstore.Where(AnswersCollection(code), filters...))
	if err != nil {
		return nil, err
	}
	return DecodeAnswers(snaps)
}

func roundGuesses(tx docstore.Tx, code string, roundIndex int) ([]*domain.Guess, error) {
	snaps, err := tx.Query(docstore.Where(GuessesCollection(code), docstore.Eq("roundIndex", roundIndex)))
	if err != nil {
		return nil, err
	}
	return DecodeGuesses(snaps)
}

// DecodeAnswers decodes answer snapshots in store order
func DecodeAnswers(snaps []docstore.Snapshot) ([]*domain.Answer, error) {
	return decodeAll[domain.Answer](snaps)
}

// DecodeGuesses decodes guess snapshots in store order
func DecodeGuesses(snaps []docstore.Snapshot) ([]*domain.Guess, error) {
	return decodeAll[domain.Guess](snaps)
}

// DecodeQuestions decodes question snapshots keyed by round index
func DecodeQuestions(snaps []docstore.Snapshot) (map[int]*domain.Question, error) {
	questions, err := decodeAll[domain.Question](snaps)
	if err != nil {
		return nil, err
	}
	out := make(map[int]*domain.Question, len(questions))
	for _, q := range questions {
		out[q.RoundIndex] = q
	}
	return out, nil
}

func decodeAll[T any](snaps []docstore.Snapshot) ([]*T, error) {
	out := make([]*T, 0, len(snaps))
	for _, snap := range snaps {
		var v T
		if err := snap.DataTo(&v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}

// deleteRoomTree removes the room and every document under it
func deleteRoomTree(tx docstore.Tx, code string) error {
	for _, col := range []string{
		PlayersCollection(code),
		QuestionsCollection(code),
		AnswersCollection(code),
		GuessesCollection(code),
	} {
		snaps, err := tx.Query(docstore.Where(col))
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if err := tx.Delete(snap.Ref); err != nil {
				return err
			}
		}
	}
	return tx.Delete(RoomRef(code))
}

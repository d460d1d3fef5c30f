package app

import (
	"context"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
	"whosaid/internal/game"
)

// roomState is every document of a room read in one transaction. version is
// the newest document version in the read.
type roomState struct {
	room      *domain.Room
	version   int64
	gone      bool
	players   []*domain.Player
	questions map[int]*domain.Question
	answers   []*domain.Answer
	guesses   []*domain.Guess
}

// loadRoomState reads the room and all of its subcollections as one
// consistent snapshot.
func loadRoomState(ctx context.Context, store docstore.Store, code string) (roomState, error) {
	var st roomState
	err := store.RunTransaction(ctx, func(_ context.Context, tx docstore.Tx) error {
		st = roomState{}
		snap, err := tx.Get(game.RoomRef(code))
		if err != nil {
			return err
		}
		if !snap.Exists {
			st.gone = true
			return nil
		}
		st.room = &domain.Room{}
		if err := snap.DataTo(st.room); err != nil {
			return err
		}
		st.version = snap.Version

		query := func(collection string) ([]docstore.Snapshot, error) {
			snaps, err := tx.Query(docstore.Where(collection))
			if err != nil {
				return nil, err
			}
			for _, s := range snaps {
				st.version = max(st.version, s.Version)
			}
			return snaps, nil
		}

		snaps, err := query(game.PlayersCollection(code))
		if err != nil {
			return err
		}
		if st.players, err = game.DecodePlayers(snaps); err != nil {
			return err
		}
		if snaps, err = query(game.QuestionsCollection(code)); err != nil {
			return err
		}
		if st.questions, err = game.DecodeQuestions(snaps); err != nil {
			return err
		}
		if snaps, err = query(game.AnswersCollection(code)); err != nil {
			return err
		}
		if st.answers, err = game.DecodeAnswers(snaps); err != nil {
			return err
		}
		if snaps, err = query(game.GuessesCollection(code)); err != nil {
			return err
		}
		st.guesses, err = game.DecodeGuesses(snaps)
		return err
	})
	return st, err
}

// buildView assembles the state of a room as seen by viewerID. connected
// marks the players that currently hold a live connection.
func buildView(st roomState, viewerID string, connected map[string]bool, settings domain.GameSettings) (*domain.RoomView, error) {
	room := st.room
	view := &domain.RoomView{
		Room:          room.ToSummary(),
		ViewerID:      viewerID,
		IsHost:        room.IsHost(viewerID),
		Players:       make([]domain.PlayerInfo, 0, len(st.players)),
		RoundComplete: domain.RoundComplete(room, st.players),
		CanStart:      domain.CanStart(room, st.players, settings.MinPlayers),
		Version:       st.version,
	}
	for _, p := range domain.ActivePlayers(st.players) {
		info := p.ToInfo()
		info.Connected = connected[p.UserID]
		view.Players = append(view.Players, info)
	}

	if room.Phase.InRound() {
		idx := room.CurrentRoundIndex
		if prompt, ok := room.Prompt(idx); ok {
			view.Prompt = prompt
		}

		q := st.questions[idx]
		answers := make([]*domain.Answer, 0, len(st.answers))
		for _, a := range st.answers {
			if a.RoundIndex == idx {
				answers = append(answers, a)
			}
		}
		readable, err := domain.RevealedAnswers(q, answers, viewerID)
		if err != nil {
			return nil, err
		}
		view.Answers = readable

		if q != nil && q.Scored {
			guesses := make([]*domain.Guess, 0, len(st.guesses))
			for _, g := range st.guesses {
				if g.RoundIndex == idx {
					guesses = append(guesses, g)
				}
			}
			results, err := domain.BuildRoundResults(answers, guesses)
			if err != nil {
				return nil, err
			}
			view.Results = results
		}
	}

	if room.Phase == domain.PhaseScoring || room.Phase == domain.PhaseFinished {
		view.Standings = domain.Standings(st.players)
	}
	return view, nil
}

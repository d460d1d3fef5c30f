package game

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"whosaid/internal/docstore"
	"whosaid/internal/docstore/memory"
	"whosaid/internal/domain"
)

const hostID = "host"

func newTestService(t *testing.T, opts ...Option) (*Service, docstore.Store) {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store, domain.DefaultGameSettings(), logger, opts...), store
}

// setupRoom creates a room hosted by hostID and joins the given players
func setupRoom(t *testing.T, svc *Service, rounds int, players ...string) *domain.Room {
	t.Helper()
	ctx := context.Background()
	room, err := svc.CreateRoom(ctx, CreateRoomParams{HostID: hostID, HostName: "Host", TotalRounds: rounds})
	require.NoError(t, err)
	for _, id := range players {
		_, err := svc.JoinRoom(ctx, room.Code, room.Passcode, id, "Player "+id)
		require.NoError(t, err)
	}
	return room
}

func playerDoc(t *testing.T, store docstore.Store, code, userID string) (*domain.Player, bool) {
	t.Helper()
	snap, err := store.Get(context.Background(), playerRef(code, userID))
	require.NoError(t, err)
	if !snap.Exists {
		return nil, false
	}
	var p domain.Player
	require.NoError(t, snap.DataTo(&p))
	return &p, true
}

func roomDoc(t *testing.T, store docstore.Store, code string) docstore.Snapshot {
	t.Helper()
	snap, err := store.Get(context.Background(), RoomRef(code))
	require.NoError(t, err)
	return snap
}

// playRoundToGuesses starts the next round, has every player answer and
// releases the answers. It returns answer ids by author.
func playRoundToGuesses(t *testing.T, svc *Service, code string, players ...string) map[string]string {
	t.Helper()
	ctx := context.Background()

	room, err := svc.Advance(ctx, code, hostID)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseCollectingAnswers, room.Phase)

	answers := make(map[string]string, len(players))
	for _, id := range players {
		answerID, err := svc.SubmitAnswer(ctx, code, room.CurrentRoundIndex, id, "answer from "+id)
		require.NoError(t, err)
		answers[id] = answerID
	}

	_, err = svc.CloseAnswers(ctx, code, hostID)
	require.NoError(t, err)
	_, err = svc.ReleaseAnswers(ctx, code, hostID)
	require.NoError(t, err)
	return answers
}

package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
)

func TestStartNextRoundResetsRoster(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2")

	got, err := svc.StartNextRound(ctx, room.Code, hostID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCollectingAnswers, got.Phase)
	assert.Equal(t, 0, got.CurrentRoundIndex)

	players, err := svc.ListPlayers(ctx, room.Code)
	require.NoError(t, err)
	require.Len(t, players, 3)
	for _, p := range players {
		assert.False(t, p.HasAnswered, p.UserID)
	}

	snap, err := store.Get(ctx, QuestionRef(room.Code, 0))
	require.NoError(t, err)
	var q domain.Question
	require.NoError(t, snap.DataTo(&q))
	assert.Equal(t, room.Prompts[0], q.Prompt)
	assert.False(t, q.Reveal)
	assert.False(t, q.Scored)

	answers := map[string]string{}
	for id, text := range map[string]string{hostID: "a", "p1": "b", "p2": "c"} {
		answerID, err := svc.SubmitAnswer(ctx, room.Code, 0, id, text)
		require.NoError(t, err)
		answers[id] = answerID
	}
	players, err = svc.ListPlayers(ctx, room.Code)
	require.NoError(t, err)
	for _, p := range players {
		assert.True(t, p.HasAnswered, p.UserID)
	}

	_, err = svc.CloseAnswers(ctx, room.Code, hostID)
	require.NoError(t, err)
	_, err = svc.ReleaseAnswers(ctx, room.Code, hostID)
	require.NoError(t, err)

	// everyone guesses the author of the next player's answer
	_, err = svc.SubmitGuess(ctx, room.Code, answers["p1"], hostID, "p1")
	require.NoError(t, err)
	_, err = svc.SubmitGuess(ctx, room.Code, answers["p2"], "p1", "p2")
	require.NoError(t, err)
	_, err = svc.SubmitGuess(ctx, room.Code, answers[hostID], "p2", hostID)
	require.NoError(t, err)

	got, err = svc.Advance(ctx, room.Code, hostID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseScoring, got.Phase)
	got, err = svc.Advance(ctx, room.Code, hostID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCollectingAnswers, got.Phase)
	assert.Equal(t, 1, got.CurrentRoundIndex)

	players, err = svc.ListPlayers(ctx, room.Code)
	require.NoError(t, err)
	for _, p := range players {
		assert.Equal(t, 1, p.Score, p.UserID)
		assert.False(t, p.HasAnswered, p.UserID)
		assert.False(t, p.HasGuessed, p.UserID)
	}
}

func TestPhaseSequence(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2")

	var (
		mu       sync.Mutex
		once     sync.Once
		observed []domain.Phase
		gone     = make(chan struct{})
	)
	unsubscribe := store.SubscribeDoc(RoomRef(room.Code), func(snap docstore.Snapshot) {
		var r domain.Room
		if err := snap.DataTo(&r); err != nil {
			return
		}
		mu.Lock()
		observed = append(observed, r.Phase)
		finished := r.Phase == domain.PhaseFinished
		mu.Unlock()
		if finished {
			once.Do(func() { close(gone) })
		}
	}, nil)
	defer unsubscribe()

	cycle := []domain.Phase{
		domain.PhaseCollectingAnswers,
		domain.PhaseReviewPending,
		domain.PhaseCollectingGuesses,
		domain.PhaseScoring,
	}
	want := append([]domain.Phase{domain.PhasePreStart}, cycle...)
	want = append(want, cycle...)
	want = append(want, domain.PhaseFinished)

	phases := []domain.Phase{domain.PhasePreStart}
	for {
		got, err := svc.Advance(ctx, room.Code, hostID)
		require.NoError(t, err)
		phases = append(phases, got.Phase)
		if got.Phase == domain.PhaseFinished {
			break
		}
	}
	assert.Equal(t, want, phases)

	_, err := svc.Advance(ctx, room.Code, hostID)
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)

	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never saw FINISHED")
	}

	// subscribers may miss intermediate states but never see them out of order
	mu.Lock()
	defer mu.Unlock()
	pos := 0
	for _, phase := range observed {
		for pos < len(want) && want[pos] != phase {
			pos++
		}
		require.Less(t, pos, len(want), "phase %s observed out of order in %v", phase, observed)
	}
}

func TestTransitionsAreHostOnly(t *testing.T) {
	t.Parallel()

	svc, store := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2")
	before := roomDoc(t, store, room.Code)

	ops := map[string]func(context.Context, string, string) (*domain.Room, error){
		"StartNextRound": svc.StartNextRound,
		"PrepareRound":   svc.PrepareRound,
		"CloseAnswers":   svc.CloseAnswers,
		"ReleaseAnswers": svc.ReleaseAnswers,
		"Advance":        svc.Advance,
	}
	for name, op := range ops {
		_, err := op(ctx, room.Code, "p1")
		assert.ErrorIs(t, err, domain.ErrForbidden, name)
	}

	after := roomDoc(t, store, room.Code)
	assert.Equal(t, before.Version, after.Version, "room must not change")
}

func TestStartRequiresEnoughPlayers(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1")

	_, err := svc.StartNextRound(ctx, room.Code, hostID)
	assert.ErrorIs(t, err, domain.ErrNotEnoughPlayers)
	_, err = svc.PrepareRound(ctx, room.Code, hostID)
	assert.ErrorIs(t, err, domain.ErrNotEnoughPlayers)

	_, err = svc.JoinRoom(ctx, room.Code, room.Passcode, "p2", "Bob")
	require.NoError(t, err)
	got, err := svc.StartNextRound(ctx, room.Code, hostID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCollectingAnswers, got.Phase)
}

func TestPrepareRound(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 1, "p1", "p2")

	got, err := svc.PrepareRound(ctx, room.Code, hostID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseRoundReady, got.Phase)
	assert.Equal(t, -1, got.CurrentRoundIndex)

	got, err = svc.Advance(ctx, room.Code, hostID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCollectingAnswers, got.Phase)
	assert.Equal(t, 0, got.CurrentRoundIndex)

	for i := 0; i < 3; i++ {
		_, err = svc.Advance(ctx, room.Code, hostID)
		require.NoError(t, err)
	}

	// last round scored: preparing another one finishes the game
	got, err = svc.PrepareRound(ctx, room.Code, hostID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFinished, got.Phase)
}

func TestStartNextRoundRequiresScoredRound(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2")
	playRoundToGuesses(t, svc, room.Code, hostID, "p1", "p2")

	got, err := svc.closeGuesses(ctx, room.Code, hostID)
	require.NoError(t, err)
	require.Equal(t, domain.PhaseScoring, got.Phase)

	_, err = svc.StartNextRound(ctx, room.Code, hostID)
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)

	// advancing scores the round first
	got, err = svc.Advance(ctx, room.Code, hostID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentRoundIndex)
}

func TestPhaseGuards(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2")

	_, err := svc.ReleaseAnswers(ctx, room.Code, hostID)
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)
	_, err = svc.CloseAnswers(ctx, room.Code, hostID)
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)

	_, err = svc.StartNextRound(ctx, room.Code, hostID)
	require.NoError(t, err)
	_, err = svc.ReleaseAnswers(ctx, room.Code, hostID)
	assert.ErrorIs(t, err, domain.ErrInvalidPhase, "release is only legal from REVIEW_PENDING")
	_, err = svc.StartNextRound(ctx, room.Code, hostID)
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)
}

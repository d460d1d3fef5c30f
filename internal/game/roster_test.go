package game

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whosaid/internal/domain"
)

func TestSubmitAnswerDuplicate(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2")
	_, err := svc.StartNextRound(ctx, room.Code, hostID)
	require.NoError(t, err)

	_, err = svc.SubmitAnswer(ctx, room.Code, 0, "p1", "first")
	require.NoError(t, err)
	_, err = svc.SubmitAnswer(ctx, room.Code, 0, "p1", "second")
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)

	for _, id := range []string{hostID, "p2"} {
		_, err := svc.SubmitAnswer(ctx, room.Code, 0, id, "other")
		require.NoError(t, err)
	}
	_, err = svc.CloseAnswers(ctx, room.Code, hostID)
	require.NoError(t, err)
	_, err = svc.ReleaseAnswers(ctx, room.Code, hostID)
	require.NoError(t, err)

	answers, err := svc.ReadableAnswers(ctx, room.Code, "p1")
	require.NoError(t, err)
	var mine []string
	for _, a := range answers {
		if a.Mine {
			mine = append(mine, a.Text)
		}
	}
	assert.Equal(t, []string{"first"}, mine)
}

func TestSubmitAnswerRace(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2")
	_, err := svc.StartNextRound(ctx, room.Code, hostID)
	require.NoError(t, err)

	const attempts = 6
	var (
		wg   sync.WaitGroup
		errs = make(chan error, attempts)
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.SubmitAnswer(ctx, room.Code, 0, "p1", "racing")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
	}
	assert.Equal(t, 1, succeeded)
}

func TestSubmitAnswerGuards(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2")

	_, err := svc.SubmitAnswer(ctx, room.Code, 0, "p1", "early")
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)

	_, err = svc.StartNextRound(ctx, room.Code, hostID)
	require.NoError(t, err)

	_, err = svc.SubmitAnswer(ctx, room.Code, 1, "p1", "wrong round")
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)
	_, err = svc.SubmitAnswer(ctx, room.Code, 0, "stranger", "hello")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.SubmitAnswer(ctx, room.Code, 0, "p1", "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSubmitGuessRules(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2")

	_, err := svc.SubmitGuess(ctx, room.Code, "nope", "p1", "p2")
	assert.ErrorIs(t, err, domain.ErrInvalidPhase)

	answers := playRoundToGuesses(t, svc, room.Code, hostID, "p1", "p2")

	_, err = svc.SubmitGuess(ctx, room.Code, answers["p1"], "p1", hostID)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget, "own answer")
	_, err = svc.SubmitGuess(ctx, room.Code, answers["p2"], "p1", "p1")
	assert.ErrorIs(t, err, domain.ErrInvalidTarget, "self as author")
	_, err = svc.SubmitGuess(ctx, room.Code, answers["p2"], "p1", "ghost")
	assert.ErrorIs(t, err, domain.ErrInvalidTarget, "unknown player")
	_, err = svc.SubmitGuess(ctx, room.Code, "missing-answer", "p1", "p2")
	assert.ErrorIs(t, err, domain.ErrInvalidTarget, "unknown answer")

	first, err := svc.SubmitGuess(ctx, room.Code, answers["p2"], "p1", "p2")
	require.NoError(t, err)
	again, err := svc.SubmitGuess(ctx, room.Code, answers["p2"], "p1", hostID)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission)
	assert.Empty(t, again)
	assert.Equal(t, guessID(answers["p2"], "p1"), first)

	_, err = svc.SubmitGuess(ctx, room.Code, answers[hostID], "p1", hostID)
	assert.ErrorIs(t, err, domain.ErrDuplicateSubmission, "one guess per round")
}

func TestReadableAnswersHiddenUntilReveal(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2")
	_, err := svc.StartNextRound(ctx, room.Code, hostID)
	require.NoError(t, err)

	texts := map[string]string{hostID: "alpha", "p1": "bravo", "p2": "charlie"}
	for id, text := range texts {
		_, err := svc.SubmitAnswer(ctx, room.Code, 0, id, text)
		require.NoError(t, err)
	}

	got, err := svc.ReadableAnswers(ctx, room.Code, "p1")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = svc.CloseAnswers(ctx, room.Code, hostID)
	require.NoError(t, err)
	got, err = svc.ReadableAnswers(ctx, room.Code, "p1")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = svc.ReleaseAnswers(ctx, room.Code, hostID)
	require.NoError(t, err)
	got, err = svc.ReadableAnswers(ctx, room.Code, "p1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	var read []string
	for _, a := range got {
		read = append(read, a.Text)
		assert.Equal(t, a.Text == "bravo", a.Mine)
	}
	assert.ElementsMatch(t, []string{"alpha", "bravo", "charlie"}, read)

	_, err = svc.ReadableAnswers(ctx, room.Code, "stranger")
	assert.True(t, errors.Is(err, domain.ErrForbidden))
}

func TestStandingsIncludePlayersWhoLeft(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	room := setupRoom(t, svc, 2, "p1", "p2", "p3")
	answers := playRoundToGuesses(t, svc, room.Code, hostID, "p1", "p2", "p3")

	_, err := svc.SubmitGuess(ctx, room.Code, answers["p2"], "p1", "p2")
	require.NoError(t, err)
	_, err = svc.Advance(ctx, room.Code, hostID)
	require.NoError(t, err)
	require.NoError(t, svc.LeaveRoom(ctx, room.Code, "p1"))

	standings, err := svc.Standings(ctx, room.Code)
	require.NoError(t, err)
	require.Len(t, standings, 4)
	assert.Equal(t, "p1", standings[0].UserID)
	assert.Equal(t, 1, standings[0].Score)
	assert.False(t, standings[0].Active)
}

func TestPlayerLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, _ := newTestService(t)
	room := setupRoom(t, svc, 1, "p1", "p2")

	p, err := svc.Player(ctx, room.Code, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Player p1", p.DisplayName)
	assert.True(t, p.Active)

	require.NoError(t, svc.LeaveRoom(ctx, room.Code, "p1"))
	p, err = svc.Player(ctx, room.Code, "p1")
	require.NoError(t, err)
	assert.False(t, p.Active)

	_, err = svc.Player(ctx, room.Code, "stranger")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Player(ctx, "NOPE42", "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

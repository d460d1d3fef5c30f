package domain

import (
	"testing"
	"time"
)

func TestComputeDeltas(t *testing.T) {
	t.Parallel()

	answers := []*Answer{
		{ID: "a1", AuthorID: "alice"},
		{ID: "a2", AuthorID: "bob"},
		{ID: "a3", AuthorID: "carol"},
	}
	guesses := []*Guess{
		{AnswerID: "a1", GuesserID: "bob", GuessedPlayerID: "alice"},
		{AnswerID: "a2", GuesserID: "carol", GuessedPlayerID: "alice"},
		{AnswerID: "a3", GuesserID: "alice", GuessedPlayerID: "carol"},
		{AnswerID: "missing", GuesserID: "alice", GuessedPlayerID: "bob"},
	}

	got := ComputeDeltas(answers, guesses)
	want := ScoreDelta{"bob": 1, "alice": 1}
	if len(got) != len(want) {
		t.Fatalf("deltas = %v, want %v", got, want)
	}
	for id, d := range want {
		if got[id] != d {
			t.Fatalf("delta[%s] = %d, want %d", id, got[id], d)
		}
	}
	if _, ok := got["carol"]; ok {
		t.Fatal("zero deltas must be omitted")
	}
}

func TestStandingsOrder(t *testing.T) {
	t.Parallel()

	base := time.Now()
	players := []*Player{
		{UserID: "a", Score: 1, JoinedAt: base},
		{UserID: "b", Score: 3, JoinedAt: base.Add(time.Second)},
		{UserID: "c", Score: 1, JoinedAt: base.Add(-time.Second), Active: true},
	}
	got := Standings(players)
	order := []string{"b", "c", "a"}
	for i, id := range order {
		if got[i].UserID != id {
			t.Fatalf("standings[%d] = %s, want %s", i, got[i].UserID, id)
		}
	}
}

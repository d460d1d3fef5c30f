package docstore

import "testing"

func TestMatches(t *testing.T) {
	t.Parallel()

	doc := []byte(`{"roundIndex":2,"authorId":"u1","released":true}`)
	tests := []struct {
		name    string
		filters []Filter
		want    bool
	}{
		{name: "no filters", want: true},
		{name: "int matches number", filters: []Filter{Eq("roundIndex", 2)}, want: true},
		{name: "string", filters: []Filter{Eq("authorId", "u1")}, want: true},
		{name: "bool", filters: []Filter{Eq("released", true)}, want: true},
		{name: "all must hold", filters: []Filter{Eq("roundIndex", 2), Eq("authorId", "u2")}, want: false},
		{name: "missing field", filters: []Filter{Eq("guesserId", "u1")}, want: false},
		{name: "type mismatch", filters: []Filter{Eq("roundIndex", "2")}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Matches(doc, tt.filters)
			if err != nil {
				t.Fatalf("Matches: %v", err)
			}
			if got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesRejectsCompositeValues(t *testing.T) {
	t.Parallel()

	if _, err := Matches([]byte(`{"a":1}`), []Filter{Eq("a", []int{1})}); err == nil {
		t.Fatal("expected error for slice filter value")
	}
}

func TestRefPaths(t *testing.T) {
	t.Parallel()

	ref := Doc(Collection("rooms", "ABC123", "players"), "u1")
	if got, want := ref.Path(), "rooms/ABC123/players/u1"; got != want {
		t.Fatalf("Path = %q, want %q", got, want)
	}
	if !ref.Valid() {
		t.Fatal("expected valid ref")
	}
	if (Ref{Collection: "rooms"}).Valid() {
		t.Fatal("empty id must be invalid")
	}
}

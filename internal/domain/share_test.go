package domain

import (
	"errors"
	"testing"
)

func TestShareLinkRoundTrip(t *testing.T) {
	t.Parallel()

	link := ShareLink{Code: "K7P2QX", Passcode: "a b&c"}
	raw, err := link.URL("https://play.example.com")
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	got, err := ParseShareLink(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	if got != link {
		t.Fatalf("round trip = %+v, want %+v", got, link)
	}
}

func TestParseShareLinkMissingParams(t *testing.T) {
	t.Parallel()

	_, err := ParseShareLink("https://play.example.com/?room=ABC")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
}

package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("join: %w", Errorf(ErrForbidden, "wrong passcode"))
	if !errors.Is(err, ErrForbidden) {
		t.Fatal("expected Forbidden")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("did not expect NotFound")
	}
	if CodeOf(err) != CodeForbidden {
		t.Fatalf("code = %s, want %s", CodeOf(err), CodeForbidden)
	}
	if CodeOf(errors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors have no code")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk on fire")
	err := Wrap(ErrStoreUnavailable, cause)
	if !errors.Is(err, cause) || !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("err = %v, want both cause and code", err)
	}

	payload := ErrorPayloadFrom(err)
	if payload.Code != string(CodeStoreUnavailable) || payload.Message != "store unavailable" {
		t.Fatalf("payload = %+v", payload)
	}
}

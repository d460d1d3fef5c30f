package domain

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Answer is a player's anonymous submission to a round's prompt. The text
// is kept obfuscated until the answer is released; this is a cosmetic delay,
// not a security control.
type Answer struct {
	ID         string    `json:"id"`
	RoomCode   string    `json:"roomCode"`
	RoundIndex int       `json:"roundIndex"`
	AuthorID   string    `json:"authorId"`
	Payload    string    `json:"payload"`
	Released   bool      `json:"released"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Text returns the de-obfuscated answer text
func (a *Answer) Text() (string, error) {
	return Deobfuscate(a.Payload)
}

// ReadableAnswer is an answer as shown to guessers, without its author
type ReadableAnswer struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Mine bool   `json:"mine"`
}

// Obfuscate reversibly encodes answer text
func Obfuscate(text string) string {
	return base64.StdEncoding.EncodeToString([]byte(text))
}

// Deobfuscate reverses Obfuscate
func Deobfuscate(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("decode answer payload: %w", err)
	}
	return string(raw), nil
}

// NormalizeText trims s, collapses runs of whitespace and converts it to
// Unicode NFC so visually equal inputs compare equal.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// ValidateText normalizes s and checks it is non-empty and at most maxLen
// runes long.
func ValidateText(s string, maxLen int) (string, error) {
	text := NormalizeText(s)
	if text == "" {
		return "", Errorf(ErrInvalidArgument, "text cannot be empty")
	}
	if maxLen > 0 && utf8.RuneCountInString(text) > maxLen {
		return "", Errorf(ErrInvalidArgument, fmt.Sprintf("text longer than %d characters", maxLen))
	}
	return text, nil
}

// RevealedAnswers returns the answers of q's round readable by viewerID.
// Nothing is readable before q is revealed, and unreleased answers are
// never included.
func RevealedAnswers(q *Question, answers []*Answer, viewerID string) ([]ReadableAnswer, error) {
	out := make([]ReadableAnswer, 0, len(answers))
	if q == nil || !q.Reveal {
		return out, nil
	}
	for _, a := range answers {
		if a.RoundIndex != q.RoundIndex || !a.Released {
			continue
		}
		text, err := a.Text()
		if err != nil {
			return nil, err
		}
		out = append(out, ReadableAnswer{ID: a.ID, Text: text, Mine: a.AuthorID == viewerID})
	}
	return out, nil
}

// Package game implements the room coordination core: the room registry,
// the round state machine, the player roster and round scoring. Every rule
// is evaluated here before the document store is touched, and every change
// spanning more than one document runs in a single store transaction.
package game

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"whosaid/internal/docstore"
	"whosaid/internal/domain"
)

const (
	// DefaultCodeAttempts bounds room code generation on collision
	DefaultCodeAttempts = 10

	tracerName = "whosaid/internal/game"
)

// Service runs game operations against a document store
type Service struct {
	store        docstore.Store
	settings     domain.GameSettings
	prompts      []string
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	codeAttempts int
	newCode      func() (string, error)
}

// Option configures a Service
type Option func(*Service)

// WithPromptBank replaces the built-in prompt bank
func WithPromptBank(prompts []string) Option {
	return func(s *Service) {
		s.prompts = append([]string(nil), prompts...)
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithCodeGenerator overrides room code generation
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) {
		s.newCode = gen
	}
}

// NewService creates a game service
func NewService(store docstore.Store, settings domain.GameSettings, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:        store,
		settings:     settings,
		prompts:      DefaultPrompts(),
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
		now:          func() time.Time { return time.Now().UTC() },
		codeAttempts: DefaultCodeAttempts,
		newCode:      func() (string, error) { return generateCode(RoomCodeChars, DefaultRoomCodeLength) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the game settings in effect
func (s *Service) Settings() domain.GameSettings {
	return s.settings
}

func (s *Service) startSpan(ctx context.Context, name, code string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "game."+name, trace.WithAttributes(roomAttr(code)))
}

func roomAttr(code string) attribute.KeyValue {
	return attribute.String("room.code", code)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.CodeOf(err)))
	}
	span.End()
}

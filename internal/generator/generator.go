package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/askdb/askdb/internal/completion"
	"github.com/askdb/askdb/internal/observability"
)

// CandidateStatement is one model answer. Extracted is false when no SQL
// could be pulled out of RawText; that is a normal outcome, not an error.
type CandidateStatement struct {
	RawText     string    `json:"raw_text"`
	SQL         string    `json:"sql,omitempty"`
	Extracted   bool      `json:"extracted"`
	GeneratedAt time.Time `json:"generated_at"`
}

type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generate sql: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Kind() completion.Kind {
	return completion.KindOf(e.Err)
}

type Options struct {
	MaxTokens int
	Timeout   time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

type Generator struct {
	completer completion.Completer
	maxTokens int
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

func New(completer completion.Completer, opts Options) *Generator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Generator{
		completer: completer,
		maxTokens: maxTokens,
		timeout:   opts.Timeout,
		now:       now,
		logger:    observability.Discard(opts.Logger),
	}
}

func (g *Generator) Generate(ctx context.Context, req Request) (CandidateStatement, error) {
	if g.completer == nil {
		return CandidateStatement{}, &GenerationError{Err: fmt.Errorf("completion service is not configured")}
	}
	prompt := RenderPrompt(req)

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := g.completer.Complete(callCtx, completion.Request{
		Prompt:      prompt,
		Temperature: 0,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		kind := completion.KindOf(err)
		observability.IncrementGenerationError(string(kind))
		g.logger.WarnContext(ctx, "generation_failed",
			slog.String("request_id", observability.RequestIDFromContext(ctx)),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
		return CandidateStatement{}, &GenerationError{Err: err}
	}

	candidate := CandidateStatement{RawText: raw, GeneratedAt: g.now().UTC()}
	candidate.SQL, candidate.Extracted = Extract(raw)
	g.logger.DebugContext(ctx, "generation_completed",
		slog.String("request_id", observability.RequestIDFromContext(ctx)),
		slog.Bool("extracted", candidate.Extracted),
		slog.Bool("repair", req.PriorAttempt != nil),
		slog.String("duration", time.Since(start).String()),
	)
	return candidate, nil
}

package repair

import (
	"context"
	"log/slog"

	"github.com/askdb/askdb/internal/exemplar"
	"github.com/askdb/askdb/internal/generator"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/validator"
)

type State string

const (
	StateGenerating State = "GENERATING"
	StateValidating State = "VALIDATING"
	StateSucceeded  State = "SUCCEEDED"
	StateExhausted  State = "EXHAUSTED"
	StateFatal      State = "FATAL"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusExhausted Status = "exhausted"
	StatusFatal     Status = "fatal"
)

const DefaultMaxAttempts = 3

// NoSQLExtracted is the synthetic violation recorded when a response has no statement.
var NoSQLExtracted = validator.Violation{Kind: validator.KindSyntax, Detail: "no SQL extracted"}

type Attempt struct {
	Number    int                          `json:"attempt_number"`
	Candidate generator.CandidateStatement `json:"candidate"`
	Verdict   validator.Verdict            `json:"verdict"`
}

// Outcome is the terminal state of one loop run. Err is set when the
// loop ended because generation failed or the context was cancelled.
type Outcome struct {
	Status   Status
	Attempts []Attempt
	Err      error
}

// Final returns the last recorded attempt, which is the validated
// candidate on success and the best effort otherwise.
func (o Outcome) Final() (Attempt, bool) {
	if len(o.Attempts) == 0 {
		return Attempt{}, false
	}
	return o.Attempts[len(o.Attempts)-1], true
}

// SQL returns the statement cleared for execution. Only a succeeded
// outcome has one.
func (o Outcome) SQL() (string, bool) {
	if o.Status != StatusSucceeded {
		return "", false
	}
	final, ok := o.Final()
	if !ok || !final.Candidate.Extracted {
		return "", false
	}
	return final.Candidate.SQL, true
}

type Generator interface {
	Generate(ctx context.Context, req generator.Request) (generator.CandidateStatement, error)
}

type Validator interface {
	Validate(sqlText string, desc *schema.Descriptor) validator.Verdict
}

type Options struct {
	MaxAttempts int
	Logger      *slog.Logger
}

type Loop struct {
	generator   Generator
	validator   Validator
	maxAttempts int
	logger      *slog.Logger
}

func NewLoop(gen Generator, val Validator, opts Options) *Loop {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Loop{
		generator:   gen,
		validator:   val,
		maxAttempts: maxAttempts,
		logger:      observability.Discard(opts.Logger),
	}
}

func (l *Loop) MaxAttempts() int {
	return l.maxAttempts
}

type Input struct {
	Question  string
	Schema    *schema.Descriptor
	Exemplars []exemplar.Pair
}

// Run drives generate/validate rounds until a candidate validates or the
// attempt budget is spent. Exemplars stay fixed across rounds.
func (l *Loop) Run(ctx context.Context, in Input) Outcome {
	var (
		attempts  []Attempt
		prior     *generator.PriorAttempt
		candidate generator.CandidateStatement
		runErr    error
	)
	requestID := observability.RequestIDFromContext(ctx)
	number := 1
	state := StateGenerating

	reject := func(attempt Attempt) State {
		attempts = append(attempts, attempt)
		next := l.afterRejection(ctx, requestID, attempt)
		if next == StateGenerating {
			prior = &generator.PriorAttempt{SQL: attempt.Candidate.SQL, Violations: attempt.Verdict.Violations}
			if !attempt.Candidate.Extracted {
				prior.SQL = attempt.Candidate.RawText
			}
			number++
		}
		return next
	}

	for {
		switch state {
		case StateGenerating:
			if err := ctx.Err(); err != nil {
				runErr = err
				state = StateFatal
				continue
			}
			var err error
			candidate, err = l.generator.Generate(ctx, generator.Request{
				Question:     in.Question,
				Schema:       in.Schema,
				Exemplars:    in.Exemplars,
				PriorAttempt: prior,
			})
			switch {
			case err != nil:
				runErr = err
				state = StateExhausted
				if number == 1 {
					state = StateFatal
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					runErr = ctxErr
					state = StateFatal
				}
				l.logger.WarnContext(ctx, "repair_generation_failed",
					slog.String("request_id", requestID),
					slog.Int("attempt", number),
					slog.String("next_state", string(state)),
					slog.String("error", err.Error()),
				)
			case !candidate.Extracted:
				verdict := validator.NewVerdict([]validator.Violation{NoSQLExtracted})
				state = reject(Attempt{Number: number, Candidate: candidate, Verdict: verdict})
			default:
				state = StateValidating
			}

		case StateValidating:
			verdict := l.validator.Validate(candidate.SQL, in.Schema)
			if !verdict.OK {
				state = reject(Attempt{Number: number, Candidate: candidate, Verdict: verdict})
				continue
			}
			attempts = append(attempts, Attempt{Number: number, Candidate: candidate, Verdict: verdict})
			state = StateSucceeded

		case StateSucceeded:
			return l.finish(ctx, requestID, StatusSucceeded, attempts, nil)
		case StateExhausted:
			return l.finish(ctx, requestID, StatusExhausted, attempts, runErr)
		default:
			return l.finish(ctx, requestID, StatusFatal, attempts, runErr)
		}
	}
}

func (l *Loop) afterRejection(ctx context.Context, requestID string, attempt Attempt) State {
	for _, violation := range attempt.Verdict.Violations {
		observability.IncrementViolation(string(violation.Kind))
	}
	next := StateExhausted
	if attempt.Number < l.maxAttempts {
		next = StateGenerating
	}
	l.logger.InfoContext(ctx, "repair_attempt_rejected",
		slog.String("request_id", requestID),
		slog.Int("attempt", attempt.Number),
		slog.Int("violations", len(attempt.Verdict.Violations)),
		slog.String("first_violation", string(attempt.Verdict.Violations[0].Kind)),
		slog.String("next_state", string(next)),
	)
	return next
}

func (l *Loop) finish(ctx context.Context, requestID string, status Status, attempts []Attempt, err error) Outcome {
	l.logger.InfoContext(ctx, "repair_finished",
		slog.String("request_id", requestID),
		slog.String("status", string(status)),
		slog.Int("attempts", len(attempts)),
	)
	return Outcome{Status: status, Attempts: attempts, Err: err}
}

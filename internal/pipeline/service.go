package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/askdb/askdb/internal/answer"
	"github.com/askdb/askdb/internal/audit"
	"github.com/askdb/askdb/internal/clarify"
	"github.com/askdb/askdb/internal/completion"
	"github.com/askdb/askdb/internal/exemplar"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/repair"
	"github.com/askdb/askdb/internal/sandbox"
	"github.com/askdb/askdb/internal/schema"
)

const DefaultExemplarCount = 4

var ErrEmptyQuestion = errors.New("question is required")

type Catalog interface {
	Describe(ctx context.Context) (*schema.Descriptor, error)
}

type Repairer interface {
	Run(ctx context.Context, in repair.Input) repair.Outcome
}

type Executor interface {
	Execute(ctx context.Context, sqlText string, policy sandbox.Policy) sandbox.Result
}

type Composer interface {
	Compose(ctx context.Context, req answer.Request) string
}

type Clarifier interface {
	Analyze(question string) clarify.Analysis
}

type JoinAnalyzer interface {
	Analyze(question string) exemplar.JoinAnalysis
}

// Response is what answer_question hands back to callers. SQL is nil when
// no statement was ever extracted; Result is nil when nothing executed.
// Clarification is set only for ambiguous questions and Joins only when a
// join template matched.
type Response struct {
	RequestID     string                 `json:"request_id"`
	Question      string                 `json:"question"`
	SQL           *string                `json:"sql"`
	Result        *sandbox.Result        `json:"result"`
	Answer        string                 `json:"answer"`
	Attempts      []repair.Attempt       `json:"attempts"`
	Status        repair.Status          `json:"status"`
	Duration      time.Duration          `json:"duration"`
	Clarification *clarify.Analysis      `json:"clarification,omitempty"`
	Joins         *exemplar.JoinAnalysis `json:"joins,omitempty"`
}

type Service struct {
	Catalog       Catalog
	Exemplars     exemplar.Source
	ExemplarCount int
	Loop          Repairer
	Sandbox       Executor
	Policy        sandbox.Policy
	Composer      Composer
	Audit         audit.Sink
	Logger        *slog.Logger
	Clock         func() time.Time
	NewRequestID  func() string
	// Clarifier and Joins are optional analysis stages run before
	// generation.
	Clarifier Clarifier
	Joins     JoinAnalyzer

	defaults sync.Once
}

// AnswerQuestion runs one question through catalog, repair loop, sandbox
// and composer. It returns an error only when the schema catalog fails or
// ctx is cancelled; every other outcome is a Response status.
func (s *Service) AnswerQuestion(ctx context.Context, question string) (Response, error) {
	s.defaults.Do(s.ensureDefaults)
	start := s.Clock()

	requestID := observability.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = s.NewRequestID()
		ctx = observability.ContextWithRequestID(ctx, requestID)
	}
	ctx, span := observability.StartSpan(ctx, "pipeline.answer_question", attribute.String("request_id", requestID))

	resp := Response{RequestID: requestID, Question: question, Attempts: []repair.Attempt{}}
	if strings.TrimSpace(question) == "" {
		resp.Status = repair.StatusFatal
		resp.Answer = s.Composer.Compose(ctx, answer.Request{Question: question, Status: repair.StatusFatal, Err: ErrEmptyQuestion})
		s.finish(ctx, start, &resp, nil)
		observability.EndSpan(span, nil)
		return resp, nil
	}

	desc, err := s.describe(ctx)
	if err != nil {
		observability.EndSpan(span, err)
		s.logger().ErrorContext(ctx, "pipeline_catalog_failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		return Response{}, err
	}

	prompt := s.clarify(ctx, question, &resp)
	s.analyzeJoins(ctx, prompt, &resp)
	exemplars := s.selectExemplars(ctx, prompt)

	loopCtx, loopSpan := observability.StartSpan(ctx, "pipeline.repair_loop")
	outcome := s.Loop.Run(loopCtx, repair.Input{Question: prompt, Schema: desc, Exemplars: exemplars})
	loopSpan.SetAttributes(
		attribute.String("status", string(outcome.Status)),
		attribute.Int("attempts", len(outcome.Attempts)),
	)
	observability.EndSpan(loopSpan, outcome.Err)

	if err := ctx.Err(); err != nil {
		observability.EndSpan(span, err)
		return Response{}, fmt.Errorf("answer question: %w", err)
	}

	resp.Status = outcome.Status
	resp.Attempts = append(resp.Attempts, outcome.Attempts...)
	if final, ok := outcome.Final(); ok && final.Candidate.Extracted {
		shown := final.Candidate.SQL
		resp.SQL = &shown
	}

	if sqlText, ok := outcome.SQL(); ok {
		execCtx, execSpan := observability.StartSpan(ctx, "pipeline.sandbox")
		result := s.Sandbox.Execute(execCtx, sqlText, s.Policy)
		if result.Error != nil {
			execSpan.SetAttributes(attribute.String("error_kind", string(result.Error.Kind)))
		}
		observability.EndSpan(execSpan, nil)
		if err := ctx.Err(); err != nil {
			observability.EndSpan(span, err)
			return Response{}, fmt.Errorf("answer question: %w", err)
		}
		resp.Result = &result
	}

	composeCtx, composeSpan := observability.StartSpan(ctx, "pipeline.compose")
	resp.Answer = s.Composer.Compose(composeCtx, answer.Request{
		Question: question,
		SQL:      derefSQL(resp.SQL),
		Status:   outcome.Status,
		Attempts: outcome.Attempts,
		Result:   resp.Result,
		Err:      outcome.Err,
	})
	observability.EndSpan(composeSpan, nil)

	if resp.Result != nil && !resp.Result.OK {
		resp.Status = repair.StatusFatal
	}

	s.finish(ctx, start, &resp, outcome.Err)
	observability.EndSpan(span, nil)
	return resp, nil
}

// ensureDefaults runs once per Service; requests only read the fields.
func (s *Service) ensureDefaults() {
	if s.Clock == nil {
		s.Clock = time.Now
	}
	if s.NewRequestID == nil {
		s.NewRequestID = uuid.NewString
	}
	if s.ExemplarCount <= 0 {
		s.ExemplarCount = DefaultExemplarCount
	}
	if s.Exemplars == nil {
		s.Exemplars = exemplar.Default()
	}
	if s.Composer == nil {
		s.Composer = answer.New(nil, answer.Options{Logger: s.Logger})
	}
	if s.Audit == nil {
		s.Audit = audit.NopSink{}
	}
	if s.Policy.MaxRows <= 0 {
		s.Policy = sandbox.DefaultPolicy()
	}
}

func (s *Service) logger() *slog.Logger {
	return observability.Discard(s.Logger)
}

func (s *Service) describe(ctx context.Context) (*schema.Descriptor, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.describe_schema")
	desc, err := s.Catalog.Describe(ctx)
	observability.EndSpan(span, err)
	if err != nil {
		var catalogErr *schema.CatalogError
		if !errors.As(err, &catalogErr) {
			err = &schema.CatalogError{Op: "describe", Err: err}
		}
		return nil, err
	}
	return desc, nil
}

// clarify scores the question and returns the text generation should
// use. Ambiguous questions are annotated on resp but never stopped.
func (s *Service) clarify(ctx context.Context, question string, resp *Response) string {
	if s.Clarifier == nil {
		return question
	}
	analysis := s.Clarifier.Analyze(question)
	if !analysis.Ambiguous {
		return question
	}
	resp.Clarification = &analysis
	for _, kind := range analysis.Kinds {
		observability.IncrementClarification(string(kind))
	}
	prompt := analysis.Question(question)
	s.logger().InfoContext(ctx, "pipeline_question_ambiguous",
		slog.String("request_id", resp.RequestID),
		slog.Float64("score", analysis.Score),
		slog.Bool("needs_clarification", analysis.NeedsClarification),
		slog.Bool("normalized", prompt != question),
	)
	return prompt
}

func (s *Service) analyzeJoins(ctx context.Context, question string, resp *Response) {
	if s.Joins == nil {
		return
	}
	analysis := s.Joins.Analyze(question)
	best, ok := analysis.Best()
	if !ok {
		return
	}
	resp.Joins = &analysis
	observability.IncrementJoinTemplateMatch(best.ID, string(analysis.Complexity))
	s.logger().DebugContext(ctx, "pipeline_join_template_matched",
		slog.String("request_id", resp.RequestID),
		slog.String("template", best.ID),
		slog.String("complexity", string(analysis.Complexity)),
		slog.String("join_type", string(analysis.JoinType)),
	)
}

// selectExemplars picks the few-shot pairs once per request. A failing
// source degrades to the built-in pairs.
func (s *Service) selectExemplars(ctx context.Context, question string) []exemplar.Pair {
	pairs, err := s.Exemplars.Select(ctx, question, s.ExemplarCount)
	if err == nil {
		return pairs
	}
	s.logger().WarnContext(ctx, "pipeline_exemplars_failed",
		slog.String("request_id", observability.RequestIDFromContext(ctx)),
		slog.String("error", err.Error()),
	)
	pairs, err = exemplar.Default().Select(ctx, question, s.ExemplarCount)
	if err != nil {
		return nil
	}
	return pairs
}

func (s *Service) finish(ctx context.Context, start time.Time, resp *Response, loopErr error) {
	resp.Duration = s.Clock().Sub(start)
	observability.ObserveQuestion(string(resp.Status), len(resp.Attempts), resp.Duration)

	record := audit.Record{
		RequestID: resp.RequestID,
		Question:  resp.Question,
		SQL:       derefSQL(resp.SQL),
		Status:    resp.Status,
		Attempts:  resp.Attempts,
		Answer:    resp.Answer,
		Duration:  resp.Duration,
		CreatedAt: start,
	}
	if loopErr != nil {
		record.ErrorKind = string(completion.KindOf(loopErr))
		record.ErrorMessage = loopErr.Error()
	}
	if resp.Result != nil {
		record.Executed = true
		record.RowCount = resp.Result.RowCount
		record.Truncated = resp.Result.Truncated
		if resp.Result.Error != nil {
			record.ErrorKind = string(resp.Result.Error.Kind)
			record.ErrorMessage = resp.Result.Error.Message
		}
	}
	if err := s.Audit.Write(ctx, record); err != nil {
		s.logger().WarnContext(ctx, "pipeline_audit_failed",
			slog.String("request_id", resp.RequestID),
			slog.String("error", err.Error()),
		)
	}

	attrs := []any{
		slog.String("request_id", resp.RequestID),
		slog.String("status", string(resp.Status)),
		slog.Int("attempts", len(resp.Attempts)),
		slog.Duration("duration", resp.Duration),
	}
	if resp.Result != nil {
		attrs = append(attrs, slog.Int("row_count", resp.Result.RowCount), slog.Bool("truncated", resp.Result.Truncated))
	}
	s.logger().InfoContext(ctx, "answer_composed", attrs...)
}

func derefSQL(sqlText *string) string {
	if sqlText == nil {
		return ""
	}
	return *sqlText
}

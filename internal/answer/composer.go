package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/completion"
	"github.com/askdb/askdb/internal/generator"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/repair"
	"github.com/askdb/askdb/internal/sandbox"
)

const DefaultPreviewRows = 5

// Request is everything the composer may draw on. Result is nil when
// no statement reached the sandbox.
type Request struct {
	Question string
	SQL      string
	Status   repair.Status
	Attempts []repair.Attempt
	Result   *sandbox.Result
	Err      error
}

type Options struct {
	PreviewRows int
	MaxTokens   int
	Timeout     time.Duration
	Logger      *slog.Logger
}

type Composer struct {
	completer   completion.Completer
	previewRows int
	maxTokens   int
	timeout     time.Duration
	logger      *slog.Logger
}

// New builds a composer. A nil completer yields deterministic summaries only.
func New(completer completion.Completer, opts Options) *Composer {
	previewRows := opts.PreviewRows
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &Composer{
		completer:   completer,
		previewRows: previewRows,
		maxTokens:   maxTokens,
		timeout:     opts.Timeout,
		logger:      observability.Discard(opts.Logger),
	}
}

// Compose always returns a non-empty answer. Only a successful execution
// with rows is sent to the completion service; every failure is
// explained from the typed result data.
func (c *Composer) Compose(ctx context.Context, req Request) string {
	switch req.Status {
	case repair.StatusFatal:
		return explainFatal(req.Err)
	case repair.StatusExhausted:
		return explainExhausted(req.Attempts)
	}

	if req.Result == nil {
		return "The query was not executed, so there is no result to report."
	}
	result := *req.Result
	if !result.OK {
		return explainSandboxFailure(result.Error)
	}
	if result.RowCount == 0 {
		return "The query ran successfully but returned no rows, so nothing in the database matches the question."
	}

	summary := c.fallback(result)
	if c.completer == nil {
		return summary
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	text, err := c.completer.Complete(callCtx, completion.Request{
		Prompt:      c.prompt(req.Question, req.SQL, result),
		Temperature: 0,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "answer_completion_failed",
			slog.String("request_id", observability.RequestIDFromContext(ctx)),
			slog.String("kind", string(completion.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return summary
	}
	if text = strings.TrimSpace(text); text == "" {
		return summary
	}
	return text
}

func (c *Composer) prompt(question, sqlText string, result sandbox.Result) string {
	var b strings.Builder
	b.WriteString("You answer questions about a database using the query result below.\n")
	b.WriteString("Answer in one or two sentences using only the data shown. Do not invent values.\n\n")
	b.WriteString("### Question\n")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\n### SQL\n```sql\n")
	b.WriteString(sqlText)
	b.WriteString("\n```\n\n### Result\n")
	fmt.Fprintf(&b, "Rows returned: %d", result.RowCount)
	if result.Truncated {
		b.WriteString(" (capped; more rows matched)")
	}
	b.WriteString("\nColumns: ")
	b.WriteString(strings.Join(result.Columns, ", "))
	fmt.Fprintf(&b, "\nFirst %d row(s):\n", min(c.previewRows, result.RowCount))
	b.WriteString(Preview(result, c.previewRows))
	return b.String()
}

func (c *Composer) fallback(result sandbox.Result) string {
	if result.RowCount == 1 && len(result.Columns) == 1 {
		column := result.Columns[0]
		return fmt.Sprintf("The answer is %s (%s).", formatValue(result.Rows[0][column]), column)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "The query returned %d row(s)", result.RowCount)
	if result.Truncated {
		b.WriteString(", capped at the row limit; more rows matched")
	}
	b.WriteString(".\n\n")
	b.WriteString(Preview(result, c.previewRows))
	return b.String()
}

func explainFatal(err error) string {
	var genErr *generator.GenerationError
	switch {
	case err == nil:
		return "I could not produce a SQL query for this question."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled before a SQL query could be produced."
	case errors.As(err, &genErr):
		switch genErr.Kind() {
		case completion.KindTimeout:
			return "I could not produce a SQL query because the language model did not respond in time. Please try again."
		case completion.KindQuota:
			return "I could not produce a SQL query because the language model quota or rate limit was exceeded. Please try again later."
		case completion.KindNetwork:
			return "I could not produce a SQL query because the language model service could not be reached. Please try again later."
		default:
			return fmt.Sprintf("I could not produce a SQL query because the language model service failed: %v", genErr.Err)
		}
	default:
		return fmt.Sprintf("I could not produce a SQL query for this question: %v", err)
	}
}

func explainExhausted(attempts []repair.Attempt) string {
	if len(attempts) == 0 {
		return "I could not produce a valid SQL query for this question."
	}
	last := attempts[len(attempts)-1]
	var b strings.Builder
	fmt.Fprintf(&b, "I could not produce a valid SQL query after %d attempt(s), so nothing was run against the database.", len(attempts))
	if len(last.Verdict.Violations) > 0 {
		b.WriteString(" The last attempt had these problems:")
		for _, violation := range last.Verdict.Violations {
			fmt.Fprintf(&b, "\n- %s: %s", violation.Kind, violation.Detail)
		}
	}
	return b.String()
}

func explainSandboxFailure(err *sandbox.Error) string {
	if err == nil {
		return "The query could not be executed."
	}
	switch err.Kind {
	case sandbox.KindPolicyViolation:
		return fmt.Sprintf("The generated query was rejected by the execution policy and was not run: %s.", err.Message)
	case sandbox.KindTimeout:
		return fmt.Sprintf("The query was cancelled because it ran too long (%s). Try a narrower question.", err.Message)
	default:
		return fmt.Sprintf("The database reported an error while running the query: %s", err.Message)
	}
}

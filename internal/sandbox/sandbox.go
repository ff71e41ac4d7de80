package sandbox

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/dbconn"
	"github.com/askdb/askdb/internal/observability"
)

type ErrorKind string

const (
	KindPolicyViolation ErrorKind = "policy_violation"
	KindTimeout         ErrorKind = "timeout"
	KindExecutionError  ErrorKind = "execution_error"
)

type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Result is built once per execution and never modified afterwards.
// RowCount always equals len(Rows).
type Result struct {
	OK        bool             `json:"ok"`
	Columns   []string         `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Error     *Error           `json:"error,omitempty"`
	Duration  time.Duration    `json:"duration"`
}

type Options struct {
	Dialect dbconn.Dialect
	// WrapLimit pushes the row cap into the statement as an outer LIMIT.
	// The client side cap applies either way.
	WrapLimit bool
	Logger    *slog.Logger
}

type Sandbox struct {
	db        *sql.DB
	dialect   dbconn.Dialect
	wrapLimit bool
	logger    *slog.Logger
}

func New(db *sql.DB, opts Options) *Sandbox {
	dialect := opts.Dialect
	if dialect == "" {
		dialect = dbconn.SQLite
	}
	return &Sandbox{
		db:        db,
		dialect:   dialect,
		wrapLimit: opts.WrapLimit,
		logger:    observability.Discard(opts.Logger),
	}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execute runs sqlText under policy. Failures are reported inside the
// Result; Execute never returns them as errors.
func (s *Sandbox) Execute(ctx context.Context, sqlText string, policy Policy) Result {
	start := time.Now()
	policy = policy.withDefaults()
	sqlText = stripTrailingSemicolons(sqlText)

	leading, err := policy.Check(sqlText)
	if err != nil {
		return s.finish(ctx, start, Result{Error: asError(err)})
	}
	if s.db == nil {
		return s.finish(ctx, start, Result{Error: &Error{Kind: KindExecutionError, Message: "database is not configured"}})
	}

	runCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	result, err := s.run(runCtx, sqlText, leading, policy.MaxRows)
	if err != nil {
		return s.finish(ctx, start, Result{Error: classify(ctx, runCtx, err, policy.Timeout)})
	}
	return s.finish(ctx, start, result)
}

func (s *Sandbox) run(ctx context.Context, sqlText, leading string, maxRows int) (result Result, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() {
		if ctx.Err() != nil {
			// The driver may still be unwinding the cancelled call.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}()

	var q querier = conn
	switch s.dialect {
	case dbconn.Postgres:
		tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return Result{}, fmt.Errorf("begin read-only transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		q = tx
	case dbconn.SQLite:
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return Result{}, fmt.Errorf("enable query_only: %w", err)
		}
		defer func() {
			if ctx.Err() == nil {
				_, _ = conn.ExecContext(context.Background(), "PRAGMA query_only = OFF")
			}
		}()
	}

	statement := sqlText
	if s.wrapLimit && (leading == "SELECT" || leading == "WITH") {
		statement = fmt.Sprintf("SELECT * FROM (%s) AS sandbox_q LIMIT %d", sqlText, maxRows+1)
	}

	rows, err := q.QueryContext(ctx, statement)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}
	columns = uniqueColumns(columns)

	resultRows := make([]map[string]any, 0)
	truncated := false
	for rows.Next() {
		if len(resultRows) == maxRows {
			truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, rowMap(columns, values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	return Result{
		OK:        true,
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
	}, nil
}

func (s *Sandbox) finish(ctx context.Context, start time.Time, result Result) Result {
	result.Duration = time.Since(start)
	if result.Columns == nil {
		result.Columns = []string{}
	}
	if result.Rows == nil {
		result.Rows = []map[string]any{}
	}
	outcome := "ok"
	if result.Error != nil {
		outcome = string(result.Error.Kind)
	}
	observability.ObserveSandbox(outcome, result.Truncated, result.Duration)
	attrs := []any{
		slog.String("request_id", observability.RequestIDFromContext(ctx)),
		slog.String("outcome", outcome),
		slog.Int("row_count", result.RowCount),
		slog.Bool("truncated", result.Truncated),
		slog.String("duration", result.Duration.String()),
	}
	if result.Error != nil {
		s.logger.WarnContext(ctx, "sandbox_rejected", append(attrs, slog.String("error", result.Error.Message))...)
		return result
	}
	s.logger.InfoContext(ctx, "sandbox_executed", attrs...)
	return result
}

func classify(parent, runCtx context.Context, err error, timeout time.Duration) *Error {
	if parent.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("query exceeded the %s time limit", timeout)}
	}
	if parent.Err() != nil {
		return &Error{Kind: KindExecutionError, Message: fmt.Sprintf("query cancelled: %v", parent.Err())}
	}
	return &Error{Kind: KindExecutionError, Message: err.Error()}
}

func asError(err error) *Error {
	var sandboxErr *Error
	if errors.As(err, &sandboxErr) {
		return sandboxErr
	}
	return &Error{Kind: KindExecutionError, Message: err.Error()}
}

func rowMap(columns []string, values []any) map[string]any {
	row := make(map[string]any, len(columns))
	for i, column := range columns {
		switch typed := values[i].(type) {
		case []byte:
			row[column] = string(typed)
		default:
			row[column] = typed
		}
	}
	return row
}

// uniqueColumns keeps the first use of a label and suffixes later ones
// with _2, _3 and so on, skipping labels the query already returns.
func uniqueColumns(columns []string) []string {
	taken := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		taken[column] = struct{}{}
	}
	out := make([]string, len(columns))
	used := make(map[string]struct{}, len(columns))
	for i, column := range columns {
		label := column
		if _, dup := used[label]; dup {
			for n := 2; ; n++ {
				label = fmt.Sprintf("%s_%d", column, n)
				_, inQuery := taken[label]
				_, inUse := used[label]
				if !inQuery && !inUse {
					break
				}
			}
		}
		used[label] = struct{}{}
		out[i] = label
	}
	return out
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}

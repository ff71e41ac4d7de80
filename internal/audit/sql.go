package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/askdb/askdb/internal/dbconn"
	"github.com/askdb/askdb/internal/migrations"
	"github.com/askdb/askdb/internal/observability"
)

// SQLSink writes one query_history row per record plus one query_attempt
// row per repair attempt, in a single transaction.
type SQLSink struct {
	db      *sql.DB
	dialect dbconn.Dialect
	owned   bool
}

func NewSQLSink(db *sql.DB, dialect dbconn.Dialect) (*SQLSink, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if dialect != dbconn.Postgres && dialect != dbconn.SQLite {
		return nil, fmt.Errorf("audit history does not support %s", dialect)
	}
	return &SQLSink{db: db, dialect: dialect}, nil
}

// OpenSQLSink opens the history database and brings its schema up to date.
func OpenSQLSink(ctx context.Context, cfg dbconn.Config) (*SQLSink, error) {
	db, err := dbconn.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	sink, err := NewSQLSink(db, cfg.Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := migrations.NewRunner(cfg.Dialect).Up(ctx, db, 0); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	sink.owned = true
	return sink, nil
}

func (s *SQLSink) Write(ctx context.Context, record Record) error {
	err := s.write(ctx, record)
	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.IncrementAuditRecord("sql", result)
	return err
}

func (s *SQLSink) write(ctx context.Context, record Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	historySQL := `INSERT INTO query_history (request_id, question, sql_text, status, attempt_count, executed, row_count, truncated, error_kind, error_message, answer, duration_ms, created_at) VALUES (` + s.placeholders(13) + `)`
	if _, err := tx.ExecContext(ctx, historySQL,
		record.RequestID,
		record.Question,
		nullString(record.SQL),
		string(record.Status),
		len(record.Attempts),
		record.Executed,
		record.RowCount,
		record.Truncated,
		nullString(record.ErrorKind),
		nullString(record.ErrorMessage),
		record.Answer,
		record.Duration.Milliseconds(),
		record.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("insert query history: %w", err)
	}

	attemptSQL := `INSERT INTO query_attempt (request_id, attempt_number, raw_text, sql_text, valid, violations_json, generated_at) VALUES (` + s.placeholders(7) + `)`
	for _, attempt := range record.Attempts {
		violations, err := json.Marshal(attempt.Verdict.Violations)
		if err != nil {
			return fmt.Errorf("marshal violations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, attemptSQL,
			record.RequestID,
			attempt.Number,
			attempt.Candidate.RawText,
			nullString(attempt.Candidate.SQL),
			attempt.Verdict.OK,
			string(violations),
			attempt.Candidate.GeneratedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert query attempt %d: %w", attempt.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit tx: %w", err)
	}
	return nil
}

func (s *SQLSink) Close(context.Context) error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *SQLSink) placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = s.dialect.Placeholder(i + 1)
	}
	return strings.Join(marks, ", ")
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

// Package audit keeps a history of answered questions. Sinks are best
// effort: the pipeline logs their errors and never fails a request on them.
package audit

import (
	"context"
	"time"

	"github.com/askdb/askdb/internal/repair"
)

type Record struct {
	RequestID    string           `json:"request_id"`
	Question     string           `json:"question"`
	SQL          string           `json:"sql,omitempty"`
	Status       repair.Status    `json:"status"`
	Attempts     []repair.Attempt `json:"attempts"`
	Executed     bool             `json:"executed"`
	RowCount     int              `json:"row_count"`
	Truncated    bool             `json:"truncated"`
	ErrorKind    string           `json:"error_kind,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Answer       string           `json:"answer"`
	Duration     time.Duration    `json:"duration"`
	CreatedAt    time.Time        `json:"created_at"`
}

type Sink interface {
	Write(ctx context.Context, record Record) error
	Close(ctx context.Context) error
}

type NopSink struct{}

func (NopSink) Write(context.Context, Record) error { return nil }

func (NopSink) Close(context.Context) error { return nil }

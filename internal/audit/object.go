package audit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/storage"
)

const DefaultBatchSize = 100

type ObjectSinkOptions struct {
	Service   string
	BatchSize int
	Now       func() time.Time
	Logger    *slog.Logger
}

// ObjectSink buffers records and archives them as parquet batches. A
// failed upload keeps the batch buffered for the next flush.
type ObjectSink struct {
	store     storage.ObjectWriter
	service   string
	batchSize int
	now       func() time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	pending  []parquetRecord
	sequence int
}

func NewObjectSink(store storage.ObjectWriter, opts ObjectSinkOptions) (*ObjectSink, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if opts.Service == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ObjectSink{
		store:     store,
		service:   opts.Service,
		batchSize: opts.BatchSize,
		now:       opts.Now,
		logger:    observability.Discard(opts.Logger),
	}, nil
}

func (s *ObjectSink) Write(ctx context.Context, record Record) error {
	row, err := toParquetRecord(record)
	if err != nil {
		observability.IncrementAuditRecord("objectstore", "error")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, row)
	observability.IncrementAuditRecord("objectstore", "buffered")
	if len(s.pending) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

func (s *ObjectSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *ObjectSink) Close(ctx context.Context) error {
	return s.Flush(ctx)
}

func (s *ObjectSink) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	data, err := encodeParquet(s.pending)
	if err != nil {
		return err
	}
	key, err := storage.BuildAuditBatchPath(s.service, s.now(), s.sequence)
	if err != nil {
		return fmt.Errorf("build audit batch path: %w", err)
	}
	info, err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: ParquetContentType})
	if err != nil {
		return fmt.Errorf("upload audit batch %s: %w", key, err)
	}

	s.logger.InfoContext(ctx, "audit_batch_flushed",
		slog.String("key", info.Key),
		slog.Int("records", len(s.pending)),
		slog.Int64("bytes", info.Size),
	)
	s.pending = nil
	s.sequence++
	return nil
}

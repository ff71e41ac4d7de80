package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/storage"
)

// Archive reads back the parquet batches an ObjectSink uploaded.
type Archive struct {
	store   storage.ObjectReader
	service string
}

func NewArchive(store storage.ObjectReader, service string) (*Archive, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	if service == "" {
		return nil, errors.New("service name is required")
	}
	return &Archive{store: store, service: service}, nil
}

// Batches lists the batches flushed on the UTC day of day, oldest first.
func (a *Archive) Batches(ctx context.Context, day time.Time) ([]storage.ObjectInfo, error) {
	prefix, err := storage.AuditPrefix(a.service, day)
	if err != nil {
		return nil, err
	}
	objects, err := a.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list audit batches: %w", err)
	}
	batches := objects[:0]
	for _, object := range objects {
		if strings.HasSuffix(object.Key, ".parquet") {
			batches = append(batches, object)
		}
	}
	return batches, nil
}

// ReadBatch decodes one batch. A missing key wraps storage.ErrObjectNotFound.
func (a *Archive) ReadBatch(ctx context.Context, key string) ([]Record, error) {
	body, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read audit batch %s: %w", key, err)
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read audit batch %s: %w", key, err)
	}
	rows, err := decodeParquet(data)
	if err != nil {
		return nil, fmt.Errorf("decode audit batch %s: %w", key, err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record, err := fromParquetRecord(row)
		if err != nil {
			return nil, fmt.Errorf("decode audit batch %s: %w", key, err)
		}
		records = append(records, record)
	}
	return records, nil
}

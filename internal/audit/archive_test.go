package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/askdb/askdb/internal/storage"
)

func TestArchiveReadsBackFlushedBatches(t *testing.T) {
	store := newFakeObjectStore()
	now := time.Date(2026, time.February, 19, 9, 45, 0, 0, time.UTC)
	sink, err := NewObjectSink(store, ObjectSinkOptions{Service: "askdb", BatchSize: 2, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewObjectSink() error = %v", err)
	}
	ctx := context.Background()
	want := []Record{sampleRecord("req-1"), sampleRecord("req-2")}
	for _, record := range want {
		if err := sink.Write(ctx, record); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	store.objects["askdb/audit/date=2026-02-19/hour=09/_SUCCESS"] = []byte("ok")
	store.objects["askdb/audit/date=2026-02-20/hour=00/batch-1-00000.parquet"] = []byte("later")

	archive, err := NewArchive(store, "askdb")
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}
	batches, err := archive.Batches(ctx, now.Add(-5*time.Hour))
	if err != nil {
		t.Fatalf("Batches() error = %v", err)
	}
	if len(batches) != 1 || batches[0].Key != "askdb/audit/date=2026-02-19/hour=09/batch-1771494300000-00000.parquet" {
		t.Fatalf("Batches() = %+v", batches)
	}

	got, err := archive.ReadBatch(ctx, batches[0].Key)
	if err != nil {
		t.Fatalf("ReadBatch() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ReadBatch() mismatch (-want +got):\n%s", diff)
	}
}

func TestArchiveReadBatchErrors(t *testing.T) {
	store := newFakeObjectStore()
	store.objects["askdb/audit/broken.parquet"] = []byte("not parquet")
	archive, err := NewArchive(store, "askdb")
	if err != nil {
		t.Fatalf("NewArchive() error = %v", err)
	}

	if _, err := archive.ReadBatch(context.Background(), "askdb/audit/missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("ReadBatch() error = %v, want ErrObjectNotFound", err)
	}
	if _, err := archive.ReadBatch(context.Background(), "askdb/audit/broken.parquet"); err == nil || errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("ReadBatch() error = %v, want a decode error", err)
	}
}

func TestNewArchiveValidatesInput(t *testing.T) {
	if _, err := NewArchive(nil, "askdb"); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := NewArchive(newFakeObjectStore(), ""); err == nil {
		t.Fatal("expected service error")
	}
}

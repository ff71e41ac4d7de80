package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/audit"
	"github.com/askdb/askdb/internal/repair"
	"github.com/askdb/askdb/internal/storage"
)

func TestAuditListAndShow(t *testing.T) {
	store := newMemoryStore()
	flushedAt := time.Date(2026, time.February, 19, 9, 45, 0, 0, time.UTC)
	sink, err := audit.NewObjectSink(store, audit.ObjectSinkOptions{Service: "askdb", Now: func() time.Time { return flushedAt }})
	if err != nil {
		t.Fatalf("NewObjectSink() error = %v", err)
	}
	ctx := context.Background()
	for _, id := range []string{"req-1", "req-2"} {
		record := audit.Record{
			RequestID: id,
			Question:  "How many albums are there?",
			SQL:       "SELECT COUNT(*) FROM Album",
			Status:    repair.StatusSucceeded,
			RowCount:  1,
			Duration:  250 * time.Millisecond,
			CreatedAt: flushedAt,
		}
		if err := sink.Write(ctx, record); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	key := "askdb/audit/date=2026-02-19/hour=09/batch-1771494300000-00000.parquet"

	opts, stdout, stderr := testOptions(t, "")
	opts.OpenObjectStore = store.open
	if code := Run(ctx, []string{"audit", "list", "--date", "2026-02-19"}, opts); code != ExitOK {
		t.Fatalf("Run(list) = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), key) {
		t.Fatalf("list output missing %q:\n%s", key, stdout.String())
	}

	stdout.Reset()
	if code := Run(ctx, []string{"audit", "list", "--date", "2026-02-20"}, opts); code != ExitOK {
		t.Fatalf("Run(list) = %d, stderr = %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "no audit batches") {
		t.Fatalf("stdout = %s", stdout.String())
	}

	stdout.Reset()
	if code := Run(ctx, []string{"audit", "show", key}, opts); code != ExitOK {
		t.Fatalf("Run(show) = %d, stderr = %s", code, stderr.String())
	}
	for _, want := range []string{"REQUEST ID", "req-1", "req-2", "succeeded", "250ms", "How many albums are there?"} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("show output missing %q:\n%s", want, stdout.String())
		}
	}

	stdout.Reset()
	if code := Run(ctx, []string{"audit", "show", "-o", "json", key}, opts); code != ExitOK {
		t.Fatalf("Run(show -o json) = %d, stderr = %s", code, stderr.String())
	}
	var records []struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &records); err != nil {
		t.Fatalf("json.Unmarshal() error = %v\n%s", err, stdout.String())
	}
	if len(records) != 2 || records[1].RequestID != "req-2" || records[0].CreatedAt != "2026-02-19T09:45:00Z" {
		t.Fatalf("records = %+v", records)
	}
}

func TestAuditShowMissingBatch(t *testing.T) {
	opts, _, stderr := testOptions(t, "")
	opts.OpenObjectStore = newMemoryStore().open

	if code := Run(context.Background(), []string{"audit", "show", "askdb/audit/missing.parquet"}, opts); code != ExitError {
		t.Fatalf("Run() = %d, want %d", code, ExitError)
	}
	if !strings.Contains(stderr.String(), `audit batch "askdb/audit/missing.parquet" not found`) {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestAuditUsageErrors(t *testing.T) {
	tests := [][]string{
		{"audit", "show"},
		{"audit", "list", "--date", "19/02/2026"},
		{"audit", "list", "-o", "csv"},
	}
	for _, args := range tests {
		opts, _, stderr := testOptions(t, "")
		opts.OpenObjectStore = newMemoryStore().open
		if code := Run(context.Background(), args, opts); code != ExitUsage {
			t.Fatalf("Run(%v) = %d, want %d (stderr %s)", args, code, ExitUsage, stderr.String())
		}
	}
}

func TestAuditReportsUnavailableStore(t *testing.T) {
	opts, _, stderr := testOptions(t, "")
	opts.OpenObjectStore = func(context.Context) (storage.ObjectReader, error) {
		return nil, errors.New("object store endpoint is required")
	}
	if code := Run(context.Background(), []string{"audit", "list"}, opts); code != ExitError {
		t.Fatalf("Run() = %d, want %d", code, ExitError)
	}
	if !strings.Contains(stderr.String(), "open object store: object store endpoint is required") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}}
}

func (m *memoryStore) open(context.Context) (storage.ObjectReader, error) {
	return m, nil
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var objects []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/storage"
)

func TestPutUsesPrefixAndParquetContentType(t *testing.T) {
	fake := newFakeBucket()
	store := newStore("askdb", "/history/prod/", fake)

	info, err := store.Put(context.Background(), "/askdb/audit/batch-1-00000.parquet", bytes.NewBufferString("abc"), 3, storage.PutOptions{})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := fake.objects["history/prod/askdb/audit/batch-1-00000.parquet"]; !ok {
		t.Fatalf("objects = %v", fake.keys())
	}
	if fake.contentType != parquetContentType {
		t.Fatalf("content type = %q", fake.contentType)
	}
	if info.Key != "askdb/audit/batch-1-00000.parquet" {
		t.Fatalf("info.Key = %q, want a key relative to the prefix", info.Key)
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	store := newStore("askdb", "", newFakeBucket())
	for _, key := range []string{"../secrets.txt", "a/../../b", "..", " "} {
		if _, err := store.Put(context.Background(), key, bytes.NewBufferString("x"), 1, storage.PutOptions{}); err == nil {
			t.Fatalf("Put(%q) expected key validation error", key)
		}
	}
}

func TestGetReadsBackPutObject(t *testing.T) {
	store := newStore("askdb", "history", newFakeBucket())
	ctx := context.Background()
	if _, err := store.Put(ctx, "a/b.parquet", strings.NewReader("payload"), 7, storage.PutOptions{}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	body, err := store.Get(ctx, "a/b.parquet")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = body.Close() }()
	data, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if string(data) != "payload" {
		t.Fatalf("Get() = %q", data)
	}
}

func TestGetMapsMissingObject(t *testing.T) {
	store := newStore("askdb", "", newFakeBucket())
	if _, err := store.Get(context.Background(), "missing.parquet"); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Get() error = %v, want ErrObjectNotFound", err)
	}
}

func TestListReturnsSortedRelativeKeys(t *testing.T) {
	fake := newFakeBucket()
	for _, key := range []string{
		"history/askdb/audit/date=2026-02-19/hour=10/batch-2-00001.parquet",
		"history/askdb/audit/date=2026-02-19/hour=09/batch-1-00000.parquet",
		"history/askdb/audit/date=2026-02-20/hour=00/batch-3-00002.parquet",
		"history/askdb/audit/date=2026-02-190/stray.parquet",
		"other/askdb/audit/date=2026-02-19/hour=09/batch-9-00000.parquet",
	} {
		fake.objects[key] = []byte(key)
	}
	store := newStore("askdb", "history", fake)

	objects, err := store.List(context.Background(), "askdb/audit/date=2026-02-19/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	var keys []string
	for _, object := range objects {
		keys = append(keys, object.Key)
	}
	want := []string{
		"askdb/audit/date=2026-02-19/hour=09/batch-1-00000.parquet",
		"askdb/audit/date=2026-02-19/hour=10/batch-2-00001.parquet",
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("List() keys mismatch (-want +got):\n%s", diff)
	}
	if fake.lastListPrefix != "history/askdb/audit/date=2026-02-19/" {
		t.Fatalf("list prefix = %q", fake.lastListPrefix)
	}

	all, err := store.List(context.Background(), "")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 4 || fake.lastListPrefix != "history/" {
		t.Fatalf("List(\"\") = %d objects under %q", len(all), fake.lastListPrefix)
	}
}

func TestListRejectsTraversalAndWrapsErrors(t *testing.T) {
	fake := newFakeBucket()
	store := newStore("askdb", "history", fake)
	if _, err := store.List(context.Background(), "../other/"); err == nil {
		t.Fatal("expected key validation error")
	}

	fake.listErr = errors.New("access denied")
	if _, err := store.List(context.Background(), "askdb/"); err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("List() error = %v", err)
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := newFakeBucket()
	store := newStore("askdb", "", fake)
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if fake.createdRegion != "us-east-1" {
		t.Fatalf("created region = %q", fake.createdRegion)
	}

	fake.createdRegion = ""
	fake.bucketExists = true
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if fake.createdRegion != "" {
		t.Fatal("existing bucket was created again")
	}
}

func TestNewRequiresEndpointAndBucket(t *testing.T) {
	if _, err := New(context.Background(), config.ObjectStoreConfig{Bucket: "askdb"}); err == nil {
		t.Fatal("expected endpoint error")
	}
	if _, err := New(context.Background(), config.ObjectStoreConfig{Endpoint: "localhost:9000"}); err == nil {
		t.Fatal("expected bucket error")
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
		wantErr    bool
	}{
		{raw: "https://minio.example.com", wantHost: "minio.example.com", wantSecure: true},
		{raw: "http://localhost:9000", wantHost: "localhost:9000", wantSecure: false},
		{raw: "localhost:9000", useSSL: true, wantHost: "localhost:9000", wantSecure: true},
		{raw: "ftp://minio.example.com", wantErr: true},
		{raw: "http://", wantErr: true},
	}
	for _, tt := range tests {
		host, secure, err := parseEndpoint(tt.raw, tt.useSSL)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseEndpoint(%q) error = nil", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseEndpoint(%q) error = %v", tt.raw, err)
		}
		if host != tt.wantHost || secure != tt.wantSecure {
			t.Fatalf("parseEndpoint(%q) = %q/%v", tt.raw, host, secure)
		}
	}
}

func TestKeySpace(t *testing.T) {
	tests := []struct {
		prefix   string
		key      string
		want     string
		relative string
	}{
		{prefix: "", key: "a/b", want: "a/b", relative: "a/b"},
		{prefix: "/x/y/", key: "a/./b", want: "x/y/a/b", relative: "a/b"},
		{prefix: ".", key: "/a", want: "a", relative: "a"},
	}
	for _, tt := range tests {
		keys := newKeySpace(tt.prefix)
		got, err := keys.resolve(tt.key)
		if err != nil {
			t.Fatalf("resolve(%q) error = %v", tt.key, err)
		}
		if got != tt.want {
			t.Fatalf("newKeySpace(%q).resolve(%q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
		}
		if stripped := keys.strip(got); stripped != tt.relative {
			t.Fatalf("strip(%q) = %q", got, stripped)
		}
	}
}

type fakeBucket struct {
	objects        map[string][]byte
	contentType    string
	lastListPrefix string
	listErr        error
	bucketExists   bool
	createdRegion  string
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (f *fakeBucket) keys() []string {
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	return keys
}

func (f *fakeBucket) put(_ context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	f.objects[key] = data
	f.contentType = contentType
	return storage.ObjectInfo{Key: key, Size: size, ETag: "etag-1", LastModified: time.Unix(0, 0)}, nil
}

func (f *fakeBucket) open(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBucket) list(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	f.lastListPrefix = prefix
	if f.listErr != nil {
		return nil, f.listErr
	}
	var objects []storage.ObjectInfo
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return objects, nil
}

func (f *fakeBucket) exists(context.Context) (bool, error) {
	return f.bucketExists, nil
}

func (f *fakeBucket) create(_ context.Context, region string) error {
	f.createdRegion = region
	return nil
}

package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/storage"
)

const parquetContentType = "application/vnd.apache.parquet"

// bucket is one S3 bucket. Keys passed to it are already resolved against
// the store prefix.
type bucket interface {
	put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error)
	open(ctx context.Context, key string) (io.ReadCloser, error)
	list(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	exists(ctx context.Context) (bool, error)
	create(ctx context.Context, region string) error
}

// Store keeps audit batches under an optional key prefix of one bucket.
type Store struct {
	bucket bucket
	name   string
	keys   keySpace
}

var (
	_ storage.ObjectStore = (*Store)(nil)
	_ bucket              = (*minioBucket)(nil)
)

func New(ctx context.Context, cfg config.ObjectStoreConfig) (*Store, error) {
	name := strings.TrimSpace(cfg.Bucket)
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("object store endpoint is required")
	}
	if name == "" {
		return nil, errors.New("object store bucket is required")
	}

	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	store := newStore(name, cfg.Prefix, &minioBucket{client: client, name: name})
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func newStore(name, prefix string, b bucket) *Store {
	return &Store{bucket: b, name: name, keys: newKeySpace(prefix)}
}

func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	full, err := s.keys.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = parquetContentType
	}
	info, err := s.bucket.put(ctx, full, body, size, contentType)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("put object %q: %w", full, err)
	}
	info.Key = s.keys.strip(info.Key)
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := s.keys.resolve(key)
	if err != nil {
		return nil, err
	}
	body, err := s.bucket.open(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("get object %q: %w", full, err)
	}
	return body, nil
}

// List returns the objects under prefix ordered by key. Keys are relative
// to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	full, err := s.keys.scope(prefix)
	if err != nil {
		return nil, err
	}
	objects, err := s.bucket.list(ctx, full)
	if err != nil {
		return nil, fmt.Errorf("list objects under %q: %w", full, err)
	}
	for i := range objects {
		objects[i].Key = s.keys.strip(objects[i].Key)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	ok, err := s.bucket.exists(ctx)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.name, err)
	}
	if ok {
		return nil
	}
	if err := s.bucket.create(ctx, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.name, err)
	}
	return nil
}

// keySpace is a cleaned key prefix without leading or trailing slashes.
type keySpace string

func newKeySpace(prefix string) keySpace {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if cleaned := path.Clean(prefix); cleaned != "." {
		return keySpace(cleaned)
	}
	return ""
}

func (k keySpace) resolve(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if trimmed == "" {
		return "", errors.New("object key is required")
	}
	cleaned, err := cleanRelative(trimmed)
	if err != nil {
		return "", err
	}
	return k.join(cleaned), nil
}

// scope resolves a listing prefix. An empty prefix covers the whole key
// space and a trailing slash is kept so sibling directories stay out.
func (k keySpace) scope(prefix string) (string, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(prefix, "/"))
	if trimmed == "" {
		if k == "" {
			return "", nil
		}
		return string(k) + "/", nil
	}
	cleaned, err := cleanRelative(trimmed)
	if err != nil {
		return "", err
	}
	full := k.join(cleaned)
	if strings.HasSuffix(trimmed, "/") {
		full += "/"
	}
	return full, nil
}

func (k keySpace) strip(full string) string {
	if k == "" {
		return full
	}
	return strings.TrimPrefix(full, string(k)+"/")
}

func (k keySpace) join(key string) string {
	if k == "" {
		return key
	}
	return string(k) + "/" + key
}

func cleanRelative(key string) (string, error) {
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	return cleaned, nil
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint URL: %w", err)
	}
	switch {
	case parsed.Host == "":
		return "", false, errors.New("endpoint host is required")
	case parsed.Scheme != "http" && parsed.Scheme != "https":
		return "", false, fmt.Errorf("unsupported endpoint scheme %q", parsed.Scheme)
	}
	return parsed.Host, parsed.Scheme == "https" || useSSL, nil
}

type minioBucket struct {
	client *minio.Client
	name   string
}

func (b *minioBucket) put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (storage.ObjectInfo, error) {
	upload, err := b.client.PutObject(ctx, b.name, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return storage.ObjectInfo{}, translateErr(err)
	}
	return storage.ObjectInfo{Key: upload.Key, Size: upload.Size, ETag: upload.ETag, LastModified: upload.LastModified}, nil
}

// open stats the object first because GetObject is lazy and would only
// report a missing key on the first read.
func (b *minioBucket) open(ctx context.Context, key string) (io.ReadCloser, error) {
	object, err := b.client.GetObject(ctx, b.name, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateErr(err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, translateErr(err)
	}
	return object, nil
}

func (b *minioBucket) list(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var objects []storage.ObjectInfo
	for object := range b.client.ListObjects(ctx, b.name, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, translateErr(object.Err)
		}
		objects = append(objects, storage.ObjectInfo{
			Key:          object.Key,
			Size:         object.Size,
			ETag:         object.ETag,
			LastModified: object.LastModified,
		})
	}
	return objects, nil
}

func (b *minioBucket) exists(ctx context.Context) (bool, error) {
	ok, err := b.client.BucketExists(ctx, b.name)
	return ok, translateErr(err)
}

func (b *minioBucket) create(ctx context.Context, region string) error {
	return translateErr(b.client.MakeBucket(ctx, b.name, minio.MakeBucketOptions{Region: region}))
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return fmt.Errorf("%w: %v", storage.ErrObjectNotFound, err)
	}
	return err
}

package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/hupe1980/slicemap/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	_ blobstore.Store = (*Store)(nil)
	_ objectAPI       = clientAPI{}
)

// objectAPI is the subset of the MinIO client used by Store.
type objectAPI interface {
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetRange(ctx context.Context, bucket, key string, start, end int64) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

type clientAPI struct {
	*minio.Client
}

func (c clientAPI) GetRange(ctx context.Context, bucket, key string, start, end int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(start, end); err != nil {
		return nil, err
	}
	return c.GetObject(ctx, bucket, key, opts)
}

// Options configures a Store created with New.
type Options struct {
	AccessKey string
	SecretKey string
	Secure    bool
	Region    string
	Prefix    string
}

// Option configures a Store.
type Option func(*Options)

// WithCredentials sets static access credentials.
func WithCredentials(accessKey, secretKey string) Option {
	return func(o *Options) {
		o.AccessKey = accessKey
		o.SecretKey = secretKey
	}
}

// WithSecure enables HTTPS.
func WithSecure(secure bool) Option {
	return func(o *Options) { o.Secure = secure }
}

// WithRegion sets the bucket region, skipping region discovery.
func WithRegion(region string) Option {
	return func(o *Options) { o.Region = region }
}

// WithPrefix sets the key prefix prepended to all blob names.
func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

// Store implements blobstore.Store for MinIO and S3-compatible storage.
type Store struct {
	api    objectAPI
	bucket string
	prefix string
}

// New connects to endpoint and returns a Store on bucket.
func New(endpoint, bucket string, optFns ...Option) (*Store, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: create client: %w", err)
	}
	return NewStore(client, bucket, opts.Prefix), nil
}

// NewStore creates a MinIO blob store on an existing client.
// rootPrefix is prepended to all keys (e.g. "repos/").
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		api:    clientAPI{client},
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

// Open opens an existing blob for reading.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)

	info, err := s.api.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, name)
		}
		return nil, err
	}

	return &minioBlob{
		api:    s.api,
		bucket: s.bucket,
		key:    key,
		size:   info.Size,
	}, nil
}

// Put writes a blob atomically.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.api.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		SendContentMd5: true,
	})
	return err
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.api.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns all blob names with the given prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(fullPrefix, "/") {
		fullPrefix += "/"
	}
	root := strings.TrimSuffix(s.prefix, "/")

	var names []string
	for obj := range s.api.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    fullPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, root)
		name = strings.TrimPrefix(name, "/")
		if name != "" {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// minioBlob implements blobstore.Blob for MinIO.
type minioBlob struct {
	api    objectAPI
	bucket string
	key    string
	size   int64
}

func (b *minioBlob) Size() int64 { return b.size }

func (b *minioBlob) Close() error { return nil }

func (b *minioBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, blobstore.ErrOutOfRange
	}
	if off >= b.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	end := off + int64(len(p)) - 1
	if end >= b.size {
		end = b.size - 1
	}

	obj, err := b.api.GetRange(ctx, b.bucket, b.key, off, end)
	if err != nil {
		return 0, err
	}
	defer func() { _ = obj.Close() }()

	want := end - off + 1
	n, err := io.ReadFull(obj, p[:want])
	if err != nil {
		return n, err
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

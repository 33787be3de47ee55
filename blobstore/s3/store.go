package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/hupe1980/slicemap/blobstore"
)

// Client is the subset of the S3 API used by Store.
type Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var (
	_ blobstore.Store            = (*Store)(nil)
	_ blobstore.ConditionalStore = (*Store)(nil)
	_ manager.UploadAPIClient    = (Client)(nil)
)

// Options configures a Store created with New.
type Options struct {
	Prefix string
	Region string
	Upload UploadConfig
}

// Option configures a Store.
type Option func(*Options)

// WithPrefix sets the key prefix prepended to all blob names.
func WithPrefix(prefix string) Option {
	return func(o *Options) { o.Prefix = prefix }
}

// WithRegion overrides the region from the default AWS configuration.
func WithRegion(region string) Option {
	return func(o *Options) { o.Region = region }
}

// WithUploadConfig sets the upload configuration.
func WithUploadConfig(cfg UploadConfig) Option {
	return func(o *Options) { o.Upload = cfg }
}

// Store implements blobstore.Store for S3.
type Store struct {
	client   Client
	bucket   string
	prefix   string
	cfg      UploadConfig
	uploader *manager.Uploader
}

// New creates a Store using the default AWS credential chain.
func New(ctx context.Context, bucket string, optFns ...Option) (*Store, error) {
	opts := Options{Upload: DefaultUploadConfig()}
	for _, fn := range optFns {
		fn(&opts)
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	s := NewStore(s3.NewFromConfig(cfg), bucket, opts.Prefix)
	s.setUploadConfig(opts.Upload)
	return s, nil
}

// NewStore creates a Store on an existing client.
// rootPrefix is prepended to all keys (e.g. "slicemap/").
func NewStore(client Client, bucket, rootPrefix string) *Store {
	s := &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
	s.setUploadConfig(DefaultUploadConfig())
	return s
}

func (s *Store) setUploadConfig(cfg UploadConfig) {
	if cfg.PartSize < manager.MinUploadPartSize {
		cfg.PartSize = manager.MinUploadPartSize
	}
	s.cfg = cfg
	s.uploader = newUploader(s.client, cfg)
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Open opens a blob for reading.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blobstore.ErrNotFound, name)
		}
		return nil, err
	}

	return &s3Blob{
		client: s.client,
		bucket: s.bucket,
		key:    key,
		size:   aws.ToInt64(head.ContentLength),
	}, nil
}

// Put writes a blob. S3 puts are atomic: readers see the old or the new
// object, never a partial one.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	return s.upload(ctx, s.key(name), data)
}

// PutIfAbsent writes a blob only if no object exists under the key.
func (s *Store) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	in := putObjectInput(s.bucket, s.key(name), data, s.cfg.EnableChecksum)
	in.IfNoneMatch = aws.String("*")

	_, err := s.client.PutObject(ctx, in)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "PreconditionFailed", "ConditionalRequestConflict":
				return fmt.Errorf("%w: %s", blobstore.ErrExists, name)
			}
		}
		return err
	}
	return nil
}

// Delete removes a blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns the sorted names of all blobs starting with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := s.key(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(fullPrefix, "/") {
		fullPrefix += "/"
	}
	root := strings.TrimSuffix(s.prefix, "/")

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(fullPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			rel := aws.ToString(obj.Key)
			if root != "" {
				rel = strings.TrimPrefix(rel, root)
				rel = strings.TrimPrefix(rel, "/")
			}
			if rel != "" {
				keys = append(keys, rel)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

// s3Blob implements blobstore.Blob with ranged GETs.
type s3Blob struct {
	client Client
	bucket string
	key    string
	size   int64
}

func (b *s3Blob) Close() error { return nil }

func (b *s3Blob) Size() int64 { return b.size }

// ReadAt reads len(p) bytes starting at offset off.
func (b *s3Blob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
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

	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("%w: %s", blobstore.ErrNotFound, b.key)
		}
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	want := end - off + 1
	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, err
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

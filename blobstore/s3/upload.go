package s3

import (
	"bytes"
	"context"
	"encoding/base64"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/slicemap/internal/hash"
)

// UploadConfig configures how blobs are written to S3.
type UploadConfig struct {
	// PartSize is the part size for multipart uploads. Blobs of at least this
	// size are uploaded in parts.
	// Default: 8MB
	PartSize int64

	// Concurrency is the number of concurrent part uploads.
	// Default: 5
	Concurrency int

	// EnableChecksum enables CRC32C integrity validation.
	// Default: true
	EnableChecksum bool

	// LeavePartsOnError keeps the parts of a failed multipart upload instead
	// of aborting it.
	// Default: false
	LeavePartsOnError bool
}

// DefaultUploadConfig returns the default upload settings.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:       8 * 1024 * 1024,
		Concurrency:    5,
		EnableChecksum: true,
	}
}

func newUploader(client Client, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.PartSize >= manager.MinUploadPartSize {
			u.PartSize = cfg.PartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
		u.LeavePartsOnError = cfg.LeavePartsOnError
	})
}

// computeCRC32C returns the checksum in the format S3 expects: base64 of the
// big-endian bytes.
func computeCRC32C(data []byte) string {
	sum := hash.CRC32C(data)
	b := []byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)}
	return base64.StdEncoding.EncodeToString(b)
}

func putObjectInput(bucket, key string, data []byte, checksum bool) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if checksum {
		in.ChecksumCRC32C = aws.String(computeCRC32C(data))
	}
	return in
}

func (s *Store) upload(ctx context.Context, key string, data []byte) error {
	if int64(len(data)) < s.cfg.PartSize {
		_, err := s.client.PutObject(ctx, putObjectInput(s.bucket, key, data, s.cfg.EnableChecksum))
		return err
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if s.cfg.EnableChecksum {
		in.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}
	_, err := s.uploader.Upload(ctx, in)
	return err
}

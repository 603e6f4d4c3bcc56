package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

const rfc822 = "message/rfc822"

// s3API is the subset of the S3 client used by S3.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 stores messages in an S3-compatible bucket.
type S3 struct {
	client s3API
	bucket string
	prefix string
}

// NewS3 creates an S3 archive with the given client, bucket and key prefix.
func NewS3(client s3API, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

// NewS3FromConfig builds a real S3 client from cfg. A custom endpoint
// (MinIO, LocalStack) switches to path-style addressing.
func NewS3FromConfig(ctx context.Context, cfg Config) (*S3, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.S3Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3OptFns []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		s3OptFns = append(s3OptFns, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewS3(s3.NewFromConfig(awsCfg, s3OptFns...), cfg.S3Bucket, cfg.S3Prefix), nil
}

func (s *S3) key(taskID string) string {
	return s.prefix + objectName(taskID)
}

// Put uploads the message, overwriting any earlier copy.
func (s *S3) Put(ctx context.Context, taskID string, raw []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(taskID)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String(rfc822),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put: %w", err)
	}
	return nil
}

// Get downloads the message or returns ErrNotFound.
func (s *S3) Get(ctx context.Context, taskID string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(taskID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archive: s3 get: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("archive: s3 read body: %w", err)
	}
	return data, nil
}

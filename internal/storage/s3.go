package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BackendS3 is the Backend() name of S3Writer.
const BackendS3 = "s3"

// S3Config configures S3Writer.
type S3Config struct {
	Bucket string
	// Prefix is prepended to every key, e.g. "velib/".
	Prefix string
	Region string
	// Endpoint overrides the service endpoint for S3-compatible stores (MinIO, Scaleway).
	Endpoint     string
	UsePathStyle bool
}

// putObjectAPI is the subset of *s3.Client used by S3Writer.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer uploads snapshots as S3 objects.
type S3Writer struct {
	client putObjectAPI
	bucket string
	prefix string
}

// NewS3Writer builds an S3 client from the default AWS credential chain.
func NewS3Writer(ctx context.Context, cfg S3Config) (*S3Writer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 writer: bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 writer: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})
	return newS3Writer(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Writer(client putObjectAPI, bucket, prefix string) *S3Writer {
	return &S3Writer{client: client, bucket: bucket, prefix: prefix}
}

// Backend implements Writer.
func (w *S3Writer) Backend() string { return BackendS3 }

// Put implements Writer.
func (w *S3Writer) Put(ctx context.Context, key string, body []byte) error {
	objectKey := key
	if w.prefix != "" {
		objectKey = path.Join(w.prefix, key)
	}
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return &Error{Backend: BackendS3, Key: objectKey, Err: err}
	}
	return nil
}

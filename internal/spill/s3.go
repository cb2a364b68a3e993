package spill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/objectfs/arraycache/pkg/types"
)

// ObjectAPI is the subset of the S3 client the store uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config configures the S3 spill store
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Metrics tracks S3 store request statistics
type S3Metrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error"`
	LastErrorTime   time.Time     `json:"last_error_time"`
}

// S3Store keeps spill objects in an S3 bucket under a key prefix.
type S3Store struct {
	client ObjectAPI
	bucket string
	prefix string

	mu      sync.Mutex
	metrics S3Metrics
}

// NewS3Store creates a store using the default AWS credential chain, or static
// credentials when both keys are set.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	return NewS3StoreWithClient(client, cfg.Bucket, cfg.Prefix)
}

// NewS3StoreWithClient creates a store around an existing client.
func NewS3StoreWithClient(client ObjectAPI, bucket, prefix string) (*S3Store, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client cannot be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}, nil
}

// Location implements Store
func (s *S3Store) Location() string {
	return "s3://" + s.bucket + "/" + strings.TrimPrefix(s.prefix, "/")
}

// Name implements Store
func (s *S3Store) Name(id types.ID) string {
	return s.prefix + string(id) + FileExt
}

// Write implements Store
func (s *S3Store) Write(ctx context.Context, name string, data []byte) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	s.record(time.Since(start), err, int64(len(data)), 0)
	if err != nil {
		return s.translateError(err, "PutObject", name)
	}
	return nil
}

// Read implements Store
func (s *S3Store) Read(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		s.record(time.Since(start), err, 0, 0)
		return nil, s.translateError(err, "GetObject", name)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	s.record(time.Since(start), err, 0, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}
	return data, nil
}

// Delete implements Store
func (s *S3Store) Delete(ctx context.Context, name string) error {
	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(name),
	})
	if err != nil && isNotFound(err) {
		err = nil
	}
	s.record(time.Since(start), err, 0, 0)
	if err != nil {
		return s.translateError(err, "DeleteObject", name)
	}
	return nil
}

// Metrics returns a snapshot of request statistics
func (s *S3Store) Metrics() S3Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

func (s *S3Store) record(d time.Duration, err error, up, down int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Requests++
	s.metrics.BytesUploaded += up
	s.metrics.BytesDownloaded += down

	// running average
	n := time.Duration(s.metrics.Requests)
	s.metrics.AverageLatency += (d - s.metrics.AverageLatency) / n

	if err != nil {
		s.metrics.Errors++
		s.metrics.LastError = err.Error()
		s.metrics.LastErrorTime = time.Now()
	}
}

func (s *S3Store) translateError(err error, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return fmt.Errorf("object not found: %s: %w", key, err)
	case isErrorType[*s3types.NoSuchBucket](err):
		return fmt.Errorf("bucket not found: %s: %w", s.bucket, err)
	default:
		return fmt.Errorf("%s failed for %s: %w", operation, key, err)
	}
}

// IsTransient reports whether an S3 request failure may succeed when
// repeated. Missing objects or buckets, denied access and cancellation are
// final.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isNotFound(err) || isErrorType[*s3types.NoSuchBucket](err) {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidBucketName":
			return false
		}
	}
	return true
}

func isNotFound(err error) bool {
	if isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

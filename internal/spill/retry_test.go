package spill

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/arraycache/pkg/retry"
)

// failingS3 fails the first n puts before delegating to fakeS3
type failingS3 struct {
	*fakeS3
	n    int
	puts int
}

func (f *failingS3) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts++
	if f.puts <= f.n {
		return nil, fmt.Errorf("connection reset by peer")
	}
	return f.fakeS3.PutObject(ctx, in, opts...)
}

func s3Retryer(attempts int) *retry.Retryer {
	return retry.New(retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		ShouldRetry:  IsTransient,
	})
}

func TestRetryingStore_RetriesTransientWrites(t *testing.T) {
	fake := &failingS3{fakeS3: newFakeS3(), n: 2}
	s3store, err := NewS3StoreWithClient(fake, "arrays", "")
	require.NoError(t, err)
	store := WithRetry(s3store, s3Retryer(3))

	assert.Same(t, s3store, store.Unwrap())
	assert.Equal(t, s3store.Location(), store.Location())
	assert.Equal(t, s3store.Name("data_1_0"), store.Name("data_1_0"))

	require.NoError(t, store.Write(context.Background(), "data_1_0.dat", []byte{7}))
	assert.Equal(t, 3, fake.puts)

	got, err := store.Read(context.Background(), "data_1_0.dat")
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, got)
}

func TestRetryingStore_GivesUp(t *testing.T) {
	fake := &failingS3{fakeS3: newFakeS3(), n: 10}
	s3store, err := NewS3StoreWithClient(fake, "arrays", "")
	require.NoError(t, err)
	store := WithRetry(s3store, s3Retryer(2))

	err = store.Write(context.Background(), "x.dat", []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PutObject failed")
	assert.Equal(t, 2, fake.puts)
}

func TestRetryingStore_MissingObjectIsFinal(t *testing.T) {
	fake := newFakeS3()
	s3store, err := NewS3StoreWithClient(fake, "arrays", "")
	require.NoError(t, err)
	store := WithRetry(s3store, s3Retryer(5))

	_, err = store.Read(context.Background(), "missing.dat")
	require.Error(t, err)
	assert.Equal(t, int64(1), s3store.Metrics().Requests)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("connection reset")))
	assert.True(t, IsTransient(&smithy.GenericAPIError{Code: "SlowDown"}))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(&s3types.NoSuchKey{Message: aws.String("x")}))
	assert.False(t, IsTransient(&s3types.NoSuchBucket{}))
	assert.False(t, IsTransient(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, IsTransient(fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "NotFound"})))
}

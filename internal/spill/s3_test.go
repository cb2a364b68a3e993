package spill

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory ObjectAPI.
type fakeS3 struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestNewS3StoreWithClient_Validation(t *testing.T) {
	_, err := NewS3StoreWithClient(nil, "bucket", "")
	assert.Error(t, err)

	_, err = NewS3StoreWithClient(newFakeS3(), "", "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "bucket name cannot be empty")
}

func TestNewS3Store_EmptyBucket(t *testing.T) {
	store, err := NewS3Store(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
	assert.Nil(t, store)
}

func TestS3Store_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store, err := NewS3StoreWithClient(fake, "arrays", "spill/")
	require.NoError(t, err)

	name := store.Name("data_1_0")
	assert.Equal(t, "spill/data_1_0.dat", name)
	assert.Equal(t, "s3://arrays/spill/", store.Location())

	require.NoError(t, store.Write(ctx, name, []byte{1, 2, 3}))
	assert.Contains(t, fake.objects, "arrays/spill/data_1_0.dat")

	got, err := store.Read(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, store.Delete(ctx, name))
	_, err = store.Read(ctx, name)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object not found")

	m := store.Metrics()
	assert.Equal(t, int64(4), m.Requests)
	assert.Equal(t, int64(1), m.Errors)
	assert.Equal(t, int64(3), m.BytesUploaded)
	assert.Equal(t, int64(3), m.BytesDownloaded)
}

func TestS3Store_DeleteNotFoundIgnored(t *testing.T) {
	fake := newFakeS3()
	fake.deleteErr = &smithy.GenericAPIError{Code: "NotFound", Message: "gone"}
	store, err := NewS3StoreWithClient(fake, "arrays", "")
	require.NoError(t, err)

	assert.NoError(t, store.Delete(context.Background(), "data_1_0.dat"))
}

func TestS3Store_Errors(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = fmt.Errorf("connection reset")
	fake.deleteErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "no"}
	store, err := NewS3StoreWithClient(fake, "arrays", "")
	require.NoError(t, err)

	err = store.Write(context.Background(), "x.dat", []byte{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PutObject failed")

	err = store.Delete(context.Background(), "x.dat")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DeleteObject failed")

	m := store.Metrics()
	assert.Equal(t, int64(2), m.Errors)
	assert.NotEmpty(t, m.LastError)
}

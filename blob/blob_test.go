package blob

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/tj/assert"
)

type fakeS3 struct {
	key         string
	bucket      string
	body        []byte
	contentType string
	putErr      error
	createErr   error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.key = *params.Key
	f.bucket = *params.Bucket
	f.body = body
	f.contentType = *params.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return &s3.CreateBucketOutput{}, f.createErr
}

func TestPut(t *testing.T) {
	t.Run("writes the body with the given content type", func(t *testing.T) {
		client := &fakeS3{}
		s, err := NewStore(context.Background(), "uploads", WithClient(client))
		assert.NoError(t, err)

		err = s.Put(context.Background(), "abc123/5000-a.txt", []byte("hello"), "text/plain")
		assert.NoError(t, err)
		assert.Equal(t, "uploads", client.bucket)
		assert.Equal(t, "abc123/5000-a.txt", client.key)
		assert.Equal(t, "hello", string(client.body))
		assert.Equal(t, "text/plain", client.contentType)
	})

	t.Run("defaults the content type", func(t *testing.T) {
		client := &fakeS3{}
		s, err := NewStore(context.Background(), "uploads", WithClient(client))
		assert.NoError(t, err)

		err = s.Put(context.Background(), "abc123/5000-upload", []byte{0x01}, "")
		assert.NoError(t, err)
		assert.Equal(t, DefaultContentType, client.contentType)
	})

	t.Run("wraps client errors", func(t *testing.T) {
		cause := errors.New("slow down")
		s, err := NewStore(context.Background(), "uploads", WithClient(&fakeS3{putErr: cause}))
		assert.NoError(t, err)

		err = s.Put(context.Background(), "k", nil, "")
		assert.True(t, errors.Is(err, cause))
	})
}

func TestCreateBucket(t *testing.T) {
	tests := []struct {
		name      string
		createErr error
		expectErr bool
	}{
		{name: "created"},
		{name: "already owned", createErr: &types.BucketAlreadyOwnedByYou{}},
		{name: "already exists", createErr: &types.BucketAlreadyExists{}},
		{name: "other failure", createErr: errors.New("denied"), expectErr: true},
	}
	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			s, err := NewStore(context.Background(), "uploads", WithClient(&fakeS3{createErr: test.createErr}))
			assert.NoError(t, err)

			err = s.CreateBucket(context.Background())
			if test.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

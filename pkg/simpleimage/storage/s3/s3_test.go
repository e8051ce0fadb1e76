package s3

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Backend_Configuration(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyBucket", func(t *testing.T) {
		_, err := New(ctx, Config{Region: "us-east-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket name is required")
	})

	t.Run("Defaults", func(t *testing.T) {
		backend, err := New(ctx, Config{
			Bucket:          "images",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "us-east-1", backend.config.Region)
		assert.Equal(t, time.Hour, backend.presignDuration)
		assert.Equal(t, DefaultCacheControl, backend.config.CacheControl)
	})

	t.Run("Prefix", func(t *testing.T) {
		backend, err := New(ctx, Config{
			Bucket:          "images",
			Prefix:          "/uploads/",
			AccessKeyID:     "test-key",
			SecretAccessKey: "test-secret",
		})
		require.NoError(t, err)
		assert.Equal(t, "uploads/Users/a.png", backend.key("Users/a.png"))
	})
}

func TestS3Backend_PresignedDownloadURL(t *testing.T) {
	ctx := context.Background()
	backend, err := New(ctx, Config{
		Bucket:          "images",
		Endpoint:        "http://localhost:9000",
		UsePathStyle:    true,
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		PresignDuration: 60,
	})
	require.NoError(t, err)

	url, err := backend.GetDownloadURL(ctx, "Users/thumb/abc.png", "abc.png")
	require.NoError(t, err)
	assert.Contains(t, url, "http://localhost:9000/images/Users/thumb/abc.png")
	assert.Contains(t, url, "X-Amz-Expires=60")
	assert.Contains(t, url, "response-content-disposition")
}

func TestS3Backend_PublicDownloadURL(t *testing.T) {
	ctx := context.Background()
	backend, err := New(ctx, Config{
		Bucket:          "images",
		Prefix:          "site",
		PublicBaseURL:   "https://img.example.com/",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
	})
	require.NoError(t, err)

	url, err := backend.GetDownloadURL(ctx, "Users/thumb/abc.png", "")
	require.NoError(t, err)
	assert.Equal(t, "https://img.example.com/site/Users/thumb/abc.png", url)

	url, err = backend.GetDownloadURL(ctx, "Users/abc.png", "me.png")
	require.NoError(t, err)
	assert.Contains(t, url, "X-Amz-Signature")
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"typed no such key", &types.NoSuchKey{}, true},
		{"typed not found", fmt.Errorf("head: %w", &types.NotFound{}), true},
		{"generic api code", &smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", fmt.Errorf("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFound(tt.err))
		})
	}
}

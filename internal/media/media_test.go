package media

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	ctx := context.Background()
	r := NewStaticResolver("https://cdn.example.org/media/ ")

	got, err := r.URL(ctx, "kid photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.org/media/kid%20photo.jpg", got)

	got, err = NewStaticResolver("").URL(ctx, "/a.png")
	require.NoError(t, err)
	assert.Equal(t, "/a.png", got)

	_, err = r.URL(ctx, "  ")
	assert.True(t, errors.Is(err, ErrNoFilename))
}

func TestMinioResolverPresigns(t *testing.T) {
	r, err := NewMinioResolver(MinioConfig{
		Endpoint:  "minio.local:9000",
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "media",
		TTL:       10 * time.Minute,
	})
	require.NoError(t, err)

	raw, err := r.URL(context.Background(), "kid.jpg")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.Equal(t, "minio.local:9000", u.Host)
	assert.Equal(t, "/media/kid.jpg", u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestMinioResolverValidation(t *testing.T) {
	_, err := NewMinioResolver(MinioConfig{Bucket: "media"})
	assert.Error(t, err)
	_, err = NewMinioResolver(MinioConfig{Endpoint: "minio.local:9000"})
	assert.Error(t, err)

	r, err := NewMinioResolver(MinioConfig{Endpoint: "minio.local:9000", Bucket: "media"})
	require.NoError(t, err)
	_, err = r.URL(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoFilename)
}

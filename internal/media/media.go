// Package media resolves public URLs for uploaded files.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var ErrNoFilename = errors.New("media filename is empty")

// Resolver returns the URL a browser can fetch a media file from.
type Resolver interface {
	URL(ctx context.Context, filename string) (string, error)
}

// StaticResolver joins the filename onto a fixed base URL.
type StaticResolver struct {
	BaseURL string
}

func NewStaticResolver(baseURL string) StaticResolver {
	return StaticResolver{BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/")}
}

func (r StaticResolver) URL(_ context.Context, filename string) (string, error) {
	name := strings.TrimLeft(strings.TrimSpace(filename), "/")
	if name == "" {
		return "", ErrNoFilename
	}
	escaped := (&url.URL{Path: name}).EscapedPath()
	if r.BaseURL == "" {
		return "/" + escaped, nil
	}
	return r.BaseURL + "/" + escaped, nil
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	TTL       time.Duration
}

// MinioResolver hands out presigned GET URLs for objects in one bucket.
type MinioResolver struct {
	client *minio.Client
	bucket string
	ttl    time.Duration
}

func NewMinioResolver(cfg MinioConfig) (*MinioResolver, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	// A fixed region lets presigning skip the bucket location lookup.
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MinioResolver{client: client, bucket: cfg.Bucket, ttl: ttl}, nil
}

func (r *MinioResolver) URL(ctx context.Context, filename string) (string, error) {
	name := strings.TrimLeft(strings.TrimSpace(filename), "/")
	if name == "" {
		return "", ErrNoFilename
	}
	presigned, err := r.client.PresignedGetObject(ctx, r.bucket, name, r.ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", name, err)
	}
	return presigned.String(), nil
}

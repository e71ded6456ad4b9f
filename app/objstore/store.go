package objstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store persists binary assets in S3-compatible object storage and hands
// back permanent public URLs. A zero-value or unconfigured Store is valid:
// every method degrades gracefully so callers can fall back to inline
// references without branching on nil.
type Store struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
}

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
}

// New connects to the configured object store. An empty endpoint yields an
// unconfigured Store rather than an error.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.Endpoint == "" {
		return &Store{}, nil
	}

	endpoint := config.Endpoint
	secure := strings.HasPrefix(endpoint, "https://")
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		endpoint = u.Host
		secure = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", config.Bucket, err)
		}
	}

	return &Store{
		client:        client,
		bucket:        config.Bucket,
		publicBaseURL: strings.TrimRight(config.PublicBaseURL, "/"),
	}, nil
}

// IsConfigured reports whether binary assets can be stored permanently.
func (s *Store) IsConfigured() bool {
	return s != nil && s.client != nil
}

// Store uploads data under a generated key and returns the permanent URL.
func (s *Store) Store(ctx context.Context, data []byte, contentType string) (string, error) {
	if !s.IsConfigured() {
		return "", fmt.Errorf("object store is not configured")
	}

	key := uuid.New().String() + extensionFor(contentType)

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to store object: %w", err)
	}

	return s.publicBaseURL + "/" + key, nil
}

// Fetch downloads a previously stored object by its public URL.
func (s *Store) Fetch(ctx context.Context, objectURL string) ([]byte, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("object store is not configured")
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.keyFromURL(objectURL), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return data, nil
}

// Delete removes a previously stored object by its public URL.
func (s *Store) Delete(ctx context.Context, objectURL string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("object store is not configured")
	}

	err := s.client.RemoveObject(ctx, s.bucket, s.keyFromURL(objectURL), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	return nil
}

func (s *Store) keyFromURL(objectURL string) string {
	if s.publicBaseURL != "" && strings.HasPrefix(objectURL, s.publicBaseURL+"/") {
		return strings.TrimPrefix(objectURL, s.publicBaseURL+"/")
	}
	if u, err := url.Parse(objectURL); err == nil {
		return strings.TrimPrefix(u.Path, "/")
	}
	return objectURL
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

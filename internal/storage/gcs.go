package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/Rogrei/diagnostik-chat/internal/utils"
	"google.golang.org/api/option"
)

// GCSStore keeps artifacts in a bucket under audio/. Objects stay private;
// reads go through signed URLs.
type GCSStore struct {
	client *gcs.Client
	bucket string
	prefix string
}

func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("GCS_BUCKET is not set")
	}
	c, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &GCSStore{client: c, bucket: bucket, prefix: "audio/"}, nil
}

func (s *GCSStore) Close() error { return s.client.Close() }

func (s *GCSStore) objectName(publicURL string) (string, error) {
	name, err := NameFromURL(publicURL)
	if err != nil {
		return "", err
	}
	return s.prefix + name, nil
}

func (s *GCSStore) Save(ctx context.Context, name string, contentType string, r io.Reader) (string, error) {
	objectName, err := s.objectName(name)
	if err != nil {
		return "", err
	}

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return PublicURL(name), nil
}

func (s *GCSStore) Open(ctx context.Context, publicURL string) (io.ReadCloser, error) {
	objectName, err := s.objectName(publicURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrNotFound, err)
	}
	rc, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", utils.ErrNotFound, objectName)
	}
	return rc, err
}

func (s *GCSStore) SignedGetURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	objectName, err := s.objectName(name)
	if err != nil {
		return "", err
	}
	return s.client.Bucket(s.bucket).SignedURL(objectName, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
}

package assets

import (
	"context"
	"errors"
	"fmt"
	"log"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps assets as objects in a Google Cloud Storage bucket.
type GCSStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
	logger  *log.Logger
}

// NewGCSStore connects to bucket. credentialsFile may be empty to use the
// ambient application default credentials. baseURL defaults to the public
// storage.googleapis.com URL of the bucket.
func NewGCSStore(ctx context.Context, bucket, credentialsFile, baseURL string, logger *log.Logger) (*GCSStore, error) {
	if logger == nil {
		logger = log.Default()
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS storage client: %w", err)
	}
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSStore{client: client, bucket: bucket, baseURL: baseURL, logger: logger}, nil
}

// Put uploads data as a new object.
func (s *GCSStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	name := newName(contentType)
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=86400"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.bucket, name, err)
	}
	return refFor(s.baseURL, name), nil
}

// Delete removes the object behind ref.
func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	name, err := nameFromRef(s.baseURL, ref)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(s.bucket).Object(name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("delete gs://%s/%s: %w", s.bucket, name, err)
	}
	s.logger.Printf("assets: removed gs://%s/%s", s.bucket, name)
	return nil
}

// Close releases the storage client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

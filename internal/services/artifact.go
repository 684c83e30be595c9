package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/utils"
)

// ArtifactStore persists exported content database files, addressable by
// (channel_id, version). Draft exports use version -1.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, file io.Reader) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// ContentDBKey is the canonical artifact key for one published snapshot.
func ContentDBKey(channelID uuid.UUID, version int) string {
	if version < 0 {
		return fmt.Sprintf("content/databases/%s-draft.sqlite3", channelID)
	}
	return fmt.Sprintf("content/databases/%s-%d.sqlite3", channelID, version)
}

// NewArtifactStore picks the GCS store when a bucket is configured and falls
// back to local disk for development.
func NewArtifactStore(log *logger.Logger) (ArtifactStore, error) {
	bucket := utils.GetEnv("ARTIFACT_GCS_BUCKET_NAME", "", log)
	if bucket != "" {
		return newGCSArtifactStore(log, bucket)
	}
	dir := utils.GetEnv("ARTIFACT_LOCAL_DIR", filepath.Join(os.TempDir(), "studio-artifacts"), log)
	return newLocalArtifactStore(log, dir)
}

type gcsArtifactStore struct {
	log       *logger.Logger
	client    *storage.Client
	bucket    string
	cdnDomain string
}

func newGCSArtifactStore(log *logger.Logger, bucket string) (ArtifactStore, error) {
	serviceLog := log.With("service", "GCSArtifactStore")
	var opts []option.ClientOption
	if creds := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &gcsArtifactStore{
		log:       serviceLog,
		client:    client,
		bucket:    bucket,
		cdnDomain: os.Getenv("ARTIFACT_CDN_DOMAIN"),
	}, nil
}

func (s *gcsArtifactStore) Upload(ctx context.Context, key string, file io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write artifact to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// readCloserWithCancel ties the request context's lifetime to the reader, so
// the download context is canceled at Close rather than at return.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (s *gcsArtifactStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 10*time.Minute)
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

func (s *gcsArtifactStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete GCS object %q: %w", key, err)
	}
	return nil
}

func (s *gcsArtifactStore) PublicURL(key string) string {
	if s.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", s.cdnDomain, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key)
}

type localArtifactStore struct {
	log *logger.Logger
	dir string
}

func newLocalArtifactStore(log *logger.Logger, dir string) (ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir: %w", err)
	}
	return &localArtifactStore{log: log.With("service", "LocalArtifactStore"), dir: dir}, nil
}

func (s *localArtifactStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

func (s *localArtifactStore) Upload(ctx context.Context, key string, file io.Reader) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, file); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func (s *localArtifactStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	return os.Open(s.path(key))
}

func (s *localArtifactStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *localArtifactStore) PublicURL(key string) string {
	return "file://" + s.path(key)
}

package gcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/framewell/studio-qc-backend/internal/platform/logger"
)

type BucketCategory string

const (
	// BucketCategorySource holds uploaded video files (primary storage).
	BucketCategorySource BucketCategory = "source"
	// BucketCategoryWorkerIntake is the deep-analysis worker's input
	// location; the feedback config document is published here too.
	BucketCategoryWorkerIntake BucketCategory = "worker_intake"
)

type bucketConfig struct {
	name string
}

type BucketService interface {
	UploadFile(ctx context.Context, category BucketCategory, key string, file io.Reader) error
	DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error)
	SignedReadURL(category BucketCategory, key string, ttl time.Duration) (string, time.Time, error)
	GetPublicURL(category BucketCategory, key string) string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	sourceBucket  bucketConfig
	workerBucket  bucketConfig
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	sourceBucketName := os.Getenv("SOURCE_GCS_BUCKET_NAME")
	workerBucketName := os.Getenv("WORKER_INTAKE_GCS_BUCKET_NAME")
	if sourceBucketName == "" {
		return nil, fmt.Errorf("missing env var SOURCE_GCS_BUCKET_NAME")
	}
	if workerBucketName == "" {
		return nil, fmt.Errorf("missing env var WORKER_INTAKE_GCS_BUCKET_NAME")
	}

	ctx := context.Background()
	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	stClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		sourceBucket:  bucketConfig{name: sourceBucketName},
		workerBucket:  bucketConfig{name: workerBucketName},
	}, nil
}

func (bs *bucketService) getBucketConfig(category BucketCategory) (bucketConfig, error) {
	switch category {
	case BucketCategorySource:
		return bs.sourceBucket, nil
	case BucketCategoryWorkerIntake:
		return bs.workerBucket, nil
	default:
		return bucketConfig{}, fmt.Errorf("unknown bucket category: %s", category)
	}
}

// UploadFile streams file into the object at key. The reader is consumed in
// a single pass; nothing is buffered beyond the storage client's chunk size,
// so memory stays bounded regardless of file size.
func (bs *bucketService) UploadFile(ctx context.Context, category BucketCategory, key string, file io.Reader) error {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return err
	}
	w := bs.storageClient.Bucket(cfg.name).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if s == "" {
		return ""
	}
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch {
	case strings.HasSuffix(s, ".mp4"), strings.HasSuffix(s, ".m4v"):
		return "video/mp4"
	case strings.HasSuffix(s, ".webm"):
		return "video/webm"
	case strings.HasSuffix(s, ".mov"):
		return "video/quicktime"
	case strings.HasSuffix(s, ".mxf"):
		return "application/mxf"
	case strings.HasSuffix(s, ".wav"):
		return "audio/wav"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return ""
	}
}

// Do NOT `defer cancel()` before returning the reader: the context must stay
// alive for the life of the stream. Cancel is attached to Close() instead.
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

func (bs *bucketService) DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return nil, err
	}
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Minute)

	r, err := bs.storageClient.Bucket(cfg.name).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

// SignedReadURL mints a V4 signed GET URL valid for ttl and returns it with
// its expiry.
func (bs *bucketService) SignedReadURL(category BucketCategory, key string, ttl time.Duration) (string, time.Time, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	expires := time.Now().Add(ttl)
	url, err := bs.storageClient.Bucket(cfg.name).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: expires,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign url for %q: %w", key, err)
	}
	return url, expires, nil
}

func (bs *bucketService) GetPublicURL(category BucketCategory, key string) string {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return key
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.name, key)
}

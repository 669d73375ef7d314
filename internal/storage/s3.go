// Package storage provides the content-addressed block store. Payloads are
// keyed by their hex digest and can live on the local filesystem or on any
// S3-compatible provider: AWS, Garage, Hetzner Object Storage, Cloudflare R2,
// MinIO, etc.
// Multi-provider failover: if the primary upload fails, it retries on secondary
// providers in order until one succeeds.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/config"
)

const blockPrefix = "blocks/"

// S3Store wraps an S3 client for a specific bucket / provider.
type S3Store struct {
	client       *s3.Client
	bucket       string
	provider     string
	storageClass string
}

// NewS3Store creates an S3Store from config. Works with any S3-compatible endpoint.
func NewS3Store(ctx context.Context, cfg config.S3Config, provider string) (*S3Store, error) {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.ForcePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(opts)

	store := &S3Store{client: client, bucket: cfg.Bucket, provider: provider, storageClass: cfg.StorageClass}

	if err := store.ensureBucketExists(ctx); err != nil {
		return nil, fmt.Errorf("storage: ensure bucket exists: %w", err)
	}

	return store, nil
}

// ensureBucketExists checks if the bucket exists and creates it if it doesn't.
func (s *S3Store) ensureBucketExists(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}
	var nf *types.NotFound
	if !errors.As(err, &nf) {
		return fmt.Errorf("head bucket %s: %w", s.bucket, err)
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Provider returns the human-readable provider label.
func (s *S3Store) Provider() string { return s.provider }

func key(digest string) string { return blockPrefix + digest }

// Put uploads payload unless an object already exists under the digest.
func (s *S3Store) Put(ctx context.Context, digest string, payload []byte) error {
	if err := validDigest(digest); err != nil {
		return err
	}
	if ok, err := s.Exists(ctx, digest); err != nil {
		return err
	} else if ok {
		return nil
	}

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key(digest)),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata:      map[string]string{"digest": digest},
	}
	if s.storageClass != "" {
		in.StorageClass = types.StorageClass(s.storageClass)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("storage: put object: %w", err)
	}
	return nil
}

// Get downloads the payload stored under digest.
func (s *S3Store) Get(ctx context.Context, digest string) ([]byte, error) {
	if err := validDigest(digest); err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key(digest)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
		}
		return nil, fmt.Errorf("storage: get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("storage: read object: %w", err)
	}
	return data, nil
}

func (s *S3Store) Exists(ctx context.Context, digest string) (bool, error) {
	if err := validDigest(digest); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key(digest)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("storage: head object: %w", err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

// ── Multi-provider failover ───────────────────────────────────────────────────

// MultiStore tries providers in order and returns on first success.
type MultiStore struct {
	providers []Backend
}

// NewMultiStore creates a MultiStore from a list of backends (primary first).
func NewMultiStore(providers ...Backend) *MultiStore {
	return &MultiStore{providers: providers}
}

func (m *MultiStore) Provider() string { return "multi" }

// Put stores to the first provider that accepts the payload.
func (m *MultiStore) Put(ctx context.Context, digest string, payload []byte) error {
	if len(m.providers) == 0 {
		return fmt.Errorf("storage: no providers configured")
	}
	var err error
	for _, p := range m.providers {
		if err = p.Put(ctx, digest, payload); err == nil {
			return nil
		}
	}
	return fmt.Errorf("storage: all providers failed, last error: %w", err)
}

// Get fetches from the first provider that has the object. ErrNotFound is
// only reported when every provider answered cleanly that it is missing.
func (m *MultiStore) Get(ctx context.Context, digest string) ([]byte, error) {
	var lastErr error
	missing := 0
	for _, p := range m.providers {
		data, err := p.Get(ctx, digest)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, ErrNotFound) {
			missing++
		}
		lastErr = err
	}
	if missing == len(m.providers) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	return nil, fmt.Errorf("storage: all providers failed: %w", lastErr)
}

func (m *MultiStore) Exists(ctx context.Context, digest string) (bool, error) {
	var lastErr error
	for _, p := range m.providers {
		ok, err := p.Exists(ctx, digest)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, lastErr
}

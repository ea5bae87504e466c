// Package objectstore adapts a MinIO/S3-compatible bucket to the object
// storage capabilities the workflows need: presigned uploads with bound
// metadata, metadata recovery, sidecar writes, deletion, and the
// object-created notification feed.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bull/doc-chat-server/internal/domain"
)

const contentType = "text/plain"

// Config configures the object store adapter.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string

	// UploadExpiry bounds the lifetime of issued upload credentials.
	UploadExpiry time.Duration
}

// Store wraps a minio client bound to a single documents bucket.
type Store struct {
	client *minio.Client
	bucket string
	expiry time.Duration
	logger *slog.Logger
}

// NewStore creates the adapter. It does not touch the bucket; call
// EnsureBucket during bootstrap.
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store client: %w", err)
	}

	expiry := cfg.UploadExpiry
	if expiry <= 0 {
		expiry = 20000 * time.Second
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		expiry: expiry,
		logger: logger,
	}, nil
}

// EnsureBucket creates the documents bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// IssueUploadURL mints a presigned POST credential for a fresh document id.
// The policy pins the key, the exact content length, the content type, and
// the user metadata fields, so the store rejects any upload that differs
// from what was authorized here.
func (s *Store) IssueUploadURL(ctx context.Context, name string, size int64) (*domain.UploadCredential, error) {
	id, err := domain.NewDocumentID()
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().UTC().Add(s.expiry)

	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(s.bucket); err != nil {
		return nil, fmt.Errorf("build upload policy: %w", err)
	}
	if err := policy.SetKey(domain.ObjectKey(id)); err != nil {
		return nil, fmt.Errorf("build upload policy: %w", err)
	}
	if err := policy.SetExpires(expiresAt); err != nil {
		return nil, fmt.Errorf("build upload policy: %w", err)
	}
	if err := policy.SetContentType(contentType); err != nil {
		return nil, fmt.Errorf("build upload policy: %w", err)
	}
	if err := policy.SetContentLengthRange(size, size); err != nil {
		return nil, fmt.Errorf("build upload policy: %w", err)
	}
	if err := policy.SetUserMetadata("id", id); err != nil {
		return nil, fmt.Errorf("build upload policy: %w", err)
	}
	if err := policy.SetUserMetadata("original_file_name", name); err != nil {
		return nil, fmt.Errorf("build upload policy: %w", err)
	}
	if err := policy.SetUserMetadata("file_name", domain.DataFileName); err != nil {
		return nil, fmt.Errorf("build upload policy: %w", err)
	}

	u, fields, err := s.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}

	s.logger.Info("issued upload credential", "documentId", id, "size", size)

	return &domain.UploadCredential{
		URL:        u.String(),
		Fields:     fields,
		DocumentID: id,
		ExpiresAt:  expiresAt,
	}, nil
}

// HeadDocumentMetadata reads the user metadata the upload policy bound to a
// content object. An object missing any field did not come through the
// issuer and must not be treated as a document upload.
func (s *Store) HeadDocumentMetadata(ctx context.Context, key string) (*domain.ObjectMetadata, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("head %q: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("head %q: %w", key, err)
	}

	meta := &domain.ObjectMetadata{
		ID:               userMetaValue(info.UserMetadata, "id"),
		OriginalFileName: userMetaValue(info.UserMetadata, "original_file_name"),
		FileName:         userMetaValue(info.UserMetadata, "file_name"),
	}
	if meta.ID == "" || meta.OriginalFileName == "" || meta.FileName == "" {
		return nil, fmt.Errorf("head %q: %w", key, domain.ErrMissingMetadata)
	}
	return meta, nil
}

// PutMetadataObject writes the sidecar metadata JSON at key.
func (s *Store) PutMetadataObject(ctx context.Context, key string, meta domain.MetadataAttributes) error {
	body, err := json.Marshal(domain.SidecarMetadata{MetadataAttributes: meta})
	if err != nil {
		return fmt.Errorf("encode sidecar metadata: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// GetObject reads a whole object into memory. Documents are text uploads
// bounded by the presign policy, so buffering is fine.
func (s *Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("get %q: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("read %q: %w", key, err)
	}
	return data, nil
}

// RemoveObject deletes an object. Missing objects are treated as already
// removed.
func (s *Store) RemoveObject(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// ObjectURI returns the s3:// URI for a key in the documents bucket.
func (s *Store) ObjectURI(key string) string {
	return "s3://" + s.bucket + "/" + key
}

// KeyFromURI parses an s3://<bucket>/<key> URI and validates the bucket.
func KeyFromURI(uri, bucket string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", fmt.Errorf("not an object URI: %q", uri)
	}
	gotBucket, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", fmt.Errorf("object URI missing key: %q", uri)
	}
	if gotBucket != bucket {
		return "", fmt.Errorf("object URI bucket %q does not match %q", gotBucket, bucket)
	}
	return key, nil
}

func userMetaValue(meta map[string]string, key string) string {
	// minio canonicalizes x-amz-meta-* keys; look up case-insensitively.
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
	}
	return false
}

// Package blob stores source documents, large artifacts, and projection
// snapshots in an S3-compatible object store. Object keys are
// content-addressed for sources and id-addressed for artifacts, so the
// SQLite rows in store/ always hold a stable pointer back into the
// bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned when an object key does not exist in the bucket.
var ErrNotFound = errors.New("blob: object not found")

// ErrInvalidHash is returned for content hashes that are not 64 lowercase
// hex characters (with or without a "sha256:" prefix).
var ErrInvalidHash = errors.New("blob: invalid content hash")

// Key prefixes partition the bucket by payload category.
const (
	prefixSources     = "sources"
	prefixArtifacts   = "artifacts"
	prefixProjections = "projections"
	prefixImages      = "images"
)

// Config carries the connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Client wraps a MinIO connection scoped to a single bucket.
type Client struct {
	mc     *minio.Client
	bucket string
}

// NewClient connects to the object store and ensures the bucket exists.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("blob: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("blob: bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("blob: connecting to object store: %w", err)
	}

	c := &Client{mc: mc, bucket: cfg.Bucket}
	if err := c.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("blob: checking bucket %q: %w", c.bucket, err)
	}
	if !exists {
		if err := c.mc.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("blob: creating bucket %q: %w", c.bucket, err)
		}
		slog.Info("blob: created bucket", "bucket", c.bucket)
	}
	return nil
}

// Bucket returns the bucket this client is scoped to.
func (c *Client) Bucket() string { return c.bucket }

// ---------------------------------------------------------------------------
// Key hygiene

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// sanitizeSegment maps a free-form name (ontology, filename) onto the
// character set safe for object keys. Anything outside [A-Za-z0-9._-]
// becomes an underscore.
func sanitizeSegment(s string) string {
	return unsafeKeyChars.ReplaceAllString(s, "_")
}

// NormalizeContentHash validates a caller-supplied content hash and
// returns the bare 64-char lowercase hex digest. Accepts either
// "sha256:<hex>" or the bare hex form.
func NormalizeContentHash(h string) (string, error) {
	h = strings.TrimSpace(h)
	h = strings.TrimPrefix(h, "sha256:")
	if len(h) != 64 {
		return "", fmt.Errorf("%w: want 64 hex chars, got %d", ErrInvalidHash, len(h))
	}
	for _, r := range h {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return "", fmt.Errorf("%w: non-lowercase-hex char %q", ErrInvalidHash, r)
		}
	}
	return h, nil
}

// contentTypeForExt returns the MIME type stored alongside source
// objects. Unknown extensions fall back to text/plain since everything
// reaching the bucket has already been converted to text.
func contentTypeForExt(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "md", "markdown":
		return "text/markdown"
	case "json":
		return "application/json"
	case "html", "htm":
		return "text/html"
	default:
		return "text/plain"
	}
}

// isNoSuchKey reports whether err is the object-store "not found" error.
func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket"
}

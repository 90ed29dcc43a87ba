package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
)

// Sources stores original document content under content-addressed keys.
// The same bytes always land on the same key, so re-ingesting a document
// is a no-op at the storage layer.
type Sources struct {
	c *Client
}

// NewSources returns the source-document store for a client.
func NewSources(c *Client) *Sources {
	return &Sources{c: c}
}

// SourceObject describes a stored source document.
type SourceObject struct {
	Key         string `json:"key"`
	Ontology    string `json:"ontology"`
	ContentHash string `json:"content_hash"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// sourceKey builds the object key for a document. The key embeds only
// the first half of the digest; the full hash lives in object metadata
// and in document_meta.
func sourceKey(ontology, contentHash, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "txt"
	}
	return fmt.Sprintf("%s/%s/%s.%s", prefixSources, sanitizeSegment(ontology), contentHash[:32], ext)
}

// Put uploads document content. When the caller already computed the
// content hash it is honored (after normalization); otherwise the hash
// is computed here. Returns the stored object descriptor.
func (s *Sources) Put(ctx context.Context, ontology, filename, ext string, content []byte, precomputedHash string) (*SourceObject, error) {
	var contentHash string
	if precomputedHash != "" {
		h, err := NormalizeContentHash(precomputedHash)
		if err != nil {
			return nil, err
		}
		contentHash = h
	} else {
		sum := sha256.Sum256(content)
		contentHash = hex.EncodeToString(sum[:])
	}

	key := sourceKey(ontology, contentHash, ext)
	contentType := contentTypeForExt(ext)

	_, err := s.c.mc.PutObject(ctx, s.c.bucket, key, bytes.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{
			ContentType: contentType,
			UserMetadata: map[string]string{
				"content-hash": contentHash,
				"filename":     filename,
				"ontology":     ontology,
				"size":         strconv.Itoa(len(content)),
			},
		})
	if err != nil {
		return nil, fmt.Errorf("blob: uploading source %s: %w", key, err)
	}

	return &SourceObject{
		Key:         key,
		Ontology:    ontology,
		ContentHash: contentHash,
		Filename:    filename,
		Size:        int64(len(content)),
		ContentType: contentType,
	}, nil
}

// Get downloads an object by key.
func (s *Sources) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.c.mc.GetObject(ctx, s.c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blob: fetching %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("blob: reading %s: %w", key, err)
	}
	return data, nil
}

// GetByHash downloads a source document by ontology and content hash.
// The extension is recovered by listing the (single-object) hash prefix.
func (s *Sources) GetByHash(ctx context.Context, ontology, contentHash string) ([]byte, *SourceObject, error) {
	contentHash, err := NormalizeContentHash(contentHash)
	if err != nil {
		return nil, nil, err
	}
	info, err := s.statByHash(ctx, ontology, contentHash)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.Get(ctx, info.Key)
	if err != nil {
		return nil, nil, err
	}
	return data, info, nil
}

// Exists reports whether an object key is present.
func (s *Sources) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.c.mc.StatObject(ctx, s.c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("blob: stat %s: %w", key, err)
	}
	return true, nil
}

// ExistsByHash reports whether a document with the given content hash is
// already stored for the ontology.
func (s *Sources) ExistsByHash(ctx context.Context, ontology, contentHash string) (bool, error) {
	contentHash, err := NormalizeContentHash(contentHash)
	if err != nil {
		return false, err
	}
	_, err = s.statByHash(ctx, ontology, contentHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes an object by key. Deleting a missing key is not an
// error.
func (s *Sources) Delete(ctx context.Context, key string) error {
	err := s.c.mc.RemoveObject(ctx, s.c.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("blob: deleting %s: %w", key, err)
	}
	return nil
}

// DeleteOntology removes every source object under the ontology prefix.
// Returns the number of objects deleted.
func (s *Sources) DeleteOntology(ctx context.Context, ontology string) (int, error) {
	prefix := fmt.Sprintf("%s/%s/", prefixSources, sanitizeSegment(ontology))
	deleted := 0
	for obj := range s.c.mc.ListObjects(ctx, s.c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return deleted, fmt.Errorf("blob: listing %s: %w", prefix, obj.Err)
		}
		if err := s.Delete(ctx, obj.Key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// List returns descriptors for every source object in an ontology.
func (s *Sources) List(ctx context.Context, ontology string) ([]SourceObject, error) {
	prefix := fmt.Sprintf("%s/%s/", prefixSources, sanitizeSegment(ontology))
	var out []SourceObject
	for obj := range s.c.mc.ListObjects(ctx, s.c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true, WithMetadata: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("blob: listing %s: %w", prefix, obj.Err)
		}
		out = append(out, SourceObject{
			Key:         obj.Key,
			Ontology:    ontology,
			ContentHash: obj.UserMetadata["X-Amz-Meta-Content-Hash"],
			Filename:    obj.UserMetadata["X-Amz-Meta-Filename"],
			Size:        obj.Size,
			ContentType: obj.ContentType,
		})
	}
	return out, nil
}

// statByHash locates the single object under the hash-derived key prefix.
func (s *Sources) statByHash(ctx context.Context, ontology, contentHash string) (*SourceObject, error) {
	prefix := fmt.Sprintf("%s/%s/%s.", prefixSources, sanitizeSegment(ontology), contentHash[:32])
	for obj := range s.c.mc.ListObjects(ctx, s.c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("blob: listing %s: %w", prefix, obj.Err)
		}
		stat, err := s.c.mc.StatObject(ctx, s.c.bucket, obj.Key, minio.StatObjectOptions{})
		if err != nil {
			return nil, fmt.Errorf("blob: stat %s: %w", obj.Key, err)
		}
		return &SourceObject{
			Key:         obj.Key,
			Ontology:    ontology,
			ContentHash: contentHash,
			Filename:    stat.UserMetadata["Filename"],
			Size:        stat.Size,
			ContentType: stat.ContentType,
		}, nil
	}
	return nil, fmt.Errorf("%w: no source with hash %s in %s", ErrNotFound, contentHash[:12], ontology)
}

package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// Artifacts is the blob side of the artifact router: payloads too large
// to inline in SQLite land here as JSON objects.
type Artifacts struct {
	c *Client
}

// NewArtifacts returns the artifact payload store for a client.
func NewArtifacts(c *Client) *Artifacts {
	return &Artifacts{c: c}
}

// ArtifactKey builds the object key for an artifact payload.
func ArtifactKey(artifactType, artifactID string) string {
	return fmt.Sprintf("%s/%s/%s.json", prefixArtifacts, sanitizeSegment(artifactType), sanitizeSegment(artifactID))
}

// Put uploads an artifact payload and returns its storage key.
func (a *Artifacts) Put(ctx context.Context, artifactType, artifactID string, payload []byte) (string, error) {
	key := ArtifactKey(artifactType, artifactID)
	_, err := a.c.mc.PutObject(ctx, a.c.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("blob: uploading artifact %s: %w", key, err)
	}
	return key, nil
}

// Get downloads an artifact payload by storage key.
func (a *Artifacts) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := a.c.mc.GetObject(ctx, a.c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blob: fetching artifact %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("blob: reading artifact %s: %w", key, err)
	}
	return data, nil
}

// Delete removes an artifact payload. Missing keys are not an error so
// the expiry sweep can retry after partial failures.
func (a *Artifacts) Delete(ctx context.Context, key string) error {
	err := a.c.mc.RemoveObject(ctx, a.c.bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("blob: deleting artifact %s: %w", key, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Projections

// Projections stores graph projection snapshots. Each
// (ontology, embedding source) pair keeps a rolling window of timestamped
// snapshots plus a "latest.json" alias that always points at the newest.
type Projections struct {
	c *Client
}

// NewProjections returns the projection snapshot store for a client.
func NewProjections(c *Client) *Projections {
	return &Projections{c: c}
}

// projectionPrefix is the key prefix for one (ontology, source) series.
func projectionPrefix(ontology, embeddingSource string) string {
	return fmt.Sprintf("%s/%s/%s/", prefixProjections, sanitizeSegment(ontology), sanitizeSegment(embeddingSource))
}

// snapshotTimestamp formats snapshot keys so lexical order matches
// chronological order.
const snapshotTimestamp = "20060102T150405Z"

// Put stores a projection snapshot and updates the latest alias.
// Returns the timestamped key.
func (p *Projections) Put(ctx context.Context, ontology, embeddingSource string, payload []byte, now time.Time) (string, error) {
	prefix := projectionPrefix(ontology, embeddingSource)
	key := prefix + now.UTC().Format(snapshotTimestamp) + ".json"

	_, err := p.c.mc.PutObject(ctx, p.c.bucket, key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("blob: uploading projection %s: %w", key, err)
	}

	latest := prefix + "latest.json"
	_, err = p.c.mc.PutObject(ctx, p.c.bucket, latest, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("blob: updating %s: %w", latest, err)
	}
	return key, nil
}

// Latest downloads the newest projection for an (ontology, source) pair.
func (p *Projections) Latest(ctx context.Context, ontology, embeddingSource string) ([]byte, error) {
	key := projectionPrefix(ontology, embeddingSource) + "latest.json"
	obj, err := p.c.mc.GetObject(ctx, p.c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blob: fetching projection %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("blob: reading projection %s: %w", key, err)
	}
	return data, nil
}

// Snapshots lists the timestamped snapshot keys for a series, newest
// first. The latest alias is excluded.
func (p *Projections) Snapshots(ctx context.Context, ontology, embeddingSource string) ([]string, error) {
	prefix := projectionPrefix(ontology, embeddingSource)
	var keys []string
	for obj := range p.c.mc.ListObjects(ctx, p.c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("blob: listing %s: %w", prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/latest.json") {
			continue
		}
		keys = append(keys, obj.Key)
	}
	// Timestamped names sort lexically; reverse for newest-first.
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys, nil
}

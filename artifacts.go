package kgraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mleroux/kgraph/blob"
	"github.com/mleroux/kgraph/store"
)

// defaultArtifactTTL is how long a temporary artifact lives when the
// caller sets no explicit expiry. Permanent artifacts never expire.
const defaultArtifactTTL = 7 * 24 * time.Hour

// ArtifactSpec describes a derived output to persist: an analysis
// result, a projection, a saved query. Payloads under the configured
// inline threshold live in the database row; larger ones go to the
// object store with only a pointer in the row.
type ArtifactSpec struct {
	ArtifactType    string    `json:"artifact_type"`
	Representation  string    `json:"representation,omitempty"`
	OwnerID         string    `json:"owner_id,omitempty"`
	Ontology        string    `json:"ontology,omitempty"`
	Title           string    `json:"title,omitempty"`
	Parameters      string    `json:"parameters,omitempty"`
	ConceptIDs      []string  `json:"concept_ids,omitempty"`
	Content         []byte    `json:"content"`
	RetentionPolicy string    `json:"retention_policy,omitempty"`
	Metadata        string    `json:"metadata,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
}

func newArtifactID() string {
	return "artifact_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// CreateArtifact persists a derived output, routing the payload inline
// or to the object store by size, and stamps it with the graph epoch so
// staleness is detectable later.
func (e *engine) CreateArtifact(ctx context.Context, spec ArtifactSpec) (*store.Artifact, error) {
	if spec.ArtifactType == "" {
		return nil, fmt.Errorf("%w: artifact type is required", ErrInvalidConfig)
	}
	if len(spec.Content) == 0 {
		return nil, fmt.Errorf("%w: artifact content is empty", ErrInvalidConfig)
	}
	policy := spec.RetentionPolicy
	if policy == "" {
		policy = "temporary"
	}
	if policy != "temporary" && policy != "permanent" {
		return nil, fmt.Errorf("%w: unknown retention policy %q", ErrInvalidConfig, policy)
	}

	epoch, err := e.store.CurrentEpoch(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading graph epoch: %w", err)
	}

	sum := sha256.Sum256(spec.Content)
	a := store.Artifact{
		ArtifactID:      newArtifactID(),
		ArtifactType:    spec.ArtifactType,
		Representation:  spec.Representation,
		OwnerID:         spec.OwnerID,
		GraphEpoch:      epoch,
		Ontology:        spec.Ontology,
		Title:           spec.Title,
		Parameters:      spec.Parameters,
		ConceptIDs:      spec.ConceptIDs,
		ContentHash:     hex.EncodeToString(sum[:]),
		SizeBytes:       int64(len(spec.Content)),
		RetentionPolicy: policy,
		Metadata:        spec.Metadata,
	}
	switch {
	case !spec.ExpiresAt.IsZero():
		a.ExpiresAt = spec.ExpiresAt.UTC().Format(time.RFC3339)
	case policy == "temporary":
		a.ExpiresAt = time.Now().Add(defaultArtifactTTL).UTC().Format(time.RFC3339)
	}

	if len(spec.Content) < e.cfg.InlineArtifactThresholdBytes {
		a.ContentInline = string(spec.Content)
	} else {
		if e.artifacts == nil {
			return nil, fmt.Errorf("%w: payload of %d bytes exceeds the inline threshold and no object store is configured",
				ErrInvalidConfig, len(spec.Content))
		}
		key, err := e.artifacts.Put(ctx, spec.ArtifactType, a.ArtifactID, spec.Content)
		if err != nil {
			return nil, fmt.Errorf("storing artifact payload: %w", err)
		}
		a.StorageKey = key
	}

	if err := e.store.InsertArtifact(ctx, a); err != nil {
		return nil, fmt.Errorf("inserting artifact: %w", err)
	}

	e.log.Info("engine: artifact created",
		"artifact", a.ArtifactID,
		"type", a.ArtifactType,
		"bytes", a.SizeBytes,
		"inline", a.StorageKey == "")
	return e.store.GetArtifact(ctx, a.ArtifactID)
}

// GetArtifact returns an artifact with its content materialized:
// blob-backed payloads are fetched and filled into ContentInline.
func (e *engine) GetArtifact(ctx context.Context, artifactID string) (*store.Artifact, error) {
	a, err := e.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return nil, notFound(err, ErrArtifactNotFound, artifactID)
	}
	if a.StorageKey == "" {
		return a, nil
	}
	if e.artifacts == nil {
		return nil, fmt.Errorf("artifact %s payload is blob-backed but no object store is configured", artifactID)
	}
	data, err := e.artifacts.Get(ctx, a.StorageKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s payload missing from object store", ErrArtifactNotFound, artifactID)
		}
		return nil, fmt.Errorf("fetching artifact payload: %w", err)
	}
	a.ContentInline = string(data)
	return a, nil
}

// ListArtifacts pages artifact records. Blob-backed payloads are not
// fetched; use GetArtifact for the content.
func (e *engine) ListArtifacts(ctx context.Context, artifactType, ontology string, limit, offset int) ([]store.Artifact, error) {
	return e.store.ListArtifacts(ctx, artifactType, ontology, limit, offset)
}

// DeleteArtifact removes an artifact, blob payload first so a failed
// blob delete leaves the row for the expiry sweep to retry.
func (e *engine) DeleteArtifact(ctx context.Context, artifactID string) error {
	a, err := e.store.GetArtifact(ctx, artifactID)
	if err != nil {
		return notFound(err, ErrArtifactNotFound, artifactID)
	}
	if a.StorageKey != "" {
		if e.artifacts == nil {
			e.log.Warn("engine: deleting artifact row with unreachable blob payload",
				"artifact", artifactID, "key", a.StorageKey)
		} else if err := e.artifacts.Delete(ctx, a.StorageKey); err != nil {
			return fmt.Errorf("deleting artifact payload: %w", err)
		}
	}
	if err := e.store.DeleteArtifact(ctx, artifactID); err != nil {
		return notFound(err, ErrArtifactNotFound, artifactID)
	}
	e.log.Info("engine: artifact deleted", "artifact", artifactID, "type", a.ArtifactType)
	return nil
}

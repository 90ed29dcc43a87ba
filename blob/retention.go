package blob

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

// Retention applies the per-category object lifecycle:
//
//	sources/      keep always (content-addressed originals)
//	images/       keep always
//	artifacts/    expiry handled by the scheduled job via artifact rows
//	projections/  keep latest + newest N snapshots, drop older than 30 days
type Retention struct {
	c *Client

	// KeepSnapshots is the number of timestamped projection snapshots
	// retained per series in addition to the latest alias.
	KeepSnapshots int

	// MaxSnapshotAge drops projection snapshots older than this even when
	// the series has fewer than KeepSnapshots entries above the cutoff.
	MaxSnapshotAge time.Duration
}

// NewRetention returns the retention policy with its defaults.
func NewRetention(c *Client) *Retention {
	return &Retention{
		c:              c,
		KeepSnapshots:  10,
		MaxSnapshotAge: 30 * 24 * time.Hour,
	}
}

// PruneProjections walks every projection series and deletes snapshots
// outside the retention window. Returns the number of objects removed.
func (r *Retention) PruneProjections(ctx context.Context, now time.Time) (int, error) {
	// Group snapshot keys by series prefix.
	series := make(map[string][]minio.ObjectInfo)
	listPrefix := prefixProjections + "/"
	for obj := range r.c.mc.ListObjects(ctx, r.c.bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: true}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("blob: listing projections: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/latest.json") {
			continue
		}
		idx := strings.LastIndex(obj.Key, "/")
		if idx < 0 {
			continue
		}
		series[obj.Key[:idx+1]] = append(series[obj.Key[:idx+1]], obj)
	}

	deleted := 0
	for prefix, objs := range series {
		doomed := snapshotsToPrune(objs, r.KeepSnapshots, now.Add(-r.MaxSnapshotAge))
		for _, key := range doomed {
			err := r.c.mc.RemoveObject(ctx, r.c.bucket, key, minio.RemoveObjectOptions{})
			if err != nil && !isNoSuchKey(err) {
				return deleted, fmt.Errorf("blob: pruning %s: %w", key, err)
			}
			deleted++
		}
		if len(doomed) > 0 {
			slog.Info("blob: pruned projection snapshots", "series", prefix, "deleted", len(doomed))
		}
	}
	return deleted, nil
}

// snapshotsToPrune picks the keys to delete from one series: everything
// beyond the newest keep entries, plus anything older than the cutoff.
// Keys sort lexically in chronological order.
func snapshotsToPrune(objs []minio.ObjectInfo, keep int, cutoff time.Time) []string {
	if len(objs) == 0 {
		return nil
	}
	// Newest first.
	sorted := make([]minio.ObjectInfo, len(objs))
	copy(sorted, objs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key > sorted[j].Key })

	var doomed []string
	for i, obj := range sorted {
		if i >= keep {
			doomed = append(doomed, obj.Key)
			continue
		}
		if !obj.LastModified.IsZero() && obj.LastModified.Before(cutoff) {
			doomed = append(doomed, obj.Key)
		}
	}
	return doomed
}

// ---------------------------------------------------------------------------
// Storage statistics

// CategoryStats totals the objects under one key prefix.
type CategoryStats struct {
	Objects int   `json:"objects"`
	Bytes   int64 `json:"bytes"`
}

// Stats reports object and byte totals per category prefix.
type Stats struct {
	Sources     CategoryStats `json:"sources"`
	Artifacts   CategoryStats `json:"artifacts"`
	Projections CategoryStats `json:"projections"`
	Images      CategoryStats `json:"images"`
	Total       CategoryStats `json:"total"`
}

// Stats walks the bucket and totals objects and bytes per category.
func (r *Retention) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	for _, cat := range []struct {
		prefix string
		dest   *CategoryStats
	}{
		{prefixSources, &st.Sources},
		{prefixArtifacts, &st.Artifacts},
		{prefixProjections, &st.Projections},
		{prefixImages, &st.Images},
	} {
		for obj := range r.c.mc.ListObjects(ctx, r.c.bucket, minio.ListObjectsOptions{Prefix: cat.prefix + "/", Recursive: true}) {
			if obj.Err != nil {
				return nil, fmt.Errorf("blob: listing %s: %w", cat.prefix, obj.Err)
			}
			cat.dest.Objects++
			cat.dest.Bytes += obj.Size
		}
		st.Total.Objects += cat.dest.Objects
		st.Total.Bytes += cat.dest.Bytes
	}
	return &st, nil
}

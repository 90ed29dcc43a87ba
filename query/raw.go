package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RawResult is the flattened shape of the raw query surface. Rows that
// look like concepts become nodes, rows that look like edges become
// relationships; everything counts toward row_count either way.
type RawResult struct {
	Nodes           []map[string]interface{} `json:"nodes"`
	Relationships   []map[string]interface{} `json:"relationships"`
	RowCount        int                      `json:"row_count"`
	ExecutionTimeMS float64                  `json:"execution_time_ms"`
}

// ExecuteQuery runs a read-only SQL query through the store's
// guardrails (single statement, SELECT only, LIMIT injection) and
// flattens the rows by column shape.
func (e *Engine) ExecuteQuery(ctx context.Context, rawQuery string, limit int) (*RawResult, error) {
	start := time.Now()
	rows, err := e.store.RawQuery(ctx, rawQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("query: raw query: %w", err)
	}

	res := flattenRows(rows)
	res.ExecutionTimeMS = float64(time.Since(start).Microseconds()) / 1000.0

	slog.Info("query: raw query",
		"rows", res.RowCount,
		"nodes", len(res.Nodes),
		"relationships", len(res.Relationships),
		"elapsed_ms", res.ExecutionTimeMS)
	return res, nil
}

// flattenRows sorts raw rows into nodes and relationships. A row with
// both edge endpoints is a relationship; a row with a concept_id is a
// node, deduplicated by id. Rows that are neither (counts, aggregates)
// still contribute to row_count.
func flattenRows(rows []map[string]interface{}) *RawResult {
	res := &RawResult{
		Nodes:         []map[string]interface{}{},
		Relationships: []map[string]interface{}{},
		RowCount:      len(rows),
	}

	seen := make(map[string]bool)
	for _, row := range rows {
		_, hasFrom := row["from_concept"]
		_, hasTo := row["to_concept"]
		if hasFrom && hasTo {
			res.Relationships = append(res.Relationships, row)
			continue
		}
		if v, ok := row["concept_id"]; ok {
			if id, ok := v.(string); ok && id != "" {
				if seen[id] {
					continue
				}
				seen[id] = true
			}
			res.Nodes = append(res.Nodes, row)
		}
	}
	return res
}

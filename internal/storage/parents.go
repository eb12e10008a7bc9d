package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/kensaku/internal/model"
)

// FetchParents returns parent chunks for the given ids in one batched query.
// Missing ids are silently omitted; callers drop child hits whose parent is
// gone (the document may have been re-ingested between probe and enrichment).
func (db *DB) FetchParents(ctx context.Context, ids []string) ([]model.ParentChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := db.pool.Query(ctx,
		`SELECT parent_chunk_id, document_id, content, tokens, metadata
		 FROM parent_chunks
		 WHERE parent_chunk_id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch parents: %w", err)
	}
	defer rows.Close()

	parents := make([]model.ParentChunk, 0, len(ids))
	for rows.Next() {
		var (
			p        model.ParentChunk
			metaJSON []byte
		)
		if err := rows.Scan(&p.ParentChunkID, &p.DocumentID, &p.Content, &p.Tokens, &metaJSON); err != nil {
			return nil, fmt.Errorf("storage: scan parent: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &p.Metadata); err != nil {
				db.logger.Warn("storage: malformed parent metadata, dropping", "parent_chunk_id", p.ParentChunkID, "error", err)
				p.Metadata = nil
			}
		}
		parents = append(parents, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate parents: %w", err)
	}
	return parents, nil
}

package storage

import (
	"context"
	"fmt"

	"github.com/ashita-ai/kensaku/internal/model"
)

// VisibleDocumentIDs returns the set of document ids the user may read:
// public documents plus documents explicitly granted to the user.
// Admins see every document; super admins never reach this query (the
// filter builder grants them an unrestricted filter).
func (db *DB) VisibleDocumentIDs(ctx context.Context, userID string, role model.Role) ([]string, error) {
	var (
		rowsQuery string
		args      []any
	)
	if model.RoleAtLeast(role, model.RoleAdmin) {
		rowsQuery = `SELECT document_id FROM documents`
	} else {
		rowsQuery = `
			SELECT document_id FROM documents WHERE access_type = 'public'
			UNION
			SELECT document_id FROM document_grants
			WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > now())`
		args = []any{userID}
	}

	rows, err := db.pool.Query(ctx, rowsQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: visible document ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate document ids: %w", err)
	}
	return ids, nil
}

// DocumentAccessTypes returns the access type for each given document id.
// Ids that do not exist are absent from the result; cache-write gating
// treats absence as not-public.
func (db *DB) DocumentAccessTypes(ctx context.Context, documentIDs []string) (map[string]model.AccessType, error) {
	if len(documentIDs) == 0 {
		return map[string]model.AccessType{}, nil
	}

	rows, err := db.pool.Query(ctx,
		`SELECT document_id, access_type FROM documents WHERE document_id = ANY($1)`,
		documentIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: document access types: %w", err)
	}
	defer rows.Close()

	types := make(map[string]model.AccessType, len(documentIDs))
	for rows.Next() {
		var (
			id string
			at string
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("storage: scan access type: %w", err)
		}
		types[id] = model.AccessType(at)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate access types: %w", err)
	}
	return types, nil
}

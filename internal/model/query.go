// Package model defines the request, result, and state types shared across
// the retrieval pipeline. Types here are plain data with no behavior beyond
// validation and small helpers; all I/O lives in the packages that consume them.
package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Mode selects what the pipeline produces.
type Mode string

const (
	// ModeRetrievalOnly returns ranked contexts without answer synthesis.
	ModeRetrievalOnly Mode = "retrieval_only"
	// ModeGeneration is reserved for future answer synthesis. Requests using
	// it are rejected until the feature ships.
	ModeGeneration Mode = "generation"
)

// TopK bounds for a single request.
const (
	MinTopK     = 1
	MaxTopK     = 50
	DefaultTopK = 10
)

// QueryRequest is one retrieval request.
type QueryRequest struct {
	Text     string `json:"text"`
	Mode     Mode   `json:"mode,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
	UseCache *bool  `json:"use_cache,omitempty"` // nil defers to the server-wide cache setting
}

// Normalize fills defaults and validates the request in place.
func (r *QueryRequest) Normalize() error {
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("%w: empty query text", ErrInvalidInput)
	}
	if !utf8.ValidString(r.Text) {
		return fmt.Errorf("%w: query text is not valid UTF-8", ErrInvalidInput)
	}
	if r.Mode == "" {
		r.Mode = ModeRetrievalOnly
	}
	if r.Mode == ModeGeneration {
		return fmt.Errorf("%w: generation mode is not available", ErrInvalidInput)
	}
	if r.Mode != ModeRetrievalOnly {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidInput, r.Mode)
	}
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
	if r.TopK < MinTopK || r.TopK > MaxTopK {
		return fmt.Errorf("%w: top_k %d out of range [%d,%d]", ErrInvalidInput, r.TopK, MinTopK, MaxTopK)
	}
	return nil
}

// Role is the caller's access level.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
)

// roleRank orders roles for comparisons. Unknown roles rank below user.
var roleRank = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// RoleAtLeast reports whether role has at least the privileges of minimum.
func RoleAtLeast(role, minimum Role) bool {
	return roleRank[role] >= roleRank[minimum]
}

// UserContext identifies the authenticated caller. Immutable for the
// lifetime of one request.
type UserContext struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
	Email  string `json:"email,omitempty"`
}

// AccessFilter is the per-request document visibility predicate applied to
// every index probe.
//
// A nil Visible map means unrestricted (super admin); a non-nil empty map
// means the caller can see nothing and retrieval must short-circuit to zero
// results rather than fall through to an unfiltered scan.
type AccessFilter struct {
	Visible map[string]bool
}

// AllowAll reports whether the filter imposes no document restriction.
func (f AccessFilter) AllowAll() bool { return f.Visible == nil }

// Empty reports whether the filter permits no documents at all.
func (f AccessFilter) Empty() bool { return f.Visible != nil && len(f.Visible) == 0 }

// Allows reports whether a document passes the filter.
func (f AccessFilter) Allows(documentID string) bool {
	return f.Visible == nil || f.Visible[documentID]
}

// DocumentIDs returns the whitelist for store-side IN predicates.
// Returns nil when the filter is AllowAll.
func (f AccessFilter) DocumentIDs() []string {
	if f.Visible == nil {
		return nil
	}
	ids := make([]string, 0, len(f.Visible))
	for id := range f.Visible {
		ids = append(ids, id)
	}
	return ids
}

// AccessType is a document's global visibility class.
type AccessType string

const (
	AccessPublic     AccessType = "public"
	AccessRestricted AccessType = "restricted"
)

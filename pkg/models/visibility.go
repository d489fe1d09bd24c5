package models

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// VisibilityGrant records which areas an actor may see within a project.
// Grants are owned by membership management; the review engine only reads them.
type VisibilityGrant struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	ProjectID      uuid.UUID `json:"project_id"`
	UserID         string    `json:"user_id"`
	CanViewAll     bool      `json:"can_view_all"`
	Areas          []string  `json:"areas"`
}

// FullVisibility is the grant of elevated actors.
func FullVisibility() *VisibilityGrant {
	return &VisibilityGrant{CanViewAll: true, Areas: []string{}}
}

// NoVisibility is the fail-closed grant: no areas at all.
func NoVisibility() *VisibilityGrant {
	return &VisibilityGrant{CanViewAll: false, Areas: []string{}}
}

// CanAccess reports whether a record tagged with area is visible under the grant.
// Untagged records are visible to everyone; a nil grant sees only untagged records.
func (g *VisibilityGrant) CanAccess(area string) bool {
	if strings.TrimSpace(area) == "" {
		return true
	}
	if g == nil {
		return false
	}
	if g.CanViewAll {
		return true
	}
	return slices.Contains(g.Areas, area)
}

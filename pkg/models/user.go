package models

import "slices"

// Role constants for user roles within a project.
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
	RoleData  = "data"
	RoleUser  = "user"
)

// ValidRoles contains all valid role values.
var ValidRoles = []string{RoleOwner, RoleAdmin, RoleData, RoleUser}

// DefaultElevatedRoles always resolve to full visibility.
var DefaultElevatedRoles = []string{RoleOwner, RoleAdmin}

// IsValidRole checks if the given role is valid.
func IsValidRole(role string) bool {
	return slices.Contains(ValidRoles, role)
}

// Actor is the user performing a review operation.
type Actor struct {
	UserID string `json:"user_id" validate:"required"`
	Role   string `json:"role"`
}

// HasRole reports whether the actor's role is one of roles.
func (a Actor) HasRole(roles []string) bool {
	return slices.Contains(roles, a.Role)
}

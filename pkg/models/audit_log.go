package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit event kinds emitted by the review engine.
const (
	AuditEventEnqueued = "review.enqueued"
	AuditEventApplied  = "review.applied"
	AuditEventFailed   = "review.failed"
	AuditEventRejected = "review.rejected"
	AuditEventUndo     = "review.undo"
)

// AuditEvent is an immutable entry of the review audit trail.
// Stored in engine_review_audit_log and, when configured, the local journal.
type AuditEvent struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	ProjectID      *uuid.UUID     `json:"project_id,omitempty"`
	Kind           string         `json:"kind"`
	ActorID        string         `json:"actor_id,omitempty"`
	ProposalID     *uuid.UUID     `json:"proposal_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// FieldChange represents the old and new values for a changed field.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

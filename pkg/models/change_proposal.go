package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Operation is the kind of mutation a proposal applies to its target record.
type Operation string

// Operation constants.
const (
	OperationInsert Operation = "insert"
	OperationUpsert Operation = "upsert"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ParseOperation validates s as an Operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	switch op {
	case OperationInsert, OperationUpsert, OperationUpdate, OperationDelete:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// RequiresTarget reports whether the operation needs an existing target_id.
func (o Operation) RequiresTarget() bool {
	switch o {
	case OperationUpdate, OperationDelete:
		return true
	case OperationInsert, OperationUpsert:
		return false
	default:
		return false
	}
}

// CapturesSnapshot reports whether applying the operation records a pre-image.
func (o Operation) CapturesSnapshot() bool {
	switch o {
	case OperationUpdate, OperationUpsert, OperationDelete:
		return true
	case OperationInsert:
		return false
	default:
		return false
	}
}

// ProposalStatus is the lifecycle state of a ChangeProposal.
type ProposalStatus string

// Proposal status constants.
const (
	ProposalStatusPending  ProposalStatus = "pending"
	ProposalStatusApplied  ProposalStatus = "applied"
	ProposalStatusRejected ProposalStatus = "rejected"
	ProposalStatusFailed   ProposalStatus = "failed"
)

// ParseProposalStatus validates s as a ProposalStatus.
func ParseProposalStatus(s string) (ProposalStatus, error) {
	st := ProposalStatus(s)
	switch st {
	case ProposalStatusPending, ProposalStatusApplied, ProposalStatusRejected, ProposalStatusFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown proposal status %q", s)
	}
}

// CanTransitionTo reports whether moving from s to next is an edge of the
// review state machine:
//
//	pending -> applied | rejected | failed
//	failed  -> applied | rejected | failed
//
// applied and rejected are terminal.
func (s ProposalStatus) CanTransitionTo(next ProposalStatus) bool {
	switch s {
	case ProposalStatusPending:
		return next == ProposalStatusApplied || next == ProposalStatusRejected || next == ProposalStatusFailed
	case ProposalStatusFailed:
		// failed -> failed is a retry that failed again
		return next == ProposalStatusApplied || next == ProposalStatusRejected || next == ProposalStatusFailed
	case ProposalStatusApplied, ProposalStatusRejected:
		return false
	default:
		return false
	}
}

// IsTerminal reports whether no further status transition is possible.
func (s ProposalStatus) IsTerminal() bool {
	return s == ProposalStatusApplied || s == ProposalStatusRejected
}

// SourceReference points at the document span a proposal was extracted from.
type SourceReference struct {
	DocumentID string `json:"document_id,omitempty"`
	Location   string `json:"location,omitempty"`
	Excerpt    string `json:"excerpt,omitempty"`
}

// ChangeProposal is a queued request to mutate one record of a target collection.
type ChangeProposal struct {
	ID               uuid.UUID        `json:"id"`
	OrganizationID   uuid.UUID        `json:"organization_id"`
	ProjectID        uuid.UUID        `json:"project_id"`
	ChangeKind       string           `json:"change_kind"`
	Operation        Operation        `json:"operation"`
	TargetCollection string           `json:"target_collection"`
	TargetID         string           `json:"target_id,omitempty"`
	Payload          map[string]any   `json:"payload"`
	Source           ProvenanceSource `json:"source"`
	SourceReference  *SourceReference `json:"source_reference,omitempty"`
	Confidence       float64          `json:"confidence"`
	Status           ProposalStatus   `json:"status"`
	CreatedBy        string           `json:"created_by"`
	ApprovedBy       *string          `json:"approved_by,omitempty"`
	AppliedBy        *string          `json:"applied_by,omitempty"`
	Snapshot         *RecordSnapshot  `json:"snapshot,omitempty"`
	Error            *string          `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	ApprovedAt       *time.Time       `json:"approved_at,omitempty"`
	AppliedAt        *time.Time       `json:"applied_at,omitempty"`

	// Revision is bumped by the store on every write and used as the
	// compare-and-swap token for proposal updates.
	Revision int64 `json:"-"`
}

// InScope reports whether the proposal belongs to the given tenancy scope.
func (p *ChangeProposal) InScope(scope Scope) bool {
	return p.OrganizationID == scope.OrganizationID && p.ProjectID == scope.ProjectID
}

// Scope returns the proposal's tenancy scope.
func (p *ChangeProposal) Scope() Scope {
	return Scope{OrganizationID: p.OrganizationID, ProjectID: p.ProjectID}
}

// StampApproval records the first reviewer decision. Later attempts keep the
// original approved_by and approved_at.
func (p *ChangeProposal) StampApproval(userID string, at time.Time) {
	if p.ApprovedBy == nil {
		p.ApprovedBy = &userID
	}
	if p.ApprovedAt == nil {
		p.ApprovedAt = &at
	}
}

// Clone returns a deep copy of the proposal.
func (p *ChangeProposal) Clone() *ChangeProposal {
	if p == nil {
		return nil
	}
	c := *p
	c.Payload = CloneFields(p.Payload)
	if p.SourceReference != nil {
		ref := *p.SourceReference
		c.SourceReference = &ref
	}
	c.ApprovedBy = cloneStringPtr(p.ApprovedBy)
	c.AppliedBy = cloneStringPtr(p.AppliedBy)
	c.Error = cloneStringPtr(p.Error)
	c.ApprovedAt = cloneTimePtr(p.ApprovedAt)
	c.AppliedAt = cloneTimePtr(p.AppliedAt)
	c.Snapshot = p.Snapshot.Clone()
	return &c
}

// ProposalFilter narrows a proposal listing. Empty fields match everything.
type ProposalFilter struct {
	Status     ProposalStatus
	ChangeKind string
	Limit      int
}

// ProposalStats summarises the proposals of one project.
type ProposalStats struct {
	ByStatus     map[ProposalStatus]int `json:"by_status"`
	ByChangeKind map[string]int         `json:"by_change_kind"`
}

// Scope identifies the tenant an operation runs against.
type Scope struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	ProjectID      uuid.UUID `json:"project_id"`
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

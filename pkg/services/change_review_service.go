package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-review/pkg/collections"
	"github.com/ekaya-inc/ekaya-review/pkg/logging"
	"github.com/ekaya-inc/ekaya-review/pkg/metrics"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
	"github.com/ekaya-inc/ekaya-review/pkg/repositories"
)

var validate = validator.New()

// maxRecordAttempts bounds retries of the final proposal write after a
// concurrent writer bumped its revision.
const maxRecordAttempts = 3

// ChangeReviewService queues proposed record changes for review and applies
// approved ones to their target collections.
type ChangeReviewService interface {
	// Enqueue validates req and stores it as a pending proposal.
	Enqueue(ctx context.Context, scope models.Scope, req *EnqueueRequest, actor models.Actor) (*models.ChangeProposal, error)

	// List returns proposals of a scope. Non-elevated actors only see
	// proposals whose area their grant covers.
	List(ctx context.Context, scope models.Scope, actor models.Actor, filter models.ProposalFilter) ([]*models.ChangeProposal, error)

	// Get returns one proposal.
	Get(ctx context.Context, scope models.Scope, id uuid.UUID) (*models.ChangeProposal, error)

	// Approve applies a pending or failed proposal. editedPayload, when not
	// nil, replaces the proposal payload for this attempt.
	Approve(ctx context.Context, scope models.Scope, id uuid.UUID, actor models.Actor, editedPayload map[string]any) (*ApplyResult, error)

	// Reject closes a pending or failed proposal without touching its target.
	Reject(ctx context.Context, scope models.Scope, id uuid.UUID, actor models.Actor) (*models.ChangeProposal, error)

	// BatchApprove approves each id independently and reports per-id outcomes.
	BatchApprove(ctx context.Context, scope models.Scope, ids []uuid.UUID, actor models.Actor) []BatchApproveResult

	// Undo restores the target record from an applied proposal's snapshot.
	// The proposal keeps its applied status.
	Undo(ctx context.Context, scope models.Scope, id uuid.UUID, actor models.Actor) error

	// DryRun runs the approve checks and returns the would-be record without writing.
	DryRun(ctx context.Context, scope models.Scope, id uuid.UUID, actor models.Actor) (*DryRunResult, error)

	// Stats returns proposal counts by status and change kind.
	Stats(ctx context.Context, scope models.Scope) (*models.ProposalStats, error)

	// ListAudit returns the review audit trail of a project, newest first.
	ListAudit(ctx context.Context, scope models.Scope, limit int) ([]*models.AuditEvent, error)

	// ListRecords returns the records of a collection visible to actor.
	ListRecords(ctx context.Context, scope models.Scope, actor models.Actor, collection string) ([]*models.Record, error)
}

// EnqueueRequest describes a proposed change.
type EnqueueRequest struct {
	ChangeKind       string                  `json:"change_kind" validate:"required,max=64"`
	Operation        models.Operation        `json:"operation" validate:"required,oneof=insert upsert update delete"`
	TargetCollection string                  `json:"target_collection" validate:"required,max=128"`
	TargetID         string                  `json:"target_id,omitempty" validate:"max=256"`
	Payload          map[string]any          `json:"payload"`
	Source           models.ProvenanceSource `json:"source,omitempty" validate:"omitempty,oneof=inference mcp manual"`
	SourceReference  *models.SourceReference `json:"source_reference,omitempty"`
	// Confidence defaults to 1.0 when omitted.
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ApplyResult is the outcome of a successful approve.
type ApplyResult struct {
	Proposal *models.ChangeProposal `json:"proposal"`
	// Record is the written record; nil for delete.
	Record *models.Record `json:"record,omitempty"`
}

// DryRunResult previews an approve.
type DryRunResult struct {
	Proposal *models.ChangeProposal        `json:"proposal"`
	Before   *models.Record                `json:"before,omitempty"`
	After    *models.Record                `json:"after,omitempty"`
	Changes  map[string]models.FieldChange `json:"changes,omitempty"`
}

// BatchApproveResult is the outcome of one id of a batch approve.
type BatchApproveResult struct {
	ProposalID uuid.UUID             `json:"proposal_id"`
	Status     models.ProposalStatus `json:"status,omitempty"`
	Record     *models.Record        `json:"record,omitempty"`
	Error      string                `json:"error,omitempty"`
	ErrorKind  string                `json:"error_kind,omitempty"`
}

type changeReviewService struct {
	proposals   repositories.ChangeProposalRepository
	collections *collections.Registry
	visibility  VisibilityService
	audit       AuditSink
	listLimit   int
	logger      *zap.Logger
	now         func() time.Time
}

// ChangeReviewServiceDeps contains dependencies for ChangeReviewService.
type ChangeReviewServiceDeps struct {
	ProposalRepo repositories.ChangeProposalRepository
	Collections  *collections.Registry
	Visibility   VisibilityService
	Audit        AuditSink
	ListLimit    int // Optional: defaults to repositories.DefaultListLimit
	Logger       *zap.Logger
}

// NewChangeReviewService creates a new ChangeReviewService.
func NewChangeReviewService(deps *ChangeReviewServiceDeps) ChangeReviewService {
	return &changeReviewService{
		proposals:   deps.ProposalRepo,
		collections: deps.Collections,
		visibility:  deps.Visibility,
		audit:       deps.Audit,
		listLimit:   deps.ListLimit,
		logger:      deps.Logger.Named("review-engine"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

var _ ChangeReviewService = (*changeReviewService)(nil)

func (s *changeReviewService) Enqueue(ctx context.Context, scope models.Scope, req *EnqueueRequest, actor models.Actor) (*models.ChangeProposal, error) {
	if err := validate.Struct(actor); err != nil {
		return nil, fmt.Errorf("%w: actor: %v", apperrors.ErrValidation, err)
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	if req.Operation.RequiresTarget() && req.TargetID == "" {
		return nil, fmt.Errorf("%w: target_id is required for %s", apperrors.ErrValidation, req.Operation)
	}
	if _, err := s.collections.Lookup(req.TargetCollection); err != nil {
		return nil, fmt.Errorf("%w: unknown target collection %q", apperrors.ErrValidation, req.TargetCollection)
	}
	if _, _, err := models.SplitVersionMarker(req.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	source := req.Source
	if source == "" {
		source = models.SourceManual
	}
	payload := models.CloneFields(req.Payload)
	if payload == nil {
		payload = map[string]any{}
	}

	p := &models.ChangeProposal{
		OrganizationID:   scope.OrganizationID,
		ProjectID:        scope.ProjectID,
		ChangeKind:       req.ChangeKind,
		Operation:        req.Operation,
		TargetCollection: req.TargetCollection,
		TargetID:         req.TargetID,
		Payload:          payload,
		Source:           source,
		SourceReference:  req.SourceReference,
		Confidence:       confidence,
		Status:           models.ProposalStatusPending,
		CreatedBy:        actor.UserID,
		CreatedAt:        s.now(),
	}
	if err := s.proposals.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to enqueue change proposal: %w", err)
	}

	metrics.RecordEnqueue(p.ChangeKind, string(p.Operation), p.Confidence)
	s.emit(ctx, p, models.AuditEventEnqueued, actor.UserID, map[string]any{
		"confidence": p.Confidence,
		"source":     string(p.Source),
	})

	s.logger.Debug("Enqueued change proposal",
		zap.String("proposal_id", p.ID.String()),
		zap.String("change_kind", p.ChangeKind),
		zap.String("operation", string(p.Operation)),
		zap.Float64("confidence", p.Confidence))

	return p, nil
}

func (s *changeReviewService) List(ctx context.Context, scope models.Scope, actor models.Actor, filter models.ProposalFilter) ([]*models.ChangeProposal, error) {
	if filter.Limit <= 0 {
		filter.Limit = s.listLimit
	}
	proposals, err := s.proposals.List(ctx, scope, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list change proposals: %w", err)
	}
	if s.visibility.IsElevated(actor) {
		return proposals, nil
	}

	grant := s.visibility.Resolve(ctx, scope, actor)
	return FilterByAreas(proposals, grant, func(p *models.ChangeProposal) ([]string, bool) {
		return s.proposalAreas(ctx, p)
	}), nil
}

// proposalAreas collects every area a proposal touches: the payload's area
// tag, the snapshot's, and the current target record's. ok is false when
// they cannot be determined.
func (s *changeReviewService) proposalAreas(ctx context.Context, p *models.ChangeProposal) (areas []string, ok bool) {
	coll, err := s.collections.Lookup(p.TargetCollection)
	if err != nil {
		return nil, false
	}
	add := func(fields map[string]any) {
		if area := coll.AreaOf(fields); area != "" {
			areas = append(areas, area)
		}
	}

	add(p.Payload)
	if p.Snapshot != nil {
		add(p.Snapshot.Fields)
	}
	if p.TargetID == "" {
		return areas, true
	}
	rec, err := coll.Get(ctx, p.Scope(), p.TargetID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return areas, true
	case err != nil:
		s.logger.Warn("Hiding proposal whose target could not be loaded",
			zap.String("proposal_id", p.ID.String()),
			zap.String("target_collection", p.TargetCollection),
			zap.String("error", logging.SanitizeError(err)))
		return nil, false
	}
	add(rec.Fields)
	return areas, true
}

func (s *changeReviewService) Get(ctx context.Context, scope models.Scope, id uuid.UUID) (*models.ChangeProposal, error) {
	return s.proposals.GetByID(ctx, scope, id)
}

// applyPlan is the validated, not yet executed effect of an approve.
type applyPlan struct {
	collection collections.TargetCollection
	before     *models.Record // nil when the target does not exist yet
	after      *models.Record // nil for delete
	payload    map[string]any // payload without the version marker
}

// plan loads the target, checks visibility and the version marker, and
// builds the would-be record. It performs no writes.
func (s *changeReviewService) plan(ctx context.Context, p *models.ChangeProposal, payload map[string]any, actor models.Actor) (*applyPlan, error) {
	coll, err := s.collections.Lookup(p.TargetCollection)
	if err != nil {
		return nil, &apperrors.ApplyError{Op: string(p.Operation), Collection: p.TargetCollection, Cause: err}
	}

	fields, marker, err := models.SplitVersionMarker(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	scope := p.Scope()
	var before *models.Record
	switch p.Operation {
	case models.OperationUpdate, models.OperationDelete:
		before, err = coll.Get(ctx, scope, p.TargetID)
		if err != nil {
			return nil, err
		}
	case models.OperationUpsert:
		before, err = s.findUpsertTarget(ctx, coll, p, fields)
		if err != nil {
			return nil, err
		}
	case models.OperationInsert:
	default:
		return nil, fmt.Errorf("%w: unknown operation %q", apperrors.ErrValidation, p.Operation)
	}

	grant := s.visibility.Resolve(ctx, scope, actor)
	if before != nil && !grant.CanAccess(coll.AreaOf(before.Fields)) {
		return nil, fmt.Errorf("record %s/%s: %w", coll.Name(), before.ID, apperrors.ErrAccessDenied)
	}

	if p.Operation == models.OperationUpdate && marker != nil && *marker != before.Version {
		return nil, &apperrors.ConflictError{Expected: *marker, Current: before.Version}
	}

	var after *models.Record
	switch p.Operation {
	case models.OperationInsert:
		after = &models.Record{ID: insertID(p), Fields: models.CloneFields(fields)}
	case models.OperationUpsert:
		after = &models.Record{ID: insertID(p), Fields: models.CloneFields(fields)}
		if before != nil {
			after.ID = before.ID
			after.Version = before.Version
		}
	case models.OperationUpdate:
		after = before.Clone()
		after.Fields = models.MergeFields(before.Fields, fields)
	case models.OperationDelete:
	}

	if after != nil {
		after.Collection = coll.Name()
		after.OrganizationID = p.OrganizationID
		after.ProjectID = p.ProjectID
		if after.Fields == nil {
			after.Fields = map[string]any{}
		}
		if !grant.CanAccess(coll.AreaOf(after.Fields)) {
			return nil, fmt.Errorf("area %q: %w", coll.AreaOf(after.Fields), apperrors.ErrAccessDenied)
		}
	}

	return &applyPlan{collection: coll, before: before, after: after, payload: fields}, nil
}

// findUpsertTarget resolves the record an upsert replaces: by target_id when
// given, else by the collection's natural key. A missing record is not an error.
func (s *changeReviewService) findUpsertTarget(ctx context.Context, coll collections.TargetCollection, p *models.ChangeProposal, fields map[string]any) (*models.Record, error) {
	var rec *models.Record
	var err error
	if p.TargetID != "" {
		rec, err = coll.Get(ctx, p.Scope(), p.TargetID)
	} else if key := coll.KeyOf(fields); key != nil {
		rec, err = coll.FindByKey(ctx, p.Scope(), key)
	} else {
		return nil, nil
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

// insertID derives the id of a record created by p. Deriving it from the
// proposal makes a duplicate apply of the same proposal collide.
func insertID(p *models.ChangeProposal) string {
	if p.TargetID != "" {
		return p.TargetID
	}
	return p.ID.String()
}

// execute performs the planned write with a version check against the
// record read during planning.
func (s *changeReviewService) execute(ctx context.Context, p *models.ChangeProposal, pl *applyPlan) (*models.Record, error) {
	start := time.Now()
	var err error
	var written *models.Record

	switch {
	case p.Operation == models.OperationDelete:
		err = pl.collection.Delete(ctx, p.Scope(), pl.before.ID, pl.before.Version)
	case pl.before == nil:
		written = pl.after.Clone()
		err = pl.collection.Insert(ctx, written)
	default:
		written = pl.after.Clone()
		err = pl.collection.Update(ctx, written, pl.before.Version)
	}
	metrics.ObserveApply(string(p.Operation), start, err)

	if err == nil {
		return written, nil
	}
	if errors.Is(err, apperrors.ErrConflict) || errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}
	return nil, &apperrors.ApplyError{Op: string(p.Operation), Collection: pl.collection.Name(), Cause: err}
}

func (s *changeReviewService) Approve(ctx context.Context, scope models.Scope, id uuid.UUID, actor models.Actor, editedPayload map[string]any) (*ApplyResult, error) {
	result, err := s.approve(ctx, scope, id, actor, editedPayload)
	if err != nil {
		metrics.RecordError("approve", apperrors.Kind(err))
	}
	return result, err
}

func (s *changeReviewService) approve(ctx context.Context, scope models.Scope, id uuid.UUID, actor models.Actor, editedPayload map[string]any) (*ApplyResult, error) {
	p, err := s.proposals.GetByID(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if !p.Status.CanTransitionTo(models.ProposalStatusApplied) {
		return nil, &apperrors.TransitionError{From: string(p.Status), Action: "approve"}
	}

	payload := p.Payload
	if editedPayload != nil {
		payload = models.CloneFields(editedPayload)
	}

	pl, err := s.plan(ctx, p, payload, actor)
	if errors.Is(err, apperrors.ErrAccessDenied) {
		// denied before any write: the proposal stays as it was
		s.logger.Info("Approve denied by visibility",
			zap.String("proposal_id", p.ID.String()),
			zap.String("user_id", actor.UserID))
		return nil, err
	}
	if err != nil {
		return nil, s.recordFailure(ctx, p, actor, err)
	}

	record, err := s.execute(ctx, p, pl)
	if err != nil {
		return nil, s.recordFailure(ctx, p, actor, err)
	}

	applied, err := s.recordSuccess(ctx, p, actor, payload, pl, record)
	if err != nil {
		return nil, err
	}

	details := map[string]any{
		"change_kind":       applied.ChangeKind,
		"operation":         string(applied.Operation),
		"target_collection": applied.TargetCollection,
		"target_id":         applied.TargetID,
	}
	if pl.before != nil && pl.after != nil {
		details["changes"] = models.DiffFields(pl.before.Fields, pl.after.Fields)
	}
	s.emit(ctx, applied, models.AuditEventApplied, actor.UserID, details)

	s.logger.Info("Applied change proposal",
		zap.String("proposal_id", applied.ID.String()),
		zap.String("operation", string(applied.Operation)),
		zap.String("target_collection", applied.TargetCollection),
		zap.String("target_id", applied.TargetID),
		zap.String("user_id", actor.UserID))

	return &ApplyResult{Proposal: applied, Record: record}, nil
}

// recordSuccess moves p to applied. The target write has already committed,
// so a revision conflict is retried against the reloaded proposal as long as
// it can still transition to applied.
func (s *changeReviewService) recordSuccess(ctx context.Context, p *models.ChangeProposal, actor models.Actor, payload map[string]any, pl *applyPlan, record *models.Record) (*models.ChangeProposal, error) {
	now := s.now()
	current := p
	for attempt := 1; ; attempt++ {
		from := current.Status
		next := current.Clone()
		next.Status = models.ProposalStatusApplied
		next.Payload = models.CloneFields(payload)
		next.StampApproval(actor.UserID, now)
		next.AppliedBy = &actor.UserID
		next.AppliedAt = &now
		next.Error = nil
		next.Snapshot = nil
		if p.Operation.CapturesSnapshot() && pl.before != nil {
			next.Snapshot = pl.before.Snapshot()
		}
		switch {
		case record != nil:
			next.TargetID = record.ID
		case pl.before != nil:
			next.TargetID = pl.before.ID
		}

		err := s.proposals.Update(ctx, next)
		if err == nil {
			metrics.RecordTransition(string(from), string(models.ProposalStatusApplied))
			return next, nil
		}
		if !errors.Is(err, apperrors.ErrConflict) || attempt >= maxRecordAttempts {
			s.logger.Error("Target written but proposal status not recorded",
				zap.String("proposal_id", p.ID.String()),
				zap.Error(err))
			return nil, fmt.Errorf("failed to record applied proposal: %w", err)
		}

		current, err = s.proposals.GetByID(ctx, p.Scope(), p.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload proposal: %w", err)
		}
		if !current.Status.CanTransitionTo(models.ProposalStatusApplied) {
			s.logger.Error("Proposal changed concurrently after its target was written",
				zap.String("proposal_id", p.ID.String()),
				zap.String("status", string(current.Status)))
			return nil, &apperrors.TransitionError{From: string(current.Status), Action: "approve", Reason: "changed concurrently"}
		}
	}
}

// recordFailure stores cause on p as a failed attempt and returns cause. If
// another approver finished the proposal meanwhile, their outcome wins and an
// invalid transition is returned instead.
func (s *changeReviewService) recordFailure(ctx context.Context, p *models.ChangeProposal, actor models.Actor, cause error) error {
	now := s.now()
	msg := logging.SanitizeError(cause)

	next := p.Clone()
	next.Status = models.ProposalStatusFailed
	next.Error = &msg
	next.StampApproval(actor.UserID, now)
	next.Snapshot = nil

	if err := s.proposals.Update(ctx, next); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			if current, getErr := s.proposals.GetByID(ctx, p.Scope(), p.ID); getErr == nil && current.Status.IsTerminal() {
				return &apperrors.TransitionError{From: string(current.Status), Action: "approve"}
			}
		}
		s.logger.Error("Failed to record failed approve",
			zap.String("proposal_id", p.ID.String()),
			zap.String("cause", msg),
			zap.Error(err))
		return cause
	}

	metrics.RecordTransition(string(p.Status), string(models.ProposalStatusFailed))
	s.emit(ctx, next, models.AuditEventFailed, actor.UserID, map[string]any{
		"operation":         string(next.Operation),
		"target_collection": next.TargetCollection,
		"target_id":         next.TargetID,
		"error":             msg,
		"error_kind":        apperrors.Kind(cause),
	})

	s.logger.Warn("Change proposal failed to apply",
		zap.String("proposal_id", p.ID.String()),
		zap.String("error_kind", apperrors.Kind(cause)),
		zap.String("error", msg))

	return cause
}

func (s *changeReviewService) Reject(ctx context.Context, scope models.Scope, id uuid.UUID, actor models.Actor) (*models.ChangeProposal, error) {
	p, err := s.proposals.GetByID(ctx, scope, id)
	if err != nil {
		metrics.RecordError("reject", apperrors.Kind(err))
		return nil, err
	}
	if !p.Status.CanTransitionTo(models.ProposalStatusRejected) {
		err := &apperrors.TransitionError{From: string(p.Status), Action: "reject"}
		metrics.RecordError("reject", apperrors.Kind(err))
		return nil, err
	}

	now := s.now()
	next := p.Clone()
	next.Status = models.ProposalStatusRejected
	next.StampApproval(actor.UserID, now)
	next.Error = nil

	if err := s.proposals.Update(ctx, next); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			err = &apperrors.TransitionError{From: string(p.Status), Action: "reject", Reason: "changed concurrently"}
		}
		metrics.RecordError("reject", apperrors.Kind(err))
		return nil, err
	}

	metrics.RecordTransition(string(p.Status), string(models.ProposalStatusRejected))
	s.emit(ctx, next, models.AuditEventRejected, actor.UserID, map[string]any{
		"change_kind":       next.ChangeKind,
		"target_collection": next.TargetCollection,
		"target_id":         next.TargetID,
	})
	return next, nil
}

func (s *changeReviewService) BatchApprove(ctx context.Context, scope models.Scope, ids []uuid.UUID, actor models.Actor) []BatchApproveResult {
	results := make([]BatchApproveResult, 0, len(ids))
	for _, id := range ids {
		res := BatchApproveResult{ProposalID: id}
		applied, err := s.Approve(ctx, scope, id, actor, nil)
		if err != nil {
			res.Error = err.Error()
			res.ErrorKind = apperrors.Kind(err)
			if p, getErr := s.proposals.GetByID(ctx, scope, id); getErr == nil {
				res.Status = p.Status
			}
		} else {
			res.Status = applied.Proposal.Status
			res.Record = applied.Record
		}
		results = append(results, res)
	}
	return results
}

func (s *changeReviewService) Undo(ctx context.Context, scope models.Scope, id uuid.UUID, actor models.Actor) error {
	err := s.undo(ctx, scope, id, actor)
	if err != nil {
		metrics.RecordError("undo", apperrors.Kind(err))
	}
	return err
}

func (s *changeReviewService) undo(ctx context.Context, scope models.Scope, id uuid.UUID, actor models.Actor) error {
	p, err := s.proposals.GetByID(ctx, scope, id)
	if err != nil {
		return err
	}
	if p.Status != models.ProposalStatusApplied {
		return &apperrors.TransitionError{From: string(p.Status), Action: "undo", Reason: "only applied proposals can be undone"}
	}
	if p.Snapshot == nil {
		return &apperrors.TransitionError{From: string(p.Status), Action: "undo", Reason: "no snapshot was captured"}
	}

	coll, err := s.collections.Lookup(p.TargetCollection)
	if err != nil {
		return err
	}

	grant := s.visibility.Resolve(ctx, scope, actor)
	if !grant.CanAccess(coll.AreaOf(p.Snapshot.Fields)) {
		return fmt.Errorf("record %s/%s: %w", coll.Name(), p.Snapshot.ID, apperrors.ErrAccessDenied)
	}
	current, err := coll.Get(ctx, scope, p.Snapshot.ID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if current != nil && !grant.CanAccess(coll.AreaOf(current.Fields)) {
		return fmt.Errorf("record %s/%s: %w", coll.Name(), current.ID, apperrors.ErrAccessDenied)
	}

	start := time.Now()
	_, err = coll.Restore(ctx, scope, p.Snapshot)
	metrics.ObserveApply("restore", start, err)
	if err != nil {
		return &apperrors.ApplyError{Op: "restore", Collection: coll.Name(), Cause: err}
	}

	s.emit(ctx, p, models.AuditEventUndo, actor.UserID, map[string]any{
		"proposal_id":       p.ID.String(),
		"target_collection": p.TargetCollection,
		"target_id":         p.Snapshot.ID,
	})

	s.logger.Info("Undid change proposal",
		zap.String("proposal_id", p.ID.String()),
		zap.String("target_collection", p.TargetCollection),
		zap.String("target_id", p.Snapshot.ID),
		zap.String("user_id", actor.UserID))
	return nil
}

func (s *changeReviewService) DryRun(ctx context.Context, scope models.Scope, id uuid.UUID, actor models.Actor) (*DryRunResult, error) {
	p, err := s.proposals.GetByID(ctx, scope, id)
	if err != nil {
		metrics.RecordError("dry_run", apperrors.Kind(err))
		return nil, err
	}
	if !p.Status.CanTransitionTo(models.ProposalStatusApplied) {
		err := &apperrors.TransitionError{From: string(p.Status), Action: "dry-run"}
		metrics.RecordError("dry_run", apperrors.Kind(err))
		return nil, err
	}

	pl, err := s.plan(ctx, p, p.Payload, actor)
	if err != nil {
		metrics.RecordError("dry_run", apperrors.Kind(err))
		return nil, err
	}

	result := &DryRunResult{Proposal: p, Before: pl.before, After: pl.after}
	if pl.after != nil {
		var base map[string]any
		if pl.before != nil {
			base = pl.before.Fields
		}
		result.Changes = models.DiffFields(base, pl.after.Fields)
	}
	return result, nil
}

func (s *changeReviewService) Stats(ctx context.Context, scope models.Scope) (*models.ProposalStats, error) {
	byStatus, err := s.proposals.CountByStatus(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to count proposals by status: %w", err)
	}
	byKind, err := s.proposals.CountByKind(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to count proposals by kind: %w", err)
	}
	return &models.ProposalStats{ByStatus: byStatus, ByChangeKind: byKind}, nil
}

func (s *changeReviewService) ListAudit(ctx context.Context, scope models.Scope, limit int) ([]*models.AuditEvent, error) {
	return s.audit.ListByProject(ctx, scope, limit)
}

func (s *changeReviewService) ListRecords(ctx context.Context, scope models.Scope, actor models.Actor, collection string) ([]*models.Record, error) {
	coll, err := s.collections.Lookup(collection)
	if err != nil {
		return nil, err
	}
	records, err := coll.List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	grant := s.visibility.Resolve(ctx, scope, actor)
	return FilterByArea(records, grant, func(r *models.Record) string {
		return coll.AreaOf(r.Fields)
	}), nil
}

func (s *changeReviewService) emit(ctx context.Context, p *models.ChangeProposal, kind, actorID string, details map[string]any) {
	projectID := p.ProjectID
	proposalID := p.ID
	s.audit.Emit(ctx, models.AuditEvent{
		OrganizationID: p.OrganizationID,
		ProjectID:      &projectID,
		Kind:           kind,
		ActorID:        actorID,
		ProposalID:     &proposalID,
		Details:        details,
	})
}

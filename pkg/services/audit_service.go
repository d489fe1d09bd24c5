package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/logging"
	"github.com/ekaya-inc/ekaya-review/pkg/metrics"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
	"github.com/ekaya-inc/ekaya-review/pkg/notify"
	"github.com/ekaya-inc/ekaya-review/pkg/repositories"
)

// AuditSink records review events and fans them out as notifications.
type AuditSink interface {
	// Emit appends event to the audit trail and dispatches notifications.
	// It never fails: every error is logged and dropped.
	Emit(ctx context.Context, event models.AuditEvent)

	// ListByProject returns the recorded events of a project, newest first.
	// When the store is unavailable and a journal is configured, the events
	// are read from the journal instead.
	ListByProject(ctx context.Context, scope models.Scope, limit int) ([]*models.AuditEvent, error)

	// ListByProposal returns the recorded events of a proposal, oldest first.
	ListByProposal(ctx context.Context, scope models.Scope, proposalID uuid.UUID) ([]*models.AuditEvent, error)
}

// AuditJournal is a secondary append-only copy of the audit trail.
type AuditJournal interface {
	Append(ctx context.Context, event *models.AuditEvent) error
	List(ctx context.Context, scope models.Scope, limit int) ([]*models.AuditEvent, error)
}

// NotificationDispatcher delivers notifications without blocking the caller.
type NotificationDispatcher interface {
	Dispatch(n notify.Notification)
}

type auditSink struct {
	repo       repositories.AuditRepository
	journal    AuditJournal
	dispatcher NotificationDispatcher
	logger     *zap.Logger
	now        func() time.Time
}

// AuditSinkDeps contains dependencies for AuditSink.
type AuditSinkDeps struct {
	Repo       repositories.AuditRepository
	Journal    AuditJournal           // Optional
	Dispatcher NotificationDispatcher // Optional
	Logger     *zap.Logger
}

// NewAuditSink creates a new AuditSink.
func NewAuditSink(deps *AuditSinkDeps) AuditSink {
	return &auditSink{
		repo:       deps.Repo,
		journal:    deps.Journal,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger.Named("audit"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

var _ AuditSink = (*auditSink)(nil)

func (s *auditSink) Emit(ctx context.Context, event models.AuditEvent) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	// the caller may abandon its request once the operation has committed
	ctx = context.WithoutCancel(ctx)

	if err := s.repo.Create(ctx, &event); err != nil {
		metrics.RecordAuditFailure("store")
		s.logger.Error("Failed to record audit event",
			zap.String("kind", event.Kind),
			zap.String("event_id", event.ID.String()),
			zap.String("error", logging.SanitizeError(err)))
	}

	if s.journal != nil {
		if err := s.journal.Append(ctx, &event); err != nil {
			metrics.RecordAuditFailure("journal")
			s.logger.Error("Failed to journal audit event",
				zap.String("kind", event.Kind),
				zap.String("event_id", event.ID.String()),
				zap.Error(err))
		}
	}

	if s.dispatcher != nil {
		s.dispatcher.Dispatch(notify.Notification{
			Kind:           event.Kind,
			OrganizationID: event.OrganizationID,
			ProjectID:      event.ProjectID,
			ProposalID:     event.ProposalID,
			ActorID:        event.ActorID,
			Details:        models.CloneFields(event.Details),
			CreatedAt:      event.CreatedAt,
		})
	}
}

func (s *auditSink) ListByProject(ctx context.Context, scope models.Scope, limit int) ([]*models.AuditEvent, error) {
	events, err := s.repo.ListByProject(ctx, scope, limit)
	if err == nil || s.journal == nil {
		return events, err
	}

	s.logger.Warn("Audit store unavailable, reading journal",
		zap.String("project_id", scope.ProjectID.String()),
		zap.String("error", logging.SanitizeError(err)))
	events, jerr := s.journal.List(ctx, scope, limit)
	if jerr != nil {
		return nil, fmt.Errorf("audit store: %w; journal: %w", err, jerr)
	}
	return events, nil
}

func (s *auditSink) ListByProposal(ctx context.Context, scope models.Scope, proposalID uuid.UUID) ([]*models.AuditEvent, error) {
	return s.repo.ListByProposal(ctx, scope, proposalID)
}

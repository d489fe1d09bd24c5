package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekaya-inc/ekaya-review/pkg/database"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
)

// AuditRepository provides append-only access to the review audit trail.
type AuditRepository interface {
	// Create appends an event. ID and CreatedAt are assigned when zero.
	Create(ctx context.Context, event *models.AuditEvent) error

	// ListByProject returns the events of a scope, newest first.
	ListByProject(ctx context.Context, scope models.Scope, limit int) ([]*models.AuditEvent, error)

	// ListByProposal returns the events recorded for one proposal, oldest first.
	ListByProposal(ctx context.Context, scope models.Scope, proposalID uuid.UUID) ([]*models.AuditEvent, error)
}

type auditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a PostgreSQL-backed AuditRepository.
func NewAuditRepository(db *database.DB) AuditRepository {
	return &auditRepository{db: db}
}

var _ AuditRepository = (*auditRepository)(nil)

const auditColumns = `id, organization_id, project_id, kind, actor_id, proposal_id, details, created_at`

func (r *auditRepository) Create(ctx context.Context, event *models.AuditEvent) error {
	conn, release, err := r.eventConn(ctx, event.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var details []byte
	if len(event.Details) > 0 {
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO engine_review_audit_log (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID,
		event.OrganizationID,
		event.ProjectID,
		event.Kind,
		nullableString(event.ActorID),
		event.ProposalID,
		details,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit event: %w", err)
	}
	return nil
}

// eventConn returns a tenant connection for project events and an unscoped
// one for organization-level events.
func (r *auditRepository) eventConn(ctx context.Context, projectID *uuid.UUID) (*pgxpool.Conn, func(), error) {
	if projectID != nil {
		return r.db.ScopedConn(ctx, *projectID)
	}
	scope, err := r.db.WithoutTenant(ctx)
	if err != nil {
		return nil, nil, err
	}
	return scope.Conn, scope.Close, nil
}

func (r *auditRepository) ListByProject(ctx context.Context, scope models.Scope, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.query(ctx, scope, `
		SELECT `+auditColumns+`
		FROM engine_review_audit_log
		WHERE organization_id = $1 AND project_id = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		scope.OrganizationID, scope.ProjectID, limit)
}

func (r *auditRepository) ListByProposal(ctx context.Context, scope models.Scope, proposalID uuid.UUID) ([]*models.AuditEvent, error) {
	return r.query(ctx, scope, `
		SELECT `+auditColumns+`
		FROM engine_review_audit_log
		WHERE organization_id = $1 AND project_id = $2 AND proposal_id = $3
		ORDER BY created_at ASC`,
		scope.OrganizationID, scope.ProjectID, proposalID)
}

func (r *auditRepository) query(ctx context.Context, scope models.Scope, query string, args ...any) ([]*models.AuditEvent, error) {
	conn, release, err := r.db.ScopedConn(ctx, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

func scanAuditEvent(row pgx.Row) (*models.AuditEvent, error) {
	var e models.AuditEvent
	var actorID *string
	var details []byte

	if err := row.Scan(&e.ID, &e.OrganizationID, &e.ProjectID, &e.Kind, &actorID, &e.ProposalID, &details, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}
	if actorID != nil {
		e.ActorID = *actorID
	}
	if err := unmarshalJSONB(details, &e.Details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
	}
	return &e, nil
}

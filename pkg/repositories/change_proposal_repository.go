package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-review/pkg/database"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
)

// DefaultListLimit caps listings when the caller does not set a limit.
const DefaultListLimit = 10000

// ChangeProposalRepository provides data access for change proposals.
type ChangeProposalRepository interface {
	// Create inserts a new proposal. ID and CreatedAt are assigned when zero;
	// Revision is always reset to 1.
	Create(ctx context.Context, p *models.ChangeProposal) error

	// GetByID returns a proposal of the given scope, or apperrors.ErrNotFound.
	GetByID(ctx context.Context, scope models.Scope, id uuid.UUID) (*models.ChangeProposal, error)

	// List returns proposals of a scope, newest first.
	List(ctx context.Context, scope models.Scope, filter models.ProposalFilter) ([]*models.ChangeProposal, error)

	// Update writes every mutable field of p if the stored revision still equals
	// p.Revision, then bumps p.Revision. A stale revision returns *apperrors.ConflictError.
	Update(ctx context.Context, p *models.ChangeProposal) error

	// CountByStatus returns proposal counts of a scope grouped by status.
	CountByStatus(ctx context.Context, scope models.Scope) (map[models.ProposalStatus]int, error)

	// CountByKind returns proposal counts of a scope grouped by change kind.
	CountByKind(ctx context.Context, scope models.Scope) (map[string]int, error)
}

type changeProposalRepository struct {
	db *database.DB
}

// NewChangeProposalRepository creates a PostgreSQL-backed ChangeProposalRepository.
func NewChangeProposalRepository(db *database.DB) ChangeProposalRepository {
	return &changeProposalRepository{db: db}
}

var _ ChangeProposalRepository = (*changeProposalRepository)(nil)

const proposalColumns = `
	id, organization_id, project_id, change_kind, operation, target_collection, target_id,
	payload, source, source_reference, confidence, status, created_by, approved_by, applied_by,
	snapshot, error, created_at, approved_at, applied_at, revision`

func (r *changeProposalRepository) Create(ctx context.Context, p *models.ChangeProposal) error {
	conn, release, err := r.db.ScopedConn(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.Revision = 1

	payload, sourceRef, snapshot, err := marshalProposalJSON(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_change_proposals (` + proposalColumns + `
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err = conn.Exec(ctx, query,
		p.ID,
		p.OrganizationID,
		p.ProjectID,
		p.ChangeKind,
		string(p.Operation),
		p.TargetCollection,
		nullableString(p.TargetID),
		payload,
		string(p.Source),
		sourceRef,
		p.Confidence,
		string(p.Status),
		p.CreatedBy,
		p.ApprovedBy,
		p.AppliedBy,
		snapshot,
		p.Error,
		p.CreatedAt,
		p.ApprovedAt,
		p.AppliedAt,
		p.Revision,
	)
	if err != nil {
		return fmt.Errorf("failed to create change proposal: %w", err)
	}

	return nil
}

func (r *changeProposalRepository) GetByID(ctx context.Context, scope models.Scope, id uuid.UUID) (*models.ChangeProposal, error) {
	conn, release, err := r.db.ScopedConn(ctx, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	query := `SELECT ` + proposalColumns + `
		FROM engine_change_proposals
		WHERE id = $1 AND organization_id = $2 AND project_id = $3`

	p, err := scanProposal(conn.QueryRow(ctx, query, id, scope.OrganizationID, scope.ProjectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("change proposal %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *changeProposalRepository) List(ctx context.Context, scope models.Scope, filter models.ProposalFilter) ([]*models.ChangeProposal, error) {
	conn, release, err := r.db.ScopedConn(ctx, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + proposalColumns + `
		FROM engine_change_proposals
		WHERE organization_id = $1 AND project_id = $2
		  AND ($3 = '' OR status = $3)
		  AND ($4 = '' OR change_kind = $4)
		ORDER BY created_at DESC, id
		LIMIT $5`

	rows, err := conn.Query(ctx, query, scope.OrganizationID, scope.ProjectID, string(filter.Status), filter.ChangeKind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list change proposals: %w", err)
	}
	defer rows.Close()

	proposals := make([]*models.ChangeProposal, 0)
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change proposals: %w", err)
	}

	return proposals, nil
}

func (r *changeProposalRepository) Update(ctx context.Context, p *models.ChangeProposal) error {
	conn, release, err := r.db.ScopedConn(ctx, p.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	payload, _, snapshot, err := marshalProposalJSON(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE engine_change_proposals
		SET target_id = $5, payload = $6, status = $7, approved_by = $8, applied_by = $9,
		    snapshot = $10, error = $11, approved_at = $12, applied_at = $13, revision = revision + 1
		WHERE id = $1 AND organization_id = $2 AND project_id = $3 AND revision = $4`

	tag, err := conn.Exec(ctx, query,
		p.ID,
		p.OrganizationID,
		p.ProjectID,
		p.Revision,
		nullableString(p.TargetID),
		payload,
		string(p.Status),
		p.ApprovedBy,
		p.AppliedBy,
		snapshot,
		p.Error,
		p.ApprovedAt,
		p.AppliedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update change proposal: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var current int64
		err := conn.QueryRow(ctx,
			`SELECT revision FROM engine_change_proposals WHERE id = $1 AND organization_id = $2 AND project_id = $3`,
			p.ID, p.OrganizationID, p.ProjectID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("change proposal %s: %w", p.ID, apperrors.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read change proposal revision: %w", err)
		}
		return &apperrors.ConflictError{Expected: p.Revision, Current: current}
	}

	p.Revision++
	return nil
}

func (r *changeProposalRepository) CountByStatus(ctx context.Context, scope models.Scope) (map[models.ProposalStatus]int, error) {
	counts, err := r.countBy(ctx, scope, "status")
	if err != nil {
		return nil, err
	}
	byStatus := make(map[models.ProposalStatus]int, len(counts))
	for k, v := range counts {
		byStatus[models.ProposalStatus(k)] = v
	}
	return byStatus, nil
}

func (r *changeProposalRepository) CountByKind(ctx context.Context, scope models.Scope) (map[string]int, error) {
	return r.countBy(ctx, scope, "change_kind")
}

// countBy groups proposals of a scope by column, which must be a trusted identifier.
func (r *changeProposalRepository) countBy(ctx context.Context, scope models.Scope, column string) (map[string]int, error) {
	conn, release, err := r.db.ScopedConn(ctx, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	query := fmt.Sprintf(`
		SELECT %s, COUNT(*) AS count
		FROM engine_change_proposals
		WHERE organization_id = $1 AND project_id = $2
		GROUP BY %s`, column, column)

	rows, err := conn.Query(ctx, query, scope.OrganizationID, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to count change proposals by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}

	return counts, nil
}

// Helper functions

func marshalProposalJSON(p *models.ChangeProposal) (payload, sourceRef, snapshot []byte, err error) {
	fields := p.Payload
	if fields == nil {
		fields = map[string]any{}
	}
	payload, err = json.Marshal(fields)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if p.SourceReference != nil {
		sourceRef, err = json.Marshal(p.SourceReference)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal source_reference: %w", err)
		}
	}
	if p.Snapshot != nil {
		snapshot, err = json.Marshal(p.Snapshot)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal snapshot: %w", err)
		}
	}
	return payload, sourceRef, snapshot, nil
}

func scanProposal(row pgx.Row) (*models.ChangeProposal, error) {
	var p models.ChangeProposal
	var targetID *string
	var operation, source, status string
	var payload, sourceRef, snapshot []byte

	err := row.Scan(
		&p.ID,
		&p.OrganizationID,
		&p.ProjectID,
		&p.ChangeKind,
		&operation,
		&p.TargetCollection,
		&targetID,
		&payload,
		&source,
		&sourceRef,
		&p.Confidence,
		&status,
		&p.CreatedBy,
		&p.ApprovedBy,
		&p.AppliedBy,
		&snapshot,
		&p.Error,
		&p.CreatedAt,
		&p.ApprovedAt,
		&p.AppliedAt,
		&p.Revision,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan change proposal: %w", err)
	}

	if p.Operation, err = models.ParseOperation(operation); err != nil {
		return nil, fmt.Errorf("failed to scan change proposal %s: %w", p.ID, err)
	}
	if p.Status, err = models.ParseProposalStatus(status); err != nil {
		return nil, fmt.Errorf("failed to scan change proposal %s: %w", p.ID, err)
	}
	p.Source = models.ProvenanceSource(source)
	if targetID != nil {
		p.TargetID = *targetID
	}

	if err := unmarshalJSONB(payload, &p.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	if len(sourceRef) > 0 && string(sourceRef) != "null" {
		p.SourceReference = &models.SourceReference{}
		if err := json.Unmarshal(sourceRef, p.SourceReference); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source_reference: %w", err)
		}
	}
	if len(snapshot) > 0 && string(snapshot) != "null" {
		p.Snapshot = &models.RecordSnapshot{}
		if err := json.Unmarshal(snapshot, p.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
	}

	return &p, nil
}

func unmarshalJSONB(data []byte, dest *map[string]any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, dest)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

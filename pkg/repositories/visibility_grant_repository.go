package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-review/pkg/database"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
)

// VisibilityGrantRepository provides access to per-user area grants.
type VisibilityGrantRepository interface {
	// Get returns the grant of userID in scope, or apperrors.ErrNotFound.
	Get(ctx context.Context, scope models.Scope, userID string) (*models.VisibilityGrant, error)

	// Upsert creates or replaces a grant. Used by membership management and tests.
	Upsert(ctx context.Context, grant *models.VisibilityGrant) error
}

type visibilityGrantRepository struct {
	db *database.DB
}

// NewVisibilityGrantRepository creates a PostgreSQL-backed VisibilityGrantRepository.
func NewVisibilityGrantRepository(db *database.DB) VisibilityGrantRepository {
	return &visibilityGrantRepository{db: db}
}

var _ VisibilityGrantRepository = (*visibilityGrantRepository)(nil)

func (r *visibilityGrantRepository) Get(ctx context.Context, scope models.Scope, userID string) (*models.VisibilityGrant, error) {
	conn, release, err := r.db.ScopedConn(ctx, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	var g models.VisibilityGrant
	err = conn.QueryRow(ctx, `
		SELECT organization_id, project_id, user_id, can_view_all, areas
		FROM engine_visibility_grants
		WHERE organization_id = $1 AND project_id = $2 AND user_id = $3`,
		scope.OrganizationID, scope.ProjectID, userID,
	).Scan(&g.OrganizationID, &g.ProjectID, &g.UserID, &g.CanViewAll, &g.Areas)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("visibility grant for %s: %w", userID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get visibility grant: %w", err)
	}
	if g.Areas == nil {
		g.Areas = []string{}
	}
	return &g, nil
}

func (r *visibilityGrantRepository) Upsert(ctx context.Context, grant *models.VisibilityGrant) error {
	conn, release, err := r.db.ScopedConn(ctx, grant.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	areas := grant.Areas
	if areas == nil {
		areas = []string{}
	}

	_, err = conn.Exec(ctx, `
		INSERT INTO engine_visibility_grants (organization_id, project_id, user_id, can_view_all, areas, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (organization_id, project_id, user_id)
		DO UPDATE SET can_view_all = EXCLUDED.can_view_all, areas = EXCLUDED.areas, updated_at = now()`,
		grant.OrganizationID, grant.ProjectID, grant.UserID, grant.CanViewAll, areas)
	if err != nil {
		return fmt.Errorf("failed to upsert visibility grant: %w", err)
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"slices"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
	"github.com/ekaya-inc/ekaya-review/pkg/repositories"
)

// VisibilityService decides which record areas an actor may see or mutate.
type VisibilityService interface {
	// Resolve returns the actor's grant for a project. Elevated roles get full
	// visibility without a lookup; a missing grant or failed lookup yields no
	// visibility.
	Resolve(ctx context.Context, scope models.Scope, actor models.Actor) *models.VisibilityGrant

	// IsElevated reports whether the actor's role bypasses area checks.
	IsElevated(actor models.Actor) bool
}

type visibilityService struct {
	grants        repositories.VisibilityGrantRepository
	elevatedRoles []string
	logger        *zap.Logger
}

// NewVisibilityService creates a VisibilityService. An empty elevatedRoles
// uses models.DefaultElevatedRoles.
func NewVisibilityService(grants repositories.VisibilityGrantRepository, elevatedRoles []string, logger *zap.Logger) VisibilityService {
	if len(elevatedRoles) == 0 {
		elevatedRoles = models.DefaultElevatedRoles
	}
	return &visibilityService{
		grants:        grants,
		elevatedRoles: slices.Clone(elevatedRoles),
		logger:        logger.Named("visibility"),
	}
}

var _ VisibilityService = (*visibilityService)(nil)

func (s *visibilityService) IsElevated(actor models.Actor) bool {
	return actor.HasRole(s.elevatedRoles)
}

func (s *visibilityService) Resolve(ctx context.Context, scope models.Scope, actor models.Actor) *models.VisibilityGrant {
	if s.IsElevated(actor) {
		return models.FullVisibility()
	}

	grant, err := s.grants.Get(ctx, scope, actor.UserID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Warn("Visibility grant lookup failed, denying all areas",
				zap.String("project_id", scope.ProjectID.String()),
				zap.String("user_id", actor.UserID),
				zap.Error(err))
		}
		return models.NoVisibility()
	}
	if grant == nil {
		return models.NoVisibility()
	}
	return grant
}

// FilterByArea returns the items whose area is accessible under grant.
func FilterByArea[T any](items []T, grant *models.VisibilityGrant, areaOf func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if grant.CanAccess(areaOf(item)) {
			out = append(out, item)
		}
	}
	return out
}

// FilterByAreas returns the items whose areas are all accessible under grant.
// Items whose areas cannot be determined are dropped.
func FilterByAreas[T any](items []T, grant *models.VisibilityGrant, areasOf func(T) ([]string, bool)) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		areas, ok := areasOf(item)
		if !ok {
			continue
		}
		visible := true
		for _, area := range areas {
			if !grant.CanAccess(area) {
				visible = false
				break
			}
		}
		if visible {
			out = append(out, item)
		}
	}
	return out
}

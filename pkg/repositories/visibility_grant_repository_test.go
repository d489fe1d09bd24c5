//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
	"github.com/ekaya-inc/ekaya-review/pkg/testhelpers"
)

func TestVisibilityGrantRepository_GetUpsert(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewVisibilityGrantRepository(engineDB.DB)
	scope := testhelpers.NewScope()
	ctx := context.Background()

	_, err := repo.Get(ctx, scope, "alice")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	grant := &models.VisibilityGrant{
		OrganizationID: scope.OrganizationID,
		ProjectID:      scope.ProjectID,
		UserID:         "alice",
		Areas:          []string{"HCM"},
	}
	require.NoError(t, repo.Upsert(ctx, grant))

	got, err := repo.Get(ctx, scope, "alice")
	require.NoError(t, err)
	assert.False(t, got.CanViewAll)
	assert.Equal(t, []string{"HCM"}, got.Areas)

	grant.CanViewAll = true
	grant.Areas = nil
	require.NoError(t, repo.Upsert(ctx, grant))

	got, err = repo.Get(ctx, scope, "alice")
	require.NoError(t, err)
	assert.True(t, got.CanViewAll)
	assert.Empty(t, got.Areas)
}

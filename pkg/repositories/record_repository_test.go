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

func setupRecordTest(t *testing.T) (RecordRepository, models.Scope) {
	t.Helper()
	engineDB := testhelpers.GetEngineDB(t)
	return NewRecordRepository(engineDB.DB), testhelpers.NewScope()
}

func newRecord(scope models.Scope, id string, fields map[string]any) *models.Record {
	return &models.Record{
		Collection:     "risks",
		ID:             id,
		OrganizationID: scope.OrganizationID,
		ProjectID:      scope.ProjectID,
		Fields:         fields,
	}
}

func TestRecordRepository_InsertGetUpdate(t *testing.T) {
	repo, scope := setupRecordTest(t)
	ctx := context.Background()

	rec := newRecord(scope, "R1", map[string]any{"title": "Vendor lock-in", "severity": "low", "area": "HCM"})
	require.NoError(t, repo.Insert(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	err := repo.Insert(ctx, newRecord(scope, "R1", map[string]any{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	got, err := repo.Get(ctx, scope, "risks", "R1")
	require.NoError(t, err)
	assert.Equal(t, "low", got.Fields["severity"])

	got.Fields["severity"] = "high"
	require.NoError(t, repo.Update(ctx, got, 1))
	assert.Equal(t, int64(2), got.Version)

	stale := newRecord(scope, "R1", map[string]any{"severity": "medium"})
	err = repo.Update(ctx, stale, 1)
	var conflict *apperrors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(2), conflict.Current)

	err = repo.Update(ctx, newRecord(scope, "missing", map[string]any{}), 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRecordRepository_FindByFieldsAndList(t *testing.T) {
	repo, scope := setupRecordTest(t)
	ctx := context.Background()

	require.NoError(t, repo.Insert(ctx, newRecord(scope, "R1", map[string]any{"title": "A"})))
	require.NoError(t, repo.Insert(ctx, newRecord(scope, "R2", map[string]any{"title": "B"})))

	found, err := repo.FindByFields(ctx, scope, "risks", map[string]any{"title": "B"})
	require.NoError(t, err)
	assert.Equal(t, "R2", found.ID)

	_, err = repo.FindByFields(ctx, scope, "risks", map[string]any{"title": "C"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	all, err := repo.List(ctx, scope, "risks")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "R1", all[0].ID)
}

func TestRecordRepository_PutAndDelete(t *testing.T) {
	repo, scope := setupRecordTest(t)
	ctx := context.Background()

	rec := newRecord(scope, "R1", map[string]any{"title": "A"})
	require.NoError(t, repo.Put(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	rec.Fields = map[string]any{"title": "A2"}
	require.NoError(t, repo.Put(ctx, rec))
	assert.Equal(t, int64(2), rec.Version)

	var conflict *apperrors.ConflictError
	require.ErrorAs(t, repo.Delete(ctx, scope, "risks", "R1", 1), &conflict)

	require.NoError(t, repo.Delete(ctx, scope, "risks", "R1", 2))
	_, err := repo.Get(ctx, scope, "risks", "R1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

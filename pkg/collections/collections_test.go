package collections

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-review/pkg/config"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
	"github.com/ekaya-inc/ekaya-review/pkg/repositories/memstore"
)

func TestRegistryFromConfig(t *testing.T) {
	reg, err := NewRegistryFromConfig(config.DefaultCollections(), memstore.NewRecordStore())
	require.NoError(t, err)

	assert.Equal(t, []string{"actions", "decisions", "integrations", "issues", "risks"}, reg.Names())

	risks, err := reg.Lookup("risks")
	require.NoError(t, err)
	assert.Equal(t, "risks", risks.Name())

	_, err = reg.Lookup("meetings")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRegistry_DuplicateName(t *testing.T) {
	_, err := NewRegistryFromConfig([]config.CollectionConfig{{Name: "risks"}, {Name: "risks"}}, memstore.NewRecordStore())
	assert.Error(t, err)

	reg := NewRegistry()
	assert.Error(t, reg.Register(NewDocumentCollection(config.CollectionConfig{Name: " "}, memstore.NewRecordStore())))
}

func TestDocumentCollection_AreaAndKey(t *testing.T) {
	c := NewDocumentCollection(config.CollectionConfig{Name: "risks", AreaField: "area", KeyFields: []string{"title", "owner"}}, memstore.NewRecordStore())

	assert.Equal(t, "HCM", c.AreaOf(map[string]any{"area": " HCM "}))
	assert.Equal(t, "", c.AreaOf(map[string]any{"area": nil}))
	assert.Equal(t, "", c.AreaOf(map[string]any{"area": 7}))
	assert.Equal(t, "", c.AreaOf(nil))

	assert.Equal(t, map[string]any{"title": "A", "owner": "bo"}, c.KeyOf(map[string]any{"title": "A", "owner": "bo", "x": 1}))
	assert.Nil(t, c.KeyOf(map[string]any{"title": "A"}))

	unrestricted := NewDocumentCollection(config.CollectionConfig{Name: "notes"}, memstore.NewRecordStore())
	assert.Equal(t, "", unrestricted.AreaOf(map[string]any{"area": "HCM"}))
	assert.Nil(t, unrestricted.KeyOf(map[string]any{"title": "A"}))
}

func TestDocumentCollection_RestoreRecreatesDeleted(t *testing.T) {
	ctx := context.Background()
	scope := models.Scope{OrganizationID: uuid.New(), ProjectID: uuid.New()}
	c := NewDocumentCollection(config.CollectionConfig{Name: "risks", AreaField: "area"}, memstore.NewRecordStore())

	rec := &models.Record{ID: "R1", OrganizationID: scope.OrganizationID, ProjectID: scope.ProjectID, Fields: map[string]any{"severity": "low"}}
	require.NoError(t, c.Insert(ctx, rec))
	assert.Equal(t, "risks", rec.Collection)

	snap := rec.Snapshot()
	require.NoError(t, c.Delete(ctx, scope, "R1", rec.Version))

	restored, err := c.Restore(ctx, scope, snap)
	require.NoError(t, err)
	assert.Equal(t, "low", restored.Fields["severity"])

	got, err := c.Get(ctx, scope, "R1")
	require.NoError(t, err)
	assert.Equal(t, snap.Fields, got.Fields)

	_, err = c.Restore(ctx, scope, nil)
	assert.Error(t, err)
}

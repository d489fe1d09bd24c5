package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/models"
	"github.com/ekaya-inc/ekaya-review/pkg/repositories/memstore"
)

func TestVisibilityService_Resolve(t *testing.T) {
	ctx := context.Background()
	scope := models.Scope{OrganizationID: uuid.New(), ProjectID: uuid.New()}
	grants := memstore.New().Grants
	require.NoError(t, grants.Upsert(ctx, &models.VisibilityGrant{
		OrganizationID: scope.OrganizationID,
		ProjectID:      scope.ProjectID,
		UserID:         "u1",
		Areas:          []string{"HCM"},
	}))
	svc := NewVisibilityService(grants, nil, zap.NewNop())

	t.Run("elevated role sees everything without lookup", func(t *testing.T) {
		before := grants.Lookups()
		grant := svc.Resolve(ctx, scope, models.Actor{UserID: "boss", Role: models.RoleOwner})
		assert.True(t, grant.CanAccess("Payroll"))
		assert.Equal(t, before, grants.Lookups())
	})

	t.Run("granted areas", func(t *testing.T) {
		grant := svc.Resolve(ctx, scope, models.Actor{UserID: "u1", Role: models.RoleUser})
		assert.True(t, grant.CanAccess("HCM"))
		assert.True(t, grant.CanAccess(""))
		assert.False(t, grant.CanAccess("Payroll"))
	})

	t.Run("missing grant sees only untagged", func(t *testing.T) {
		grant := svc.Resolve(ctx, scope, models.Actor{UserID: "u2", Role: models.RoleData})
		assert.True(t, grant.CanAccess(""))
		assert.False(t, grant.CanAccess("HCM"))
	})

	t.Run("grant of another project does not apply", func(t *testing.T) {
		other := models.Scope{OrganizationID: scope.OrganizationID, ProjectID: uuid.New()}
		grant := svc.Resolve(ctx, other, models.Actor{UserID: "u1", Role: models.RoleUser})
		assert.False(t, grant.CanAccess("HCM"))
	})
}

func TestVisibilityService_LookupFailureDeniesAll(t *testing.T) {
	grants := memstore.New().Grants
	grants.Err = errors.New("timeout")
	svc := NewVisibilityService(grants, nil, zap.NewNop())

	grant := svc.Resolve(context.Background(), models.Scope{OrganizationID: uuid.New(), ProjectID: uuid.New()}, models.Actor{UserID: "u1"})
	assert.False(t, grant.CanAccess("HCM"))
	assert.True(t, grant.CanAccess(""))
}

func TestVisibilityService_CustomElevatedRoles(t *testing.T) {
	svc := NewVisibilityService(memstore.New().Grants, []string{"auditor"}, zap.NewNop())

	assert.True(t, svc.IsElevated(models.Actor{UserID: "a", Role: "auditor"}))
	assert.False(t, svc.IsElevated(models.Actor{UserID: "b", Role: models.RoleAdmin}))
}

func TestFilterByArea(t *testing.T) {
	items := []string{"HCM", "", "Payroll", "HCM"}
	grant := &models.VisibilityGrant{Areas: []string{"HCM"}}

	got := FilterByArea(items, grant, func(s string) string { return s })
	assert.Equal(t, []string{"HCM", "", "HCM"}, got)

	assert.Equal(t, []string{""}, FilterByArea(items, models.NoVisibility(), func(s string) string { return s }))
	assert.Len(t, FilterByArea(items, models.FullVisibility(), func(s string) string { return s }), 4)
}

func TestFilterByAreas(t *testing.T) {
	type item struct {
		name  string
		areas []string
		ok    bool
	}
	items := []item{
		{"untagged", nil, true},
		{"hcm", []string{"HCM"}, true},
		{"retagged", []string{"HCM", "Security"}, true},
		{"unknown", nil, false},
	}
	areasOf := func(i item) ([]string, bool) { return i.areas, i.ok }
	names := func(in []item) []string {
		out := make([]string, 0, len(in))
		for _, i := range in {
			out = append(out, i.name)
		}
		return out
	}

	grant := &models.VisibilityGrant{Areas: []string{"HCM"}}
	assert.Equal(t, []string{"untagged", "hcm"}, names(FilterByAreas(items, grant, areasOf)))
	assert.Equal(t, []string{"untagged"}, names(FilterByAreas(items, models.NoVisibility(), areasOf)))
	assert.Equal(t, []string{"untagged", "hcm", "retagged"}, names(FilterByAreas(items, models.FullVisibility(), areasOf)))
}

//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-review/pkg/models"
	"github.com/ekaya-inc/ekaya-review/pkg/testhelpers"
)

func TestAuditRepository_CreateAndList(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewAuditRepository(engineDB.DB)
	scope := testhelpers.NewScope()
	ctx := context.Background()

	proposalID := uuid.New()
	projectID := scope.ProjectID

	for _, kind := range []string{models.AuditEventEnqueued, models.AuditEventApplied} {
		require.NoError(t, repo.Create(ctx, &models.AuditEvent{
			OrganizationID: scope.OrganizationID,
			ProjectID:      &projectID,
			Kind:           kind,
			ActorID:        "reviewer",
			ProposalID:     &proposalID,
			Details:        map[string]any{"target_collection": "risks"},
		}))
	}

	// organization-level event without a project
	require.NoError(t, repo.Create(ctx, &models.AuditEvent{
		OrganizationID: scope.OrganizationID,
		Kind:           "review.settings_changed",
	}))

	byProposal, err := repo.ListByProposal(ctx, scope, proposalID)
	require.NoError(t, err)
	require.Len(t, byProposal, 2)
	kinds := []string{byProposal[0].Kind, byProposal[1].Kind}
	assert.ElementsMatch(t, []string{models.AuditEventEnqueued, models.AuditEventApplied}, kinds)
	assert.Equal(t, "risks", byProposal[0].Details["target_collection"])

	byProject, err := repo.ListByProject(ctx, scope, 10)
	require.NoError(t, err)
	assert.Len(t, byProject, 2)
}

package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/journal"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
	"github.com/ekaya-inc/ekaya-review/pkg/repositories/memstore"
)

// brokenAuditRepo fails every write.
type brokenAuditRepo struct {
	*memstore.AuditStore
}

func (brokenAuditRepo) Create(context.Context, *models.AuditEvent) error {
	return errors.New("insert failed: password=s3cret")
}

// unreadableAuditRepo accepts writes but fails every project listing.
type unreadableAuditRepo struct {
	*memstore.AuditStore
}

func (unreadableAuditRepo) ListByProject(context.Context, models.Scope, int) ([]*models.AuditEvent, error) {
	return nil, errors.New("connection reset")
}

type brokenJournal struct{ calls int }

func (j *brokenJournal) Append(context.Context, *models.AuditEvent) error {
	j.calls++
	return errors.New("disk full")
}

func (j *brokenJournal) List(context.Context, models.Scope, int) ([]*models.AuditEvent, error) {
	return nil, errors.New("disk full")
}

func newEvent(scope models.Scope, kind string) models.AuditEvent {
	projectID := scope.ProjectID
	proposalID := uuid.New()
	return models.AuditEvent{
		OrganizationID: scope.OrganizationID,
		ProjectID:      &projectID,
		Kind:           kind,
		ActorID:        "reviewer",
		ProposalID:     &proposalID,
		Details:        map[string]any{"target_collection": "risks"},
	}
}

func TestAuditSink_EmitWritesStoreJournalAndDispatches(t *testing.T) {
	ctx := context.Background()
	scope := models.Scope{OrganizationID: uuid.New(), ProjectID: uuid.New()}
	store := memstore.New()
	dispatcher := &recordingDispatcher{}

	j, err := journal.Open(journal.Config{InMemory: true}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	sink := NewAuditSink(&AuditSinkDeps{Repo: store.Audit, Journal: j, Dispatcher: dispatcher, Logger: zap.NewNop()})
	event := newEvent(scope, models.AuditEventApplied)
	sink.Emit(ctx, event)

	stored, err := sink.ListByProject(ctx, scope, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, uuid.Nil, stored[0].ID)
	assert.False(t, stored[0].CreatedAt.IsZero())

	journaled, err := j.List(ctx, scope, 10)
	require.NoError(t, err)
	require.Len(t, journaled, 1)
	assert.Equal(t, stored[0].ID, journaled[0].ID)

	byProposal, err := sink.ListByProposal(ctx, scope, *event.ProposalID)
	require.NoError(t, err)
	assert.Len(t, byProposal, 1)

	assert.Equal(t, []string{models.AuditEventApplied}, dispatcher.kinds())
	assert.Equal(t, "risks", dispatcher.sent[0].Details["target_collection"])
}

func TestAuditSink_EmitSurvivesFailures(t *testing.T) {
	scope := models.Scope{OrganizationID: uuid.New(), ProjectID: uuid.New()}
	dispatcher := &recordingDispatcher{}
	brokenJ := &brokenJournal{}

	sink := NewAuditSink(&AuditSinkDeps{
		Repo:       brokenAuditRepo{memstore.New().Audit},
		Journal:    brokenJ,
		Dispatcher: dispatcher,
		Logger:     zap.NewNop(),
	})

	assert.NotPanics(t, func() {
		sink.Emit(context.Background(), newEvent(scope, models.AuditEventFailed))
	})
	assert.Equal(t, 1, brokenJ.calls)
	assert.Equal(t, []string{models.AuditEventFailed}, dispatcher.kinds())
}

func TestAuditSink_EmitIgnoresCancelledContext(t *testing.T) {
	scope := models.Scope{OrganizationID: uuid.New(), ProjectID: uuid.New()}
	store := memstore.New()
	sink := NewAuditSink(&AuditSinkDeps{Repo: store.Audit, Logger: zap.NewNop()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink.Emit(ctx, newEvent(scope, models.AuditEventRejected))

	assert.Equal(t, []string{models.AuditEventRejected}, store.Audit.Kinds())
}

func TestAuditSink_ListByProjectFallsBackToJournal(t *testing.T) {
	ctx := context.Background()
	scope := models.Scope{OrganizationID: uuid.New(), ProjectID: uuid.New()}

	j, err := journal.Open(journal.Config{InMemory: true}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	sink := NewAuditSink(&AuditSinkDeps{
		Repo:    unreadableAuditRepo{memstore.New().Audit},
		Journal: j,
		Logger:  zap.NewNop(),
	})
	sink.Emit(ctx, newEvent(scope, models.AuditEventEnqueued))
	sink.Emit(ctx, newEvent(scope, models.AuditEventApplied))

	events, err := sink.ListByProject(ctx, scope, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.ElementsMatch(t,
		[]string{models.AuditEventEnqueued, models.AuditEventApplied},
		[]string{events[0].Kind, events[1].Kind})
}

func TestAuditSink_ListByProjectWithoutJournalReturnsStoreError(t *testing.T) {
	scope := models.Scope{OrganizationID: uuid.New(), ProjectID: uuid.New()}
	sink := NewAuditSink(&AuditSinkDeps{Repo: unreadableAuditRepo{memstore.New().Audit}, Logger: zap.NewNop()})

	_, err := sink.ListByProject(context.Background(), scope, 10)
	assert.ErrorContains(t, err, "connection reset")
}

func TestAuditSink_ListByProjectReportsBothFailures(t *testing.T) {
	scope := models.Scope{OrganizationID: uuid.New(), ProjectID: uuid.New()}
	sink := NewAuditSink(&AuditSinkDeps{
		Repo:    unreadableAuditRepo{memstore.New().Audit},
		Journal: &brokenJournal{},
		Logger:  zap.NewNop(),
	})

	_, err := sink.ListByProject(context.Background(), scope, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Contains(t, err.Error(), "disk full")
}

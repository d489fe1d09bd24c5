// Package memstore provides in-memory implementations of the review
// repositories. They honour the same contracts as the PostgreSQL adapters,
// including conditional writes, and are used by unit tests and by the
// "memory" storage backend.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
	"github.com/ekaya-inc/ekaya-review/pkg/repositories"
)

// Store bundles the in-memory repositories behind one constructor.
type Store struct {
	Proposals *ProposalStore
	Records   *RecordStore
	Grants    *GrantStore
	Audit     *AuditStore
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		Proposals: NewProposalStore(),
		Records:   NewRecordStore(),
		Grants:    NewGrantStore(),
		Audit:     NewAuditStore(),
	}
}

// ProposalStore is an in-memory repositories.ChangeProposalRepository.
type ProposalStore struct {
	mu        sync.RWMutex
	proposals map[uuid.UUID]*models.ChangeProposal
	now       func() time.Time
}

// NewProposalStore returns an empty ProposalStore.
func NewProposalStore() *ProposalStore {
	return &ProposalStore{
		proposals: make(map[uuid.UUID]*models.ChangeProposal),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ repositories.ChangeProposalRepository = (*ProposalStore)(nil)

func (s *ProposalStore) Create(_ context.Context, p *models.ChangeProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if _, exists := s.proposals[p.ID]; exists {
		return fmt.Errorf("change proposal %s already exists", p.ID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.Revision = 1
	s.proposals[p.ID] = p.Clone()
	return nil
}

func (s *ProposalStore) GetByID(_ context.Context, scope models.Scope, id uuid.UUID) (*models.ChangeProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok || !p.InScope(scope) {
		return nil, fmt.Errorf("change proposal %s: %w", id, apperrors.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *ProposalStore) List(_ context.Context, scope models.Scope, filter models.ProposalFilter) ([]*models.ChangeProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.ChangeProposal, 0)
	for _, p := range s.proposals {
		if !p.InScope(scope) {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.ChangeKind != "" && p.ChangeKind != filter.ChangeKind {
			continue
		}
		out = append(out, p.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = repositories.DefaultListLimit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ProposalStore) Update(_ context.Context, p *models.ChangeProposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.proposals[p.ID]
	if !ok || !current.InScope(p.Scope()) {
		return fmt.Errorf("change proposal %s: %w", p.ID, apperrors.ErrNotFound)
	}
	if current.Revision != p.Revision {
		return &apperrors.ConflictError{Expected: p.Revision, Current: current.Revision}
	}

	next := p.Clone()
	// identity and provenance are immutable
	next.ChangeKind = current.ChangeKind
	next.Operation = current.Operation
	next.TargetCollection = current.TargetCollection
	next.Source = current.Source
	next.SourceReference = current.SourceReference
	next.Confidence = current.Confidence
	next.CreatedBy = current.CreatedBy
	next.CreatedAt = current.CreatedAt
	next.Revision = current.Revision + 1

	s.proposals[p.ID] = next
	p.Revision = next.Revision
	return nil
}

func (s *ProposalStore) CountByStatus(_ context.Context, scope models.Scope) (map[models.ProposalStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.ProposalStatus]int)
	for _, p := range s.proposals {
		if p.InScope(scope) {
			counts[p.Status]++
		}
	}
	return counts, nil
}

func (s *ProposalStore) CountByKind(_ context.Context, scope models.Scope) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, p := range s.proposals {
		if p.InScope(scope) {
			counts[p.ChangeKind]++
		}
	}
	return counts, nil
}

type recordKey struct {
	org        uuid.UUID
	project    uuid.UUID
	collection string
	id         string
}

// RecordStore is an in-memory repositories.RecordRepository.
type RecordStore struct {
	mu      sync.RWMutex
	records map[recordKey]*models.Record
	now     func() time.Time
}

// NewRecordStore returns an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[recordKey]*models.Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

var _ repositories.RecordRepository = (*RecordStore)(nil)

func keyOf(scope models.Scope, collection, id string) recordKey {
	return recordKey{org: scope.OrganizationID, project: scope.ProjectID, collection: collection, id: id}
}

func (s *RecordStore) Get(_ context.Context, scope models.Scope, collection, id string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[keyOf(scope, collection, id)]
	if !ok {
		return nil, fmt.Errorf("record %s/%s: %w", collection, id, apperrors.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (s *RecordStore) FindByFields(ctx context.Context, scope models.Scope, collection string, match map[string]any) (*models.Record, error) {
	if len(match) == 0 {
		return nil, fmt.Errorf("record lookup in %s without key fields: %w", collection, apperrors.ErrNotFound)
	}

	records, err := s.List(ctx, scope, collection)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if containsFields(rec.Fields, match) {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("record in %s by key: %w", collection, apperrors.ErrNotFound)
}

func (s *RecordStore) List(_ context.Context, scope models.Scope, collection string) ([]*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Record, 0)
	for k, rec := range s.records {
		if k.org == scope.OrganizationID && k.project == scope.ProjectID && k.collection == collection {
			out = append(out, rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Record) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *RecordStore) Insert(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(rec.Scope(), rec.Collection, rec.ID)
	if _, exists := s.records[k]; exists {
		return fmt.Errorf("record %s/%s already exists", rec.Collection, rec.ID)
	}
	rec.Version = 1
	rec.UpdatedAt = s.now()
	s.store(k, rec)
	return nil
}

func (s *RecordStore) Update(_ context.Context, rec *models.Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(rec.Scope(), rec.Collection, rec.ID)
	current, ok := s.records[k]
	if !ok {
		return fmt.Errorf("record %s/%s: %w", rec.Collection, rec.ID, apperrors.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return &apperrors.ConflictError{Expected: expectedVersion, Current: current.Version}
	}
	rec.Version = current.Version + 1
	rec.UpdatedAt = s.now()
	s.store(k, rec)
	return nil
}

func (s *RecordStore) Put(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(rec.Scope(), rec.Collection, rec.ID)
	rec.Version = 1
	if current, ok := s.records[k]; ok {
		rec.Version = current.Version + 1
	}
	rec.UpdatedAt = s.now()
	s.store(k, rec)
	return nil
}

func (s *RecordStore) Delete(_ context.Context, scope models.Scope, collection, id string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(scope, collection, id)
	current, ok := s.records[k]
	if !ok {
		return fmt.Errorf("record %s/%s: %w", collection, id, apperrors.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return &apperrors.ConflictError{Expected: expectedVersion, Current: current.Version}
	}
	delete(s.records, k)
	return nil
}

// store keeps a private copy of rec; callers keep ownership of theirs.
func (s *RecordStore) store(k recordKey, rec *models.Record) {
	c := rec.Clone()
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	s.records[k] = c
}

// containsFields reports whether every key of match is present in fields
// with an equal JSON value, so 1 and "1" differ as they do under jsonb @>.
func containsFields(fields, match map[string]any) bool {
	for k, want := range match {
		got, ok := fields[k]
		if !ok || !reflect.DeepEqual(normalizeJSON(got), normalizeJSON(want)) {
			return false
		}
	}
	return true
}

// normalizeJSON maps v to the value it decodes to after a JSON round trip,
// so int 1 and float64 1 compare equal.
func normalizeJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

type grantKey struct {
	org     uuid.UUID
	project uuid.UUID
	user    string
}

// GrantStore is an in-memory repositories.VisibilityGrantRepository.
// Setting Err makes every Get fail, which tests use to exercise fail-closed lookups.
type GrantStore struct {
	mu     sync.RWMutex
	grants map[grantKey]*models.VisibilityGrant
	lookup int
	Err    error
}

// NewGrantStore returns an empty GrantStore.
func NewGrantStore() *GrantStore {
	return &GrantStore{grants: make(map[grantKey]*models.VisibilityGrant)}
}

var _ repositories.VisibilityGrantRepository = (*GrantStore)(nil)

func (s *GrantStore) Get(_ context.Context, scope models.Scope, userID string) (*models.VisibilityGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lookup++
	if s.Err != nil {
		return nil, s.Err
	}
	g, ok := s.grants[grantKey{org: scope.OrganizationID, project: scope.ProjectID, user: userID}]
	if !ok {
		return nil, fmt.Errorf("visibility grant for %s: %w", userID, apperrors.ErrNotFound)
	}
	c := *g
	c.Areas = slices.Clone(g.Areas)
	return &c, nil
}

func (s *GrantStore) Upsert(_ context.Context, grant *models.VisibilityGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *grant
	c.Areas = slices.Clone(grant.Areas)
	if c.Areas == nil {
		c.Areas = []string{}
	}
	s.grants[grantKey{org: grant.OrganizationID, project: grant.ProjectID, user: grant.UserID}] = &c
	return nil
}

// Lookups returns how many times Get has been called.
func (s *GrantStore) Lookups() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup
}

// AuditStore is an in-memory repositories.AuditRepository.
type AuditStore struct {
	mu     sync.RWMutex
	events []*models.AuditEvent
	now    func() time.Time
}

// NewAuditStore returns an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{now: func() time.Time { return time.Now().UTC() }}
}

var _ repositories.AuditRepository = (*AuditStore)(nil)

func (s *AuditStore) Create(_ context.Context, event *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	c := *event
	c.Details = models.CloneFields(event.Details)
	s.events = append(s.events, &c)
	return nil
}

func (s *AuditStore) ListByProject(_ context.Context, scope models.Scope, limit int) ([]*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	out := make([]*models.AuditEvent, 0)
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.events[i]
		if inScope(e, scope) {
			out = append(out, cloneEvent(e))
		}
	}
	return out, nil
}

func (s *AuditStore) ListByProposal(_ context.Context, scope models.Scope, proposalID uuid.UUID) ([]*models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.AuditEvent, 0)
	for _, e := range s.events {
		if inScope(e, scope) && e.ProposalID != nil && *e.ProposalID == proposalID {
			out = append(out, cloneEvent(e))
		}
	}
	return out, nil
}

// Kinds returns the kinds of all recorded events in append order.
func (s *AuditStore) Kinds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kinds := make([]string, len(s.events))
	for i, e := range s.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func inScope(e *models.AuditEvent, scope models.Scope) bool {
	return e.OrganizationID == scope.OrganizationID && e.ProjectID != nil && *e.ProjectID == scope.ProjectID
}

func cloneEvent(e *models.AuditEvent) *models.AuditEvent {
	c := *e
	c.Details = models.CloneFields(e.Details)
	return &c
}

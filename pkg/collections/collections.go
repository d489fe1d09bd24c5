// Package collections maps target collection names to the stores that hold
// their records. The review engine looks collections up by name here rather
// than branching on collection names itself.
package collections

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-review/pkg/config"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
	"github.com/ekaya-inc/ekaya-review/pkg/repositories"
)

// TargetCollection is the capability the review engine needs from a record
// collection. Implementations are tenancy-scoped and version-checked.
type TargetCollection interface {
	// Name returns the collection name proposals refer to.
	Name() string

	// AreaOf returns the visibility area tag carried by fields, or "".
	AreaOf(fields map[string]any) string

	// KeyOf extracts the natural key from fields. It returns nil when the
	// collection has no key or fields do not carry every key field.
	KeyOf(fields map[string]any) map[string]any

	Get(ctx context.Context, scope models.Scope, id string) (*models.Record, error)
	FindByKey(ctx context.Context, scope models.Scope, key map[string]any) (*models.Record, error)
	List(ctx context.Context, scope models.Scope) ([]*models.Record, error)
	Insert(ctx context.Context, rec *models.Record) error
	Update(ctx context.Context, rec *models.Record, expectedVersion int64) error
	Delete(ctx context.Context, scope models.Scope, id string, expectedVersion int64) error

	// Restore writes a snapshot back by identity, creating the record if it
	// was deleted in the meantime.
	Restore(ctx context.Context, scope models.Scope, snapshot *models.RecordSnapshot) (*models.Record, error)
}

// documentCollection stores schemaless records in a RecordRepository.
type documentCollection struct {
	name      string
	areaField string
	keyFields []string
	records   repositories.RecordRepository
}

// NewDocumentCollection creates a TargetCollection backed by records.
func NewDocumentCollection(cfg config.CollectionConfig, records repositories.RecordRepository) TargetCollection {
	return &documentCollection{
		name:      cfg.Name,
		areaField: cfg.AreaField,
		keyFields: append([]string(nil), cfg.KeyFields...),
		records:   records,
	}
}

var _ TargetCollection = (*documentCollection)(nil)

func (c *documentCollection) Name() string { return c.name }

func (c *documentCollection) AreaOf(fields map[string]any) string {
	if c.areaField == "" || fields == nil {
		return ""
	}
	area, _ := fields[c.areaField].(string)
	return strings.TrimSpace(area)
}

func (c *documentCollection) KeyOf(fields map[string]any) map[string]any {
	if len(c.keyFields) == 0 {
		return nil
	}
	key := make(map[string]any, len(c.keyFields))
	for _, f := range c.keyFields {
		v, ok := fields[f]
		if !ok || v == nil {
			return nil
		}
		key[f] = v
	}
	return key
}

func (c *documentCollection) Get(ctx context.Context, scope models.Scope, id string) (*models.Record, error) {
	return c.records.Get(ctx, scope, c.name, id)
}

func (c *documentCollection) FindByKey(ctx context.Context, scope models.Scope, key map[string]any) (*models.Record, error) {
	return c.records.FindByFields(ctx, scope, c.name, key)
}

func (c *documentCollection) List(ctx context.Context, scope models.Scope) ([]*models.Record, error) {
	return c.records.List(ctx, scope, c.name)
}

func (c *documentCollection) Insert(ctx context.Context, rec *models.Record) error {
	rec.Collection = c.name
	return c.records.Insert(ctx, rec)
}

func (c *documentCollection) Update(ctx context.Context, rec *models.Record, expectedVersion int64) error {
	rec.Collection = c.name
	return c.records.Update(ctx, rec, expectedVersion)
}

func (c *documentCollection) Delete(ctx context.Context, scope models.Scope, id string, expectedVersion int64) error {
	return c.records.Delete(ctx, scope, c.name, id, expectedVersion)
}

func (c *documentCollection) Restore(ctx context.Context, scope models.Scope, snapshot *models.RecordSnapshot) (*models.Record, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("restore %s: empty snapshot", c.name)
	}
	rec := &models.Record{
		Collection:     c.name,
		ID:             snapshot.ID,
		OrganizationID: scope.OrganizationID,
		ProjectID:      scope.ProjectID,
		Fields:         models.CloneFields(snapshot.Fields),
	}
	if err := c.records.Put(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Registry resolves collection names to TargetCollections.
type Registry struct {
	mu          sync.RWMutex
	collections map[string]TargetCollection
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{collections: make(map[string]TargetCollection)}
}

// NewRegistryFromConfig registers one document collection per entry of cfgs.
func NewRegistryFromConfig(cfgs []config.CollectionConfig, records repositories.RecordRepository) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range cfgs {
		if err := r.Register(NewDocumentCollection(cfg, records)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds c. Names must be unique and non-empty.
func (r *Registry) Register(c TargetCollection) error {
	name := c.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("collection name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.collections[name]; exists {
		return fmt.Errorf("collection %q already registered", name)
	}
	r.collections[name] = c
	return nil
}

// Lookup returns the collection registered under name.
func (r *Registry) Lookup(name string) (TargetCollection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", name, apperrors.ErrNotFound)
	}
	return c, nil
}

// Names returns the registered collection names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.collections))
	for name := range r.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Package journal keeps a local, append-only copy of review audit events in
// BadgerDB. It complements the database audit log: events survive even when
// the primary store rejects the audit write.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-review/pkg/models"
)

const keyPrefix = "audit/"

// Config holds configuration for the journal.
type Config struct {
	// Path is the directory of the journal files. Ignored when InMemory is true.
	Path string
	// InMemory keeps the journal in memory only. Used by tests.
	InMemory bool
	// SyncWrites fsyncs every append.
	SyncWrites bool
}

// Journal is an append-only audit event log. Safe for concurrent use.
type Journal struct {
	db     *badger.DB
	logger *zap.Logger
}

// zapLogger adapts zap to badger's Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l *zapLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l *zapLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

// Open opens (or creates) a journal.
func Open(cfg Config, logger *zap.Logger) (*Journal, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("journal path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create journal directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	named := logger.Named("journal")
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&zapLogger{s: named.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger journal: %w", err)
	}

	return &Journal{db: db, logger: named}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append stores event. Event ID and CreatedAt must already be set.
func (j *Journal) Append(_ context.Context, event *models.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(event), data)
	})
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// List returns up to limit events of a scope, newest first.
func (j *Journal) List(_ context.Context, scope models.Scope, limit int) ([]*models.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	prefix := []byte(scopePrefix(scope.OrganizationID.String(), scope.ProjectID.String()))
	events := make([]*models.AuditEvent, 0)

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// reverse iteration starts from the last key under the prefix
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(events) < limit; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var e models.AuditEvent
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				events = append(events, &e)
				return nil
			})
			if err != nil {
				return fmt.Errorf("decode audit event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

func scopePrefix(org, project string) string {
	return keyPrefix + org + "/" + project + "/"
}

// eventKey orders events of a scope by creation time.
func eventKey(e *models.AuditEvent) []byte {
	project := "-"
	if e.ProjectID != nil {
		project = e.ProjectID.String()
	}
	return []byte(fmt.Sprintf("%s%020d/%s", scopePrefix(e.OrganizationID.String(), project), e.CreatedAt.UnixNano(), e.ID))
}

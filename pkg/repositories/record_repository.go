package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-review/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-review/pkg/database"
	"github.com/ekaya-inc/ekaya-review/pkg/models"
)

// RecordRepository provides versioned access to target collection records.
// Every write assigns the record a fresh version; Update and Delete are
// conditional on the version the caller last read.
type RecordRepository interface {
	// Get returns a record, or apperrors.ErrNotFound.
	Get(ctx context.Context, scope models.Scope, collection, id string) (*models.Record, error)

	// FindByFields returns the first record (by id) whose fields contain every
	// key/value of match, or apperrors.ErrNotFound.
	FindByFields(ctx context.Context, scope models.Scope, collection string, match map[string]any) (*models.Record, error)

	// List returns all records of a collection ordered by id.
	List(ctx context.Context, scope models.Scope, collection string) ([]*models.Record, error)

	// Insert creates rec with version 1. An existing id is an error.
	Insert(ctx context.Context, rec *models.Record) error

	// Update replaces rec's fields if the stored version equals expectedVersion.
	// A mismatch returns *apperrors.ConflictError.
	Update(ctx context.Context, rec *models.Record, expectedVersion int64) error

	// Put creates or replaces rec by identity without a version check.
	Put(ctx context.Context, rec *models.Record) error

	// Delete removes a record if the stored version equals expectedVersion.
	Delete(ctx context.Context, scope models.Scope, collection, id string, expectedVersion int64) error
}

type recordRepository struct {
	db *database.DB
}

// NewRecordRepository creates a PostgreSQL-backed RecordRepository.
func NewRecordRepository(db *database.DB) RecordRepository {
	return &recordRepository{db: db}
}

var _ RecordRepository = (*recordRepository)(nil)

const recordColumns = `collection, id, organization_id, project_id, fields, version, updated_at`

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

func (r *recordRepository) Get(ctx context.Context, scope models.Scope, collection, id string) (*models.Record, error) {
	conn, release, err := r.db.ScopedConn(ctx, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	query := `SELECT ` + recordColumns + `
		FROM engine_records
		WHERE organization_id = $1 AND project_id = $2 AND collection = $3 AND id = $4`

	rec, err := scanRecord(conn.QueryRow(ctx, query, scope.OrganizationID, scope.ProjectID, collection, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record %s/%s: %w", collection, id, apperrors.ErrNotFound)
	}
	return rec, err
}

func (r *recordRepository) FindByFields(ctx context.Context, scope models.Scope, collection string, match map[string]any) (*models.Record, error) {
	if len(match) == 0 {
		return nil, fmt.Errorf("record lookup in %s without key fields: %w", collection, apperrors.ErrNotFound)
	}

	conn, release, err := r.db.ScopedConn(ctx, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	matchJSON, err := json.Marshal(match)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key fields: %w", err)
	}

	query := `SELECT ` + recordColumns + `
		FROM engine_records
		WHERE organization_id = $1 AND project_id = $2 AND collection = $3 AND fields @> $4::jsonb
		ORDER BY id
		LIMIT 1`

	rec, err := scanRecord(conn.QueryRow(ctx, query, scope.OrganizationID, scope.ProjectID, collection, string(matchJSON)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record in %s by key: %w", collection, apperrors.ErrNotFound)
	}
	return rec, err
}

func (r *recordRepository) List(ctx context.Context, scope models.Scope, collection string) ([]*models.Record, error) {
	conn, release, err := r.db.ScopedConn(ctx, scope.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	query := `SELECT ` + recordColumns + `
		FROM engine_records
		WHERE organization_id = $1 AND project_id = $2 AND collection = $3
		ORDER BY id`

	rows, err := conn.Query(ctx, query, scope.OrganizationID, scope.ProjectID, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := make([]*models.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

func (r *recordRepository) Insert(ctx context.Context, rec *models.Record) error {
	conn, release, err := r.db.ScopedConn(ctx, rec.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	fields, err := marshalFields(rec.Fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_records (organization_id, project_id, collection, id, fields, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, now())
		RETURNING version, updated_at`

	err = conn.QueryRow(ctx, query, rec.OrganizationID, rec.ProjectID, rec.Collection, rec.ID, fields).
		Scan(&rec.Version, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("record %s/%s already exists", rec.Collection, rec.ID)
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

func (r *recordRepository) Update(ctx context.Context, rec *models.Record, expectedVersion int64) error {
	conn, release, err := r.db.ScopedConn(ctx, rec.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	fields, err := marshalFields(rec.Fields)
	if err != nil {
		return err
	}

	query := `
		UPDATE engine_records
		SET fields = $5, version = version + 1, updated_at = now()
		WHERE organization_id = $1 AND project_id = $2 AND collection = $3 AND id = $4 AND version = $6
		RETURNING version, updated_at`

	err = conn.QueryRow(ctx, query, rec.OrganizationID, rec.ProjectID, rec.Collection, rec.ID, fields, expectedVersion).
		Scan(&rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.versionMismatch(ctx, conn, rec.Scope(), rec.Collection, rec.ID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	return nil
}

func (r *recordRepository) Put(ctx context.Context, rec *models.Record) error {
	conn, release, err := r.db.ScopedConn(ctx, rec.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	fields, err := marshalFields(rec.Fields)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_records (organization_id, project_id, collection, id, fields, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, now())
		ON CONFLICT (organization_id, project_id, collection, id)
		DO UPDATE SET fields = EXCLUDED.fields, version = engine_records.version + 1, updated_at = now()
		RETURNING version, updated_at`

	err = conn.QueryRow(ctx, query, rec.OrganizationID, rec.ProjectID, rec.Collection, rec.ID, fields).
		Scan(&rec.Version, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}
	return nil
}

func (r *recordRepository) Delete(ctx context.Context, scope models.Scope, collection, id string, expectedVersion int64) error {
	conn, release, err := r.db.ScopedConn(ctx, scope.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer release()

	tag, err := conn.Exec(ctx, `
		DELETE FROM engine_records
		WHERE organization_id = $1 AND project_id = $2 AND collection = $3 AND id = $4 AND version = $5`,
		scope.OrganizationID, scope.ProjectID, collection, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.versionMismatch(ctx, conn, scope, collection, id, expectedVersion)
	}
	return nil
}

// versionMismatch explains why a conditional write matched no row.
func (r *recordRepository) versionMismatch(ctx context.Context, conn pgxQuerier, scope models.Scope, collection, id string, expected int64) error {
	var current int64
	err := conn.QueryRow(ctx,
		`SELECT version FROM engine_records WHERE organization_id = $1 AND project_id = $2 AND collection = $3 AND id = $4`,
		scope.OrganizationID, scope.ProjectID, collection, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("record %s/%s: %w", collection, id, apperrors.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read record version: %w", err)
	}
	return &apperrors.ConflictError{Expected: expected, Current: current}
}

type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func marshalFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record fields: %w", err)
	}
	return data, nil
}

func scanRecord(row pgx.Row) (*models.Record, error) {
	var rec models.Record
	var fields []byte

	err := row.Scan(&rec.Collection, &rec.ID, &rec.OrganizationID, &rec.ProjectID, &fields, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	if err := unmarshalJSONB(fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record fields: %w", err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	return &rec, nil
}

// Package pgstore provides a PostgreSQL implementation of review.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/overwatch/internal/entity"
	"github.com/linnemanlabs/overwatch/internal/review"
)

var tracer = otel.Tracer("github.com/linnemanlabs/overwatch/internal/review/pgstore")

//go:embed schema.sql
var schema string

// Store persists entity records and the audit trail in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The pool is owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Get retrieves a record by its typed reference.
func (s *Store) Get(ctx context.Context, ref entity.Ref) (*review.Record, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var rec review.Record
	err := s.pool.QueryRow(ctx,
		`SELECT entity_type, entity_id, data, updated_at FROM entities WHERE key = $1`,
		ref.Key(),
	).Scan(&rec.Ref.Type, &rec.Ref.ID, &rec.Data, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("scan: %w", err)
	}
	return &rec, true, nil
}

// Put inserts or updates a record (upsert on key).
func (s *Store) Put(ctx context.Context, rec *review.Record) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO entities (key, entity_type, entity_id, data, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE SET
			data       = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		rec.Ref.Key(), string(rec.Ref.Type), rec.Ref.ID, json.RawMessage(rec.Data), rec.UpdatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// Delete removes a record. Deleting a missing record is not an error.
func (s *Store) Delete(ctx context.Context, ref entity.Ref) error {
	ctx, span := tracer.Start(ctx, "pgstore.Delete", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE key = $1`, ref.Key()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete entity: %w", err)
	}
	return nil
}

// List returns all records of the given type, newest update first.
func (s *Store) List(ctx context.Context, typ entity.Type) ([]review.Record, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT entity_type, entity_id, data, updated_at FROM entities
		 WHERE entity_type = $1 ORDER BY updated_at DESC`,
		string(typ),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	var out []review.Record
	for rows.Next() {
		var rec review.Record
		if err := rows.Scan(&rec.Ref.Type, &rec.Ref.ID, &rec.Data, &rec.UpdatedAt); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// AppendAudit inserts one audit entry.
func (s *Store) AppendAudit(ctx context.Context, rec *review.AuditRecord) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendAudit", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, entity_id, entity_type, transition, caller_id, caller_role, resulting_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.EntityID, string(rec.EntityType), string(rec.Transition),
		rec.CallerID, string(rec.CallerRole), rec.ResultingStatus, rec.Timestamp,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// AuditFor returns the entity's audit trail, oldest first.
func (s *Store) AuditFor(ctx context.Context, entityID string) ([]review.AuditRecord, error) {
	ctx, span := tracer.Start(ctx, "pgstore.AuditFor", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT id, entity_id, entity_type, transition, caller_id, caller_role, resulting_status, created_at
		 FROM audit_log WHERE entity_id = $1 ORDER BY created_at, id`,
		entityID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []review.AuditRecord
	for rows.Next() {
		var rec review.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.EntityType, &rec.Transition,
			&rec.CallerID, &rec.CallerRole, &rec.ResultingStatus, &rec.Timestamp); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return out, nil
}

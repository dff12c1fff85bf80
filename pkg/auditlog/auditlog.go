// Package auditlog provides an append-only change log for entity mutations.
//
// Records are written inside the caller's transaction: a failed audit write
// aborts the whole mutation rather than being swallowed. The table has no
// update or delete path, so a logged transition cannot be rewritten.
package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrAuditWrite is returned when a record cannot be appended. Callers must
// treat it as fatal for the enclosing transaction.
var ErrAuditWrite = errors.New("audit write failed")

// Op is the kind of mutation being recorded.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Record is one audit entry. ID is assigned by the store (BIGSERIAL) and is
// monotonic across the log.
type Record struct {
	ID         int64           `json:"id"`
	Entity     string          `json:"entity"`
	Op         Op              `json:"op"`
	Actor      string          `json:"actor"`
	RecordedAt time.Time       `json:"recorded_at"`
	OldState   json.RawMessage `json:"old_state,omitempty"`
	NewState   json.RawMessage `json:"new_state,omitempty"`
}

// DBTX is the subset of database/sql satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Recorder appends audit records.
type Recorder struct {
	tracer trace.Tracer
}

// NewRecorder creates a new Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		tracer: otel.Tracer("farmledger/auditlog"),
	}
}

// Append writes one record on the given transaction (or connection) and
// returns it with the assigned id and timestamp.
func (r *Recorder) Append(ctx context.Context, q DBTX, rec Record) (*Record, error) {
	ctx, span := r.tracer.Start(ctx, "auditlog.append",
		trace.WithAttributes(
			attribute.String("audit.entity", rec.Entity),
			attribute.String("audit.op", string(rec.Op)),
			attribute.String("audit.actor", rec.Actor),
		),
	)
	defer span.End()

	err := q.QueryRowContext(ctx, `
		INSERT INTO audit_records (entity, op, actor, old_state, new_state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, recorded_at
	`, rec.Entity, rec.Op, rec.Actor, nullJSON(rec.OldState), nullJSON(rec.NewState),
	).Scan(&rec.ID, &rec.RecordedAt)

	if err != nil {
		return nil, fmt.Errorf("%w: insert record: %v", ErrAuditWrite, err)
	}

	span.SetAttributes(attribute.Int64("audit.id", rec.ID))
	return &rec, nil
}

// List retrieves records for an entity with id greater than fromID, oldest
// first, up to limit. Consumed by read-side reporting and by tests.
func (r *Recorder) List(ctx context.Context, q DBTX, entity string, fromID int64, limit int) ([]Record, error) {
	ctx, span := r.tracer.Start(ctx, "auditlog.list",
		trace.WithAttributes(
			attribute.String("audit.entity", entity),
			attribute.Int64("from.id", fromID),
		),
	)
	defer span.End()

	rows, err := q.QueryContext(ctx, `
		SELECT id, entity, op, actor, recorded_at, old_state, new_state
		FROM audit_records
		WHERE entity = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`, entity, fromID, limit)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var oldState, newState []byte
		if err := rows.Scan(&rec.ID, &rec.Entity, &rec.Op, &rec.Actor, &rec.RecordedAt, &oldState, &newState); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.OldState = json.RawMessage(oldState)
		rec.NewState = json.RawMessage(newState)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	span.SetAttributes(attribute.Int("records.loaded", len(records)))
	return records, nil
}

// nullJSON maps an empty state to SQL NULL so that insert-only and
// delete-only transitions keep the absent side nullable.
func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// State marshals the audited subset of an entity for the old/new columns.
func State(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit state: %w", err)
	}
	return data, nil
}

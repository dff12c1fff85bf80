// internal/crops/registry.go
package crops

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUnknownCrop is returned when a referenced crop does not exist.
var ErrUnknownCrop = errors.New("unknown crop")

// Crop is a cultivable variety referenced by inventory items and harvests.
// Crop management itself lives outside this service; the registry only
// answers referential checks.
type Crop struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Variety string    `json:"variety"`
}

// DBTX is the subset of database/sql satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Registry validates crop references against the crops table.
type Registry struct{}

// NewRegistry creates a Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Require fails with ErrUnknownCrop when the crop does not exist. Run it on
// the mutation's own transaction so the reference cannot vanish mid-flight.
func (r *Registry) Require(ctx context.Context, q DBTX, id uuid.UUID) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM crops WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownCrop, id)
	}
	if err != nil {
		return fmt.Errorf("query crop: %w", err)
	}
	return nil
}

// Insert registers a crop. Used by seeding and tests.
func (r *Registry) Insert(ctx context.Context, q DBTX, crop *Crop) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO crops (id, name, variety)
		VALUES ($1, $2, $3)
	`, crop.ID, crop.Name, crop.Variety)
	if err != nil {
		return fmt.Errorf("insert crop: %w", err)
	}
	return nil
}

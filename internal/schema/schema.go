// internal/schema/schema.go

// Package schema ships the service DDL. Statements are idempotent so the
// schema can be (re)applied at startup and by tests.
package schema

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var ddl string

// Apply creates the farmledger tables if they do not exist.
func Apply(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

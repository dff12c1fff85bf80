// internal/ledger/store.go
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// RowStore provides row-level access to inventory items inside one
// transaction. Locked reads must hold the row until the transaction ends so
// that the validation gate's read and the ledger's write cannot be separated
// by another writer.
type RowStore interface {
	// ItemForUpdate reads an item and locks its row.
	ItemForUpdate(ctx context.Context, id uuid.UUID) (*Item, error)

	// ItemByCropForUpdate reads the item holding the given crop and locks it.
	ItemByCropForUpdate(ctx context.Context, cropID uuid.UUID) (*Item, error)

	// SetQuantity persists a new on-hand quantity.
	SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error
}

// Cache mirrors on-hand quantities into a fast read-side store. The cache is
// advisory; Postgres stays authoritative.
type Cache interface {
	SetQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	Quantity(ctx context.Context, itemID uuid.UUID) (int, bool, error)
}

// dbtx is the subset of database/sql satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// TxRows is the PostgreSQL RowStore bound to a single transaction.
type TxRows struct {
	tx *sql.Tx
}

// NewTxRows wraps a transaction as a RowStore.
func NewTxRows(tx *sql.Tx) *TxRows {
	return &TxRows{tx: tx}
}

func (r *TxRows) ItemForUpdate(ctx context.Context, id uuid.UUID) (*Item, error) {
	item, err := scanItem(r.tx.QueryRowContext(ctx, `
		SELECT id, crop_id, quantity, freshness, location, updated_at
		FROM inventory_items
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

func (r *TxRows) ItemByCropForUpdate(ctx context.Context, cropID uuid.UUID) (*Item, error) {
	item, err := scanItem(r.tx.QueryRowContext(ctx, `
		SELECT id, crop_id, quantity, freshness, location, updated_at
		FROM inventory_items
		WHERE crop_id = $1
		FOR UPDATE
	`, cropID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no inventory row for crop %s", ErrUnknownItem, cropID)
	}
	if err != nil {
		return nil, fmt.Errorf("query item by crop: %w", err)
	}
	return item, nil
}

func (r *TxRows) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	result, err := r.tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET quantity = $2, updated_at = NOW()
		WHERE id = $1
	`, id, quantity)
	if err != nil {
		return fmt.Errorf("update quantity: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return nil
}

// FetchItem reads an item without locking it, for the read-side handlers.
func FetchItem(ctx context.Context, q dbtx, id uuid.UUID) (*Item, error) {
	item, err := scanItem(q.QueryRowContext(ctx, `
		SELECT id, crop_id, quantity, freshness, location, updated_at
		FROM inventory_items
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return item, nil
}

// InsertItem creates an inventory row. Used by ingestion seeding and tests.
func InsertItem(ctx context.Context, q dbtx, item *Item) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO inventory_items (id, crop_id, quantity, freshness, location)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.CropID, item.Quantity, item.Freshness, item.Location)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	if err := row.Scan(&item.ID, &item.CropID, &item.Quantity, &item.Freshness, &item.Location, &item.UpdatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

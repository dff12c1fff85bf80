// internal/ledger/domain.go
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Stock mutation failures. All of them abort the enclosing transaction;
// only ErrConcurrencyConflict is retryable.
var (
	// ErrUnknownItem is returned when no inventory row matches the reference.
	ErrUnknownItem = errors.New("unknown inventory item")

	// ErrInsufficientStock is returned when a requested deduction exceeds the
	// on-hand quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNegativeStock is returned when applying a delta would drive the
	// on-hand quantity below zero. The validation gate already rejects such
	// requests; this re-check guards against concurrent interleavings.
	ErrNegativeStock = errors.New("negative stock")

	// ErrConcurrencyConflict is returned when the transaction lost a race on
	// the inventory row and may be retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrLockTimeout is returned when the row lock could not be acquired
	// within the configured wait.
	ErrLockTimeout = errors.New("lock wait timeout")
)

// Item is one on-hand inventory row. Quantity is mutated only by the Ledger.
type Item struct {
	ID        uuid.UUID `json:"id"`
	CropID    uuid.UUID `json:"crop_id"`
	Quantity  int       `json:"quantity"`
	Freshness string    `json:"freshness"`
	Location  string    `json:"location"`
	UpdatedAt time.Time `json:"updated_at"`
}

// internal/gate/gate.go

// Package gate holds the pre-mutation validation checks. The checks are pure
// read-and-decide: callers fetch current state on the mutation's own
// transaction (rows locked), ask the gate, then let the ledger apply. Keeping
// the read and the write in one transaction closes the check-then-act race.
package gate

import (
	"errors"
	"fmt"

	"farmledger/internal/ledger"
)

// ErrInvalidQuantity is returned for requests that are malformed before any
// stock comparison: zero or negative order quantities, negative yields.
var ErrInvalidQuantity = errors.New("invalid quantity")

// OrderPlacement validates a new order against the locked inventory row.
func OrderPlacement(item *ledger.Item, requested int) error {
	if requested <= 0 {
		return fmt.Errorf("%w: ordered quantity must be positive, got %d", ErrInvalidQuantity, requested)
	}
	if item == nil {
		return ledger.ErrUnknownItem
	}
	if item.Quantity-requested < 0 {
		return fmt.Errorf("%w: requested %d, available %d", ledger.ErrInsufficientStock, requested, item.Quantity)
	}
	return nil
}

// OrderAmendment validates a quantity change on an existing order. Sufficiency
// is checked against the delta from the previous amount, mirroring the
// harvest-yield correction policy: shrinking an order never fails, growing it
// needs only the extra stock.
func OrderAmendment(item *ledger.Item, previous, requested int) error {
	if requested <= 0 {
		return fmt.Errorf("%w: ordered quantity must be positive, got %d", ErrInvalidQuantity, requested)
	}
	if item == nil {
		return ledger.ErrUnknownItem
	}
	delta := requested - previous
	if delta > 0 && item.Quantity-delta < 0 {
		return fmt.Errorf("%w: amendment needs %d more, available %d", ledger.ErrInsufficientStock, delta, item.Quantity)
	}
	return nil
}

// HarvestYield validates a recorded or corrected yield. Harvests carry no
// inventory-side sufficiency check; additions are always accepted here and
// the ledger still rejects corrections that would drive stock negative.
func HarvestYield(yield int) error {
	if yield < 0 {
		return fmt.Errorf("%w: yield must not be negative, got %d", ErrInvalidQuantity, yield)
	}
	return nil
}

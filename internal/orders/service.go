// internal/orders/service.go
package orders

import (
	"context"

	"github.com/google/uuid"
)

// PlaceOrderParams carries a new order request.
type PlaceOrderParams struct {
	ClientID uuid.UUID
	ItemID   uuid.UUID
	Quantity int
}

// Service defines the interface for the orders service. Every mutation takes
// the acting user explicitly; there is no ambient session identity.
type Service interface {
	PlaceOrder(ctx context.Context, actor string, params PlaceOrderParams) (*Order, error)
	AmendOrder(ctx context.Context, actor string, id uuid.UUID, quantity int) (*Order, error)
	CancelOrder(ctx context.Context, actor string, id uuid.UUID) error
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
}

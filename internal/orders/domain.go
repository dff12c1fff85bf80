// internal/orders/domain.go
package orders

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownOrder is returned when no order matches the given id.
	ErrUnknownOrder = errors.New("unknown order")

	// ErrDuplicateRequest is returned when a request id has already been seen.
	ErrDuplicateRequest = errors.New("duplicate request")
)

// DeliveryStatus tracks where a placed order is in its delivery lifecycle.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDispatched DeliveryStatus = "dispatched"
	DeliveryDelivered  DeliveryStatus = "delivered"
)

// Order is a client order against one inventory item.
type Order struct {
	ID             uuid.UUID      `json:"id"`
	ClientID       uuid.UUID      `json:"client_id"`
	ItemID         uuid.UUID      `json:"item_id"`
	OrderedAt      time.Time      `json:"ordered_at"`
	Quantity       int            `json:"quantity"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
}

// auditState is the audited subset of an order carried in old/new snapshots.
type auditState struct {
	ID             uuid.UUID      `json:"id"`
	Quantity       int            `json:"quantity"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
}

func (o *Order) auditState() auditState {
	return auditState{ID: o.ID, Quantity: o.Quantity, DeliveryStatus: o.DeliveryStatus}
}

// internal/orders/implementation.go
package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"farmledger/internal/gate"
	"farmledger/internal/ledger"
	"farmledger/pkg/auditlog"
)

const auditEntity = "orders"

// Config carries the orchestration knobs.
type Config struct {
	LockTimeout time.Duration
	MaxRetries  int
}

// service implements the Service interface. Each order transition runs as one
// transaction: validate, apply the stock delta, mutate the order row, append
// the audit record. Any failure rolls the whole transition back.
type service struct {
	db     *sql.DB
	ledger *ledger.Ledger
	audit  *auditlog.Recorder
	cache  ledger.Cache
	cfg    Config
	log    *zap.Logger
}

// NewService creates a new orders service instance. cache may be nil.
func NewService(db *sql.DB, led *ledger.Ledger, audit *auditlog.Recorder, cache ledger.Cache, cfg Config, log *zap.Logger) Service {
	return &service{
		db:     db,
		ledger: led,
		audit:  audit,
		cache:  cache,
		cfg:    cfg,
		log:    log,
	}
}

// PlaceOrder creates an order, deducting its quantity from inventory.
func (s *service) PlaceOrder(ctx context.Context, actor string, params PlaceOrderParams) (*Order, error) {
	order := &Order{
		ID:             uuid.New(),
		ClientID:       params.ClientID,
		ItemID:         params.ItemID,
		OrderedAt:      time.Now().UTC(),
		Quantity:       params.Quantity,
		DeliveryStatus: DeliveryPending,
	}

	var applied ledger.Result
	err := ledger.RunInTx(ctx, s.db, s.cfg.LockTimeout, s.cfg.MaxRetries, func(tx *sql.Tx) error {
		rows := ledger.NewTxRows(tx)

		item, err := rows.ItemForUpdate(ctx, params.ItemID)
		if err != nil {
			return err
		}
		if err := gate.OrderPlacement(item, params.Quantity); err != nil {
			return err
		}

		applied, err = s.ledger.Apply(ctx, rows, params.ItemID, -params.Quantity)
		if err != nil {
			return err
		}

		if err := insertOrder(ctx, tx, order); err != nil {
			return err
		}

		newState, err := auditlog.State(order.auditState())
		if err != nil {
			return err
		}
		_, err = s.audit.Append(ctx, tx, auditlog.Record{
			Entity:   auditEntity,
			Op:       auditlog.OpInsert,
			Actor:    actor,
			NewState: newState,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, applied)
	s.log.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("item_id", order.ItemID.String()),
		zap.Int("quantity", order.Quantity),
		zap.Int("remaining", applied.Quantity),
		zap.String("actor", actor),
	)
	return order, nil
}

// AmendOrder changes the ordered quantity. The stock delta is the difference
// from the previous amount, so shrinking an order releases stock and growing
// it deducts only the increase.
func (s *service) AmendOrder(ctx context.Context, actor string, id uuid.UUID, quantity int) (*Order, error) {
	var amended *Order
	var applied ledger.Result
	err := ledger.RunInTx(ctx, s.db, s.cfg.LockTimeout, s.cfg.MaxRetries, func(tx *sql.Tx) error {
		// Lock the order row first, then the item row: every transition takes
		// locks in this order, so amendments cannot deadlock with each other.
		order, err := getOrderForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		rows := ledger.NewTxRows(tx)
		item, err := rows.ItemForUpdate(ctx, order.ItemID)
		if err != nil {
			return err
		}
		if err := gate.OrderAmendment(item, order.Quantity, quantity); err != nil {
			return err
		}

		oldState, err := auditlog.State(order.auditState())
		if err != nil {
			return err
		}

		applied, err = s.ledger.Apply(ctx, rows, order.ItemID, order.Quantity-quantity)
		if err != nil {
			return err
		}

		order.Quantity = quantity
		if err := updateOrderQuantity(ctx, tx, order.ID, quantity); err != nil {
			return err
		}

		newState, err := auditlog.State(order.auditState())
		if err != nil {
			return err
		}
		if _, err := s.audit.Append(ctx, tx, auditlog.Record{
			Entity:   auditEntity,
			Op:       auditlog.OpUpdate,
			Actor:    actor,
			OldState: oldState,
			NewState: newState,
		}); err != nil {
			return err
		}

		amended = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, applied)
	s.log.Info("order amended",
		zap.String("order_id", id.String()),
		zap.Int("quantity", quantity),
		zap.String("actor", actor),
	)
	return amended, nil
}

// CancelOrder deletes the order and returns its quantity to inventory.
func (s *service) CancelOrder(ctx context.Context, actor string, id uuid.UUID) error {
	var applied ledger.Result
	err := ledger.RunInTx(ctx, s.db, s.cfg.LockTimeout, s.cfg.MaxRetries, func(tx *sql.Tx) error {
		order, err := getOrderForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}

		rows := ledger.NewTxRows(tx)
		applied, err = s.ledger.Apply(ctx, rows, order.ItemID, order.Quantity)
		if err != nil {
			return err
		}

		if err := deleteOrder(ctx, tx, order.ID); err != nil {
			return err
		}

		oldState, err := auditlog.State(order.auditState())
		if err != nil {
			return err
		}
		_, err = s.audit.Append(ctx, tx, auditlog.Record{
			Entity:   auditEntity,
			Op:       auditlog.OpDelete,
			Actor:    actor,
			OldState: oldState,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.refreshCache(ctx, applied)
	s.log.Info("order cancelled",
		zap.String("order_id", id.String()),
		zap.String("actor", actor),
	)
	return nil
}

// GetOrder retrieves an order by id.
func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT id, client_id, item_id, ordered_at, quantity, delivery_status
		FROM orders
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

// refreshCache mirrors the committed quantity into the read-side cache.
// Best-effort: the cache is advisory and a miss only costs a database read.
func (s *service) refreshCache(ctx context.Context, applied ledger.Result) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetQuantity(ctx, applied.ItemID, applied.Quantity); err != nil {
		s.log.Warn("stock cache refresh failed",
			zap.String("item_id", applied.ItemID.String()),
			zap.Error(err),
		)
	}
}

func insertOrder(ctx context.Context, tx *sql.Tx, order *Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, client_id, item_id, ordered_at, quantity, delivery_status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, order.ID, order.ClientID, order.ItemID, order.OrderedAt, order.Quantity, order.DeliveryStatus)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func getOrderForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx, `
		SELECT id, client_id, item_id, ordered_at, quantity, delivery_status
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

func updateOrderQuantity(ctx context.Context, tx *sql.Tx, id uuid.UUID, quantity int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders SET quantity = $2 WHERE id = $1
	`, id, quantity)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func deleteOrder(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `
		DELETE FROM orders WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var order Order
	if err := row.Scan(&order.ID, &order.ClientID, &order.ItemID, &order.OrderedAt, &order.Quantity, &order.DeliveryStatus); err != nil {
		return nil, err
	}
	return &order, nil
}

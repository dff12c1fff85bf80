// internal/ledger/ledger.go
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Ledger applies signed quantity deltas to inventory rows: positive for
// harvest yields, negative for order deductions. It enforces the
// non-negativity invariant and emits low-stock advisories.
type Ledger struct {
	threshold int
	log       *zap.Logger
	tracer    trace.Tracer

	mu         sync.Mutex
	advisories map[uuid.UUID]*rate.Limiter
}

// New creates a Ledger. An advisory is logged whenever a mutation leaves an
// item below lowStockThreshold, throttled to one per item per minute.
func New(lowStockThreshold int, log *zap.Logger) *Ledger {
	return &Ledger{
		threshold:  lowStockThreshold,
		log:        log,
		tracer:     otel.Tracer("farmledger/ledger"),
		advisories: make(map[uuid.UUID]*rate.Limiter),
	}
}

// Result reports the outcome of a successful apply.
type Result struct {
	ItemID   uuid.UUID
	Quantity int
}

// Apply adjusts the item's quantity by delta and returns the new quantity.
// The row stays locked until the enclosing transaction ends.
func (l *Ledger) Apply(ctx context.Context, rows RowStore, itemID uuid.UUID, delta int) (Result, error) {
	item, err := rows.ItemForUpdate(ctx, itemID)
	if err != nil {
		return Result{}, err
	}
	return l.apply(ctx, rows, item, delta)
}

// ApplyByCrop adjusts the inventory row holding the given crop. Harvest
// propagation addresses inventory by crop rather than by item id.
func (l *Ledger) ApplyByCrop(ctx context.Context, rows RowStore, cropID uuid.UUID, delta int) (Result, error) {
	item, err := rows.ItemByCropForUpdate(ctx, cropID)
	if err != nil {
		return Result{}, err
	}
	return l.apply(ctx, rows, item, delta)
}

func (l *Ledger) apply(ctx context.Context, rows RowStore, item *Item, delta int) (Result, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.apply",
		trace.WithAttributes(
			attribute.String("item.id", item.ID.String()),
			attribute.Int("item.quantity", item.Quantity),
			attribute.Int("delta", delta),
		),
	)
	defer span.End()

	next := item.Quantity + delta
	if next < 0 {
		span.SetAttributes(attribute.Bool("negative.rejected", true))
		return Result{}, fmt.Errorf("%w: item %s: %d%+d", ErrNegativeStock, item.ID, item.Quantity, delta)
	}

	if err := rows.SetQuantity(ctx, item.ID, next); err != nil {
		return Result{}, fmt.Errorf("set quantity: %w", err)
	}

	span.SetAttributes(attribute.Int("item.new_quantity", next))

	if next < l.threshold {
		l.advise(item, next)
	}
	return Result{ItemID: item.ID, Quantity: next}, nil
}

// advise emits the low-stock advisory. It is a signal, never an error: the
// transaction proceeds regardless.
func (l *Ledger) advise(item *Item, quantity int) {
	l.mu.Lock()
	limiter, ok := l.advisories[item.ID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute), 1)
		l.advisories[item.ID] = limiter
	}
	l.mu.Unlock()

	if limiter.Allow() {
		l.log.Warn("low stock advisory",
			zap.String("item_id", item.ID.String()),
			zap.String("crop_id", item.CropID.String()),
			zap.String("location", item.Location),
			zap.Int("quantity", quantity),
			zap.Int("threshold", l.threshold),
		)
	}
}

package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"
)

// fakeRows emulates the Postgres row store. ItemForUpdate takes the per-item
// lock the way FOR UPDATE does; tests release it when their "transaction"
// ends.
type fakeRows struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Item
	locks map[uuid.UUID]*sync.Mutex
}

func newFakeRows(items ...*Item) *fakeRows {
	f := &fakeRows{
		items: make(map[uuid.UUID]*Item),
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
	for _, item := range items {
		f.items[item.ID] = item
		f.locks[item.ID] = &sync.Mutex{}
	}
	return f
}

func (f *fakeRows) ItemForUpdate(ctx context.Context, id uuid.UUID) (*Item, error) {
	f.mu.Lock()
	item, ok := f.items[id]
	lock := f.locks[id]
	f.mu.Unlock()
	if !ok {
		return nil, ErrUnknownItem
	}
	lock.Lock()
	copied := *item
	return &copied, nil
}

func (f *fakeRows) ItemByCropForUpdate(ctx context.Context, cropID uuid.UUID) (*Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, item := range f.items {
		if item.CropID == cropID {
			f.locks[id].Lock()
			copied := *item
			return &copied, nil
		}
	}
	return nil, ErrUnknownItem
}

func (f *fakeRows) SetQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return ErrUnknownItem
	}
	item.Quantity = quantity
	return nil
}

func (f *fakeRows) release(id uuid.UUID) {
	f.mu.Lock()
	lock := f.locks[id]
	f.mu.Unlock()
	lock.Unlock()
}

func (f *fakeRows) quantity(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id].Quantity
}

func newTestItem(quantity int) *Item {
	return &Item{
		ID:       uuid.New(),
		CropID:   uuid.New(),
		Quantity: quantity,
		Location: "plot-7",
	}
}

func TestApply_Deduction(t *testing.T) {
	item := newTestItem(50)
	rows := newFakeRows(item)
	led := New(10, zap.NewNop())

	got, err := led.Apply(context.Background(), rows, item.ID, -45)
	rows.release(item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ItemID)
	assert.Equal(t, 5, got.Quantity)
	assert.Equal(t, 5, rows.quantity(item.ID))
}

func TestApply_NegativeStockRejected(t *testing.T) {
	item := newTestItem(5)
	rows := newFakeRows(item)
	led := New(10, zap.NewNop())

	_, err := led.Apply(context.Background(), rows, item.ID, -6)
	rows.release(item.ID)
	require.ErrorIs(t, err, ErrNegativeStock)
	assert.Equal(t, 5, rows.quantity(item.ID), "failed apply must not touch the row")
}

func TestApply_UnknownItem(t *testing.T) {
	rows := newFakeRows()
	led := New(10, zap.NewNop())

	_, err := led.Apply(context.Background(), rows, uuid.New(), -1)
	require.ErrorIs(t, err, ErrUnknownItem)
}

func TestApplyByCrop_HarvestAddition(t *testing.T) {
	item := newTestItem(800)
	rows := newFakeRows(item)
	led := New(10, zap.NewNop())

	// Yield correction from 20 to 25 propagates the difference only.
	got, err := led.ApplyByCrop(context.Background(), rows, item.CropID, 25-20)
	rows.release(item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ItemID)
	assert.Equal(t, 805, got.Quantity)
}

func TestApply_LowStockAdvisory(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	item := newTestItem(12)
	rows := newFakeRows(item)
	led := New(10, zap.New(core))

	_, err := led.Apply(context.Background(), rows, item.ID, -5)
	rows.release(item.ID)
	require.NoError(t, err, "low stock is an advisory, not an error")

	entries := logs.FilterMessage("low stock advisory").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].ContextMap()["quantity"])

	// Throttled: a second advisory within the window stays silent.
	_, err = led.Apply(context.Background(), rows, item.ID, -1)
	rows.release(item.ID)
	require.NoError(t, err)
	assert.Len(t, logs.FilterMessage("low stock advisory").All(), 1)
}

func TestApply_Concurrent(t *testing.T) {
	item := newTestItem(50)
	rows := newFakeRows(item)
	led := New(0, zap.NewNop())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = led.Apply(context.Background(), rows, item.ID, -45)
			rows.release(item.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrNegativeStock)
		}
	}
	assert.Equal(t, 1, succeeded, "only one of the competing deductions may win")
	assert.Equal(t, 5, rows.quantity(item.ID))
	assert.GreaterOrEqual(t, rows.quantity(item.ID), 0)
}

func TestApply_QuantityNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		item := newTestItem(rapid.IntRange(0, 1000).Draw(t, "initial"))
		rows := newFakeRows(item)
		led := New(0, zap.NewNop())

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			before := rows.quantity(item.ID)
			delta := rapid.IntRange(-200, 200).Draw(t, "delta")

			got, err := led.Apply(context.Background(), rows, item.ID, delta)
			rows.release(item.ID)

			after := rows.quantity(item.ID)
			if after < 0 {
				t.Fatalf("quantity went negative: %d", after)
			}
			if err != nil {
				if !errors.Is(err, ErrNegativeStock) {
					t.Fatalf("unexpected error: %v", err)
				}
				if after != before {
					t.Fatalf("failed apply mutated the row: %d -> %d", before, after)
				}
				continue
			}
			if got.Quantity != before+delta {
				t.Fatalf("apply returned %d, want %d", got.Quantity, before+delta)
			}
		}
	})
}

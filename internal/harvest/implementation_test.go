// internal/harvest/implementation_test.go
package harvest

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"farmledger/internal/crops"
	"farmledger/internal/gate"
	"farmledger/internal/ledger"
	"farmledger/internal/schema"
)

// setupTestDB connects to PostgreSQL, applies the schema and wipes the
// tables. It skips the test if the database is unreachable.
func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	pgHost := os.Getenv("PGHOST")
	pgPort := os.Getenv("PGPORT")
	pgUser := os.Getenv("PGUSER")
	pgPassword := os.Getenv("PGPASSWORD")
	pgDB := os.Getenv("PGDATABASE")

	if pgHost == "" {
		pgHost = "localhost"
	}
	if pgPort == "" {
		pgPort = "5432"
	}
	if pgUser == "" {
		pgUser = "farmledger"
	}
	if pgPassword == "" {
		pgPassword = "farmledger"
	}
	if pgDB == "" {
		pgDB = "farmledger_test"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}

	if err := schema.Apply(context.Background(), db); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	_, err = db.Exec(`TRUNCATE TABLE orders, harvests, inventory_items, crops, audit_records`)
	if err != nil {
		t.Fatalf("failed to truncate: %v", err)
	}

	return db
}

func newTestService(t testing.TB, db *sql.DB) Service {
	t.Helper()
	log := zaptest.NewLogger(t)
	return NewService(db, ledger.New(10, log), crops.NewRegistry(), nil, Config{
		LockTimeout: 3 * time.Second,
		MaxRetries:  3,
	}, log)
}

// seedCrop inserts a crop and one inventory row holding quantity units,
// returning the crop id and the item id.
func seedCrop(t testing.TB, db *sql.DB, quantity int) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	crop := &crops.Crop{ID: uuid.New(), Name: "cherry tomato", Variety: "sungold"}
	require.NoError(t, crops.NewRegistry().Insert(ctx, db, crop))

	item := &ledger.Item{
		ID:       uuid.New(),
		CropID:   crop.ID,
		Quantity: quantity,
		Location: "rooftop-1",
	}
	require.NoError(t, ledger.InsertItem(ctx, db, item))
	return crop.ID, item.ID
}

func itemQuantity(t testing.TB, db *sql.DB, id uuid.UUID) int {
	t.Helper()
	item, err := ledger.FetchItem(context.Background(), db, id)
	require.NoError(t, err)
	return item.Quantity
}

func TestRecordHarvestAddsYield(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestService(t, db)
	ctx := context.Background()

	cropID, itemID := seedCrop(t, db, 800)

	h, err := svc.RecordHarvest(ctx, "yusuf", RecordParams{
		CropID:        cropID,
		FarmID:        uuid.New(),
		Yield:         5,
		QualityRating: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, h.Yield)
	assert.Equal(t, 805, itemQuantity(t, db, itemID))

	got, err := svc.GetHarvest(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.ID, got.ID)
	assert.Equal(t, 4, got.QualityRating)
}

func TestRecordHarvestRejectsNegativeYield(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestService(t, db)

	cropID, itemID := seedCrop(t, db, 800)

	_, err := svc.RecordHarvest(context.Background(), "yusuf", RecordParams{
		CropID: cropID,
		FarmID: uuid.New(),
		Yield:  -7,
	})
	require.ErrorIs(t, err, gate.ErrInvalidQuantity)
	assert.Equal(t, 800, itemQuantity(t, db, itemID))
}

// A zero yield is a valid record (a failed picking); it moves no stock.
func TestRecordHarvestZeroYield(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestService(t, db)

	cropID, itemID := seedCrop(t, db, 800)

	h, err := svc.RecordHarvest(context.Background(), "yusuf", RecordParams{
		CropID: cropID,
		FarmID: uuid.New(),
		Yield:  0,
	})
	require.NoError(t, err)
	assert.Zero(t, h.Yield)
	assert.Equal(t, 800, itemQuantity(t, db, itemID))
}

func TestRecordHarvestUnknownCrop(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestService(t, db)

	_, err := svc.RecordHarvest(context.Background(), "yusuf", RecordParams{
		CropID: uuid.New(),
		FarmID: uuid.New(),
		Yield:  5,
	})
	require.ErrorIs(t, err, crops.ErrUnknownCrop)
}

// TestRecordBatchAtomic puts a bad row in the middle of a batch and checks
// that no yield from the batch reached inventory.
func TestRecordBatchAtomic(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestService(t, db)
	ctx := context.Background()

	cropA, itemA := seedCrop(t, db, 100)
	cropB, itemB := seedCrop(t, db, 200)
	farmID := uuid.New()

	_, err := svc.RecordBatch(ctx, "yusuf", []RecordParams{
		{CropID: cropA, FarmID: farmID, Yield: 10},
		{CropID: uuid.New(), FarmID: farmID, Yield: 10},
		{CropID: cropB, FarmID: farmID, Yield: 10},
	})
	require.ErrorIs(t, err, crops.ErrUnknownCrop)

	assert.Equal(t, 100, itemQuantity(t, db, itemA))
	assert.Equal(t, 200, itemQuantity(t, db, itemB))

	var harvestCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM harvests`).Scan(&harvestCount))
	assert.Zero(t, harvestCount)
}

func TestRecordBatchSucceeds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestService(t, db)
	ctx := context.Background()

	cropA, itemA := seedCrop(t, db, 100)
	cropB, itemB := seedCrop(t, db, 200)
	farmID := uuid.New()

	recorded, err := svc.RecordBatch(ctx, "yusuf", []RecordParams{
		{CropID: cropA, FarmID: farmID, Yield: 10, QualityRating: 5},
		{CropID: cropB, FarmID: farmID, Yield: 25, QualityRating: 3},
	})
	require.NoError(t, err)
	require.Len(t, recorded, 2)

	assert.Equal(t, 110, itemQuantity(t, db, itemA))
	assert.Equal(t, 225, itemQuantity(t, db, itemB))
}

// TestAmendYieldAppliesDifference corrects a yield of 20 to 25 against a
// crop holding 800 units and expects 805 on hand, not 825.
func TestAmendYieldAppliesDifference(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestService(t, db)
	ctx := context.Background()

	cropID, itemID := seedCrop(t, db, 780)

	h, err := svc.RecordHarvest(ctx, "yusuf", RecordParams{
		CropID: cropID,
		FarmID: uuid.New(),
		Yield:  20,
	})
	require.NoError(t, err)
	require.Equal(t, 800, itemQuantity(t, db, itemID))

	amended, err := svc.AmendYield(ctx, "yusuf", h.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, 25, amended.Yield)
	assert.Equal(t, 805, itemQuantity(t, db, itemID))

	// Correcting downward releases the difference.
	amended, err = svc.AmendYield(ctx, "yusuf", h.ID, 15)
	require.NoError(t, err)
	assert.Equal(t, 15, amended.Yield)
	assert.Equal(t, 795, itemQuantity(t, db, itemID))
}

// A downward correction larger than the remaining stock must not push the
// inventory row negative.
func TestAmendYieldCannotOverdrawStock(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestService(t, db)
	ctx := context.Background()

	cropID, itemID := seedCrop(t, db, 0)

	h, err := svc.RecordHarvest(ctx, "yusuf", RecordParams{
		CropID: cropID,
		FarmID: uuid.New(),
		Yield:  20,
	})
	require.NoError(t, err)
	require.Equal(t, 20, itemQuantity(t, db, itemID))

	// Some of those 20 were already sold off.
	_, err = db.Exec(`UPDATE inventory_items SET quantity = 3 WHERE id = $1`, itemID)
	require.NoError(t, err)

	_, err = svc.AmendYield(ctx, "yusuf", h.ID, 2)
	require.ErrorIs(t, err, ledger.ErrNegativeStock)

	assert.Equal(t, 3, itemQuantity(t, db, itemID))
	got, err := svc.GetHarvest(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Yield)
}

func TestAmendYieldUnknownHarvest(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	svc := newTestService(t, db)

	_, err := svc.AmendYield(context.Background(), "yusuf", uuid.New(), 5)
	require.ErrorIs(t, err, ErrUnknownHarvest)
}

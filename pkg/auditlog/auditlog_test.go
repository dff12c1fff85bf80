package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB attempts to connect to a PostgreSQL database for testing.
// It skips the test if the connection cannot be established.
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

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_records (
			id BIGSERIAL PRIMARY KEY,
			entity TEXT NOT NULL,
			op TEXT NOT NULL,
			actor TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			old_state JSONB,
			new_state JSONB
		);
	`)
	if err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	_, err = db.Exec(`TRUNCATE TABLE audit_records`)
	if err != nil {
		t.Fatalf("failed to truncate: %v", err)
	}

	return db
}

type orderState struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

func TestAppendAndList(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	rec := NewRecorder()

	newState, err := State(orderState{ID: "ord-1", Quantity: 45})
	require.NoError(t, err)

	first, err := rec.Append(ctx, db, Record{
		Entity:   "orders",
		Op:       OpInsert,
		Actor:    "staff:amira",
		NewState: newState,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.False(t, first.RecordedAt.IsZero())

	oldState, err := State(orderState{ID: "ord-1", Quantity: 45})
	require.NoError(t, err)
	newState, err = State(orderState{ID: "ord-1", Quantity: 40})
	require.NoError(t, err)

	second, err := rec.Append(ctx, db, Record{
		Entity:   "orders",
		Op:       OpUpdate,
		Actor:    "staff:amira",
		OldState: oldState,
		NewState: newState,
	})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID, "ids must be monotonic")

	records, err := rec.List(ctx, db, "orders", 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, OpInsert, records[0].Op)
	assert.Equal(t, OpUpdate, records[1].Op)
	assert.Empty(t, records[0].OldState, "insert carries no old state")

	var got orderState
	require.NoError(t, json.Unmarshal(records[1].NewState, &got))
	assert.Equal(t, 40, got.Quantity)
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	rec := NewRecorder()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	state, err := State(orderState{ID: "ord-2", Quantity: 6})
	require.NoError(t, err)

	_, err = rec.Append(ctx, tx, Record{
		Entity:   "orders",
		Op:       OpInsert,
		Actor:    "staff:amira",
		NewState: state,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	records, err := rec.List(ctx, db, "orders", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, records, "rolled-back transitions must leave no audit trace")
}

func TestState(t *testing.T) {
	raw, err := State(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	raw, err = State(orderState{ID: "x", Quantity: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x","quantity":1}`, string(raw))
}

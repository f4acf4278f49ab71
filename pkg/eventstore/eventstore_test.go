package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to PostgreSQL using the PG* environment variables.
// It skips the test if the connection cannot be established.
func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("PGHOST", "localhost"),
		envOr("PGPORT", "5432"),
		envOr("PGUSER", "user"),
		envOr("PGPASSWORD", "password"),
		envOr("PGDATABASE", "testdb"),
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("skipping: could not connect to postgres: %v", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type renewalRecorded struct {
	PlanName string `json:"plan_name"`
}

func payload(t testing.TB, name string) json.RawMessage {
	data, err := json.Marshal(renewalRecorded{PlanName: name})
	require.NoError(t, err)
	return data
}

func TestMemoryStoreAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	memberID := uuid.New()

	err := store.AppendEvents(ctx, memberID, "member", 0, []Event{
		{EventType: "MemberRegistered", EventData: payload(t, "")},
		{EventType: "MembershipPurchased", EventData: payload(t, "Monthly")},
	})
	require.NoError(t, err)

	version, err := store.GetCurrentVersion(ctx, memberID)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	events, err := store.LoadEvents(ctx, memberID, 2, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "MembershipPurchased", events[0].EventType)
	assert.Equal(t, "member", events[0].AggregateType)
}

func TestMemoryStoreRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()

	require.NoError(t, store.AppendEvents(ctx, id, "member", 0, []Event{{EventType: "A"}}))
	err := store.AppendEvents(ctx, id, "member", 0, []Event{{EventType: "B"}})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)

	assert.ErrorIs(t, store.AppendEvents(ctx, id, "member", -1, nil), ErrInvalidVersion)
}

func TestMemoryStoreStream(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendEvents(ctx, uuid.New(), "member", 0, []Event{{EventType: "MemberRegistered"}}))
	}

	first, err := store.StreamEvents(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)

	rest, err := store.StreamEvents(ctx, first[len(first)-1].ID, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestRecordRetriesConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, Record(ctx, store, id, "member", "PaymentRecorded", map[string]int{"n": n}))
		}(i)
	}
	wg.Wait()

	events, err := store.LoadEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 4)
	for i, e := range events {
		assert.Equal(t, i+1, e.Version)
	}
}

func TestEventStoreAppendAndConflict(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	store := NewEventStore(db)
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, store.AppendEvents(ctx, id, "membership", 0, []Event{{EventType: "MembershipPurchased", EventData: payload(t, "Annual")}}))
	assert.ErrorIs(t, store.AppendEvents(ctx, id, "membership", 0, []Event{{EventType: "MembershipSuperseded", EventData: payload(t, "Annual")}}), ErrConcurrencyConflict)

	events, err := store.LoadEvents(ctx, id, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Version)
}

func BenchmarkAppendEvents(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	store := NewEventStore(db)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		aggregateID := uuid.New()
		events := []Event{{EventType: "PaymentRecorded", EventData: payload(b, fmt.Sprintf("plan %d", i))}}
		b.StartTimer()

		if err := store.AppendEvents(context.Background(), aggregateID, "member", 0, events); err != nil {
			b.Fatalf("AppendEvents failed: %v", err)
		}
	}
}

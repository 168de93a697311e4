package ledger

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/logging"
	"github.com/quantumlife/daybreak/internal/storage"
)

func setupTestDB(t *testing.T) (*storage.DB, *sql.DB) {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// One connection so every query sees the same in-memory database
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	db := storage.Wrap(conn, storage.DialectSQLite)
	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db, conn
}

type tickClock struct{ t time.Time }

func (c *tickClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, conn := setupTestDB(t)
	return NewStore(db, &tickClock{t: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)}), conn
}

func ev(action, actor, entityType, entityID string) Event {
	return Event{Action: action, Actor: actor, UserID: "u1", DayIndex: 1, EntityType: entityType, EntityID: entityID}
}

func TestStore_Append(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	entry, err := store.Append(ctx, Event{
		Action: ActionOfferAccepted, Actor: ActorPlayer, UserID: "u1", DayIndex: 2,
		EntityType: "offer", EntityID: "offer-1",
		Details: map[string]interface{}{"arc_key": "mentor"},
	})
	if err != nil {
		t.Fatalf("Failed to append first entry: %v", err)
	}

	if entry.PrevHash != GenesisHash {
		t.Errorf("First entry should have genesis prev_hash, got %s", entry.PrevHash)
	}
	if entry.Hash == "" {
		t.Error("Entry hash should not be empty")
	}
	if entry.Seq != 1 {
		t.Errorf("First entry seq = %d, want 1", entry.Seq)
	}

	entry2, err := store.Append(ctx, ev(ActionStepResolved, ActorPlayer, "instance", "inst-1"))
	if err != nil {
		t.Fatalf("Failed to append second entry: %v", err)
	}
	if entry2.PrevHash != entry.Hash {
		t.Errorf("Second entry prev_hash should match first entry hash")
	}
	if entry2.Seq != 2 {
		t.Errorf("Second entry seq = %d, want 2", entry2.Seq)
	}
}

func TestStore_VerifyChain_Valid(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Append(ctx, ev(ActionResourcesApplied, ActorPlayer, "day_state", "u1"))
		if err != nil {
			t.Fatalf("Failed to append entry %d: %v", i, err)
		}
	}

	if err := store.VerifyChain(ctx); err != nil {
		t.Errorf("Chain verification should pass: %v", err)
	}
}

func TestStore_VerifyChain_SameTimestamp(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	// A frozen clock stamps every entry identically; seq still orders them.
	store := NewStore(db, core.FixedClock{At: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)})

	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, ev(ActionOfferShown, ActorSystem, "offer", "o1")); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.VerifyChain(ctx); err != nil {
		t.Errorf("Chain verification should pass: %v", err)
	}
}

func TestStore_VerifyChain_TamperedHash(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, ev(ActionOfferAccepted, ActorPlayer, "offer", "o1"))
	store.Append(ctx, ev(ActionStepResolved, ActorPlayer, "instance", "i1"))

	_, err := conn.Exec("UPDATE ledger SET hash = 'tampered' WHERE action = ?", ActionStepResolved)
	if err != nil {
		t.Fatalf("Failed to tamper with entry: %v", err)
	}

	err = store.VerifyChain(ctx)
	if err == nil {
		t.Fatal("Chain verification should fail after tampering")
	}

	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("Expected ChainError, got %T", err)
	}
	if chainErr.Type != "hash_mismatch" {
		t.Errorf("Expected hash_mismatch error type, got %s", chainErr.Type)
	}
	if chainErr.EntryNum != 2 {
		t.Errorf("EntryNum = %d, want 2", chainErr.EntryNum)
	}
}

func TestStore_VerifyChain_TamperedDetails(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, Event{Action: ActionResourcesApplied, Actor: ActorPlayer, UserID: "u1", Details: map[string]int{"energy": -7}})

	if _, err := conn.Exec(`UPDATE ledger SET details = '{"energy":50}'`); err != nil {
		t.Fatal(err)
	}
	if err := store.VerifyChain(ctx); err == nil {
		t.Error("rewriting details should break the chain")
	}
}

func TestStore_VerifyChain_BrokenLink(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, ev(ActionOfferAccepted, ActorPlayer, "offer", "o1"))
	store.Append(ctx, ev(ActionStepResolved, ActorPlayer, "instance", "i1"))

	_, err := conn.Exec("UPDATE ledger SET prev_hash = 'broken' WHERE action = ?", ActionStepResolved)
	if err != nil {
		t.Fatalf("Failed to break chain: %v", err)
	}

	err = store.VerifyChain(ctx)
	if err == nil {
		t.Fatal("Chain verification should fail with broken link")
	}

	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("Expected ChainError, got %T", err)
	}
	if chainErr.Type != "chain_broken" {
		t.Errorf("Expected chain_broken error type, got %s", chainErr.Type)
	}
	if !strings.Contains(chainErr.Error(), "chain broken at entry 2") {
		t.Errorf("Error() = %q", chainErr.Error())
	}
}

func TestStore_Query(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, ev(ActionOfferShown, ActorSystem, "offer", "o1"))
	store.Append(ctx, ev(ActionOfferAccepted, ActorPlayer, "offer", "o1"))
	store.Append(ctx, Event{Action: ActionStepResolved, Actor: ActorPlayer, UserID: "u2", DayIndex: 3, EntityType: "instance", EntityID: "i1"})
	store.Append(ctx, ev(ActionOfferShown, ActorSystem, "offer", "o2"))

	entries, err := store.Query(ctx, QueryOptions{Action: ActionOfferShown})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 offer.shown entries, got %d", len(entries))
	}
	if len(entries) == 2 && entries[0].EntityID != "o2" {
		t.Errorf("Query should return newest first, got %s", entries[0].EntityID)
	}

	entries, _ = store.Query(ctx, QueryOptions{Actor: ActorSystem})
	if len(entries) != 2 {
		t.Errorf("Expected 2 system entries, got %d", len(entries))
	}

	entries, _ = store.Query(ctx, QueryOptions{UserID: "u2", DayIndex: 3})
	if len(entries) != 1 || entries[0].Action != ActionStepResolved {
		t.Errorf("Expected the single u2 entry, got %v", entries)
	}

	entries, _ = store.Query(ctx, QueryOptions{EntityType: "offer", EntityID: "o1"})
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries for o1, got %d", len(entries))
	}

	entries, _ = store.Query(ctx, QueryOptions{Limit: 2, Offset: 1})
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries with limit, got %d", len(entries))
	}
	if entries[0].Seq != 3 {
		t.Errorf("Offset 1 should skip the newest entry, got seq %d", entries[0].Seq)
	}
}

func TestStore_GetByID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	entry, _ := store.Append(ctx, Event{
		Action: ActionAllocationApplied, Actor: ActorPlayer, UserID: "u1", DayIndex: 1,
		Details: map[string]interface{}{"test": "value"},
	})

	retrieved, err := store.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if retrieved.Action != entry.Action {
		t.Errorf("Action mismatch: expected %s, got %s", entry.Action, retrieved.Action)
	}
	if retrieved.Hash != entry.Hash {
		t.Errorf("Hash mismatch")
	}
	if !retrieved.Timestamp.Equal(entry.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", retrieved.Timestamp, entry.Timestamp)
	}

	_, err = store.GetByID(ctx, "non-existent")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetByID(non-existent) err = %v, want not found", err)
	}
}

func TestStore_GetSummary(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, ev(ActionOfferShown, ActorSystem, "offer", "o1"))
	store.Append(ctx, ev(ActionOfferAccepted, ActorPlayer, "offer", "o1"))
	store.Append(ctx, ev(ActionStepResolved, ActorPlayer, "instance", "i1"))

	summary, err := store.GetSummary(ctx)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary.TotalEntries != 3 {
		t.Errorf("Expected 3 total entries, got %d", summary.TotalEntries)
	}
	if !summary.ChainValid {
		t.Errorf("Chain should be valid, error: %s", summary.ChainError)
	}
	if summary.ByAction[ActionOfferShown] != 1 {
		t.Errorf("Expected 1 offer.shown action, got %d", summary.ByAction[ActionOfferShown])
	}
	if summary.ByActor[ActorPlayer] != 2 {
		t.Errorf("Expected 2 player actions, got %d", summary.ByActor[ActorPlayer])
	}
	if summary.FirstEntry == nil || summary.LastEntry == nil || !summary.FirstEntry.Before(*summary.LastEntry) {
		t.Errorf("time range = %v .. %v", summary.FirstEntry, summary.LastEntry)
	}
}

func TestStore_Count(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	count, _ := store.Count(ctx)
	if count != 0 {
		t.Errorf("Expected 0 entries, got %d", count)
	}

	store.Append(ctx, ev(ActionOfferShown, ActorSystem, "offer", "o1"))
	store.Append(ctx, ev(ActionOfferShown, ActorSystem, "offer", "o2"))

	count, _ = store.Count(ctx)
	if count != 2 {
		t.Errorf("Expected 2 entries, got %d", count)
	}
}

func TestStore_GetEntityHistory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, ev(ActionStepResolved, ActorPlayer, "instance", "i1"))
	store.Append(ctx, ev(ActionStepDeferred, ActorPlayer, "instance", "i1"))
	store.Append(ctx, ev(ActionArcCompleted, ActorPlayer, "instance", "i1"))
	store.Append(ctx, ev(ActionStepResolved, ActorPlayer, "instance", "i2"))

	history, err := store.GetEntityHistory(ctx, "instance", "i1")
	if err != nil {
		t.Fatalf("GetEntityHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("Expected 3 history entries for i1, got %d", len(history))
	}
}

func TestRecorder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	recorder := NewRecorder(store, logging.Discard())

	offer := &core.ArcOffer{ID: "o1", UserID: "u1", ArcKey: "mentor", State: core.OfferExpired}
	recorder.RecordOffer(ctx, ActionOfferExpired, offer, 7)

	entries, _ := store.Query(ctx, QueryOptions{Action: ActionOfferExpired})
	if len(entries) != 1 {
		t.Fatalf("Expected 1 expiry entry, got %d", len(entries))
	}
	if entries[0].Actor != ActorSystem || entries[0].DayIndex != 7 {
		t.Errorf("expiry entry = %+v", entries[0])
	}

	inst := &core.ArcInstance{ID: "i1", UserID: "u1", ArcKey: "mentor", State: core.InstanceAbandoned, FailureReason: core.FailureDeferred}
	recorder.RecordInstance(ctx, ActionArcAbandoned, inst, 8, nil)

	entries, _ = store.Query(ctx, QueryOptions{EntityType: "instance", EntityID: "i1"})
	if len(entries) != 1 {
		t.Fatalf("Expected 1 instance entry, got %d", len(entries))
	}
	if entries[0].Actor != ActorPlayer {
		t.Errorf("a deferral-driven abandonment is the player's doing, got actor %s", entries[0].Actor)
	}
	if !strings.Contains(entries[0].Details, `"failure_reason":"deferred"`) {
		t.Errorf("Details = %s", entries[0].Details)
	}
}

func TestRecorder_SwallowsFailures(t *testing.T) {
	store, conn := newTestStore(t)
	var buf bytes.Buffer
	recorder := NewRecorder(store, logging.New(&buf, logging.DEBUG))

	conn.Exec("DROP TABLE ledger")
	recorder.RecordDay(context.Background(), ActionDayCompleted, "u1", 3, nil)

	if !strings.Contains(buf.String(), "[WARN] choice log append failed") {
		t.Errorf("expected a WARN line, got %q", buf.String())
	}
}

func TestRecorder_Nil(t *testing.T) {
	var recorder *Recorder
	recorder.RecordDay(context.Background(), ActionDayCompleted, "u1", 1, nil)
}

func TestComputeHash_Deterministic(t *testing.T) {
	entry := &Entry{
		ID:         "test-id",
		Seq:        1,
		Timestamp:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Action:     ActionOfferAccepted,
		Actor:      ActorPlayer,
		UserID:     "u1",
		DayIndex:   4,
		EntityType: "offer",
		EntityID:   "offer-1",
		Details:    `{"key":"value"}`,
		PrevHash:   "prev-hash-value",
	}

	hash1 := computeHash(entry)
	hash2 := computeHash(entry)
	if hash1 != hash2 {
		t.Error("Hash should be deterministic")
	}

	entry.Details = `{"key":"different"}`
	if hash1 == computeHash(entry) {
		t.Error("Hash should change when details change")
	}

	entry.Details = `{"key":"value"}`
	entry.DayIndex = 5
	if hash1 == computeHash(entry) {
		t.Error("Hash should change when the day changes")
	}
}

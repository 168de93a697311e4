package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantumlife/daybreak/internal/core"
)

func TestDailyStore_Runs(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := NewDailyStore(db)

	for day, pair := range map[int][2]string{1: {"a", "b"}, 2: {"c", "d"}, 3: {"e", "f"}} {
		run := &core.DailyRunRecord{
			UserID: "u1", DayIndex: day, Date: testNow.AddDate(0, 0, day-1).Format(core.DateLayout),
			StoryletA: pair[0], StoryletB: pair[1], CreatedAt: testNow,
		}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun(day %d) error = %v", day, err)
		}
	}

	dup := &core.DailyRunRecord{UserID: "u1", DayIndex: 1, Date: "2026-03-14", CreatedAt: testNow}
	if err := store.CreateRun(ctx, dup); !IsUniqueViolation(err) {
		t.Errorf("duplicate run err = %v, want unique violation", err)
	}

	first, err := store.FirstRun(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if first.DayIndex != 1 || first.Date != "2026-03-14" {
		t.Errorf("FirstRun() = %+v", first)
	}
	byDate, err := store.GetRunByDate(ctx, "u1", "2026-03-15")
	if err != nil {
		t.Fatal(err)
	}
	if byDate.DayIndex != 2 {
		t.Errorf("GetRunByDate().DayIndex = %d, want 2", byDate.DayIndex)
	}

	recent, err := store.RecentStorylets(ctx, "u1", 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0] != "c" || recent[1] != "d" {
		t.Errorf("RecentStorylets() = %v, want [c d]", recent)
	}

	if _, err := store.FirstRun(ctx, "nobody"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("FirstRun(nobody) err = %v", err)
	}
}

func TestDailyStore_MarkRunCompleted_KeepsFirstStamp(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := NewDailyStore(db)
	store.CreateRun(ctx, &core.DailyRunRecord{UserID: "u1", DayIndex: 1, Date: "2026-03-14", CreatedAt: testNow})

	if err := store.MarkRunCompleted(ctx, "u1", 1, testNow); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkRunCompleted(ctx, "u1", 1, testNow.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	run, _ := store.GetRun(ctx, "u1", 1)
	if run.CompletedAt == nil || !run.CompletedAt.Equal(testNow) {
		t.Errorf("CompletedAt = %v, want %v", run.CompletedAt, testNow)
	}

	if err := store.MarkRunCompleted(ctx, "u1", 9, testNow); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("MarkRunCompleted(missing) err = %v", err)
	}
}

func TestDailyStore_Allocation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := NewDailyStore(db)

	if _, err := store.GetAllocation(ctx, "u1", 1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("GetAllocation() before submit err = %v", err)
	}

	alloc := &core.TimeAllocation{
		UserID: "u1", DayIndex: 1, Hash: "h1", UpdatedAt: testNow,
		Values: core.Allocation{core.CategoryStudy: 60, core.CategoryFun: 40},
	}
	if err := store.UpsertAllocation(ctx, alloc); err != nil {
		t.Fatal(err)
	}
	alloc.Values = core.Allocation{core.CategoryWork: 100}
	alloc.Hash = "h2"
	if err := store.UpsertAllocation(ctx, alloc); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetAllocation(ctx, "u1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != "h2" || got.Values[core.CategoryWork] != 100 || got.Values[core.CategoryStudy] != 0 {
		t.Errorf("GetAllocation() = %+v", got)
	}
}

func TestDailyStore_StoryletRuns(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := NewDailyStore(db)

	for i, id := range []string{"a", "x", "b"} {
		run := &core.StoryletRun{ID: id + "-run", UserID: "u1", DayIndex: 1, StoryletID: id, ChoiceKey: "c", CreatedAt: testNow.Add(time.Duration(i))}
		if err := store.InsertStoryletRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	n, err := store.CountStoryletRuns(ctx, "u1", 1, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("CountStoryletRuns(a, b) = %d, want 2", n)
	}
	if n, _ := store.CountStoryletRuns(ctx, "u1", 1); n != 0 {
		t.Errorf("CountStoryletRuns() with no ids = %d, want 0", n)
	}

	again := &core.StoryletRun{ID: "a-again", UserID: "u1", DayIndex: 1, StoryletID: "a", ChoiceKey: "d", CreatedAt: testNow}
	if err := store.InsertStoryletRun(ctx, again); !IsUniqueViolation(err) {
		t.Errorf("second choice on a: err = %v, want unique violation", err)
	}
	if n, _ := store.CountStoryletRuns(ctx, "u1", 1, "a"); n != 1 {
		t.Errorf("CountStoryletRuns(a) = %d after a rejected duplicate, want 1", n)
	}
	nextDay := &core.StoryletRun{ID: "a-day2", UserID: "u1", DayIndex: 2, StoryletID: "a", ChoiceKey: "c", CreatedAt: testNow}
	if err := store.InsertStoryletRun(ctx, nextDay); err != nil {
		t.Errorf("same storylet on another day: %v", err)
	}
}

func TestDailyStore_Marks(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := NewDailyStore(db)

	created, err := store.PutMark(ctx, &core.DayMark{UserID: "u1", DayIndex: 1, Kind: core.MarkPosture, Payload: "steady", CreatedAt: testNow})
	if err != nil || !created {
		t.Fatalf("PutMark() = %v, %v", created, err)
	}
	created, err = store.PutMark(ctx, &core.DayMark{UserID: "u1", DayIndex: 1, Kind: core.MarkPosture, Payload: "bold", CreatedAt: testNow})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second mark of the same kind should not be created")
	}
	store.PutMark(ctx, &core.DayMark{UserID: "u1", DayIndex: 1, Kind: core.MarkReflection, CreatedAt: testNow})

	marks, err := store.GetMarks(ctx, "u1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(marks) != 2 {
		t.Fatalf("GetMarks() = %d marks, want 2", len(marks))
	}
	if marks[core.MarkPosture].Payload != "steady" {
		t.Errorf("posture payload = %q, want first value steady", marks[core.MarkPosture].Payload)
	}
}

package economy

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/ledger"
	"github.com/quantumlife/daybreak/internal/logging"
	"github.com/quantumlife/daybreak/internal/storage"
	"github.com/quantumlife/daybreak/internal/testutil"
)

var testDefaults = core.Resources{Energy: 70, Stress: 20, CashOnHand: 50, PhysicalResilience: 50}

type fixture struct {
	engine *Engine
	db     *storage.DB
	ledger *ledger.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.TestDB(t)

	clock := core.FixedClock{At: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	log := logging.Discard()
	ledgerStore := ledger.NewStore(db, clock)
	engine := New(Config{
		Defaults:            testDefaults,
		SkillCap:            10,
		StartingSkillPoints: 3,
		Disposition: DispositionConfig{
			Reward: Curve{PerPoint: 0.1, Max: 0.5},
			Cost:   Curve{PerPoint: 0.1, Max: 1.0},
		},
	}, Stores{
		States:       storage.NewDayStateStore(db),
		Skills:       storage.NewSkillStore(db),
		Dispositions: storage.NewDispositionStore(db),
		Traces:       storage.NewTraceStore(db),
	}, ledger.NewRecorder(ledgerStore, log), clock, log)

	return &fixture{engine: engine, db: db, ledger: ledgerStore}
}

var exampleAllocation = core.Allocation{
	core.CategoryStudy:  40,
	core.CategoryWork:   20,
	core.CategorySocial: 10,
	core.CategoryHealth: 20,
	core.CategoryFun:    10,
}

// =============================================================================
// Snapshot
// =============================================================================

func TestSnapshot_FromDefaults(t *testing.T) {
	f := newFixture(t)
	st, err := f.engine.Snapshot(context.Background(), "u1", 1)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if st.Current != testDefaults {
		t.Errorf("Current = %+v, want defaults", st.Current)
	}
	if st.AllocationHash != "" || st.PreAllocation != nil {
		t.Error("a fresh day has no allocation")
	}
}

func TestSnapshot_CarriesOverLatestDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Apply(ctx, "u1", 1, core.Delta{Resources: core.ResourceDelta{Energy: -30, CashOnHand: 5}}, "test", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.ApplyAllocation(ctx, "u1", 1, exampleAllocation); err != nil {
		t.Fatal(err)
	}
	day1, _ := f.engine.Snapshot(ctx, "u1", 1)

	// Day 2 is skipped; day 3 starts from day 1's end state.
	day3, err := f.engine.Snapshot(ctx, "u1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if day3.Current != day1.Current {
		t.Errorf("day 3 start = %+v, want day 1 end %+v", day3.Current, day1.Current)
	}
	if day3.Totals != day1.Totals {
		t.Errorf("totals should carry over: %+v vs %+v", day3.Totals, day1.Totals)
	}
	if day3.AllocationHash != "" || day3.PreAllocation != nil {
		t.Error("allocation state must not carry over")
	}
}

func TestSnapshot_IsStable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.engine.Snapshot(ctx, "u1", 2)
	b, _ := f.engine.Snapshot(ctx, "u1", 2)
	if a.Current != b.Current || !a.CreatedAt.Equal(b.CreatedAt) {
		t.Error("second Snapshot should read the stored row")
	}
}

func TestSnapshot_RejectsBadDay(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Snapshot(context.Background(), "u1", 0); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

// =============================================================================
// Apply
// =============================================================================

func TestApply_ClampsBoundedFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Apply(ctx, "u1", 1, core.Delta{Resources: core.ResourceDelta{
		Energy:     500,
		Stress:     -500,
		CashOnHand: -80,
		Knowledge:  -3,
	}}, "test", nil)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	want := core.Resources{Energy: 100, Stress: 0, CashOnHand: -30, Knowledge: -3, PhysicalResilience: 50}
	if res.After != want {
		t.Errorf("After = %+v, want %+v", res.After, want)
	}
	if res.Applied.Energy != 30 || res.Applied.Stress != -20 {
		t.Errorf("Applied should reflect clamping, got %+v", res.Applied)
	}

	stored, _ := f.engine.Snapshot(ctx, "u1", 1)
	if stored.Current != want {
		t.Errorf("stored = %+v, want %+v", stored.Current, want)
	}
}

func TestApply_SkillBankCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.Apply(ctx, "u1", 1, core.Delta{SkillPoints: 50}, "test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.SkillPoints != 10 {
		t.Errorf("SkillPoints = %d, want cap 10", res.SkillPoints)
	}

	res, _ = f.engine.Apply(ctx, "u1", 1, core.Delta{SkillPoints: -50}, "test", nil)
	if res.SkillPoints != 0 {
		t.Errorf("SkillPoints = %d, want floor 0", res.SkillPoints)
	}
}

func TestApply_HesitationFloor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.Apply(ctx, "u1", 1, core.Delta{Dispositions: map[string]float64{"career": 1.5}}, "test", nil)
	res, err := f.engine.Apply(ctx, "u1", 1, core.Delta{Dispositions: map[string]float64{"career": -4, "family": -1}}, "test", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Hesitation["career"] != 0 || res.Hesitation["family"] != 0 {
		t.Errorf("Hesitation = %v, want floored at 0", res.Hesitation)
	}

	h, _ := f.engine.Hesitation(ctx, "u1")
	if h["career"] != 0 {
		t.Errorf("stored career hesitation = %v, want 0", h["career"])
	}
}

func TestApply_WritesTraceAndAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Apply(ctx, "u1", 4, core.Delta{Resources: core.ResourceDelta{Knowledge: 2}}, "storylet", map[string]any{"storylet_id": "library-shift"})
	if err != nil {
		t.Fatal(err)
	}

	traces, _ := storage.NewTraceStore(f.db).ListForDay(ctx, "u1", 4)
	if len(traces) != 1 || traces[0].Source != "storylet" || traces[0].After.Knowledge != 2 {
		t.Errorf("traces = %+v", traces)
	}
	entries, _ := f.ledger.Query(ctx, ledger.QueryOptions{Action: ledger.ActionResourcesApplied, UserID: "u1"})
	if len(entries) != 1 {
		t.Errorf("expected 1 audit entry, got %d", len(entries))
	}
}

type failingTraces struct{}

func (failingTraces) Insert(context.Context, *core.ResourceTrace) error {
	return core.StoreFailure("insert trace", errors.New("disk full"))
}

func TestApply_TraceFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	var buf bytes.Buffer
	f.engine.stores.Traces = failingTraces{}
	f.engine.log = logging.New(&buf, logging.DEBUG)

	res, err := f.engine.Apply(context.Background(), "u1", 1, core.Delta{Resources: core.ResourceDelta{Energy: -5}}, "test", nil)
	if err != nil {
		t.Fatalf("Apply() should succeed when the trace write fails: %v", err)
	}
	if res.After.Energy != 65 {
		t.Errorf("Energy = %d, want 65", res.After.Energy)
	}
	if !bytes.Contains(buf.Bytes(), []byte("[WARN] resource trace dropped")) {
		t.Errorf("expected a WARN line, got %q", buf.String())
	}
}

// =============================================================================
// Skill points
// =============================================================================

func TestSpendSkillPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bank, err := f.engine.SkillBank(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bank.Available != 3 {
		t.Errorf("new bank has %d points, want 3", bank.Available)
	}

	bank, err = f.engine.SpendSkillPoints(ctx, "u1", 1, 2)
	if err != nil {
		t.Fatalf("SpendSkillPoints() error = %v", err)
	}
	if bank.Available != 1 {
		t.Errorf("Available = %d, want 1", bank.Available)
	}

	_, err = f.engine.SpendSkillPoints(ctx, "u1", 1, 2)
	if !errors.Is(err, core.ErrInsufficientResources) {
		t.Fatalf("err = %v, want insufficient resources", err)
	}
	var ce *core.Error
	if errors.As(err, &ce) && ce.Resource != core.ResourceSkillPoints {
		t.Errorf("Resource = %s, want skillPoints", ce.Resource)
	}

	if _, err := f.engine.SpendSkillPoints(ctx, "u1", 1, 0); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("spending 0 points: err = %v", err)
	}
}

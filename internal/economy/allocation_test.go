package economy

import (
	"context"
	"errors"
	"testing"

	"github.com/quantumlife/daybreak/internal/core"
)

func TestValidateAllocation(t *testing.T) {
	tests := []struct {
		name    string
		alloc   core.Allocation
		wantErr bool
	}{
		{"example", exampleAllocation, false},
		{"single category", core.Allocation{core.CategoryFun: 100}, false},
		{"zero entries allowed", core.Allocation{core.CategoryWork: 100, core.CategoryFun: 0}, false},
		{"empty", core.Allocation{}, true},
		{"short", core.Allocation{core.CategoryWork: 99}, true},
		{"over", core.Allocation{core.CategoryWork: 60, core.CategoryFun: 41}, true},
		{"negative", core.Allocation{core.CategoryWork: 110, core.CategoryFun: -10}, true},
		{"unknown category", core.Allocation{"sleep": 100}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAllocation(tt.alloc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateAllocation() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, core.ErrInvalidInput) {
				t.Errorf("err kind = %s, want invalid_input", core.KindOf(err))
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(exampleAllocation)
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
	if a != Fingerprint(exampleAllocation) {
		t.Error("fingerprint should be deterministic")
	}

	withZero := core.Allocation{core.CategoryWork: 100, core.CategoryFun: 0}
	without := core.Allocation{core.CategoryWork: 100}
	if Fingerprint(withZero) != Fingerprint(without) {
		t.Error("zero entries should not change the fingerprint")
	}
	if Fingerprint(without) == Fingerprint(core.Allocation{core.CategoryStudy: 100}) {
		t.Error("different allocations should differ")
	}
}

func TestAllocationEffect(t *testing.T) {
	got := AllocationEffect(exampleAllocation)
	want := core.ResourceDelta{Energy: -7, Stress: 6, CashOnHand: 10, Knowledge: 10, SocialLeverage: 5, PhysicalResilience: 5}
	if got != want {
		t.Errorf("AllocationEffect() = %+v, want %+v", got, want)
	}

	allWork := AllocationEffect(core.Allocation{core.CategoryWork: 100})
	if allWork != (core.ResourceDelta{Energy: -20, Stress: 20, CashOnHand: 50}) {
		t.Errorf("all work = %+v", allWork)
	}
}

func TestApplyAllocation_FirstDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.engine.ApplyAllocation(ctx, "u1", 1, exampleAllocation)
	if err != nil {
		t.Fatalf("ApplyAllocation() error = %v", err)
	}
	if !res.Applied {
		t.Fatal("first allocation should apply")
	}

	want := core.Resources{Energy: 63, Stress: 26, CashOnHand: 60, Knowledge: 10, SocialLeverage: 5, PhysicalResilience: 55}
	if res.After != want {
		t.Errorf("After = %+v, want %+v", res.After, want)
	}
	if res.State.AllocationHash != res.Hash || res.Hash == "" {
		t.Error("hash should be stored")
	}
	if res.State.PreAllocation == nil || *res.State.PreAllocation != testDefaults {
		t.Errorf("baseline = %+v, want defaults", res.State.PreAllocation)
	}
	if res.State.Totals.Study != 40 || res.State.Totals.Health != 20 {
		t.Errorf("Totals = %+v", res.State.Totals)
	}
}

func TestApplyAllocation_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.engine.ApplyAllocation(ctx, "u1", 1, exampleAllocation)
	again, err := f.engine.ApplyAllocation(ctx, "u1", 1, exampleAllocation)
	if err != nil {
		t.Fatal(err)
	}
	if again.Applied {
		t.Error("resubmitting the same allocation should be a no-op")
	}
	if again.After != first.After {
		t.Errorf("state changed on resubmit: %+v vs %+v", again.After, first.After)
	}
	if again.State.Totals != first.State.Totals {
		t.Error("totals must not be counted twice")
	}
}

func TestApplyAllocation_ConvergesOnLast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	last := core.Allocation{core.CategoryHealth: 50, core.CategoryFun: 50}

	// Sequence A: several reallocations ending in last
	for _, a := range []core.Allocation{exampleAllocation, {core.CategoryWork: 100}, last} {
		if _, err := f.engine.ApplyAllocation(ctx, "seq", 1, a); err != nil {
			t.Fatal(err)
		}
	}
	// Sequence B: last alone
	if _, err := f.engine.ApplyAllocation(ctx, "once", 1, last); err != nil {
		t.Fatal(err)
	}

	seq, _ := f.engine.Snapshot(ctx, "seq", 1)
	once, _ := f.engine.Snapshot(ctx, "once", 1)
	if seq.Current != once.Current {
		t.Errorf("resources diverged: %+v vs %+v", seq.Current, once.Current)
	}
	if seq.Totals != once.Totals {
		t.Errorf("totals diverged: %+v vs %+v", seq.Totals, once.Totals)
	}
	if seq.AllocationHash != once.AllocationHash {
		t.Error("hash should match the last allocation")
	}
}

func TestApplyAllocation_ClampsAgainstBaseline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Push energy near the cap before allocating
	f.engine.Apply(ctx, "u1", 1, core.Delta{Resources: core.ResourceDelta{Energy: 28}}, "test", nil)
	res, err := f.engine.ApplyAllocation(ctx, "u1", 1, core.Allocation{core.CategoryFun: 100})
	if err != nil {
		t.Fatal(err)
	}
	if res.After.Energy != 100 {
		t.Errorf("Energy = %d, want clamped 100", res.After.Energy)
	}

	// Reallocating recomputes from the unclamped baseline (98), not from 100
	res, _ = f.engine.ApplyAllocation(ctx, "u1", 1, core.Allocation{core.CategoryWork: 100})
	if res.After.Energy != 78 {
		t.Errorf("Energy = %d, want 98-20 = 78", res.After.Energy)
	}
}

func TestApplyAllocation_Invalid(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ApplyAllocation(context.Background(), "u1", 1, core.Allocation{core.CategoryWork: 50})
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestApplyAllocation_KeepsLaterDeltas(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ApplyAllocation(ctx, "u1", 1, core.Allocation{core.CategoryStudy: 100}); err != nil {
		t.Fatal(err)
	}
	paid, err := f.engine.Apply(ctx, "u1", 1, core.Delta{Resources: core.ResourceDelta{CashOnHand: -15, Stress: 5}}, "arc_step", nil)
	if err != nil {
		t.Fatal(err)
	}
	if paid.After.CashOnHand != 35 || paid.After.Stress != 45 {
		t.Fatalf("after payment = %+v, want cash 35 stress 45", paid.After)
	}

	res, err := f.engine.ApplyAllocation(ctx, "u1", 1, core.Allocation{core.CategoryFun: 100})
	if err != nil {
		t.Fatal(err)
	}
	// baseline 50-15 cash; stress 20+5 then fun's -20
	if res.After.CashOnHand != 35 {
		t.Errorf("CashOnHand = %d, want 35 after reallocating", res.After.CashOnHand)
	}
	if res.After.Stress != 5 {
		t.Errorf("Stress = %d, want 5", res.After.Stress)
	}
	if res.State.PreAllocation.CashOnHand != 35 {
		t.Errorf("baseline cash = %d, want 35", res.State.PreAllocation.CashOnHand)
	}

	// Back to the first allocation lands where the payment left things
	res, _ = f.engine.ApplyAllocation(ctx, "u1", 1, core.Allocation{core.CategoryStudy: 100})
	if res.After != paid.After {
		t.Errorf("After = %+v, want %+v", res.After, paid.After)
	}
}

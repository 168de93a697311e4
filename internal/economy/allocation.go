package economy

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/quantumlife/daybreak/internal/core"
	"github.com/quantumlife/daybreak/internal/ledger"
)

// effectPer100 is the change a full day (100 points) in a category makes.
var effectPer100 = map[core.Category]core.ResourceDelta{
	core.CategoryStudy:  {Energy: -20, Stress: 20, Knowledge: 25},
	core.CategoryWork:   {Energy: -20, Stress: 20, CashOnHand: 50},
	core.CategorySocial: {Stress: -20, SocialLeverage: 50},
	core.CategoryHealth: {Energy: 20, Stress: -10, PhysicalResilience: 25},
	core.CategoryFun:    {Energy: 10, Stress: -20},
}

// ValidateAllocation checks categories, signs and the total.
func ValidateAllocation(a core.Allocation) error {
	if len(a) == 0 {
		return core.InvalidInput("allocation is empty")
	}
	sum := 0
	for cat, v := range a {
		if _, ok := effectPer100[cat]; !ok {
			return core.InvalidInput("unknown allocation category %q", cat)
		}
		if v < 0 {
			return core.InvalidInput("allocation for %s must not be negative", cat)
		}
		sum += v
	}
	if sum != core.AllocationTotal {
		return core.InvalidInput("allocation must add up to %d, got %d", core.AllocationTotal, sum)
	}
	return nil
}

// Fingerprint hashes the canonical encoding of an allocation. Zero entries
// and omitted categories encode the same.
func Fingerprint(a core.Allocation) string {
	cats := make([]string, 0, len(a))
	for cat, v := range a {
		if v != 0 {
			cats = append(cats, string(cat))
		}
	}
	sort.Strings(cats)

	var b strings.Builder
	for _, cat := range cats {
		fmt.Fprintf(&b, "%s=%d;", cat, a[core.Category(cat)])
	}
	sum := blake2b.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// AllocationEffect is the resource change an allocation makes relative to
// the day's baseline. Coefficients are summed before dividing by 100.
func AllocationEffect(a core.Allocation) core.ResourceDelta {
	var raw core.ResourceDelta
	for _, cat := range core.AllCategories {
		v := a[cat]
		if v == 0 {
			continue
		}
		coef := effectPer100[cat]
		for _, res := range core.AllResources {
			raw = raw.With(res, raw.Value(res)+v*coef.Value(res))
		}
	}
	var out core.ResourceDelta
	for _, res := range core.AllResources {
		out = out.With(res, raw.Value(res)/100)
	}
	return out
}

// AllocationResult describes an ApplyAllocation call.
type AllocationResult struct {
	Applied bool                 `json:"applied"`
	Hash    string               `json:"hash"`
	Effect  core.ResourceDelta   `json:"effect"`
	Before  core.Resources       `json:"before"`
	After   core.Resources       `json:"after"`
	State   *core.PlayerDayState `json:"state"`
}

// ApplyAllocation sets the day's resources to baseline + effect(a). The
// baseline is captured the first time a day is allocated, so any sequence
// of allocations ends in the same state as applying the last one alone.
// Resubmitting the stored allocation changes nothing.
func (e *Engine) ApplyAllocation(ctx context.Context, userID core.UserID, day int, a core.Allocation) (*AllocationResult, error) {
	if err := ValidateAllocation(a); err != nil {
		return nil, err
	}
	hash := Fingerprint(a)

	st, err := e.Snapshot(ctx, userID, day)
	if err != nil {
		return nil, err
	}
	if st.AllocationHash == hash {
		return &AllocationResult{Applied: false, Hash: hash, Before: st.Current, After: st.Current, State: st}, nil
	}

	if st.PreAllocation == nil {
		baseline := st.Current
		baselineTotals := st.Totals
		st.PreAllocation = &baseline
		st.PreAllocationTotals = &baselineTotals
	}
	baselineTotals := core.CategoryTotals{}
	if st.PreAllocationTotals != nil {
		baselineTotals = *st.PreAllocationTotals
	}

	effect := AllocationEffect(a)
	before := st.Current
	st.Current = st.PreAllocation.Apply(effect)
	st.Totals = baselineTotals.Add(a)
	st.AllocationHash = hash
	st.UpdatedAt = e.clock.Now()
	if err := e.stores.States.Update(ctx, st); err != nil {
		return nil, err
	}

	delta := core.Delta{Resources: core.Diff(before, st.Current)}
	metadata := map[string]any{"hash": hash, "allocation": a}
	e.trace(ctx, userID, day, "allocation", before, st.Current, delta, metadata)
	e.audit.RecordResources(ctx, ledger.ActionAllocationApplied, userID, day, "allocation", before, st.Current, delta)

	e.log.WithFields(map[string]interface{}{"user_id": userID, "day": day}).
		Info("allocation applied, effect %+v", effect)

	return &AllocationResult{
		Applied: true,
		Hash:    hash,
		Effect:  effect,
		Before:  before,
		After:   st.Current,
		State:   st,
	}, nil
}

package economy

import (
	"math"
	"sort"

	"github.com/quantumlife/daybreak/internal/core"
)

// Curve maps hesitation to a scaling factor: min(Max, h*PerPoint).
type Curve struct {
	PerPoint float64
	Max      float64
}

// Factor returns the curve's factor for hesitation h.
func (c Curve) Factor(h float64) float64 {
	f := h * c.PerPoint
	if f > c.Max {
		f = c.Max
	}
	if f < 0 {
		f = 0
	}
	return f
}

// DispositionConfig holds the two independent shaping curves.
type DispositionConfig struct {
	Reward Curve
	Cost   Curve
}

// ShapeForDisposition scales a delta by the player's hesitation toward the
// given tags. Components that help the player shrink by
// Π(1 - Reward.Factor(h)); components that hurt grow by Π(1 + Cost.Factor(h)).
// With zero hesitation the delta is returned unchanged.
func ShapeForDisposition(d core.ResourceDelta, hesitation map[string]float64, tags []string, cfg DispositionConfig) core.ResourceDelta {
	rewardMul, costMul := 1.0, 1.0
	for _, tag := range uniqueSorted(tags) {
		h := hesitation[tag]
		if h <= 0 {
			continue
		}
		rewardMul *= 1 - cfg.Reward.Factor(h)
		costMul *= 1 + cfg.Cost.Factor(h)
	}
	if rewardMul == 1 && costMul == 1 {
		return d
	}

	var out core.ResourceDelta
	for _, res := range core.AllResources {
		v := d.Value(res)
		if v == 0 {
			continue
		}
		mul := costMul
		if (v > 0) == res.HigherIsBetter() {
			mul = rewardMul
		}
		out = out.With(res, int(math.Round(float64(v)*mul)))
	}
	return out
}

func uniqueSorted(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

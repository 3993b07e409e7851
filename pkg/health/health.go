// Package health computes the bounded aggregate health score used by the
// checkpoint manager and the escalation controller.
//
// The overall score is min(weightedGeometricMean, worstComponent + floor
// penalty): a single catastrophic component cannot be masked by strong
// scores elsewhere. The score is derived, never stored as ground truth.
package health

import (
	"fmt"
	"math"
)

// Status buckets an overall score into an operator-facing label.
type Status string

const (
	StatusHealthy   Status = "healthy"   // >= 0.8
	StatusDegraded  Status = "degraded"  // [0.5, 0.8)
	StatusUnhealthy Status = "unhealthy" // [0.2, 0.5)
	StatusCritical  Status = "critical"  // < 0.2
)

// DefaultFloorPenalty bounds the overall score above the worst component.
const DefaultFloorPenalty = 0.1

// Config carries the weight table and floor penalty. Both are deployment
// configuration, never baked into call sites.
type Config struct {
	// Weights maps component name to relative weight. Missing components
	// get an equal share of the unassigned weight; an empty table means
	// equal weights for everything.
	Weights map[string]float64 `yaml:"weights"`

	// FloorPenalty is added to the worst component score to form the upper
	// bound on the overall score. Nil means DefaultFloorPenalty; an explicit
	// zero clamps the overall score to the worst component.
	FloorPenalty *float64 `yaml:"floor_penalty"`
}

// Floor wraps a literal floor penalty for Config.
func Floor(p float64) *float64 {
	return &p
}

// DefaultConfig returns equal weights and the standard floor penalty.
func DefaultConfig() Config {
	return Config{FloorPenalty: Floor(DefaultFloorPenalty)}
}

// Score is the computed health of a run: per-component scores in [0,1]
// plus the bounded overall aggregate.
type Score struct {
	Components map[string]float64 `json:"components"`
	Overall    float64            `json:"overall"`
	Status     Status             `json:"status"`
}

// Compute derives the overall score from component scores.
// If any component is exactly 0 the overall score is exactly 0 (no log of
// zero); otherwise overall = min(exp(Σ wᵢ·ln(sᵢ)), min(sᵢ) + floorPenalty).
func Compute(cfg Config, components map[string]float64) (Score, error) {
	if len(components) == 0 {
		return Score{}, fmt.Errorf("no component scores given")
	}

	for name, s := range components {
		if s < 0 || s > 1 || math.IsNaN(s) {
			return Score{}, fmt.Errorf("component %q score %v out of range [0,1]", name, s)
		}
	}

	floor := DefaultFloorPenalty
	if cfg.FloorPenalty != nil {
		floor = *cfg.FloorPenalty
	}

	out := Score{Components: copyScores(components)}

	worst := math.Inf(1)
	for _, s := range components {
		if s < worst {
			worst = s
		}
	}

	if worst == 0 {
		out.Overall = 0
		out.Status = StatusFor(0)
		return out, nil
	}

	weights := normalizeWeights(cfg.Weights, components)

	var logSum float64
	for name, s := range components {
		logSum += weights[name] * math.Log(s)
	}
	geo := math.Exp(logSum)

	out.Overall = math.Min(geo, worst+floor)
	out.Status = StatusFor(out.Overall)
	return out, nil
}

// StatusFor buckets an overall score.
func StatusFor(overall float64) Status {
	switch {
	case overall >= 0.8:
		return StatusHealthy
	case overall >= 0.5:
		return StatusDegraded
	case overall >= 0.2:
		return StatusUnhealthy
	default:
		return StatusCritical
	}
}

// normalizeWeights resolves the configured table against the actual
// component set: configured weights are rescaled to sum to 1 together with
// an equal share for each unconfigured component.
func normalizeWeights(configured map[string]float64, components map[string]float64) map[string]float64 {
	weights := make(map[string]float64, len(components))

	var assigned float64
	for name := range components {
		if w, ok := configured[name]; ok && w > 0 {
			weights[name] = w
			assigned += w
		}
	}

	// Unconfigured components share weight as if each had the average
	// configured weight (or 1 when nothing is configured).
	fill := 1.0
	if len(weights) > 0 {
		fill = assigned / float64(len(weights))
	}
	for name := range components {
		if _, ok := weights[name]; !ok {
			weights[name] = fill
			assigned += fill
		}
	}

	for name := range weights {
		weights[name] /= assigned
	}
	return weights
}

func copyScores(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

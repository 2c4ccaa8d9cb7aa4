package payload

import (
	"math/rand/v2"

	"routeopt/internal/model"
)

// Penalty weights for the synthetic matrix.
const (
	trafficPenalty = 0.10
	weatherPenalty = 0.05

	jitterLow  = 0.95
	jitterSpan = 0.10
)

var timeOfDayPenalty = map[string]float64{
	model.TimeOfDayPeak:    0.12,
	model.TimeOfDayEvening: 0.08,
	model.TimeOfDayMidday:  0.04,
	model.TimeOfDayWeekend: 0,
}

var priorityBias = map[string]float64{
	model.PriorityDuration:    0.06,
	model.PriorityEfficiency:  0.06,
	model.PriorityCoverage:    -0.03,
	model.PriorityImpressions: 0,
}

// BasePenalty is the deterministic part of the synthetic penalty, clamped at zero.
func BasePenalty(p model.OptimizationPreferences) float64 {
	sum := 0.0
	if p.AvoidTraffic {
		sum += trafficPenalty
	}
	if p.WeatherConsideration {
		sum += weatherPenalty
	}
	sum += timeOfDayPenalty[p.TimeOfDay]
	sum += priorityBias[p.Priority]
	if sum < 0 {
		return 0
	}
	return sum
}

// SyntheticPenalties builds an n×n multiplicative cost matrix: 1.0 on the diagonal and
// 1 + penalty·U elsewhere, with U drawn per cell from [0.95, 1.05].
func SyntheticPenalties(n int, p model.OptimizationPreferences, r *rand.Rand) [][]float64 {
	penalty := BasePenalty(p)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
		for j := range m[i] {
			if i == j {
				m[i][j] = 1.0
				continue
			}
			m[i][j] = 1.0 + penalty*(jitterLow+jitterSpan*r.Float64())
		}
	}
	return m
}

// ValidMatrix checks shape and the penalty invariants: diagonal exactly 1, off-diagonal never a discount.
func ValidMatrix(m [][]float64, n int) bool {
	if len(m) != n {
		return false
	}
	for i, row := range m {
		if len(row) != n {
			return false
		}
		for j, v := range row {
			if i == j && v != 1.0 {
				return false
			}
			if i != j && !(v >= 1.0) {
				return false
			}
		}
	}
	return true
}

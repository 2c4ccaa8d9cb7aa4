package payload

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"routeopt/internal/model"
)

func TestSyntheticMatrixShape(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	prefs := model.OptimizationPreferences{AvoidTraffic: true, TimeOfDay: model.TimeOfDayPeak, Priority: model.PriorityCoverage}
	for _, n := range []int{0, 1, 2, 5, 13} {
		m := SyntheticPenalties(n, prefs, r)
		require.Len(t, m, n)
		for i := range m {
			require.Len(t, m[i], n)
			for j := range m[i] {
				if i == j {
					require.Equal(t, 1.0, m[i][j])
				} else {
					require.GreaterOrEqual(t, m[i][j], 1.0)
				}
			}
		}
		require.True(t, ValidMatrix(m, n))
	}
}

func TestSyntheticMatrixJitterBounds(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 1))
	prefs := model.OptimizationPreferences{AvoidTraffic: true, WeatherConsideration: true, TimeOfDay: model.TimeOfDayPeak, Priority: model.PriorityDuration}
	base := BasePenalty(prefs)
	require.InDelta(t, 0.33, base, 1e-9)
	m := SyntheticPenalties(6, prefs, r)
	for i := range m {
		for j := range m[i] {
			if i == j {
				continue
			}
			require.GreaterOrEqual(t, m[i][j], 1+base*0.95)
			require.LessOrEqual(t, m[i][j], 1+base*1.05)
		}
	}
}

func TestBasePenaltyTerms(t *testing.T) {
	cases := []struct {
		prefs model.OptimizationPreferences
		want  float64
	}{
		{model.OptimizationPreferences{TimeOfDay: model.TimeOfDayWeekend, Priority: model.PriorityImpressions}, 0},
		{model.OptimizationPreferences{TimeOfDay: model.TimeOfDayMidday, Priority: model.PriorityImpressions}, 0.04},
		{model.OptimizationPreferences{TimeOfDay: model.TimeOfDayEvening, Priority: model.PriorityEfficiency}, 0.14},
		{model.OptimizationPreferences{AvoidTraffic: true, TimeOfDay: model.TimeOfDayWeekend, Priority: model.PriorityCoverage}, 0.07},
		// coverage bias alone would be negative and is clamped
		{model.OptimizationPreferences{TimeOfDay: model.TimeOfDayWeekend, Priority: model.PriorityCoverage}, 0},
	}
	for _, tc := range cases {
		require.InDelta(t, tc.want, BasePenalty(tc.prefs), 1e-9, "%+v", tc.prefs)
	}
}

func TestBasePenaltyMonotonicInToggles(t *testing.T) {
	for _, tod := range []string{model.TimeOfDayPeak, model.TimeOfDayMidday, model.TimeOfDayEvening, model.TimeOfDayWeekend} {
		for _, pr := range []string{model.PriorityImpressions, model.PriorityEfficiency, model.PriorityDuration, model.PriorityCoverage} {
			off := model.OptimizationPreferences{TimeOfDay: tod, Priority: pr}
			on := off
			on.AvoidTraffic = true
			on.WeatherConsideration = true
			require.GreaterOrEqual(t, BasePenalty(on), BasePenalty(off), "%s/%s", tod, pr)
		}
	}
}

func TestValidMatrixRejectsBadShapes(t *testing.T) {
	require.False(t, ValidMatrix(nil, 2))
	require.False(t, ValidMatrix([][]float64{{1, 1}, {1}}, 2))
	require.True(t, ValidMatrix([][]float64{}, 0))
}

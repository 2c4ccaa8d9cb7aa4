package insights

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"routeopt/internal/model"
)

func fptr(f float64) *float64 { return &f }

// square around (52.00..52.015, 4.00..4.015) in GeoJSON [lng,lat] order
const zoneAB = `{"type":"Polygon","coordinates":[[[3.995,51.995],[4.015,51.995],[4.015,52.015],[3.995,52.015],[3.995,51.995]]]}`

func scenarioRequest() *model.OptimizeRequest {
	return &model.OptimizeRequest{
		Locations: []model.Location{
			{ID: "A", Lat: 52.0, Lng: 4.0},
			{ID: "B", Lat: 52.01, Lng: 4.01},
			{ID: "C", Lat: 52.02, Lng: 4.02},
		},
		Preferences: model.DefaultPreferences(),
	}
}

func TestScenarioAAllThreeReordered(t *testing.T) {
	require := require.New(t)
	cand := &model.CandidateRoute{Route: []model.RouteStop{{ID: "C"}, {ID: "A"}, {ID: "B"}}}
	ins := Build(scenarioRequest(), cand)
	require.NotNil(ins)
	require.Equal(3, ins.NewRoute.ReorderedStops)
	require.Empty(ins.NewRoute.AddedStops)
	require.Empty(ins.NewRoute.RemovedStops)
	require.Equal(3, ins.NewRoute.Stops)
}

func TestNilRequestYieldsNil(t *testing.T) {
	require.Nil(t, Build(nil, &model.CandidateRoute{}))
}

func TestAddedRemovedExcludedFromReorder(t *testing.T) {
	require := require.New(t)
	cand := &model.CandidateRoute{Route: []model.RouteStop{{ID: "A"}, {ID: "X"}, {ID: "C"}, {}}}
	d := Diff(scenarioRequest().Locations, cand, nil)
	require.Equal([]string{"X"}, d.AddedStops)
	require.Equal([]string{"B"}, d.RemovedStops)
	// A stays at 0, C stays at 2
	require.Equal(0, d.ReorderedStops)
}

func TestDiffIsIdempotent(t *testing.T) {
	req := scenarioRequest()
	req.Context.CampaignZones = []model.CampaignZone{{GeoJSON: zoneAB}}
	cand := &model.CandidateRoute{Route: []model.RouteStop{{ID: "B"}, {ID: "Z"}, {ID: "A"}}}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	first := BuildAt(req, cand, now)
	second := BuildAt(req, cand, now)
	require.Equal(t, first.NewRoute.AddedStops, second.NewRoute.AddedStops)
	require.Equal(t, first.NewRoute.RemovedStops, second.NewRoute.RemovedStops)
	require.Equal(t, first.NewRoute.ReorderedStops, second.NewRoute.ReorderedStops)
	require.Equal(t, first, second)
}

func TestOutOfZoneVacuousWithoutZones(t *testing.T) {
	req := scenarioRequest()
	req.Context.ExistingRoutes = []model.ExistingRoute{{ID: "r0", Waypoints: []model.Waypoint{
		{Lat: fptr(10), Lng: fptr(10)}, {Lat: fptr(11), Lng: fptr(11)}, {Lat: fptr(12), Lng: fptr(12)}, {Lat: fptr(13), Lng: fptr(13)},
	}}}
	cand := &model.CandidateRoute{Route: []model.RouteStop{{ID: "far", Lat: fptr(-33), Lng: fptr(151)}, {ID: "A"}}}
	ins := Build(req, cand)
	require.NotNil(t, ins.NewRoute.OutOfZoneStops)
	require.Empty(t, ins.NewRoute.OutOfZoneStops)
	require.Empty(t, ins.ExistingRoutes.OutOfZoneStops)

	// Unparsable zones count as no zones at all.
	req.Context.CampaignZones = []model.CampaignZone{{GeoJSON: `{"type":"Point","coordinates":[4,52]}`}}
	ins = Build(req, cand)
	require.Empty(t, ins.NewRoute.OutOfZoneStops)
}

func TestOutOfZoneUsesRequestCoordinatesByID(t *testing.T) {
	req := scenarioRequest()
	req.Context.CampaignZones = []model.CampaignZone{{Name: "AB", GeoJSON: zoneAB}}
	cand := &model.CandidateRoute{Route: []model.RouteStop{{ID: "A"}, {ID: "C"}, {ID: "B"}, {ID: "ghost"}}}
	ins := Build(req, cand)
	require.Len(t, ins.NewRoute.OutOfZoneStops, 1)
	require.Equal(t, "C", ins.NewRoute.OutOfZoneStops[0].ID)
	require.Empty(t, ins.UncoveredZones)
}

func TestUncoveredZones(t *testing.T) {
	req := scenarioRequest()
	req.Context.CampaignZones = []model.CampaignZone{
		{Name: "AB", GeoJSON: zoneAB},
		{ID: "z-far", GeoJSON: `{"type":"Polygon","coordinates":[[[10,10],[11,10],[11,11],[10,11],[10,10]]]}`},
	}
	ins := Build(req, &model.CandidateRoute{Route: []model.RouteStop{{ID: "A"}}})
	require.Equal(t, []string{"z-far"}, ins.UncoveredZones)
	require.Contains(t, ins.Rationale, "1 campaign zone(s) are not visited")
}

func TestSuggestStops(t *testing.T) {
	cases := map[int][]int{
		0: {},
		2: {},
		3: {1},
		4: {1, 2},
		5: {1, 3},
		6: {2, 4},
		9: {3, 6},
	}
	for n, want := range cases {
		require.Equal(t, want, SuggestStops(n), "n=%d", n)
	}
}

func TestExistingRouteSuggestions(t *testing.T) {
	req := scenarioRequest()
	req.Context.CampaignZones = []model.CampaignZone{{GeoJSON: zoneAB}}
	req.Context.StrategicStops = []model.StrategicStop{{ID: "s1"}, {ID: "s2"}}
	req.Context.ExistingRoutes = []model.ExistingRoute{
		{ID: "r1", Waypoints: []model.Waypoint{
			{Lat: fptr(52.0), Lng: fptr(4.0)},
			{Name: "mid", Lat: fptr(52.005), Lng: fptr(4.005)},
			{Lat: fptr(52.3), Lng: fptr(4.3)},
			{Lat: fptr(52.01), Lng: fptr(4.01)},
		}},
		{ID: "r2", Waypoints: []model.Waypoint{{Lat: fptr(1), Lng: fptr(1)}, {Lat: fptr(2), Lng: fptr(2)}}},
	}
	st := Build(req, nil).ExistingRoutes
	require.Equal(t, 2, st.Count)
	require.Equal(t, 6, st.Waypoints)
	require.Equal(t, 2, st.ExistingStopsCount)
	require.Len(t, st.SuggestedStops, 2)
	require.Equal(t, "mid", st.SuggestedStops[0].Name)
	require.Len(t, st.OutOfZoneStops, 1)
	require.Equal(t, 2, st.OutOfZoneStops[0].Index)
}

func TestHotZoneCoverage(t *testing.T) {
	req := scenarioRequest()
	ended := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req.Context.HotZones = []model.HotZone{
		{ID: "h1", Name: "Station", GeoJSON: zoneAB, BonusPercent: decimal.RequireFromString("12.5")},
		{ID: "h2", GeoJSON: zoneAB, BonusPercent: decimal.NewFromInt(5), EndsAt: &ended},
		{ID: "h3", GeoJSON: "broken"},
	}
	cand := &model.CandidateRoute{Route: []model.RouteStop{{ID: "A"}, {ID: "B"}, {ID: "C"}}}
	ins := BuildAt(req, cand, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.Len(t, ins.HotZones, 2)
	require.Equal(t, 2, ins.HotZones[0].Stops)
	require.True(t, ins.HotZones[0].Active)
	require.False(t, ins.HotZones[1].Active)
	require.Contains(t, ins.Rationale, "2 stop(s) in hot zone Station (+12.5% bonus)")
}

func TestRationaleMentionsMetricsAndWarnings(t *testing.T) {
	req := scenarioRequest()
	limit := 5
	req.Preferences.SolverTimeLimitSeconds = &limit
	cand := &model.CandidateRoute{
		Route:        []model.RouteStop{{ID: "A"}, {ID: "B"}, {ID: "C"}},
		Metrics:      &model.RouteMetrics{ApproxDistanceUnits: 3.25, LocationsCount: 3},
		Score:        &model.RouteScore{ImpressionsEstimate: 1200},
		Warnings:     []string{"time limit reached"},
		ModelVersion: "v2",
	}
	r := Build(req, cand).Rationale
	require.Contains(t, r, "Approximate distance 3.25 units over 3 locations")
	require.Contains(t, r, "Estimated 1200 impressions")
	require.Contains(t, r, "Optimizer warning: time limit reached")
	require.Contains(t, r, "Solver time limited to 5s for a large route")
}

func TestInsightsSerializeCamelCase(t *testing.T) {
	require := require.New(t)
	cand := &model.CandidateRoute{Route: []model.RouteStop{{ID: "C"}, {ID: "A"}, {ID: "D"}}}
	b, err := json.Marshal(Build(scenarioRequest(), cand))
	require.NoError(err)

	var got map[string]json.RawMessage
	require.NoError(json.Unmarshal(b, &got))
	for _, k := range []string{"newRoute", "existingRoutes", "hotZones", "uncoveredZones"} {
		require.Contains(got, k)
	}
	var diff map[string]json.RawMessage
	require.NoError(json.Unmarshal(got["newRoute"], &diff))
	for _, k := range []string{"addedStops", "removedStops", "reorderedStops", "outOfZoneStops"} {
		require.Contains(diff, k)
	}
	require.JSONEq(`["D"]`, string(diff["addedStops"]))
	require.Contains(string(got["existingRoutes"]), `"existingStopsCount"`)
	require.NotContains(string(b), "added_stops")
}

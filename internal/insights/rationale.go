package insights

import (
	"fmt"

	"routeopt/internal/model"
)

func rationale(req *model.OptimizeRequest, cand *model.CandidateRoute, in *model.Insights) []string {
	p := req.Preferences
	out := []string{fmt.Sprintf("Optimized for %s across %d locations", p.Priority, len(req.Locations))}

	d := in.NewRoute
	if d.ReorderedStops > 0 {
		out = append(out, fmt.Sprintf("Reordered %d stop(s)", d.ReorderedStops))
	}
	if n := len(d.AddedStops); n > 0 {
		out = append(out, fmt.Sprintf("Added %d stop(s) not in the original route", n))
	}
	if n := len(d.RemovedStops); n > 0 {
		out = append(out, fmt.Sprintf("Dropped %d stop(s) from the original route", n))
	}
	if n := len(d.OutOfZoneStops); n > 0 {
		out = append(out, fmt.Sprintf("%d stop(s) fall outside the campaign zones", n))
	}
	if n := len(in.UncoveredZones); n > 0 {
		out = append(out, fmt.Sprintf("%d campaign zone(s) are not visited", n))
	}
	for _, hz := range in.HotZones {
		if hz.Stops > 0 && hz.Active {
			out = append(out, fmt.Sprintf("%d stop(s) in hot zone %s (+%s%% bonus)", hz.Stops, hotZoneLabel(hz), hz.BonusPercent.String()))
		}
	}

	if p.AvoidTraffic {
		out = append(out, "Traffic penalties applied to road segments")
	}
	if p.WeatherConsideration {
		out = append(out, "Weather penalties applied to road segments")
	}
	if p.SolverTimeLimitSeconds != nil {
		out = append(out, fmt.Sprintf("Solver time limited to %ds for a large route", *p.SolverTimeLimitSeconds))
	}

	if cand == nil {
		return out
	}
	if cand.Metrics != nil {
		out = append(out, fmt.Sprintf("Approximate distance %.2f units over %d locations", cand.Metrics.ApproxDistanceUnits, cand.Metrics.LocationsCount))
	}
	if cand.Score != nil && cand.Score.ImpressionsEstimate > 0 {
		out = append(out, fmt.Sprintf("Estimated %.0f impressions", cand.Score.ImpressionsEstimate))
	}
	for _, w := range cand.Warnings {
		out = append(out, "Optimizer warning: "+w)
	}
	if cand.ModelVersion != "" {
		out = append(out, "Model "+cand.ModelVersion)
	}
	return out
}

func hotZoneLabel(hz model.HotZoneCoverage) string {
	if hz.Name != "" {
		return hz.Name
	}
	return hz.ID
}

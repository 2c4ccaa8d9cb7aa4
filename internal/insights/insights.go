// Package insights explains an optimizer proposal against the request that produced it.
package insights

import (
	"fmt"
	"time"

	"routeopt/internal/geofence"
	"routeopt/internal/model"
	"routeopt/internal/payload"
)

// Build is BuildAt evaluated now.
func Build(req *model.OptimizeRequest, cand *model.CandidateRoute) *model.Insights {
	return BuildAt(req, cand, time.Now())
}

// BuildAt computes the insights for cand. It returns nil when no request was sent. Apart from hot-zone
// activity, which is evaluated at now, the result depends only on its inputs.
func BuildAt(req *model.OptimizeRequest, cand *model.CandidateRoute, now time.Time) *model.Insights {
	if req == nil {
		return nil
	}
	zones := geofence.ParseCampaignZones(req.Context.CampaignZones)
	analysis := req.Context.Analysis

	out := &model.Insights{
		Preferences:    req.Preferences,
		Objectives:     nonNil(analysis.Objectives),
		Constraints:    nonNil(analysis.Constraints),
		ExistingRoutes: existingRouteStats(req.Context, zones),
		NewRoute:       Diff(req.Locations, cand, zones),
		HotZones:       hotZoneCoverage(req, cand, now),
		UncoveredZones: uncoveredZones(req, cand),
	}
	out.Rationale = rationale(req, cand, out)
	return out
}

// Diff compares stops by id. Ids present on both sides count as reordered when their index moved;
// the rest are added or removed. Stops without an id take part in neither.
func Diff(original []model.Location, cand *model.CandidateRoute, zones []geofence.Polygon) model.RouteDiff {
	d := model.RouteDiff{AddedStops: []string{}, RemovedStops: []string{}, OutOfZoneStops: []model.Location{}}
	if cand == nil {
		return d
	}
	d.Stops = len(cand.Route)

	origIdx := indexByID(len(original), func(i int) string { return original[i].ID })
	candIdx := indexByID(len(cand.Route), func(i int) string { return cand.Route[i].ID })

	seen := map[string]bool{}
	for _, s := range cand.Route {
		if s.ID == "" || seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		if _, ok := origIdx[s.ID]; !ok {
			d.AddedStops = append(d.AddedStops, s.ID)
		}
	}
	seen = map[string]bool{}
	for _, l := range original {
		if l.ID == "" || seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		ci, ok := candIdx[l.ID]
		if !ok {
			d.RemovedStops = append(d.RemovedStops, l.ID)
			continue
		}
		if ci != origIdx[l.ID] {
			d.ReorderedStops++
		}
	}

	// No zone data means nothing can be out of zone.
	if len(zones) == 0 {
		return d
	}
	byID := map[string]model.Location{}
	for _, l := range original {
		if l.ID != "" {
			if _, dup := byID[l.ID]; !dup {
				byID[l.ID] = l
			}
		}
	}
	for _, s := range cand.Route {
		loc, ok := resolve(s, byID)
		if !ok {
			continue
		}
		if !geofence.IsPointInZones(geofence.LatLng{Latitude: loc.Lat, Longitude: loc.Lng}, zones) {
			d.OutOfZoneStops = append(d.OutOfZoneStops, loc)
		}
	}
	return d
}

// SuggestStops returns the interior indices at one and two thirds of an n-point route.
func SuggestStops(n int) []int {
	if n < 3 {
		return []int{}
	}
	out := []int{}
	for _, i := range []int{n / 3, 2 * n / 3} {
		if i <= 0 || i >= n-1 {
			continue
		}
		if len(out) > 0 && out[len(out)-1] == i {
			continue
		}
		out = append(out, i)
	}
	return out
}

func existingRouteStats(c model.OptimizationContext, zones []geofence.Polygon) model.ExistingRouteStats {
	st := model.ExistingRouteStats{
		Count:              len(c.ExistingRoutes),
		ExistingStopsCount: len(c.StrategicStops),
		SuggestedStops:     []model.SuggestedStop{},
		OutOfZoneStops:     []model.SuggestedStop{},
	}
	for _, r := range c.ExistingRoutes {
		st.Waypoints += len(r.Waypoints)
		pts := validWaypoints(r.Waypoints)
		for _, i := range SuggestStops(len(pts)) {
			w := pts[i]
			s := model.SuggestedStop{RouteID: r.ID, Index: i, Name: w.Name, Lat: *w.Lat, Lng: *w.Lng}
			st.SuggestedStops = append(st.SuggestedStops, s)
			if len(zones) > 0 && !geofence.IsPointInZones(geofence.LatLng{Latitude: s.Lat, Longitude: s.Lng}, zones) {
				st.OutOfZoneStops = append(st.OutOfZoneStops, s)
			}
		}
	}
	return st
}

func validWaypoints(wps []model.Waypoint) []model.Waypoint {
	out := make([]model.Waypoint, 0, len(wps))
	for _, w := range wps {
		if payload.ValidWaypoint(w) {
			out = append(out, w)
		}
	}
	return out
}

func hotZoneCoverage(req *model.OptimizeRequest, cand *model.CandidateRoute, now time.Time) []model.HotZoneCoverage {
	out := []model.HotZoneCoverage{}
	pts := candidatePoints(req, cand)
	for _, hz := range req.Context.HotZones {
		polys := geofence.ParseGeoJSON(hz.GeoJSON)
		if len(polys) == 0 {
			continue
		}
		cov := model.HotZoneCoverage{ID: hz.ID, Name: hz.Name, BonusPercent: hz.BonusPercent, Active: hz.ActiveAt(now)}
		for _, p := range pts {
			if geofence.IsPointInZones(p, polys) {
				cov.Stops++
			}
		}
		out = append(out, cov)
	}
	return out
}

func uncoveredZones(req *model.OptimizeRequest, cand *model.CandidateRoute) []string {
	out := []string{}
	if cand == nil {
		return out
	}
	pts := candidatePoints(req, cand)
	for i, z := range req.Context.CampaignZones {
		polys := geofence.ParseGeoJSON(z.GeoJSON)
		if len(polys) == 0 {
			continue
		}
		covered := false
		for _, p := range pts {
			if geofence.IsPointInZones(p, polys) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, zoneLabel(z, i))
		}
	}
	return out
}

func zoneLabel(z model.CampaignZone, i int) string {
	switch {
	case z.Name != "":
		return z.Name
	case z.ID != "":
		return z.ID
	default:
		return fmt.Sprintf("zone %d", i+1)
	}
}

func candidatePoints(req *model.OptimizeRequest, cand *model.CandidateRoute) []geofence.LatLng {
	if cand == nil {
		return nil
	}
	byID := map[string]model.Location{}
	for _, l := range req.Locations {
		if l.ID != "" {
			if _, dup := byID[l.ID]; !dup {
				byID[l.ID] = l
			}
		}
	}
	out := make([]geofence.LatLng, 0, len(cand.Route))
	for _, s := range cand.Route {
		if loc, ok := resolve(s, byID); ok {
			out = append(out, geofence.LatLng{Latitude: loc.Lat, Longitude: loc.Lng})
		}
	}
	return out
}

// resolve prefers the optimizer's coordinates and falls back to the request's location with that id.
func resolve(s model.RouteStop, byID map[string]model.Location) (model.Location, bool) {
	if s.Lat != nil && s.Lng != nil {
		return model.Location{ID: s.ID, Lat: *s.Lat, Lng: *s.Lng}, true
	}
	if s.ID == "" {
		return model.Location{}, false
	}
	l, ok := byID[s.ID]
	return l, ok
}

func indexByID(n int, id func(int) string) map[string]int {
	m := make(map[string]int, n)
	for i := 0; i < n; i++ {
		k := id(i)
		if k == "" {
			continue
		}
		if _, ok := m[k]; !ok {
			m[k] = i
		}
	}
	return m
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

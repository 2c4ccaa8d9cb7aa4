// Package geofence parses campaign zone geometry and answers point membership queries.
package geofence

import (
	"encoding/json"
	"math"
	"strings"

	"routeopt/internal/model"
)

// epsilon keeps the ray-casting denominator non-zero on horizontal edges.
const epsilon = 2.220446049250313e-16

type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Polygon is one outer boundary with optional holes.
type Polygon struct {
	Outer []LatLng   `json:"outer"`
	Holes [][]LatLng `json:"holes"`

	bbox boundingBox
}

type boundingBox struct {
	LatMin, LatMax float64
	LngMin, LngMax float64
}

type geoJSON struct {
	Type        string          `json:"type"`
	Geometry    json.RawMessage `json:"geometry"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// ParseCampaignZones converts zone GeoJSON into polygons. Zones that are missing, unparsable or of an
// unsupported type contribute nothing.
func ParseCampaignZones(zones []model.CampaignZone) []Polygon {
	out := []Polygon{}
	for _, z := range zones {
		out = append(out, ParseGeoJSON(z.GeoJSON)...)
	}
	return out
}

// ParseHotZones is ParseCampaignZones for hot zones.
func ParseHotZones(zones []model.HotZone) []Polygon {
	out := []Polygon{}
	for _, z := range zones {
		out = append(out, ParseGeoJSON(z.GeoJSON)...)
	}
	return out
}

// ParseGeoJSON accepts a Feature, Polygon or MultiPolygon document.
func ParseGeoJSON(doc string) []Polygon {
	if strings.TrimSpace(doc) == "" {
		return nil
	}
	var g geoJSON
	if err := json.Unmarshal([]byte(doc), &g); err != nil {
		return nil
	}
	if g.Type == "Feature" {
		if len(g.Geometry) == 0 {
			return nil
		}
		var inner geoJSON
		if err := json.Unmarshal(g.Geometry, &inner); err != nil {
			return nil
		}
		g = inner
	}
	switch g.Type {
	case "Polygon":
		var rings [][][]float64
		if err := json.Unmarshal(g.Coordinates, &rings); err != nil {
			return nil
		}
		if p, ok := buildPolygon(rings); ok {
			return []Polygon{p}
		}
	case "MultiPolygon":
		var polys [][][][]float64
		if err := json.Unmarshal(g.Coordinates, &polys); err != nil {
			return nil
		}
		var out []Polygon
		for _, rings := range polys {
			if p, ok := buildPolygon(rings); ok {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

func buildPolygon(rings [][][]float64) (Polygon, bool) {
	if len(rings) == 0 {
		return Polygon{}, false
	}
	outer := toLatLng(rings[0])
	if len(outer) < 3 {
		return Polygon{}, false
	}
	p := Polygon{Outer: outer, Holes: [][]LatLng{}}
	for _, r := range rings[1:] {
		if h := toLatLng(r); len(h) >= 3 {
			p.Holes = append(p.Holes, h)
		}
	}
	p.bbox = computeBoundingBox(outer)
	return p, true
}

// toLatLng converts GeoJSON [lng, lat] pairs, skipping pairs that are too short or not finite.
func toLatLng(ring [][]float64) []LatLng {
	out := make([]LatLng, 0, len(ring))
	for _, c := range ring {
		if len(c) < 2 || !finite(c[0]) || !finite(c[1]) {
			continue
		}
		out = append(out, LatLng{Latitude: c[1], Longitude: c[0]})
	}
	return out
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

func computeBoundingBox(ring []LatLng) boundingBox {
	bb := boundingBox{LatMin: math.Inf(1), LatMax: math.Inf(-1), LngMin: math.Inf(1), LngMax: math.Inf(-1)}
	for _, c := range ring {
		bb.LatMin = math.Min(bb.LatMin, c.Latitude)
		bb.LatMax = math.Max(bb.LatMax, c.Latitude)
		bb.LngMin = math.Min(bb.LngMin, c.Longitude)
		bb.LngMax = math.Max(bb.LngMax, c.Longitude)
	}
	return bb
}

func (b boundingBox) excludes(p LatLng) bool {
	return p.Latitude < b.LatMin || p.Latitude > b.LatMax || p.Longitude < b.LngMin || p.Longitude > b.LngMax
}

// Contains reports whether p lies inside the outer ring and outside every hole.
func (p Polygon) Contains(pt LatLng) bool {
	if len(p.Outer) < 3 {
		return false
	}
	// Polygons built by hand in tests have a zero box.
	if p.bbox != (boundingBox{}) && p.bbox.excludes(pt) {
		return false
	}
	if !pointInRing(pt, p.Outer) {
		return false
	}
	for _, h := range p.Holes {
		if pointInRing(pt, h) {
			return false
		}
	}
	return true
}

// IsPointInZones reports whether the point is inside at least one polygon of the set.
func IsPointInZones(pt LatLng, zones []Polygon) bool {
	return ZoneIndex(pt, zones) >= 0
}

// ZoneIndex returns the index of the first polygon containing pt, or -1.
func ZoneIndex(pt LatLng, zones []Polygon) int {
	for i, z := range zones {
		if z.Contains(pt) {
			return i
		}
	}
	return -1
}

// pointInRing is the crossing-number test with longitude as x and latitude as y.
func pointInRing(pt LatLng, ring []LatLng) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := ring[i].Longitude, ring[i].Latitude
		xj, yj := ring[j].Longitude, ring[j].Latitude
		if (yi > pt.Latitude) != (yj > pt.Latitude) &&
			pt.Longitude < (xj-xi)*(pt.Latitude-yi)/(yj-yi+epsilon)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

package model

import "github.com/shopspring/decimal"

// Insights explains a candidate route to the operator. It is derived, never persisted on its own.
type Insights struct {
	Rationale      []string                `json:"rationale"`
	Preferences    OptimizationPreferences `json:"preferences"`
	Objectives     []string                `json:"objectives"`
	Constraints    []string                `json:"constraints"`
	ExistingRoutes ExistingRouteStats      `json:"existingRoutes"`
	NewRoute       RouteDiff               `json:"newRoute"`
	HotZones       []HotZoneCoverage       `json:"hotZones"`
	UncoveredZones []string                `json:"uncoveredZones"`
}

type ExistingRouteStats struct {
	Count              int             `json:"count"`
	Waypoints          int             `json:"waypoints"`
	ExistingStopsCount int             `json:"existingStopsCount"`
	SuggestedStops     []SuggestedStop `json:"suggestedStops"`
	OutOfZoneStops     []SuggestedStop `json:"outOfZoneStops"`
}

// SuggestedStop is an interior waypoint proposed as a natural rest or strategic stop.
type SuggestedStop struct {
	RouteID string  `json:"routeId"`
	Index   int     `json:"index"`
	Name    string  `json:"name,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type RouteDiff struct {
	Stops          int        `json:"stops"`
	AddedStops     []string   `json:"addedStops"`
	RemovedStops   []string   `json:"removedStops"`
	ReorderedStops int        `json:"reorderedStops"`
	OutOfZoneStops []Location `json:"outOfZoneStops"`
}

type HotZoneCoverage struct {
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	BonusPercent decimal.Decimal `json:"bonusPercent"`
	Active       bool            `json:"active"`
	Stops        int             `json:"stops"`
}

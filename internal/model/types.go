package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Location is a candidate stop sent to the optimizer.
type Location struct {
	ID  string  `json:"id,omitempty"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Waypoint is a stored route point. Coordinates are nullable in the campaign database.
type Waypoint struct {
	ID    string   `json:"id,omitempty"`
	Name  string   `json:"name,omitempty"`
	Lat   *float64 `json:"lat"`
	Lng   *float64 `json:"lng"`
	Order int      `json:"order"`
}

// Route is the read-side view of a campaign route.
type Route struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	CampaignID string     `json:"campaignId,omitempty"`
	Name       string     `json:"name,omitempty"`
	Waypoints  []Waypoint `json:"waypoints"`
}

// Time-of-day buckets understood by the optimizer.
const (
	TimeOfDayPeak    = "peak"
	TimeOfDayMidday  = "midday"
	TimeOfDayEvening = "evening"
	TimeOfDayWeekend = "weekend"
)

// Optimization priorities.
const (
	PriorityImpressions = "impressions"
	PriorityEfficiency  = "efficiency"
	PriorityDuration    = "duration"
	PriorityCoverage    = "coverage"
)

type OptimizationPreferences struct {
	MaxDurationMinutes     int         `json:"max_duration_minutes"`
	AvoidTraffic           bool        `json:"avoid_traffic"`
	IncludeRestStops       bool        `json:"include_rest_stops"`
	WeatherConsideration   bool        `json:"weather_consideration"`
	TimeOfDay              string      `json:"time_of_day"`
	Priority               string      `json:"priority"`
	EdgePenalties          [][]float64 `json:"edge_penalties,omitempty"`
	SolverTimeLimitSeconds *int        `json:"solver_time_limit_seconds,omitempty"`
}

// DefaultPreferences mirrors the dashboard's initial settings panel.
func DefaultPreferences() OptimizationPreferences {
	return OptimizationPreferences{
		MaxDurationMinutes: 480,
		AvoidTraffic:       true,
		TimeOfDay:          TimeOfDayMidday,
		Priority:           PriorityImpressions,
	}
}

// CampaignContext is an immutable snapshot of the campaign for one optimization request.
type CampaignContext struct {
	ID             string     `json:"id"`
	Name           string     `json:"name,omitempty"`
	Type           string     `json:"type,omitempty"`
	TargetAudience string     `json:"target_audience,omitempty"`
	ImpressionGoal int64      `json:"impression_goal,omitempty"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	VehicleType    string     `json:"vehicle_type,omitempty"`
	TargetZones    []string   `json:"target_zones,omitempty"`
}

// CampaignZone carries serialized GeoJSON (Feature, Polygon or MultiPolygon).
type CampaignZone struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	GeoJSON string `json:"geojson,omitempty"`
}

type HotZone struct {
	ID           string          `json:"id,omitempty"`
	Name         string          `json:"name,omitempty"`
	GeoJSON      string          `json:"geojson,omitempty"`
	BonusPercent decimal.Decimal `json:"bonus_percent"`
	StartsAt     *time.Time      `json:"starts_at,omitempty"`
	EndsAt       *time.Time      `json:"ends_at,omitempty"`
}

// ActiveAt reports whether the hot zone's window covers t. Open-ended windows are always active.
func (h HotZone) ActiveAt(t time.Time) bool {
	if h.StartsAt != nil && t.Before(*h.StartsAt) {
		return false
	}
	if h.EndsAt != nil && t.After(*h.EndsAt) {
		return false
	}
	return true
}

type StrategicStop struct {
	ID    string  `json:"id"`
	Name  string  `json:"name,omitempty"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Order int     `json:"order"`
	Notes string  `json:"notes,omitempty"`
}

type ExistingRoute struct {
	ID        string     `json:"id"`
	Name      string     `json:"name,omitempty"`
	Waypoints []Waypoint `json:"waypoints"`
}

// Analysis is the human-readable framing derived from the campaign.
type Analysis struct {
	Objectives  []string `json:"objectives"`
	Constraints []string `json:"constraints"`
	Preferences []string `json:"preferences"`
}

type OptimizationContext struct {
	Campaign       *CampaignContext `json:"campaign,omitempty"`
	Analysis       Analysis         `json:"analysis"`
	ExistingRoutes []ExistingRoute  `json:"existing_routes"`
	CampaignZones  []CampaignZone   `json:"campaign_zones"`
	HotZones       []HotZone        `json:"hot_zones"`
	StrategicStops []StrategicStop  `json:"strategic_stops"`
}

// OptimizeRequest is the body of POST /api/optimize/route.
type OptimizeRequest struct {
	StartIndex  int                     `json:"start_index"`
	Locations   []Location              `json:"locations"`
	Context     OptimizationContext     `json:"context"`
	Preferences OptimizationPreferences `json:"preferences"`
}

// PenaltiesRequest is the body of POST /api/optimize/penalties.
type PenaltiesRequest struct {
	Locations   []Location              `json:"locations"`
	Preferences OptimizationPreferences `json:"preferences"`
}

type PenaltiesResponse struct {
	EdgePenalties [][]float64 `json:"edge_penalties"`
}

// RouteStop is a stop in the optimizer's answer; coordinates may be omitted.
type RouteStop struct {
	ID  string   `json:"id,omitempty"`
	Lat *float64 `json:"lat,omitempty"`
	Lng *float64 `json:"lng,omitempty"`
}

type RouteScore struct {
	ImpressionsEstimate float64 `json:"impressions_estimate"`
}

type RouteMetrics struct {
	ApproxDistanceUnits float64 `json:"approx_distance_units"`
	LocationsCount      int     `json:"locations_count"`
}

// CandidateRoute is the optimizer's proposal pending operator review.
type CandidateRoute struct {
	Route        []RouteStop   `json:"route"`
	Score        *RouteScore   `json:"score,omitempty"`
	Metrics      *RouteMetrics `json:"metrics,omitempty"`
	ModelVersion string        `json:"model_version,omitempty"`
	TraceID      string        `json:"trace_id,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// Decision actions.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// DecisionRequest is the body of POST /api/optimize/decision.
type DecisionRequest struct {
	Action string         `json:"action"`
	Route  CandidateRoute `json:"route"`
}

type DecisionResponse struct {
	TraceID string `json:"trace_id,omitempty"`
}

// Decision is an append-only operator verdict on a candidate route.
type Decision struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	SessionID  string         `json:"sessionId,omitempty"`
	RouteID    string         `json:"routeId,omitempty"`
	Action     string         `json:"action"`
	TraceID    string         `json:"trace_id,omitempty"`
	Route      CandidateRoute `json:"route"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// AuditPage is the optimizer's audit trail response.
type AuditPage struct {
	Count   int               `json:"count"`
	Entries []json.RawMessage `json:"entries"`
}

// Subscriptions (webhooks)
type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"-"`
}

package store

import (
	"github.com/shopspring/decimal"

	"routeopt/internal/model"
)

// DemoTenant owns the records created by SeedDemo.
const DemoTenant = "t_demo"

func fp(f float64) *float64 { return &f }

// SeedDemo loads a small campaign into m for local runs without a database.
// Route demo-empty has no waypoints and is only optimizable with mock data enabled.
func SeedDemo(m *Memory) {
	m.PutCampaign(DemoTenant, model.CampaignContext{
		ID: "camp-spring", Name: "Spring Launch", Type: "mobile_billboard",
		TargetAudience: "commuters", ImpressionGoal: 250000, VehicleType: "box_truck",
		TargetZones: []string{"Downtown", "Station"},
	})
	m.PutCampaignZone(DemoTenant, "camp-spring", model.CampaignZone{
		ID: "zone-downtown", Name: "Downtown",
		GeoJSON: `{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[-122.43,37.77],[-122.39,37.77],[-122.39,37.80],[-122.43,37.80],[-122.43,37.77]]]}}`,
	})
	m.PutHotZone(DemoTenant, "camp-spring", model.HotZone{
		ID: "hot-station", Name: "Station", BonusPercent: decimal.RequireFromString("15"),
		GeoJSON: `{"type":"Polygon","coordinates":[[[-122.40,37.775],[-122.39,37.775],[-122.39,37.785],[-122.40,37.785],[-122.40,37.775]]]}`,
	})
	m.PutStrategicStop(DemoTenant, "camp-spring", model.StrategicStop{ID: "ss-ferry", Name: "Ferry Building", Lat: 37.7955, Lng: -122.3937, Order: 0})

	m.PutRoute(model.Route{ID: "demo-1", TenantID: DemoTenant, CampaignID: "camp-spring", Name: "Morning loop", Waypoints: []model.Waypoint{
		{ID: "wp-union", Name: "Union Square", Lat: fp(37.7880), Lng: fp(-122.4075), Order: 0},
		{ID: "wp-ferry", Name: "Ferry Building", Lat: fp(37.7955), Lng: fp(-122.3937), Order: 1},
		{ID: "wp-moscone", Name: "Moscone Center", Lat: fp(37.7840), Lng: fp(-122.4010), Order: 2},
		{ID: "wp-caltrain", Name: "Caltrain", Lat: fp(37.7766), Lng: fp(-122.3947), Order: 3},
		{ID: "wp-civic", Name: "Civic Center", Lat: fp(37.7793), Lng: fp(-122.4193), Order: 4},
	}})
	m.PutRoute(model.Route{ID: "demo-2", TenantID: DemoTenant, CampaignID: "camp-spring", Name: "Evening loop", Waypoints: []model.Waypoint{
		{Name: "Embarcadero", Lat: fp(37.7929), Lng: fp(-122.3971), Order: 0},
		{Name: "Chinatown", Lat: fp(37.7941), Lng: fp(-122.4078), Order: 1},
		{Name: "Mission", Lat: fp(37.7599), Lng: fp(-122.4148), Order: 2},
	}})
	m.PutRoute(model.Route{ID: "demo-empty", TenantID: DemoTenant, CampaignID: "camp-spring", Name: "Unplanned"})
}
